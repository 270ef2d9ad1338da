package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ChangeFeed relays "document changed" notices over Redis pub/sub so every
// server process can refresh its subscribers after a write elsewhere
type ChangeFeed interface {
	Publish(ctx context.Context, collection, id string) error
	Listen(ctx context.Context, collection, id string) (<-chan struct{}, func(), error)
}

type changeFeed struct {
	client *redis.Client
}

// NewChangeFeed creates a new change feed
func NewChangeFeed(client *redis.Client) ChangeFeed {
	return &changeFeed{
		client: client,
	}
}

func (f *changeFeed) channel(collection, id string) string {
	return fmt.Sprintf("doc:%s:%s", collection, id)
}

func (f *changeFeed) Publish(ctx context.Context, collection, id string) error {
	return f.client.Publish(ctx, f.channel(collection, id), "changed").Err()
}

// Listen returns a channel that receives a value after each notice. Notices
// that arrive while one is pending are coalesced. The returned func stops
// listening; the channel is closed once the listener exits.
func (f *changeFeed) Listen(ctx context.Context, collection, id string) (<-chan struct{}, func(), error) {
	ps := f.client.Subscribe(ctx, f.channel(collection, id))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s/%s: %w", collection, id, err)
	}

	msgs := ps.Channel()
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out, func() { _ = ps.Close() }, nil
}

package service

import (
	"context"
	"errors"

	"multiplymonsters/internal/model"
	"multiplymonsters/internal/repository"
)

// ErrStreamClosed is returned by Next once the subscription has ended
var ErrStreamClosed = errors.New("stream closed")

// Stream is a typed view over a document subscription
type Stream[T any] struct {
	sub *repository.Subscription
}

type (
	SessionStream = Stream[model.Session]
	SquadStream   = Stream[model.SquadBattle]
)

// Snapshots exposes the raw snapshot channel for select loops
func (s *Stream[T]) Snapshots() <-chan repository.Snapshot {
	return s.sub.C()
}

// Next blocks for the next document. A nil document with a nil error means
// the document was deleted.
func (s *Stream[T]) Next(ctx context.Context) (*T, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case snap, ok := <-s.sub.C():
		if !ok {
			return nil, ErrStreamClosed
		}
		return Decode[T](snap)
	}
}

// Close unsubscribes
func (s *Stream[T]) Close() {
	s.sub.Close()
}

// Decode turns a snapshot into a document, nil for a deletion
func Decode[T any](snap repository.Snapshot) (*T, error) {
	if snap.Err != nil {
		return nil, snap.Err
	}
	if snap.Deleted() {
		return nil, nil
	}
	doc := new(T)
	if err := snap.Decode(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

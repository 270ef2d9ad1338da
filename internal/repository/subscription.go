package repository

import (
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// Snapshot is one observation of a document. A snapshot with Exists false
// and no Err means the document has been deleted.
type Snapshot struct {
	Exists bool
	Data   bson.Raw
	Err    error
}

// Deleted reports whether the snapshot signals that the document is gone
func (s Snapshot) Deleted() bool {
	return !s.Exists && s.Err == nil
}

// Decode unmarshals the snapshot into dest
func (s Snapshot) Decode(dest interface{}) error {
	if !s.Exists {
		return ErrNotFound
	}
	return bson.Unmarshal(s.Data, dest)
}

// Subscription is a cancellable stream of snapshots of one document.
// Delivery keeps only the latest undelivered snapshot, so a slow reader may
// skip intermediate states but never sees them out of order.
type Subscription struct {
	ID         string
	Collection string
	DocID      string

	relay  *relay
	cancel func()
	once   sync.Once
}

func newSubscription(collection, id string, cancel func()) *Subscription {
	return &Subscription{
		ID:         uuid.New().String(),
		Collection: collection,
		DocID:      id,
		relay:      newRelay(),
		cancel:     cancel,
	}
}

// C returns the snapshot channel; it is closed after Close or after an
// error snapshot
func (s *Subscription) C() <-chan Snapshot {
	return s.relay.ch
}

// Close stops delivery. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.relay.close()
	})
}

func (s *Subscription) offer(snap Snapshot) {
	s.relay.offer(snap)
}

func (s *Subscription) fail(err error) {
	s.relay.offer(Snapshot{Err: err})
	s.relay.close()
}

// relay is a one-slot mailbox where a newer snapshot replaces an
// undelivered older one
type relay struct {
	mu     sync.Mutex
	ch     chan Snapshot
	closed bool
}

func newRelay() *relay {
	return &relay{ch: make(chan Snapshot, 1)}
}

func (r *relay) offer(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case <-r.ch:
	default:
	}
	r.ch <- snap
}

func (r *relay) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.ch)
}

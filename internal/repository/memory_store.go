package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
)

// MemoryStore is an in-process DocumentStore. Documents are kept in their
// encoded form so readers never share memory with writers.
type MemoryStore struct {
	mu    sync.Mutex
	clock clockwork.Clock
	docs  map[string]bson.Raw
	subs  map[string]map[string]*Subscription
}

// NewMemoryStore creates an empty store stamping server timestamps with clock
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock: clock,
		docs:  make(map[string]bson.Raw),
		subs:  make(map[string]map[string]*Subscription),
	}
}

func (s *MemoryStore) key(collection, id string) string {
	return collection + "/" + id
}

func (s *MemoryStore) Create(ctx context.Context, collection, id string, doc interface{}) error {
	return s.create(ctx, collection, id, doc, true)
}

func (s *MemoryStore) CreateIfAbsent(ctx context.Context, collection, id string, doc interface{}) error {
	return s.create(ctx, collection, id, doc, false)
}

func (s *MemoryStore) create(ctx context.Context, collection, id string, doc interface{}, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields, err := prepareCreate(id, doc, s.clock.Now())
	if err != nil {
		return err
	}
	raw, err := bson.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(collection, id)
	if _, exists := s.docs[k]; exists && !overwrite {
		return ErrAlreadyExists
	}
	s.docs[k] = raw
	s.publishLocked(k, raw)
	return nil
}

func (s *MemoryStore) Read(ctx context.Context, collection, id string, dest interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	raw, ok := s.docs[s.key(collection, id)]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return bson.Unmarshal(raw, dest)
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields bson.M) error {
	return s.update(ctx, collection, id, fields, nil)
}

func (s *MemoryStore) UpdateIf(ctx context.Context, collection, id string, revision int64, fields bson.M) error {
	return s.update(ctx, collection, id, fields, &revision)
}

func (s *MemoryStore) update(ctx context.Context, collection, id string, fields bson.M, revision *int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	set, err := prepareUpdate(fields, s.clock.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(collection, id)
	raw, ok := s.docs[k]
	if !ok {
		return ErrNotFound
	}
	var current bson.M
	if err := bson.Unmarshal(raw, &current); err != nil {
		return fmt.Errorf("failed to decode stored document: %w", err)
	}
	stored := revisionOf(current)
	if revision != nil && stored != *revision {
		return ErrConflict
	}
	for field, v := range set {
		current[field] = v
	}
	current[fieldRevision] = stored + 1

	next, err := bson.Marshal(current)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	s.docs[k] = next
	s.publishLocked(k, next)
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(collection, id)
	if _, ok := s.docs[k]; !ok {
		return nil
	}
	delete(s.docs, k)
	s.publishLocked(k, nil)
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, collection, id string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := s.key(collection, id)

	var sub *Subscription
	watchCtx, stopWatch := context.WithCancel(ctx)
	sub = newSubscription(collection, id, func() {
		stopWatch()
		s.mu.Lock()
		delete(s.subs[k], sub.ID)
		if len(s.subs[k]) == 0 {
			delete(s.subs, k)
		}
		s.mu.Unlock()
	})

	s.mu.Lock()
	if s.subs[k] == nil {
		s.subs[k] = make(map[string]*Subscription)
	}
	s.subs[k][sub.ID] = sub
	sub.offer(snapshotOf(s.docs[k]))
	s.mu.Unlock()

	go func() {
		<-watchCtx.Done()
		sub.Close()
	}()
	return sub, nil
}

// SubscriberCount returns the number of open subscriptions on a document
func (s *MemoryStore) SubscriberCount(collection, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[s.key(collection, id)])
}

func (s *MemoryStore) publishLocked(k string, raw bson.Raw) {
	snap := snapshotOf(raw)
	for _, sub := range s.subs[k] {
		sub.offer(snap)
	}
}

func snapshotOf(raw bson.Raw) Snapshot {
	if raw == nil {
		return Snapshot{}
	}
	return Snapshot{Exists: true, Data: raw}
}

func revisionOf(doc bson.M) int64 {
	switch v := doc[fieldRevision].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

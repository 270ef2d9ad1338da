package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ChangeNotifier fans out "document changed" notices between processes.
// Notices carry no payload; listeners re-read the document.
type ChangeNotifier interface {
	Publish(ctx context.Context, collection, id string) error
	Listen(ctx context.Context, collection, id string) (<-chan struct{}, func(), error)
}

// DefaultPollInterval is used by MongoStore subscriptions when no
// ChangeNotifier is configured
const DefaultPollInterval = time.Second

// MongoStore keeps each collection in a Mongo collection keyed by _id
type MongoStore struct {
	db    *mongo.Database
	feed  ChangeNotifier
	clock clockwork.Clock
	poll  time.Duration
}

// NewMongoStore creates a store over dbName. feed may be nil, in which
// case subscriptions poll.
func NewMongoStore(client *mongo.Client, dbName string, feed ChangeNotifier, clock clockwork.Clock) *MongoStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MongoStore{
		db:    client.Database(dbName),
		feed:  feed,
		clock: clock,
		poll:  DefaultPollInterval,
	}
}

func (s *MongoStore) collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *MongoStore) Create(ctx context.Context, collection, id string, doc interface{}) error {
	fields, err := prepareCreate(id, doc, s.clock.Now())
	if err != nil {
		return err
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection(collection).ReplaceOne(ctx, bson.M{fieldID: id}, fields, opts); err != nil {
		return mapMongoError("create", err)
	}
	s.notify(ctx, collection, id)
	return nil
}

func (s *MongoStore) CreateIfAbsent(ctx context.Context, collection, id string, doc interface{}) error {
	fields, err := prepareCreate(id, doc, s.clock.Now())
	if err != nil {
		return err
	}
	if _, err := s.collection(collection).InsertOne(ctx, fields); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return mapMongoError("create", err)
	}
	s.notify(ctx, collection, id)
	return nil
}

func (s *MongoStore) Read(ctx context.Context, collection, id string, dest interface{}) error {
	err := s.collection(collection).FindOne(ctx, bson.M{fieldID: id}).Decode(dest)
	if err != nil {
		return mapMongoError("read", err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, collection, id string, fields bson.M) error {
	return s.update(ctx, collection, bson.M{fieldID: id}, id, fields, false)
}

func (s *MongoStore) UpdateIf(ctx context.Context, collection, id string, revision int64, fields bson.M) error {
	return s.update(ctx, collection, bson.M{fieldID: id, fieldRevision: revision}, id, fields, true)
}

func (s *MongoStore) update(ctx context.Context, collection string, filter bson.M, id string, fields bson.M, guarded bool) error {
	set, err := prepareUpdate(fields, s.clock.Now())
	if err != nil {
		return err
	}
	change := bson.M{"$inc": bson.M{fieldRevision: int64(1)}}
	if len(set) > 0 {
		change["$set"] = set
	}

	coll := s.collection(collection)
	res, err := coll.UpdateOne(ctx, filter, change)
	if err != nil {
		return mapMongoError("update", err)
	}
	if res.MatchedCount == 0 {
		if !guarded {
			return ErrNotFound
		}
		n, err := coll.CountDocuments(ctx, bson.M{fieldID: id})
		if err != nil {
			return mapMongoError("update", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	s.notify(ctx, collection, id)
	return nil
}

func (s *MongoStore) Remove(ctx context.Context, collection, id string) error {
	if _, err := s.collection(collection).DeleteOne(ctx, bson.M{fieldID: id}); err != nil {
		return mapMongoError("delete", err)
	}
	s.notify(ctx, collection, id)
	return nil
}

// Subscribe delivers the current document and then a fresh read after each
// change notice (or poll tick when no notifier is configured)
func (s *MongoStore) Subscribe(ctx context.Context, collection, id string) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	var changes <-chan struct{}
	stopListen := func() {}
	if s.feed != nil {
		ch, stop, err := s.feed.Listen(subCtx, collection, id)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: failed to listen for changes: %v", ErrUnavailable, err)
		}
		changes, stopListen = ch, stop
	}

	sub := newSubscription(collection, id, cancel)
	go s.pump(subCtx, sub, changes, stopListen)
	return sub, nil
}

func (s *MongoStore) pump(ctx context.Context, sub *Subscription, changes <-chan struct{}, stopListen func()) {
	defer stopListen()
	defer sub.Close()

	var tick <-chan time.Time
	if changes == nil {
		ticker := s.clock.NewTicker(s.poll)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	for {
		snap, err := s.snapshot(ctx, sub.Collection, sub.DocID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).
				Str("collection", sub.Collection).
				Str("code", sub.DocID).
				Msg("subscription read failed")
			sub.fail(err)
			return
		}
		sub.offer(snap)

		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				sub.fail(fmt.Errorf("%w: change feed closed", ErrUnavailable))
				return
			}
		case <-tick:
		}
	}
}

func (s *MongoStore) snapshot(ctx context.Context, collection, id string) (Snapshot, error) {
	raw, err := s.collection(collection).FindOne(ctx, bson.M{fieldID: id}).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Snapshot{}, nil
		}
		return Snapshot{}, mapMongoError("read", err)
	}
	return Snapshot{Exists: true, Data: raw}, nil
}

// Ping checks that the server is reachable
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return mapMongoError("ping", err)
	}
	return nil
}

func (s *MongoStore) notify(ctx context.Context, collection, id string) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, collection, id); err != nil {
		log.Warn().Err(err).
			Str("collection", collection).
			Str("code", id).
			Msg("failed to publish change notice")
	}
}

func mapMongoError(op string, err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsNetworkError(err), mongo.IsTimeout(err):
		return fmt.Errorf("%w: failed to %s document: %v", ErrUnavailable, op, err)
	}
	return fmt.Errorf("failed to %s document: %w", op, err)
}

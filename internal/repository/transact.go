package repository

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
)

// MaxTransactAttempts bounds how often Transact re-reads after a conflict
const MaxTransactAttempts = 8

// Transact runs a read-mutate-write cycle guarded by the document revision.
// mutate receives a freshly read document and returns the top-level fields
// to write; returning nil fields skips the write. On ErrConflict the whole
// cycle is retried against a new read. After a successful write the
// returned document is re-read, so it carries the written fields, the new
// revision and any server timestamps.
func Transact[T any, P interface {
	*T
	Versioned
}](ctx context.Context, store DocumentStore, collection, id string, mutate func(doc P) (bson.M, error)) (P, error) {
	for attempt := 1; ; attempt++ {
		doc := P(new(T))
		if err := store.Read(ctx, collection, id, doc); err != nil {
			return nil, err
		}

		fields, err := mutate(doc)
		if err != nil {
			return nil, err
		}
		if fields == nil {
			return doc, nil
		}

		err = store.UpdateIf(ctx, collection, id, doc.CurrentRevision(), fields)
		if err == nil {
			return written(ctx, store, collection, id, doc, fields), nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= MaxTransactAttempts {
			return nil, err
		}

		log.Debug().
			Str("collection", collection).
			Str("code", id).
			Int("attempt", attempt).
			Msg("revision conflict, retrying merge")
	}
}

// written returns the document as stored after a successful write. If the
// re-read fails the fields are laid over the document that was read.
func written[T any, P interface {
	*T
	Versioned
}](ctx context.Context, store DocumentStore, collection, id string, read P, fields bson.M) P {
	fresh := P(new(T))
	err := store.Read(ctx, collection, id, fresh)
	if err == nil {
		return fresh
	}
	log.Warn().Err(err).
		Str("collection", collection).
		Str("code", id).
		Msg("re-read after write failed")

	set := make(bson.M, len(fields))
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); !ok {
			set[k] = v
		}
	}
	if raw, err := bson.Marshal(set); err == nil {
		_ = bson.Unmarshal(raw, read)
	}
	return read
}

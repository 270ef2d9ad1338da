package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrConflict      = errors.New("document changed since it was read")
	ErrAccessDenied  = errors.New("write rejected by access rules")
	ErrUnavailable   = errors.New("document store unavailable")
)

// DocumentStore is the request/response + subscription surface over the
// sessions and squadBattles collections. It owns no game state.
type DocumentStore interface {
	// Create writes doc under id, silently replacing any existing document
	Create(ctx context.Context, collection, id string, doc interface{}) error
	// CreateIfAbsent writes doc under id or fails with ErrAlreadyExists
	CreateIfAbsent(ctx context.Context, collection, id string, doc interface{}) error
	// Read decodes the document into dest or fails with ErrNotFound
	Read(ctx context.Context, collection, id string, dest interface{}) error
	// Update merges top-level fields only; nested values are replaced whole
	Update(ctx context.Context, collection, id string, fields bson.M) error
	// UpdateIf is Update conditioned on the stored revision, ErrConflict otherwise
	UpdateIf(ctx context.Context, collection, id string, revision int64, fields bson.M) error
	Remove(ctx context.Context, collection, id string) error
	// Subscribe streams full snapshots until the subscription is closed
	Subscribe(ctx context.Context, collection, id string) (*Subscription, error)
}

// Versioned documents expose the store-maintained revision
type Versioned interface {
	CurrentRevision() int64
}

const (
	fieldID       = "_id"
	fieldRevision = "revision"
)

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's clock when it appears as a
// top-level value in a written document or field set
var ServerTimestamp interface{} = serverTimestamp{}

// ToFields flattens a document (struct or map) into top-level fields
func ToFields(doc interface{}) (bson.M, error) {
	if m, ok := doc.(bson.M); ok {
		out := make(bson.M, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, nil
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return fields, nil
}

// resolveTimestamps swaps ServerTimestamp sentinels for now
func resolveTimestamps(fields bson.M, now time.Time) bson.M {
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			fields[k] = now.UTC()
		}
	}
	return fields
}

// prepareCreate builds the stored form of a new document
func prepareCreate(id string, doc interface{}, now time.Time) (bson.M, error) {
	fields, err := ToFields(doc)
	if err != nil {
		return nil, err
	}
	resolveTimestamps(fields, now)
	fields[fieldID] = id
	fields[fieldRevision] = int64(1)
	return fields, nil
}

// prepareUpdate strips fields the caller may not set directly
func prepareUpdate(fields bson.M, now time.Time) (bson.M, error) {
	out, err := ToFields(fields)
	if err != nil {
		return nil, err
	}
	delete(out, fieldID)
	delete(out, fieldRevision)
	return resolveTimestamps(out, now), nil
}

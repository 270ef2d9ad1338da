package repository

import (
	"context"
	"regexp"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"

	"multiplymonsters/internal/model"
)

type rosterEntry struct {
	Name string `bson:"name"`
}

// probe picks the guarded fields out of a document or field set. Pointers
// distinguish "absent" from "empty".
type probe struct {
	Code        *string        `bson:"code"`
	TeacherName *string        `bson:"teacherName"`
	GameMode    *string        `bson:"gameMode"`
	BattleType  *string        `bson:"battleType"`
	Students    *[]rosterEntry `bson:"students"`
	Players     *[]rosterEntry `bson:"players"`
}

type rule struct {
	code      *regexp.Regexp
	immutable map[string]func(p *probe) *string
	roster    func(p *probe) *[]rosterEntry
}

var rules = map[string]rule{
	model.CollectionSessions: {
		code: regexp.MustCompile(`^[A-Z0-9]{4}$`),
		immutable: map[string]func(p *probe) *string{
			"code":        func(p *probe) *string { return p.Code },
			"teacherName": func(p *probe) *string { return p.TeacherName },
			"gameMode":    func(p *probe) *string { return p.GameMode },
		},
		roster: func(p *probe) *[]rosterEntry { return p.Students },
	},
	model.CollectionSquadBattles: {
		code: regexp.MustCompile(`^[A-Z0-9]{3}$`),
		immutable: map[string]func(p *probe) *string{
			"code":       func(p *probe) *string { return p.Code },
			"battleType": func(p *probe) *string { return p.BattleType },
		},
		roster: func(p *probe) *[]rosterEntry { return p.Players },
	},
}

// Guard enforces the write rules of the two public collections in front of
// another store. Rejections surface as ErrAccessDenied with no reason
// attached.
type Guard struct {
	next DocumentStore
}

// NewGuard wraps next with access rules
func NewGuard(next DocumentStore) *Guard {
	return &Guard{next: next}
}

func (g *Guard) Create(ctx context.Context, collection, id string, doc interface{}) error {
	if err := g.checkCreate(collection, id, doc); err != nil {
		return err
	}
	return g.next.Create(ctx, collection, id, doc)
}

func (g *Guard) CreateIfAbsent(ctx context.Context, collection, id string, doc interface{}) error {
	if err := g.checkCreate(collection, id, doc); err != nil {
		return err
	}
	return g.next.CreateIfAbsent(ctx, collection, id, doc)
}

func (g *Guard) Read(ctx context.Context, collection, id string, dest interface{}) error {
	if _, ok := rules[collection]; !ok {
		return deny(collection, id, "unknown collection")
	}
	return g.next.Read(ctx, collection, id, dest)
}

func (g *Guard) Update(ctx context.Context, collection, id string, fields bson.M) error {
	if err := g.checkUpdate(ctx, collection, id, fields); err != nil {
		return err
	}
	return g.next.Update(ctx, collection, id, fields)
}

func (g *Guard) UpdateIf(ctx context.Context, collection, id string, revision int64, fields bson.M) error {
	if err := g.checkUpdate(ctx, collection, id, fields); err != nil {
		return err
	}
	return g.next.UpdateIf(ctx, collection, id, revision, fields)
}

func (g *Guard) Remove(ctx context.Context, collection, id string) error {
	if _, ok := rules[collection]; !ok {
		return deny(collection, id, "unknown collection")
	}
	return g.next.Remove(ctx, collection, id)
}

func (g *Guard) Subscribe(ctx context.Context, collection, id string) (*Subscription, error) {
	if _, ok := rules[collection]; !ok {
		return nil, deny(collection, id, "unknown collection")
	}
	return g.next.Subscribe(ctx, collection, id)
}

func (g *Guard) checkCreate(collection, id string, doc interface{}) error {
	r, ok := rules[collection]
	if !ok {
		return deny(collection, id, "unknown collection")
	}
	p, err := probeOf(doc)
	if err != nil {
		return err
	}
	if p.Code == nil || *p.Code != id || !r.code.MatchString(id) {
		return deny(collection, id, "malformed code")
	}
	if !namesPresent(r.roster(p)) {
		return deny(collection, id, "empty participant name")
	}
	return nil
}

func (g *Guard) checkUpdate(ctx context.Context, collection, id string, fields bson.M) error {
	r, ok := rules[collection]
	if !ok {
		return deny(collection, id, "unknown collection")
	}
	proposed, err := probeOf(fields)
	if err != nil {
		return err
	}
	if !namesPresent(r.roster(proposed)) {
		return deny(collection, id, "empty participant name")
	}

	touchesImmutable := false
	for _, get := range r.immutable {
		if get(proposed) != nil {
			touchesImmutable = true
			break
		}
	}
	if !touchesImmutable {
		return nil
	}

	var current probe
	if err := g.next.Read(ctx, collection, id, &current); err != nil {
		return err
	}
	for field, get := range r.immutable {
		next := get(proposed)
		if next == nil {
			continue
		}
		if prev := get(&current); prev == nil || *prev != *next {
			return deny(collection, id, field+" is immutable")
		}
	}
	return nil
}

func probeOf(doc interface{}) (*probe, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var p probe
	if err := bson.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func namesPresent(roster *[]rosterEntry) bool {
	if roster == nil {
		return true
	}
	for _, e := range *roster {
		if e.Name == "" {
			return false
		}
	}
	return true
}

func deny(collection, id, reason string) error {
	log.Debug().
		Str("collection", collection).
		Str("code", id).
		Str("reason", reason).
		Msg("write rejected")
	return ErrAccessDenied
}

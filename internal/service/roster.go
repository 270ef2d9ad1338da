package service

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"multiplymonsters/internal/model"
	"multiplymonsters/internal/repository"
)

// MergeStrategy selects how roster writes reach the store
type MergeStrategy string

const (
	// MergeTransactional re-reads and retries on a revision conflict, so
	// concurrent roster writers never drop each other's changes
	MergeTransactional MergeStrategy = "transactional"
	// MergeOverwrite reads the document and writes the whole roster back.
	// A writer whose read precedes another writer's write discards it.
	MergeOverwrite MergeStrategy = "overwrite"
)

// ParseMergeStrategy accepts the config spelling of a strategy
func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch MergeStrategy(s) {
	case "", MergeTransactional:
		return MergeTransactional, nil
	case MergeOverwrite:
		return MergeOverwrite, nil
	}
	return "", fmt.Errorf("unknown merge strategy %q", s)
}

// StudentPatch carries the roster fields a student may change; nil leaves
// a field as is
type StudentPatch struct {
	Score         *model.Score
	IsReady       *bool
	CurrentStreak *int
}

// PlayerPatch carries the roster fields a squad player may change
type PlayerPatch struct {
	Score         *int
	IsReady       *bool
	IsEliminated  *bool
	CurrentStreak *int
}

func mergeStudent(s model.Student, p StudentPatch) model.Student {
	if p.Score != nil {
		s.Score = *p.Score
	}
	if p.IsReady != nil {
		s.IsReady = *p.IsReady
	}
	if p.CurrentStreak != nil {
		s.CurrentStreak = *p.CurrentStreak
		s.BestStreak = max(s.BestStreak, *p.CurrentStreak)
	}
	return s
}

func mergePlayer(pl model.Player, p PlayerPatch) model.Player {
	if p.Score != nil {
		pl.Score = *p.Score
	}
	if p.IsReady != nil {
		pl.IsReady = *p.IsReady
	}
	if p.IsEliminated != nil {
		pl.IsEliminated = *p.IsEliminated
	}
	if p.CurrentStreak != nil {
		pl.CurrentStreak = *p.CurrentStreak
		pl.BestStreak = max(pl.BestStreak, *p.CurrentStreak)
	}
	return pl
}

// patchStudents returns a copy of the roster with name's entry patched
func patchStudents(students []model.Student, name string, p StudentPatch) ([]model.Student, bool) {
	out := make([]model.Student, len(students))
	found := false
	for i, s := range students {
		if s.Name == name {
			s = mergeStudent(s, p)
			found = true
		}
		out[i] = s
	}
	return out, found
}

func patchPlayers(players []model.Player, name string, p PlayerPatch) ([]model.Player, bool) {
	out := make([]model.Player, len(players))
	found := false
	for i, pl := range players {
		if pl.Name == name {
			pl = mergePlayer(pl, p)
			found = true
		}
		out[i] = pl
	}
	return out, found
}

func removeStudent(students []model.Student, name string) []model.Student {
	out := make([]model.Student, 0, len(students))
	for _, s := range students {
		if s.Name != name {
			out = append(out, s)
		}
	}
	return out
}

func removePlayer(players []model.Player, name string) []model.Player {
	out := make([]model.Player, 0, len(players))
	for _, p := range players {
		if p.Name != name {
			out = append(out, p)
		}
	}
	return out
}

// readyPlayers is the denormalized name list stored next to the roster
func readyPlayers(players []model.Player) []string {
	names := make([]string, 0, len(players))
	for _, p := range players {
		if p.IsReady {
			names = append(names, p.Name)
		}
	}
	return names
}

// merge applies mutate to a fresh copy of the document and writes the
// returned fields back using the configured strategy. Nil fields mean
// nothing to write. The transactional path returns the stored document;
// the overwrite path returns doc as mutate left it, so mutate also updates
// doc in place.
func merge[T any, P interface {
	*T
	repository.Versioned
}](ctx context.Context, store repository.DocumentStore, strategy MergeStrategy, collection, code string, mutate func(doc P) (bson.M, error)) (P, error) {
	if strategy != MergeOverwrite {
		return repository.Transact(ctx, store, collection, code, mutate)
	}

	doc := P(new(T))
	if err := store.Read(ctx, collection, code, doc); err != nil {
		return nil, err
	}
	fields, err := mutate(doc)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return doc, nil
	}
	if err := store.Update(ctx, collection, code, fields); err != nil {
		return nil, err
	}
	return doc, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"

	"multiplymonsters/internal/cache"
	"multiplymonsters/internal/model"
	"multiplymonsters/internal/repository"
)

// abandonTimeout bounds the background leave issued on teardown
const abandonTimeout = 5 * time.Second

// SessionService handles the lifecycle of teacher-led classroom sessions
type SessionService struct {
	store repository.DocumentStore
	codes *codeIssuer
	clock clockwork.Clock
	opts  Options
}

// NewSessionService creates a new session service. registry and clock may
// be nil.
func NewSessionService(
	store repository.DocumentStore,
	registry cache.CodeRegistry,
	clock clockwork.Clock,
	opts Options,
) *SessionService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionService{
		store: store,
		codes: newCodeIssuer(store, registry, opts.CollisionCheck),
		clock: clock,
		opts:  opts,
	}
}

// CreateSession writes a new session with an empty roster and returns its code
func (s *SessionService) CreateSession(ctx context.Context, teacherName string, mode model.GameMode, timeLimit int) (string, error) {
	teacherName = strings.TrimSpace(teacherName)
	if teacherName == "" {
		return "", ErrInvalidName
	}
	if !mode.Valid() {
		return "", ErrInvalidGameMode
	}
	if timeLimit <= 0 {
		timeLimit = s.opts.DefaultTimeLimit
	}

	code, err := s.codes.create(ctx, model.CollectionSessions, SessionCodeLen, func(code string) (interface{}, error) {
		fields, err := repository.ToFields(&model.Session{
			Code:        code,
			TeacherName: teacherName,
			GameMode:    mode,
			TimeLimit:   timeLimit,
			IsActive:    true,
			Students:    []model.Student{},
		})
		if err != nil {
			return nil, err
		}
		fields["createdAt"] = repository.ServerTimestamp
		return fields, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().
		Str("code", code).
		Str("teacher", teacherName).
		Str("mode", string(mode)).
		Int("time_limit", timeLimit).
		Msg("session created")
	return code, nil
}

// GetSession reads the current session document
func (s *SessionService) GetSession(ctx context.Context, code string) (*model.Session, error) {
	var session model.Session
	if err := s.store.Read(ctx, model.CollectionSessions, code, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// JoinSession appends a zeroed roster entry for name
func (s *SessionService) JoinSession(ctx context.Context, code, name string) (*model.Session, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidName
	}

	session, err := merge(ctx, s.store, s.opts.Strategy, model.CollectionSessions, code, func(doc *model.Session) (bson.M, error) {
		if !doc.IsActive {
			return nil, ErrInactiveSession
		}
		if doc.StudentIndex(name) >= 0 {
			return nil, ErrDuplicateName
		}
		doc.Students = append(doc.Students, model.NewStudent(name, s.clock.Now().UTC()))
		return bson.M{"students": doc.Students}, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("code", code).Str("name", name).Msg("student joined session")
	return session, nil
}

// LeaveSession removes name from the roster. A missing session or entry is
// not an error.
func (s *SessionService) LeaveSession(ctx context.Context, code, name string) error {
	_, err := merge(ctx, s.store, s.opts.Strategy, model.CollectionSessions, code, func(doc *model.Session) (bson.M, error) {
		if doc.StudentIndex(name) < 0 {
			return nil, nil
		}
		doc.Students = removeStudent(doc.Students, name)
		return bson.M{"students": doc.Students}, nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().Str("code", code).Str("name", name).Msg("student left session")
	return nil
}

// Abandon is the teardown variant of LeaveSession: it runs in the
// background and only logs failures
func (s *SessionService) Abandon(code, name string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), abandonTimeout)
		defer cancel()
		if err := s.LeaveSession(ctx, code, name); err != nil {
			log.Warn().Err(err).Str("code", code).Str("name", name).Msg("failed to leave abandoned session")
		}
	}()
}

// StartSession stamps startedAt, the one round-start signal every
// subscriber reacts to. A session starts at most once.
func (s *SessionService) StartSession(ctx context.Context, code string) error {
	_, err := repository.Transact(ctx, s.store, model.CollectionSessions, code, func(doc *model.Session) (bson.M, error) {
		if doc.HasStarted() {
			return nil, ErrAlreadyStarted
		}
		return bson.M{
			"startedAt": repository.ServerTimestamp,
			"isActive":  true,
		}, nil
	})
	if err != nil {
		return err
	}

	log.Info().Str("code", code).Msg("session started")
	return nil
}

// EndSession stamps endedAt and deactivates the session
func (s *SessionService) EndSession(ctx context.Context, code string) error {
	err := s.store.Update(ctx, model.CollectionSessions, code, bson.M{
		"endedAt":  repository.ServerTimestamp,
		"isActive": false,
	})
	if err != nil {
		return err
	}

	log.Info().Str("code", code).Msg("session ended")
	return nil
}

// DeleteSession removes the document; subscribers observe the deletion
func (s *SessionService) DeleteSession(ctx context.Context, code string) error {
	if err := s.store.Remove(ctx, model.CollectionSessions, code); err != nil {
		return err
	}
	s.codes.release(ctx, model.CollectionSessions, code)

	log.Info().Str("code", code).Msg("session deleted")
	return nil
}

// SubscribeToSession streams every new state of the session; a nil
// document means the teacher deleted it
func (s *SessionService) SubscribeToSession(ctx context.Context, code string) (*SessionStream, error) {
	sub, err := s.store.Subscribe(ctx, model.CollectionSessions, code)
	if err != nil {
		return nil, err
	}
	return &SessionStream{sub: sub}, nil
}

// UpdateStudentScore replaces name's score and streak. Re-applying the same
// arguments yields the same roster entry.
func (s *SessionService) UpdateStudentScore(ctx context.Context, code, name string, score model.Score, streak int) (*model.Student, error) {
	return s.patchStudent(ctx, code, name, StudentPatch{Score: &score, CurrentStreak: &streak})
}

// SetStudentReady flips name's ready flag
func (s *SessionService) SetStudentReady(ctx context.Context, code, name string, ready bool) (*model.Student, error) {
	return s.patchStudent(ctx, code, name, StudentPatch{IsReady: &ready})
}

func (s *SessionService) patchStudent(ctx context.Context, code, name string, patch StudentPatch) (*model.Student, error) {
	session, err := merge(ctx, s.store, s.opts.Strategy, model.CollectionSessions, code, func(doc *model.Session) (bson.M, error) {
		students, found := patchStudents(doc.Students, name, patch)
		if !found {
			return nil, ErrNotParticipant
		}
		doc.Students = students
		return bson.M{"students": students}, nil
	})
	if err != nil {
		return nil, err
	}

	i := session.StudentIndex(name)
	if i < 0 {
		return nil, ErrNotParticipant
	}
	student := session.Students[i]
	log.Debug().
		Str("code", code).
		Str("name", name).
		Int("correct", student.Score.Correct).
		Int("streak", student.CurrentStreak).
		Msg("student updated")
	return &student, nil
}

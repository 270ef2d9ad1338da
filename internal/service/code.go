package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"multiplymonsters/internal/cache"
	"multiplymonsters/internal/repository"
)

const (
	codeAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	SessionCodeLen    = 4
	SquadCodeLen      = 3
	maxCodeAttempts   = 10
	unbiasedByteLimit = 252 // largest multiple of len(codeAlphabet) below 256
)

// randomCode draws n symbols from codeAlphabet using crypto/rand, rejecting
// bytes that would skew the distribution
func randomCode(n int) (string, error) {
	code := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(code) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= unbiasedByteLimit {
				continue
			}
			code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(code) == n {
				break
			}
		}
	}
	return string(code), nil
}

// codeIssuer writes a new document under a freshly generated code
type codeIssuer struct {
	store    repository.DocumentStore
	registry cache.CodeRegistry
	// checkCollisions false keeps the original behaviour where a colliding
	// create silently replaces the older document
	checkCollisions bool
	generate        func(n int) (string, error)
}

func newCodeIssuer(store repository.DocumentStore, registry cache.CodeRegistry, checkCollisions bool) *codeIssuer {
	return &codeIssuer{
		store:           store,
		registry:        registry,
		checkCollisions: checkCollisions,
		generate:        randomCode,
	}
}

// create builds a document for a candidate code and writes it, retrying
// with a new code on collision
func (c *codeIssuer) create(ctx context.Context, collection string, length int, build func(code string) (interface{}, error)) (string, error) {
	if !c.checkCollisions {
		code, err := c.generate(length)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		doc, err := build(code)
		if err != nil {
			return "", err
		}
		if err := c.store.Create(ctx, collection, code, doc); err != nil {
			return "", fmt.Errorf("failed to create document: %w", err)
		}
		return code, nil
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := c.generate(length)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}

		if c.registry != nil {
			reserved, err := c.registry.Reserve(ctx, collection, code)
			if err != nil {
				return "", fmt.Errorf("failed to reserve code: %w", err)
			}
			if !reserved {
				log.Debug().Str("collection", collection).Str("code", code).Int("attempt", attempt).Msg("code already reserved")
				continue
			}
		}

		doc, err := build(code)
		if err != nil {
			c.release(ctx, collection, code)
			return "", err
		}
		err = c.store.CreateIfAbsent(ctx, collection, code, doc)
		if errors.Is(err, repository.ErrAlreadyExists) {
			log.Debug().Str("collection", collection).Str("code", code).Int("attempt", attempt).Msg("code already in use")
			continue
		}
		if err != nil {
			c.release(ctx, collection, code)
			return "", fmt.Errorf("failed to create document: %w", err)
		}
		return code, nil
	}
	return "", ErrCodesExhausted
}

func (c *codeIssuer) release(ctx context.Context, collection, code string) {
	if c.registry == nil {
		return
	}
	if err := c.registry.Release(ctx, collection, code); err != nil {
		log.Warn().Err(err).Str("collection", collection).Str("code", code).Msg("failed to release code")
	}
}

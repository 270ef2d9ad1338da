package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"multiplymonsters/internal/model"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// tokenTTL covers a school day; codes are meaningless after that
const tokenTTL = 24 * time.Hour

// AuthService issues and checks participant tokens. A token binds its
// holder to one roster entry of one document.
type AuthService struct {
	jwtSecret []byte
	clock     clockwork.Clock
}

// NewAuthService creates a new auth service
func NewAuthService(secret string, clock clockwork.Clock) *AuthService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AuthService{
		jwtSecret: []byte(secret),
		clock:     clock,
	}
}

// IssueToken creates a token for name acting as role on collection/code
func (s *AuthService) IssueToken(collection, code, name string, role model.Role) (*model.JoinResponse, error) {
	now := s.clock.Now()
	claims := &model.ParticipantClaims{
		Collection: collection,
		Code:       code,
		Name:       name,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, err
	}

	return &model.JoinResponse{
		Code:  code,
		Name:  name,
		Role:  role,
		Token: tokenString,
	}, nil
}

// ValidateToken checks the signature and expiry and returns the claims
func (s *AuthService) ValidateToken(tokenString string) (*model.ParticipantClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &model.ParticipantClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*model.ParticipantClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

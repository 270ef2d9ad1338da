package model

import "github.com/golang-jwt/jwt/v5"

// Role distinguishes who holds a token
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleHost    Role = "host"
	RolePlayer  Role = "player"
)

// Monitoring is true for roles that watch a round without playing it
func (r Role) Monitoring() bool {
	return r == RoleTeacher
}

// ParticipantClaims are JWT claims scoping a token to one roster entry
// of one document
type ParticipantClaims struct {
	Collection string `json:"collection"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	jwt.RegisteredClaims
}

// JoinResponse is returned when a document is created or joined
type JoinResponse struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
	Token string `json:"token"`
}

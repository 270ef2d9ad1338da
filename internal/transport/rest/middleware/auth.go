package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"multiplymonsters/internal/model"
	"multiplymonsters/internal/service"
)

type contextKey string

const ClaimsKey contextKey = "claims"

// AuthMiddleware provides JWT authentication middleware
type AuthMiddleware struct {
	authSvc *service.AuthService
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(authSvc *service.AuthService) *AuthMiddleware {
	return &AuthMiddleware{authSvc: authSvc}
}

// Require accepts a token only for the document named by the route's
// {code} in collection, and only for one of roles when any are given
func (m *AuthMiddleware) Require(collection string, roles ...model.Role) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, status, msg := m.Authorize(r, collection, roles...)
			if claims == nil {
				http.Error(w, `{"error":"`+msg+`"}`, status)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authorize checks the request token against the route; on failure it
// returns nil claims with the status and message to answer with
func (m *AuthMiddleware) Authorize(r *http.Request, collection string, roles ...model.Role) (*model.ParticipantClaims, int, string) {
	token := extractBearerToken(r)
	if token == "" {
		// WebSocket clients pass it as a query param
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, http.StatusUnauthorized, "missing authorization"
	}

	claims, err := m.authSvc.ValidateToken(token)
	if err != nil {
		return nil, http.StatusUnauthorized, "invalid or expired token"
	}
	if claims.Collection != collection || claims.Code != mux.Vars(r)["code"] {
		return nil, http.StatusForbidden, "token not valid for this battle"
	}
	if len(roles) > 0 && !hasRole(roles, claims.Role) {
		return nil, http.StatusForbidden, "role not allowed"
	}
	return claims, http.StatusOK, ""
}

// GetClaims extracts the participant claims from context
func GetClaims(ctx context.Context) *model.ParticipantClaims {
	if v, ok := ctx.Value(ClaimsKey).(*model.ParticipantClaims); ok {
		return v
	}
	return nil
}

func hasRole(roles []model.Role, role model.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

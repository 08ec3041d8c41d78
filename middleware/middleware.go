package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"stopshop/globals"
	"stopshop/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// JWT claims
type Claims struct {
	Username string   `json:"username"`
	UserID   string   `json:"userId"`
	Role     []string `json:"role"`
	jwt.RegisteredClaims
}

// Revoker reports tokens invalidated by logout.
type Revoker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

type Middleware func(httprouter.Handle) httprouter.Handle

// Chain wraps h so that the first middleware runs first.
func Chain(h httprouter.Handle, mws ...Middleware) httprouter.Handle {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// ParseToken verifies an HS256 token signed with secret. A token without
// an expiry is rejected.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("unauthorized: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("unauthorized: invalid token")
	}
	return claims, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 8 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(h[7:]), true
}

// Authenticate admits requests carrying a valid, unrevoked bearer token and
// stores the caller in the request context. WebSocket upgrades go through
// the same check. revoked may be nil.
func Authenticate(secret []byte, revoked Revoker, log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			if r.Header.Get("Authorization") == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing token")
				return
			}
			tokenString, ok := BearerToken(r)
			if !ok {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token format")
				return
			}

			claims, err := ParseToken(secret, tokenString)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			if revoked != nil {
				gone, err := revoked.IsRevoked(r.Context(), tokenString)
				if err != nil {
					log.Error("revocation check failed", zap.Error(err))
					utils.RespondWithError(w, http.StatusServiceUnavailable, "Session check unavailable")
					return
				}
				if gone {
					utils.RespondWithError(w, http.StatusUnauthorized, "Token revoked")
					return
				}
			}

			ctx := context.WithValue(r.Context(), globals.UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, globals.RoleKey, claims.Role)
			ctx = context.WithValue(ctx, globals.UsernameKey, claims.Username)
			ctx = context.WithValue(ctx, globals.TokenKey, tokenString)
			next(w, r.WithContext(ctx), ps)
		}
	}
}

// RequireRoles admits callers holding any of roles. It must run after
// Authenticate.
func RequireRoles(roles ...string) Middleware {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			for _, role := range roles {
				if utils.HasRole(r, role) {
					next(w, r, ps)
					return
				}
			}
			utils.RespondWithError(w, http.StatusForbidden, "Insufficient permissions")
		}
	}
}

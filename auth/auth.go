package auth

import (
	"context"
	"time"

	"stopshop/db"
	"stopshop/middleware"

	"go.uber.org/zap"
)

// TokenTTL is how long an issued token stays valid.
const TokenTTL = 12 * time.Hour

// Revoker remembers logged-out tokens until they expire.
type Revoker interface {
	Revoke(ctx context.Context, token string, until time.Time) error
	middleware.Revoker
}

// Emitter announces logins and logouts to other services.
type Emitter interface {
	EmitAuth(ctx context.Context, name, userID string) error
}

// Handler serves /api/auth.
type Handler struct {
	users   db.UserStore
	secret  []byte
	revoker Revoker
	emitter Emitter
	log     *zap.Logger
	now     func() time.Time
}

// New builds the auth handler. emitter may be nil.
func New(users db.UserStore, secret []byte, revoker Revoker, emitter Emitter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		users:   users,
		secret:  secret,
		revoker: revoker,
		emitter: emitter,
		log:     log,
		now:     time.Now,
	}
}

func (h *Handler) emit(ctx context.Context, name, userID string) {
	if h.emitter == nil {
		return
	}
	if err := h.emitter.EmitAuth(ctx, name, userID); err != nil {
		h.log.Warn("auth event not published", zap.String("event", name), zap.Error(err))
	}
}

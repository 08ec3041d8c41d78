package routes

import (
	"stopshop/auth"
	"stopshop/cart"
	"stopshop/db"
	"stopshop/hub"
	"stopshop/middleware"
	"stopshop/ratelim"
	"stopshop/rdx"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// Deps is everything the router needs.
type Deps struct {
	Store    db.Store
	Secret   []byte
	Revoker  auth.Revoker
	Emitter  auth.Emitter  // optional
	Notifier cart.Notifier // defaults to Hub
	Hub      *hub.Hub      // optional; enables /api/cart/events
	Limiter  *ratelim.RateLimiter
	Log      *zap.Logger
}

func RoutesWrapper(d Deps) *httprouter.Router {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Limiter == nil {
		d.Limiter = ratelim.NewRateLimiter(30, 5)
	}
	if d.Revoker == nil {
		d.Revoker = rdx.NewMemoryRevocations()
	}
	notifier := d.Notifier
	if notifier == nil && d.Hub != nil {
		notifier = d.Hub
	}

	authn := middleware.Authenticate(d.Secret, d.Revoker, d.Log)
	cartHandler := cart.New(d.Store, d.Store, notifier, d.Log.Named("cart"))
	authHandler := auth.New(d.Store, d.Secret, d.Revoker, d.Emitter, d.Log.Named("auth"))

	router := httprouter.New()
	router.GET("/health", Index)
	AddAuthRoutes(router, authHandler, authn, d.Limiter)
	AddCartRoutes(router, cartHandler, authn, d.Hub)
	AddOrderRoutes(router, cartHandler, authn)
	return router
}

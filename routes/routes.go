package routes

import (
	"fmt"
	"net/http"

	"stopshop/auth"
	"stopshop/cart"
	"stopshop/hub"
	"stopshop/middleware"
	"stopshop/ratelim"

	"github.com/julienschmidt/httprouter"
)

// Index is a simple health check handler.
func Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fmt.Fprint(w, "200")
}

func AddAuthRoutes(router *httprouter.Router, h *auth.Handler, authn middleware.Middleware, rl *ratelim.RateLimiter) {
	router.POST("/api/auth/register", rl.Limit(h.Register))
	router.POST("/api/auth/login", rl.Limit(h.Login))
	router.POST("/api/auth/logout", middleware.Chain(h.Logout, authn))
}

func AddCartRoutes(router *httprouter.Router, h *cart.Handler, authn middleware.Middleware, events *hub.Hub) {
	router.GET("/api/cart/my", middleware.Chain(h.GetCart, authn))
	router.GET("/api/cart/test", middleware.Chain(h.AuthTest, authn))
	router.POST("/api/cart/add", middleware.Chain(h.AddToCart, authn))
	router.PUT("/api/cart/update-quantity", middleware.Chain(h.UpdateQuantity, authn))
	router.DELETE("/api/cart/remove/:id", middleware.Chain(h.RemoveFromCart, authn))
	router.DELETE("/api/cart/clear", middleware.Chain(h.ClearCart, authn))
	if events != nil {
		router.GET("/api/cart/events", middleware.Chain(hub.WebSocketHandler(events), authn))
	}
}

// AddOrderRoutes registers the order endpoints. GET /api/orders/my-orders is
// served by the :id route since httprouter cannot hold both.
func AddOrderRoutes(router *httprouter.Router, h *cart.Handler, authn middleware.Middleware) {
	router.GET("/api/orders/:id", middleware.Chain(h.GetOrder, authn))
	router.POST("/api/orders/place-order", middleware.Chain(h.PlaceOrder, authn))
	router.PUT("/api/orders/:id/status", middleware.Chain(h.UpdateOrderStatus, authn, middleware.RequireRoles("admin")))
}

package cart

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"stopshop/db"
	"stopshop/models"
	"stopshop/utils"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

const (
	requestTimeout = 10 * time.Second
	// maxLineQuantity bounds a single line; the client enforces stock.
	maxLineQuantity = 999
)

// Notifier is told after every change to a user's cart.
type Notifier interface {
	CartChanged(ctx context.Context, userID string)
}

// Handler serves /api/cart and /api/orders.
type Handler struct {
	carts  db.CartStore
	orders db.OrderStore
	notify Notifier
	log    *zap.Logger
}

// New builds the handler. notify may be nil.
func New(carts db.CartStore, orders db.OrderStore, notify Notifier, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{carts: carts, orders: orders, notify: notify, log: log}
}

func (h *Handler) changed(ctx context.Context, userID string) {
	if h.notify != nil {
		h.notify.CartChanged(context.WithoutCancel(ctx), userID)
	}
}

// storeError maps repository errors to a response.
func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, db.ErrForbidden):
		utils.RespondWithError(w, http.StatusForbidden, "Access denied")
	default:
		h.log.Error(op, zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// GetCart returns all cart items for the user.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	items, err := h.carts.ListCart(ctx, utils.GetUserIDFromRequest(r))
	if err != nil {
		h.storeError(w, "list cart", err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, items)
}

// AddToCart increments quantity if the product and color already sit in
// the cart, or inserts a new line.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var in models.AddToCartRequest
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	in.ProductID = strings.TrimSpace(in.ProductID)
	if in.ProductID == "" || in.Quantity <= 0 || in.Quantity > maxLineQuantity || in.Price < 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing or invalid fields")
		return
	}

	userID := utils.GetUserIDFromRequest(r)
	item, err := h.carts.AddOrMerge(ctx, models.CartItem{
		UserID:       userID,
		ProductID:    models.FlexID(in.ProductID),
		ProductName:  in.ProductName,
		ProductImage: in.ProductImage,
		Color:        in.Color,
		Price:        in.Price,
		Quantity:     in.Quantity,
	})
	if err != nil {
		h.storeError(w, "add to cart", err)
		return
	}

	h.changed(ctx, userID)
	utils.RespondWithJSON(w, http.StatusCreated, item)
}

// UpdateQuantity sets the quantity of one line.
func (h *Handler) UpdateQuantity(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var in models.UpdateQuantityRequest
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if in.CartItemID == "" || in.Quantity < 1 || in.Quantity > maxLineQuantity {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing or invalid fields")
		return
	}

	userID := utils.GetUserIDFromRequest(r)
	item, err := h.carts.UpdateQuantity(ctx, userID, in.CartItemID.String(), in.Quantity)
	if err != nil {
		h.storeError(w, "update quantity", err)
		return
	}

	h.changed(ctx, userID)
	utils.RespondWithJSON(w, http.StatusOK, item)
}

// RemoveFromCart deletes one line.
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	userID := utils.GetUserIDFromRequest(r)
	if err := h.carts.RemoveItem(ctx, userID, ps.ByName("id")); err != nil {
		h.storeError(w, "remove cart item", err)
		return
	}

	h.changed(ctx, userID)
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "Item removed"})
}

// ClearCart deletes every line of the caller's cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	userID := utils.GetUserIDFromRequest(r)
	if err := h.carts.ClearCart(ctx, userID); err != nil {
		h.storeError(w, "clear cart", err)
		return
	}

	h.changed(ctx, userID)
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "Cart cleared"})
}

// AuthTest lets a client check that its token is accepted.
func (h *Handler) AuthTest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"authenticated": true,
		"userId":        utils.GetUserIDFromRequest(r),
	})
}

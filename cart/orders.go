package cart

import (
	"context"
	"net/http"

	"stopshop/models"
	"stopshop/utils"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// MyOrders returns the caller's orders, newest first.
func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	orders, err := h.orders.ListOrders(ctx, utils.GetUserIDFromRequest(r))
	if err != nil {
		h.storeError(w, "list orders", err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, orders)
}

// PlaceOrder records an order. The cart is left alone; the client clears
// it once the order is confirmed. A repeated Idempotency-Key returns the
// order created by the first request.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var in models.PlaceOrderRequest
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid order payload")
		return
	}
	if msg := in.Validate(); msg != "" {
		utils.RespondWithError(w, http.StatusBadRequest, msg)
		return
	}

	userID := utils.GetUserIDFromRequest(r)
	order, err := h.orders.CreateOrder(ctx, models.Order{
		UserID:      userID,
		Items:       in.CartItems,
		Subtotal:    in.Subtotal,
		ShippingFee: in.ShippingFee,
		OrderTotal:  in.OrderTotal,
		Status:      models.StatusPending,
	}, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.storeError(w, "create order", err)
		return
	}

	h.log.Info("order placed", zap.String("orderId", order.ID.String()), zap.String("userId", userID))
	utils.RespondWithJSON(w, http.StatusCreated, order)
}

// GetOrder returns one order to its owner or an admin. The path segment
// "my-orders" lists the caller's orders instead.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if ps.ByName("id") == "my-orders" {
		h.MyOrders(w, r, ps)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	order, err := h.orders.GetOrder(ctx, ps.ByName("id"))
	if err != nil {
		h.storeError(w, "get order", err)
		return
	}
	if order.UserID != utils.GetUserIDFromRequest(r) && !utils.HasRole(r, "admin") {
		utils.RespondWithError(w, http.StatusForbidden, "Access denied")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, order)
}

// UpdateOrderStatus moves an order one step along its lifecycle.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var in models.UpdateStatusRequest
	if err := utils.DecodeJSON(w, r, &in); err != nil || !in.Status.Valid() {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	id := ps.ByName("id")
	order, err := h.orders.GetOrder(ctx, id)
	if err != nil {
		h.storeError(w, "get order", err)
		return
	}
	if !order.Status.CanTransition(in.Status) {
		utils.RespondWithError(w, http.StatusConflict, "Cannot move order from "+string(order.Status)+" to "+string(in.Status))
		return
	}

	order, err = h.orders.SetOrderStatus(ctx, id, in.Status)
	if err != nil {
		h.storeError(w, "update order status", err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, order)
}

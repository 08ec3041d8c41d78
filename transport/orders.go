package transport

import (
	"context"
	"net/http"
	"net/url"

	"stopshop/models"
)

// PlaceOrder submits an order once. idempotencyKey is sent as the
// Idempotency-Key header so the service can recognise a replayed submit.
func (c *Client) PlaceOrder(ctx context.Context, req models.PlaceOrderRequest, idempotencyKey string) (models.Order, error) {
	var order models.Order
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	err := c.do(ctx, request{
		op:      "place order",
		method:  http.MethodPost,
		path:    "/api/orders/place-order",
		auth:    true,
		body:    req,
		headers: headers,
		out:     &order,
	})
	return order, err
}

// FetchOrders returns the user's order history, newest first.
func (c *Client) FetchOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := c.do(ctx, request{
		op:     "fetch orders",
		method: http.MethodGet,
		path:   "/api/orders/my-orders",
		auth:   true,
		out:    &orders,
	})
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

// GetOrder returns one of the user's orders.
func (c *Client) GetOrder(ctx context.Context, id string) (models.Order, error) {
	var order models.Order
	err := c.do(ctx, request{
		op:     "get order",
		method: http.MethodGet,
		path:   pathf("/api/orders/%s", url.PathEscape(id)),
		auth:   true,
		out:    &order,
	})
	return order, err
}

// UpdateOrderStatus moves an order along its lifecycle. Admin only.
func (c *Client) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) (models.Order, error) {
	var order models.Order
	err := c.do(ctx, request{
		op:     "update order status",
		method: http.MethodPut,
		path:   pathf("/api/orders/%s/status", url.PathEscape(id)),
		auth:   true,
		body:   models.UpdateStatusRequest{Status: status},
		out:    &order,
	})
	return order, err
}

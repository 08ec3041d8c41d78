package models

import "time"

// OrderStatus is a step of the order lifecycle.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

var nextStatus = map[OrderStatus]OrderStatus{
	StatusPending:    StatusProcessing,
	StatusProcessing: StatusShipped,
	StatusShipped:    StatusDelivered,
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from s to to.
// Orders advance one step at a time and may be cancelled until delivered.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	if to == StatusCancelled {
		return s == StatusPending || s == StatusProcessing || s == StatusShipped
	}
	return nextStatus[s] == to
}

// OrderItem is a frozen copy of a cart line at order time.
type OrderItem struct {
	ProductID    FlexID `json:"productId" bson:"productId"`
	ProductName  string `json:"productName" bson:"productName"`
	ProductImage string `json:"productImage" bson:"productImage"`
	Color        string `json:"color" bson:"color"`
	Price        int64  `json:"price" bson:"price"`
	Quantity     int    `json:"quantity" bson:"quantity"`
}

// Order is an immutable snapshot created at checkout.
type Order struct {
	ID          FlexID      `json:"id" bson:"_id"`
	UserID      string      `json:"userId,omitempty" bson:"userId"`
	Items       []OrderItem `json:"items" bson:"items"`
	Subtotal    int64       `json:"subtotal" bson:"subtotal"`
	ShippingFee int64       `json:"shippingFee" bson:"shippingFee"`
	OrderTotal  int64       `json:"orderTotal" bson:"orderTotal"`
	Status      OrderStatus `json:"status" bson:"status"`
	CreatedAt   time.Time   `json:"createdAt" bson:"createdAt"`
}

// PlaceOrderRequest is the body of POST /api/orders/place-order.
type PlaceOrderRequest struct {
	CartItems   []OrderItem `json:"cartItems"`
	Subtotal    int64       `json:"subtotal"`
	ShippingFee int64       `json:"shippingFee"`
	OrderTotal  int64       `json:"orderTotal"`
}

// Validate mirrors the service-side checks on an order request.
func (r PlaceOrderRequest) Validate() string {
	if len(r.CartItems) == 0 {
		return "cart items cannot be empty"
	}
	if r.Subtotal < 0 || r.ShippingFee < 0 {
		return "totals cannot be negative"
	}
	if r.OrderTotal <= 0 || r.OrderTotal != r.Subtotal+r.ShippingFee {
		return "order total must equal subtotal plus shipping fee"
	}
	var sum int64
	for _, it := range r.CartItems {
		if it.ProductName == "" || it.Quantity <= 0 || it.Price < 0 {
			return "invalid cart item"
		}
		sum += it.Price * int64(it.Quantity)
	}
	if sum != r.Subtotal {
		return "subtotal does not match items"
	}
	return ""
}

// UpdateStatusRequest is the body of PUT /api/orders/:id/status.
type UpdateStatusRequest struct {
	Status OrderStatus `json:"status"`
}

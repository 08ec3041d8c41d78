package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FlexID is an identifier that may travel as a JSON number or a JSON string.
// It always decodes to its string form.
type FlexID string

func (id *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = FlexID(n.String())
	return nil
}

func (id FlexID) String() string { return string(id) }

// CartItem is a persisted cart line as exchanged with the cart service.
type CartItem struct {
	ID           FlexID    `json:"id" bson:"_id"`
	UserID       string    `json:"userId,omitempty" bson:"userId"`
	ProductID    FlexID    `json:"productId" bson:"productId"`
	ProductName  string    `json:"productName" bson:"productName"`
	ProductImage string    `json:"productImage" bson:"productImage"`
	Color        string    `json:"color" bson:"color"`
	Price        int64     `json:"price" bson:"price"` // unit price in cents
	Quantity     int       `json:"quantity" bson:"quantity"`
	AddedAt      time.Time `json:"addedAt,omitempty" bson:"addedAt"`
}

// AddToCartRequest is the body of POST /api/cart/add.
type AddToCartRequest struct {
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName"`
	ProductImage string `json:"productImage"`
	Color        string `json:"color"`
	Quantity     int    `json:"quantity"`
	Price        int64  `json:"price"`
}

// UpdateQuantityRequest is the body of PUT /api/cart/update-quantity.
type UpdateQuantityRequest struct {
	CartItemID FlexID `json:"cartItemId"`
	Quantity   int    `json:"quantity"`
}

// CartEvent is pushed to a user's live connections when their cart changes.
type CartEvent struct {
	Action    string `json:"action"` // "cartUpdated"
	UserID    string `json:"userId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

const CartUpdatedAction = "cartUpdated"

package db

import (
	"context"
	"errors"

	"stopshop/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("already exists")
)

// CartStore persists cart lines per user.
type CartStore interface {
	ListCart(ctx context.Context, userID string) ([]models.CartItem, error)
	// AddOrMerge sums the quantity into the user's line for the same
	// product and color, refreshing its price, name and image, or inserts a
	// new line.
	AddOrMerge(ctx context.Context, item models.CartItem) (models.CartItem, error)
	UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) (models.CartItem, error)
	RemoveItem(ctx context.Context, userID, itemID string) error
	ClearCart(ctx context.Context, userID string) error
}

// OrderStore persists orders. CreateOrder returns the existing order when
// idempotencyKey was already used by the same user.
type OrderStore interface {
	CreateOrder(ctx context.Context, order models.Order, idempotencyKey string) (models.Order, error)
	ListOrders(ctx context.Context, userID string) ([]models.Order, error)
	GetOrder(ctx context.Context, id string) (models.Order, error)
	SetOrderStatus(ctx context.Context, id string, status models.OrderStatus) (models.Order, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u models.User) error
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
	TouchLogin(ctx context.Context, userID string) error
}

// Store is everything the service persists.
type Store interface {
	CartStore
	OrderStore
	UserStore
	Close(ctx context.Context) error
}

// Package checkout turns the cart into an order and keeps the order history
// shown to the user.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"stopshop/cartstate"
	"stopshop/events"
	"stopshop/models"
	"stopshop/tokenstore"
	"stopshop/transport"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Remote is the order service.
type Remote interface {
	PlaceOrder(ctx context.Context, req models.PlaceOrderRequest, idempotencyKey string) (models.Order, error)
	FetchOrders(ctx context.Context) ([]models.Order, error)
}

type Tokens interface {
	ValidToken(ctx context.Context) (string, error)
}

// Cart is the source of lines for Checkout and the target of the clear
// that follows a confirmed order.
type Cart interface {
	State() cartstate.State
	Refresh(ctx context.Context) error
	Clear(ctx context.Context) error
}

type Config struct {
	ShippingFee int64
	Bus         *events.Bus
	Logger      *zap.Logger
}

// Totals is the amount breakdown sent with an order.
type Totals struct {
	Subtotal    int64
	ShippingFee int64
	OrderTotal  int64
}

type Coordinator struct {
	remote Remote
	tokens Tokens
	fee    int64
	bus    *events.Bus
	log    *zap.Logger

	mu      sync.Mutex
	history []models.Order
}

func New(remote Remote, tokens Tokens, cfg Config) *Coordinator {
	if cfg.ShippingFee < 0 {
		cfg.ShippingFee = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Coordinator{
		remote: remote,
		tokens: tokens,
		fee:    cfg.ShippingFee,
		bus:    cfg.Bus,
		log:    cfg.Logger,
	}
}

// ComputeTotals sums price times quantity and adds the shipping fee.
func (c *Coordinator) ComputeTotals(lines []cartstate.Line) Totals {
	var sub int64
	for _, l := range lines {
		sub += l.Subtotal()
	}
	return Totals{Subtotal: sub, ShippingFee: c.fee, OrderTotal: sub + c.fee}
}

func (c *Coordinator) requireToken(ctx context.Context, op string) error {
	_, err := c.tokens.ValidToken(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tokenstore.ErrTokenExpired):
		return transport.NewError(op, transport.KindAuthExpired, "session expired")
	default:
		return transport.NewError(op, transport.KindUnauthenticated, "please log in")
	}
}

// PlaceOrder submits lines as one order. It is attempted once; a failure
// leaves the history untouched. On success the order is prepended to the
// history and the caller is expected to clear the cart.
func (c *Coordinator) PlaceOrder(ctx context.Context, lines []cartstate.Line) (models.Order, error) {
	const op = "place order"
	if err := c.requireToken(ctx, op); err != nil {
		return models.Order{}, err
	}
	if len(lines) == 0 {
		return models.Order{}, transport.NewError(op, transport.KindValidation, "cart is empty")
	}

	totals := c.ComputeTotals(lines)
	req := models.PlaceOrderRequest{
		CartItems:   make([]models.OrderItem, 0, len(lines)),
		Subtotal:    totals.Subtotal,
		ShippingFee: totals.ShippingFee,
		OrderTotal:  totals.OrderTotal,
	}
	for _, l := range lines {
		req.CartItems = append(req.CartItems, models.OrderItem{
			ProductID:    models.FlexID(l.ProductID),
			ProductName:  l.DisplayName,
			ProductImage: l.ImageURL,
			Color:        l.VariantKey,
			Price:        l.UnitPrice,
			Quantity:     l.Quantity,
		})
	}

	key := uuid.NewString()
	order, err := c.remote.PlaceOrder(ctx, req, key)
	if err != nil {
		c.log.Warn("order placement failed", zap.String("idempotency_key", key), zap.Error(err))
		return models.Order{}, err
	}
	if len(order.Items) == 0 {
		order.Items = req.CartItems
	}

	c.mu.Lock()
	c.history = append([]models.Order{order}, c.history...)
	c.mu.Unlock()

	c.log.Info("order placed",
		zap.String("order_id", order.ID.String()),
		zap.Int64("order_total", order.OrderTotal),
	)
	return order, nil
}

// Checkout places an order for the server's view of the cart and clears
// the cart once the order is confirmed. When the clear fails the order is
// still returned with the error.
func (c *Coordinator) Checkout(ctx context.Context, cart Cart) (models.Order, error) {
	const op = "place order"
	if err := c.requireToken(ctx, op); err != nil {
		return models.Order{}, err
	}
	if err := cart.Refresh(ctx); err != nil {
		return models.Order{}, err
	}
	// Only lines the server has confirmed may be ordered.
	st := cart.State()
	settled := !st.IsSyncing
	for _, l := range st.Lines {
		settled = settled && l.RemoteLineID != ""
	}
	if !settled {
		return models.Order{}, transport.NewError(op, transport.KindValidation, "cart is still updating, try again")
	}

	order, err := c.PlaceOrder(ctx, st.Lines)
	if err != nil {
		return order, err
	}
	if err := cart.Clear(ctx); err != nil {
		return order, fmt.Errorf("order %s placed but cart not cleared: %w", order.ID, err)
	}
	return order, nil
}

// FetchOrders replaces the local history with the server's.
func (c *Coordinator) FetchOrders(ctx context.Context) ([]models.Order, error) {
	if err := c.requireToken(ctx, "fetch orders"); err != nil {
		return nil, err
	}
	orders, err := c.remote.FetchOrders(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.history = append([]models.Order(nil), orders...)
	c.mu.Unlock()
	return orders, nil
}

// History returns the orders known locally, newest first.
func (c *Coordinator) History() []models.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Order(nil), c.history...)
}

func (c *Coordinator) ClearHistory() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}

// Run clears the history whenever the session ends.
func (c *Coordinator) Run(ctx context.Context) {
	if c.bus == nil {
		return
	}
	sub, unsubscribe := c.bus.Subscribe(8)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Topic == events.LoggedOut || ev.Topic == events.SessionExpired {
				c.ClearHistory()
			}
		}
	}
}

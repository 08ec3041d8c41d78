package cartsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stopshop/cartstate"
	"stopshop/events"
	"stopshop/tokenstore"
	"stopshop/transport"

	"go.uber.org/zap"
)

// ShippingFee is the flat fee applied to every order.
func (s *Synchronizer) ShippingFee() int64 { return s.fee }

// AddItem adds quantity of a product variant. The line's stock ceiling is
// the lower of any ceiling already known and snapshot.MaxQuantity. Adding
// to a line already at its ceiling makes no network call.
func (s *Synchronizer) AddItem(ctx context.Context, productID, variantKey string, quantity int, snapshot cartstate.Snapshot) error {
	const op = "add line"
	if productID == "" || quantity < 1 {
		return transport.NewError(op, transport.KindValidation, "product and a positive quantity are required")
	}
	if err := s.guard(ctx, op); err != nil {
		return err
	}

	key := cartstate.LineKey(productID, variantKey)
	s.mu.Lock()
	if snapshot.MaxQuantity < 1 {
		snapshot.MaxQuantity = cartstate.DefaultMaxQuantity
	}
	if c, ok := s.ceilings[key]; !ok || snapshot.MaxQuantity < c {
		s.ceilings[key] = snapshot.MaxQuantity
	}
	add := cartstate.AddOrIncrement{ProductID: productID, VariantKey: variantKey, Quantity: quantity, Snapshot: snapshot}
	prev, _ := s.state.FindByKey(productID, variantKey)
	preview := cartstate.Reduce(s.state, add)
	next, _ := preview.FindByKey(productID, variantKey)
	delta := next.Quantity - prev.Quantity
	if delta == 0 {
		// Only the ceiling changed; the quantity the server holds still fits.
		s.dispatchLocked(add)
	}
	s.mu.Unlock()

	full := transport.NewError(op, transport.KindValidation,
		fmt.Sprintf("only %d of %q available", next.MaxQuantity, snapshot.DisplayName))
	if delta < 0 {
		// The line holds more than the new ceiling allows: bring the
		// server line down to it like any other quantity change.
		ceiling := next.MaxQuantity
		err := s.mutate(ctx, "update quantity", cartstate.SetQuantity{Ref: prev.Ref(), Quantity: ceiling}, func(ctx context.Context) error {
			if prev.RemoteLineID == "" {
				return nil
			}
			return s.remote.UpdateQuantity(ctx, prev.RemoteLineID, ceiling)
		})
		if err != nil {
			return err
		}
		return full
	}
	if delta == 0 {
		return full
	}

	return s.mutate(ctx, op, add, func(ctx context.Context) error {
		_, err := s.remote.AddLine(ctx, transport.AddLineRequest{
			ProductID:  productID,
			VariantKey: variantKey,
			Quantity:   delta,
			Price:      snapshot.UnitPrice,
			Name:       snapshot.DisplayName,
			Image:      snapshot.ImageURL,
		})
		return err
	})
}

// lookup returns the synced line named by ref.
func (s *Synchronizer) lookup(op, ref string) (cartstate.Line, error) {
	s.mu.Lock()
	line, ok := s.state.Find(ref)
	s.mu.Unlock()
	if !ok {
		return line, transport.NewError(op, transport.KindNotFound, "no such line in cart")
	}
	if line.RemoteLineID == "" {
		return line, transport.NewError(op, transport.KindValidation, "line is not saved yet")
	}
	return line, nil
}

// Increase adds one to a line. At the stock ceiling it returns a
// validation error without calling the server.
func (s *Synchronizer) Increase(ctx context.Context, ref string) error {
	line, err := s.lookup("update quantity", ref)
	if err != nil {
		return err
	}
	if line.Quantity+1 > line.MaxQuantity {
		return transport.NewError("update quantity", transport.KindValidation,
			fmt.Sprintf("only %d of %q available", line.MaxQuantity, line.DisplayName))
	}
	return s.SetQuantity(ctx, ref, line.Quantity+1)
}

// Decrease removes one from a line. At quantity 1 it does nothing; removal
// is the only way to drop a line.
func (s *Synchronizer) Decrease(ctx context.Context, ref string) error {
	line, err := s.lookup("update quantity", ref)
	if err != nil {
		return err
	}
	if line.Quantity <= 1 {
		return nil
	}
	return s.SetQuantity(ctx, ref, line.Quantity-1)
}

// SetQuantity sets a line to quantity clamped to [1, max]. Setting the
// current quantity makes no call.
func (s *Synchronizer) SetQuantity(ctx context.Context, ref string, quantity int) error {
	const op = "update quantity"
	line, err := s.lookup(op, ref)
	if err != nil {
		return err
	}
	target := quantity
	if target < 1 {
		target = 1
	}
	if target > line.MaxQuantity {
		target = line.MaxQuantity
	}
	if target == line.Quantity {
		return nil
	}
	return s.mutate(ctx, op, cartstate.SetQuantity{Ref: line.RemoteLineID, Quantity: target}, func(ctx context.Context) error {
		return s.remote.UpdateQuantity(ctx, line.RemoteLineID, target)
	})
}

// Remove drops a line. Removing a line that is already gone is not an error.
func (s *Synchronizer) Remove(ctx context.Context, ref string) error {
	const op = "remove line"
	s.mu.Lock()
	line, ok := s.state.Find(ref)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if line.RemoteLineID == "" {
		// Never reached the server; the refetch settles what it holds.
		return s.mutate(ctx, op, cartstate.RemoveLine{Ref: line.Ref()}, func(context.Context) error { return nil })
	}
	return s.mutate(ctx, op, cartstate.RemoveLine{Ref: line.RemoteLineID}, func(ctx context.Context) error {
		return s.remote.RemoveLine(ctx, line.RemoteLineID)
	})
}

// Clear empties the cart on the server and locally.
func (s *Synchronizer) Clear(ctx context.Context) error {
	return s.mutate(ctx, "clear cart", cartstate.ClearAll{}, s.remote.ClearAll)
}

// refreshIfViewing refetches when the cart view is active and a valid token
// is present. It reports whether a fetch was made.
func (s *Synchronizer) refreshIfViewing(ctx context.Context) (bool, error) {
	s.mu.Lock()
	viewing := s.cartView
	s.mu.Unlock()
	if !viewing {
		return false, nil
	}
	if _, err := s.tokens.ValidToken(ctx); err != nil {
		if errors.Is(err, tokenstore.ErrTokenExpired) {
			return false, s.forceLogout(ctx, "fetch cart")
		}
		return false, nil
	}
	return true, s.Refresh(ctx)
}

// HandleVisibility refetches when the app becomes visible again.
func (s *Synchronizer) HandleVisibility(ctx context.Context, visible bool) (bool, error) {
	if !visible {
		return false, nil
	}
	return s.refreshIfViewing(ctx)
}

// HandleFocus refetches when the window regains focus.
func (s *Synchronizer) HandleFocus(ctx context.Context) (bool, error) {
	return s.refreshIfViewing(ctx)
}

// SweepTokens checks the stored token. An expired token forces logout and
// a token removed elsewhere ends the session. It reports whether the
// session ended.
func (s *Synchronizer) SweepTokens(ctx context.Context) bool {
	s.mu.Lock()
	authed := s.authed
	s.mu.Unlock()
	if !authed {
		return false
	}

	_, err := s.tokens.ValidToken(ctx)
	switch {
	case err == nil:
		return false
	case errors.Is(err, tokenstore.ErrTokenExpired):
		s.forceLogout(ctx, "token sweep")
	default:
		s.HandleLogout()
		s.publish(events.LoggedOut)
	}
	return true
}

// RunTokenSweeper calls SweepTokens on every tick until ctx ends.
func (s *Synchronizer) RunTokenSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.SweepTokens(ctx) {
				s.log.Info("token sweep ended session")
			}
		}
	}
}

// Run reacts to bus events until ctx ends: login and logout transitions,
// visibility and focus changes, and cart changes made elsewhere. It also
// runs the token sweeper.
func (s *Synchronizer) Run(ctx context.Context, bus *events.Bus) {
	sub, unsubscribe := bus.Subscribe(32)
	defer unsubscribe()

	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunTokenSweeper(ctx)
	}()

	// Fetches run concurrently; the stale-response checks keep them safe.
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				s.log.Debug("triggered refetch failed", zap.String("trigger", name), zap.Error(err))
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Source == s.id {
				continue
			}
			switch ev.Topic {
			case events.LoggedIn:
				spawn("login", func() error { return s.HandleLogin(ctx) })
			case events.LoggedOut:
				s.HandleLogout()
			case events.CartUpdated:
				if s.Authenticated() {
					spawn("cart updated", func() error { return s.Refresh(ctx) })
				}
			case events.VisibilityChanged:
				visible := ev.Visible
				spawn("visibility", func() error { _, err := s.HandleVisibility(ctx, visible); return err })
			case events.FocusGained:
				spawn("focus", func() error { _, err := s.HandleFocus(ctx); return err })
			}
		}
	}
}

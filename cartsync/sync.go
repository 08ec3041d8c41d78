// Package cartsync keeps the local cart consistent with the server cart.
//
// Every mutation is applied optimistically through the reducer, sent to the
// server, and then re-derived from a full refetch whether the call succeeded
// or not. Fetch results are discarded when the session changed while they
// were in flight or when a newer fetch has already been applied.
package cartsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"stopshop/cartstate"
	"stopshop/events"
	"stopshop/models"
	"stopshop/tokenstore"
	"stopshop/transport"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the token sweeper checks expiry.
const DefaultSweepInterval = 30 * time.Second

// Remote is the cart service as seen by the synchronizer.
type Remote interface {
	FetchCart(ctx context.Context) ([]models.CartItem, error)
	AddLine(ctx context.Context, in transport.AddLineRequest) (string, error)
	UpdateQuantity(ctx context.Context, remoteLineID string, quantity int) error
	RemoveLine(ctx context.Context, remoteLineID string) error
	ClearAll(ctx context.Context) error
}

// Tokens is the part of the token store the synchronizer needs.
type Tokens interface {
	ValidToken(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

type Config struct {
	ShippingFee   int64
	SweepInterval time.Duration
	Bus           *events.Bus
	Logger        *zap.Logger
}

// Synchronizer owns the CartState for one session. All methods are safe
// for concurrent use; remote calls run without holding the lock.
type Synchronizer struct {
	remote Remote
	tokens Tokens
	bus    *events.Bus
	log    *zap.Logger
	id     string

	fee           int64
	sweepInterval time.Duration

	mu         sync.Mutex
	state      cartstate.State
	authed     bool
	epoch      uint64
	fetchSeq   uint64
	appliedSeq uint64
	inflight   int
	cartView   bool
	ceilings   map[string]int
	subs       map[int]chan cartstate.State
	nextSub    int
}

func New(remote Remote, tokens Tokens, cfg Config) *Synchronizer {
	if cfg.ShippingFee < 0 {
		cfg.ShippingFee = 0
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Synchronizer{
		remote:        remote,
		tokens:        tokens,
		bus:           cfg.Bus,
		log:           cfg.Logger,
		id:            "cartsync:" + uuid.NewString(),
		fee:           cfg.ShippingFee,
		sweepInterval: cfg.SweepInterval,
		state:         cartstate.Empty(cfg.ShippingFee),
		ceilings:      make(map[string]int),
		subs:          make(map[int]chan cartstate.State),
	}
}

// State returns a snapshot of the current cart.
func (s *Synchronizer) State() cartstate.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Authenticated reports whether the synchronizer believes a session is active.
func (s *Synchronizer) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

// Subscribe delivers the latest state after every change. Slow readers only
// see the most recent state.
func (s *Synchronizer) Subscribe() (<-chan cartstate.State, func()) {
	ch := make(chan cartstate.State, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.state.Clone()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// DismissError clears the inline error message.
func (s *Synchronizer) DismissError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchLocked(cartstate.SetError{})
}

// SetCartViewActive records whether the cart view is on screen. Visibility
// and focus only trigger refetches while it is.
func (s *Synchronizer) SetCartViewActive(active bool) {
	s.mu.Lock()
	s.cartView = active
	s.mu.Unlock()
}

func (s *Synchronizer) dispatchLocked(a cartstate.Action) {
	s.state = cartstate.Reduce(s.state, a)
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s.state.Clone()
	}
}

func (s *Synchronizer) publish(topic events.Topic) {
	if s.bus != nil {
		s.bus.Publish(events.Event{Topic: topic, Source: s.id})
	}
}

// resetLocked drops the session's cart. Any fetch in flight becomes stale.
func (s *Synchronizer) resetLocked() {
	s.authed = false
	s.epoch++
	s.ceilings = make(map[string]int)
	s.dispatchLocked(cartstate.ReplaceAllFromRemote{Lines: nil})
	s.dispatchLocked(cartstate.SetError{})
}

// Mount performs the initial load: fetch when a valid token is present,
// otherwise make sure the cart is empty.
func (s *Synchronizer) Mount(ctx context.Context) error {
	_, err := s.tokens.ValidToken(ctx)
	switch {
	case err == nil:
		s.mu.Lock()
		s.authed = true
		s.mu.Unlock()
		return s.Refresh(ctx)
	case errors.Is(err, tokenstore.ErrTokenExpired):
		return s.forceLogout(ctx, "mount")
	default:
		s.mu.Lock()
		s.resetLocked()
		s.mu.Unlock()
		return nil
	}
}

// HandleLogin starts a fresh session: empty cart, then a full fetch.
func (s *Synchronizer) HandleLogin(ctx context.Context) error {
	s.mu.Lock()
	s.resetLocked()
	s.authed = true
	s.mu.Unlock()
	s.log.Info("login detected, fetching cart")
	return s.Refresh(ctx)
}

// HandleLogout empties the cart immediately. No fetch is made and any fetch
// still in flight is discarded when it lands.
func (s *Synchronizer) HandleLogout() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.log.Info("logout detected, cart cleared")
}

// forceLogout purges credentials and empties the cart after the session
// was found expired or rejected.
func (s *Synchronizer) forceLogout(ctx context.Context, op string) error {
	if err := s.tokens.Clear(ctx); err != nil {
		s.log.Warn("token purge failed", zap.Error(err))
	}
	authErr := transport.NewError(op, transport.KindAuthExpired, "session expired")

	s.mu.Lock()
	s.resetLocked()
	s.dispatchLocked(cartstate.SetError{Message: transport.UserMessage(authErr)})
	s.mu.Unlock()

	s.log.Warn("session expired, forced logout", zap.String("op", op))
	s.publish(events.SessionExpired)
	s.publish(events.LoggedOut)
	return authErr
}

// guard runs before every remote call. A missing token resets the cart, an
// expired one forces logout.
func (s *Synchronizer) guard(ctx context.Context, op string) error {
	_, err := s.tokens.ValidToken(ctx)
	if err == nil {
		s.mu.Lock()
		s.authed = true
		s.mu.Unlock()
		return nil
	}
	if errors.Is(err, tokenstore.ErrTokenExpired) {
		return s.forceLogout(ctx, op)
	}
	s.mu.Lock()
	if s.authed {
		s.resetLocked()
	}
	s.mu.Unlock()
	return transport.NewError(op, transport.KindUnauthenticated, "not logged in")
}

// handleAuthFailure applies the logout policy for err and reports whether
// it did.
func (s *Synchronizer) handleAuthFailure(ctx context.Context, op string, err error) bool {
	switch transport.KindOf(err) {
	case transport.KindAuthExpired:
		s.forceLogout(ctx, op)
		return true
	case transport.KindUnauthenticated:
		s.mu.Lock()
		s.resetLocked()
		s.mu.Unlock()
		return true
	}
	return false
}

// Refresh fetches the server cart and replaces local lines with it.
// Overlapping refreshes are allowed; the newest applied result wins.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	if err := s.guard(ctx, "fetch cart"); err != nil {
		return err
	}

	s.mu.Lock()
	epoch := s.epoch
	s.fetchSeq++
	seq := s.fetchSeq
	s.inflight++
	s.dispatchLocked(cartstate.SetSyncing{Syncing: true})
	s.mu.Unlock()

	items, err := s.remote.FetchCart(ctx)

	s.mu.Lock()
	s.inflight--
	s.dispatchLocked(cartstate.SetSyncing{Syncing: s.inflight > 0})
	current := epoch == s.epoch && s.authed && seq > s.appliedSeq
	if err == nil && current {
		s.appliedSeq = seq
		s.dispatchLocked(cartstate.ReplaceAllFromRemote{Lines: s.linesLocked(items)})
	}
	s.mu.Unlock()

	if err != nil {
		if s.handleAuthFailure(ctx, "fetch cart", err) {
			return err
		}
		if current {
			s.setError(epoch, err)
		}
		s.log.Warn("cart fetch failed", zap.Error(err))
		return err
	}
	if !current {
		s.log.Debug("discarded stale cart fetch", zap.Uint64("seq", seq))
	}
	return nil
}

// linesLocked converts server items into local lines, restoring the stock
// ceiling captured when each product was added.
func (s *Synchronizer) linesLocked(items []models.CartItem) []cartstate.Line {
	lines := make([]cartstate.Line, 0, len(items))
	for _, it := range items {
		l := cartstate.Line{
			ProductID:    it.ProductID.String(),
			VariantKey:   it.Color,
			DisplayName:  it.ProductName,
			ImageURL:     it.ProductImage,
			UnitPrice:    it.Price,
			Quantity:     it.Quantity,
			MaxQuantity:  cartstate.DefaultMaxQuantity,
			RemoteLineID: it.ID.String(),
		}
		if ceiling, ok := s.ceilings[l.Key()]; ok {
			l.MaxQuantity = ceiling
		}
		lines = append(lines, l)
	}
	return lines
}

func (s *Synchronizer) setError(epoch uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	s.dispatchLocked(cartstate.SetError{Message: transport.UserMessage(err)})
}

// mutate is the optimistic update cycle shared by every cart operation:
// apply locally, call the server, then re-derive from a refetch.
func (s *Synchronizer) mutate(ctx context.Context, op string, optimistic cartstate.Action, call func(context.Context) error) error {
	if err := s.guard(ctx, op); err != nil {
		return err
	}

	s.mu.Lock()
	epoch := s.epoch
	applied := s.appliedSeq
	before := s.state.Clone()
	s.dispatchLocked(cartstate.SetError{})
	if optimistic != nil {
		s.dispatchLocked(optimistic)
	}
	s.mu.Unlock()

	callErr := call(ctx)
	if callErr != nil && s.handleAuthFailure(ctx, op, callErr) {
		return callErr
	}

	fetchErr := s.Refresh(ctx)
	if transport.IsAuth(fetchErr) {
		return fetchErr
	}

	if callErr != nil {
		if fetchErr != nil {
			s.rollback(epoch, applied, before)
		}
		s.setError(epoch, callErr)
		s.log.Warn("cart mutation failed, rolled back", zap.String("op", op), zap.Error(callErr))
		return callErr
	}

	if fetchErr == nil {
		s.publish(events.CartUpdated)
	}
	return nil
}

// rollback restores the pre-mutation lines when the server view could not
// be fetched. A fetch applied since then takes precedence.
func (s *Synchronizer) rollback(epoch, applied uint64, before cartstate.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || !s.authed || s.appliedSeq != applied {
		return
	}
	s.dispatchLocked(cartstate.ReplaceAllFromRemote{Lines: before.Lines})
}

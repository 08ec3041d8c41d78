package cartsync

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stopshop/cartstate"
	"stopshop/events"
	"stopshop/models"
	"stopshop/tokenstore"
	"stopshop/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote keeps a server cart in memory. Hooks replace individual calls.
type fakeRemote struct {
	mu     sync.Mutex
	items  []models.CartItem
	nextID int
	calls  int32

	fetchFn  func(ctx context.Context) ([]models.CartItem, error)
	addFn    func(ctx context.Context, in transport.AddLineRequest) (string, error)
	updateFn func(ctx context.Context, id string, q int) error
	removeFn func(ctx context.Context, id string) error
	clearFn  func(ctx context.Context) error
}

func (f *fakeRemote) seed(items ...models.CartItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, items...)
	f.nextID += len(items)
}

func (f *fakeRemote) snapshot() []models.CartItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CartItem{}, f.items...)
}

func (f *fakeRemote) FetchCart(ctx context.Context) ([]models.CartItem, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fetchFn != nil {
		return f.fetchFn(ctx)
	}
	return f.snapshot(), nil
}

func (f *fakeRemote) AddLine(ctx context.Context, in transport.AddLineRequest) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.addFn != nil {
		return f.addFn(ctx, in)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, it := range f.items {
		if it.ProductID.String() == in.ProductID && it.Color == in.VariantKey {
			f.items[i].Quantity += in.Quantity
			return it.ID.String(), nil
		}
	}
	f.nextID++
	id := strconv.Itoa(f.nextID)
	f.items = append(f.items, models.CartItem{
		ID: models.FlexID(id), ProductID: models.FlexID(in.ProductID), ProductName: in.Name,
		ProductImage: in.Image, Color: in.VariantKey, Price: in.Price, Quantity: in.Quantity,
	})
	return id, nil
}

func (f *fakeRemote) UpdateQuantity(ctx context.Context, id string, q int) error {
	atomic.AddInt32(&f.calls, 1)
	if f.updateFn != nil {
		return f.updateFn(ctx, id, q)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID.String() == id {
			f.items[i].Quantity = q
			return nil
		}
	}
	return transport.NewError("update quantity", transport.KindNotFound, "not found")
}

func (f *fakeRemote) RemoveLine(ctx context.Context, id string) error {
	atomic.AddInt32(&f.calls, 1)
	if f.removeFn != nil {
		return f.removeFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID.String() == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeRemote) ClearAll(ctx context.Context) error {
	atomic.AddInt32(&f.calls, 1)
	if f.clearFn != nil {
		return f.clearFn(ctx)
	}
	f.mu.Lock()
	f.items = nil
	f.mu.Unlock()
	return nil
}

func (f *fakeRemote) callCount() int32 { return atomic.LoadInt32(&f.calls) }

type fakeTokens struct {
	mu      sync.Mutex
	token   string
	err     error
	cleared int
}

func (f *fakeTokens) ValidToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.token == "" {
		return "", tokenstore.ErrNoToken
	}
	return f.token, nil
}

func (f *fakeTokens) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token, f.err = "", nil
	f.cleared++
	return nil
}

func (f *fakeTokens) set(token string, err error) {
	f.mu.Lock()
	f.token, f.err = token, err
	f.mu.Unlock()
}

func (f *fakeTokens) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleared
}

func shirt(id string, q int) models.CartItem {
	return models.CartItem{ID: models.FlexID(id), ProductID: "P1", ProductName: "Shirt", Color: "red", Price: 500, Quantity: q}
}

func setup(t *testing.T) (*Synchronizer, *fakeRemote, *fakeTokens, *events.Bus) {
	t.Helper()
	remote := &fakeRemote{}
	tokens := &fakeTokens{token: "tok"}
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	s := New(remote, tokens, Config{ShippingFee: 500, SweepInterval: 10 * time.Millisecond, Bus: bus})
	return s, remote, tokens, bus
}

func TestMount_LoadsServerCart(t *testing.T) {
	s, remote, _, _ := setup(t)
	remote.seed(shirt("1", 2))

	require.NoError(t, s.Mount(context.Background()))
	st := s.State()
	require.Len(t, st.Lines, 1)
	assert.Equal(t, "1", st.Lines[0].RemoteLineID)
	assert.Equal(t, 2, st.TotalQuantity)
	assert.Equal(t, int64(1000), st.TotalAmount)
	assert.False(t, st.IsSyncing)
	assert.True(t, s.Authenticated())
}

func TestMount_NoTokenStaysEmptyWithoutNetwork(t *testing.T) {
	s, remote, tokens, _ := setup(t)
	tokens.set("", nil)
	remote.seed(shirt("1", 2))

	require.NoError(t, s.Mount(context.Background()))
	assert.Empty(t, s.State().Lines)
	assert.Zero(t, remote.callCount())
}

func TestMount_ExpiredTokenForcesLogout(t *testing.T) {
	s, remote, tokens, _ := setup(t)
	tokens.set("tok", tokenstore.ErrTokenExpired)

	err := s.Mount(context.Background())
	assert.True(t, transport.IsKind(err, transport.KindAuthExpired))
	assert.Equal(t, 1, tokens.clearCount())
	assert.Zero(t, remote.callCount())
	assert.Contains(t, s.State().LastError, "session has expired")
}

func TestLogoutClearsCart(t *testing.T) {
	s, remote, _, _ := setup(t)
	remote.seed(shirt("1", 2))
	require.NoError(t, s.Mount(context.Background()))
	before := remote.callCount()

	s.HandleLogout()

	st := s.State()
	assert.Empty(t, st.Lines)
	assert.Zero(t, st.TotalQuantity)
	assert.Zero(t, st.TotalAmount)
	assert.False(t, s.Authenticated())
	assert.Equal(t, before, remote.callCount(), "logout must not fetch")
}

func TestFailedUpdateRollsBackToServerState(t *testing.T) {
	s, remote, _, _ := setup(t)
	remote.seed(shirt("1", 2))
	require.NoError(t, s.Mount(context.Background()))

	var during cartstate.State
	remote.updateFn = func(context.Context, string, int) error {
		during = s.State()
		return &transport.Error{Kind: transport.KindServer, Op: "update quantity", Status: 500}
	}

	err := s.Increase(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, transport.IsKind(err, transport.KindServer))

	require.Len(t, during.Lines, 1)
	assert.Equal(t, 3, during.Lines[0].Quantity)
	assert.Equal(t, int64(1500), during.TotalAmount)

	st := s.State()
	require.Len(t, st.Lines, 1)
	assert.Equal(t, 2, st.Lines[0].Quantity)
	assert.Equal(t, int64(1000), st.TotalAmount)
	assert.Equal(t, "Something went wrong. Please try again.", st.LastError)

	s.DismissError()
	assert.Empty(t, s.State().LastError)
}

func TestFailedUpdateWithFailedRefetchRestoresPreviousLines(t *testing.T) {
	s, remote, _, _ := setup(t)
	remote.seed(shirt("1", 2))
	require.NoError(t, s.Mount(context.Background()))

	down := transport.NewError("fetch cart", transport.KindNetwork, "unreachable")
	remote.updateFn = func(context.Context, string, int) error { return down }
	remote.fetchFn = func(context.Context) ([]models.CartItem, error) { return nil, down }

	require.Error(t, s.SetQuantity(context.Background(), "1", 5))
	st := s.State()
	require.Len(t, st.Lines, 1)
	assert.Equal(t, 2, st.Lines[0].Quantity)
	assert.Contains(t, st.LastError, "Network error")
}

func TestSuccessfulMutationPublishesCartUpdated(t *testing.T) {
	s, remote, _, bus := setup(t)
	remote.seed(shirt("1", 2))
	require.NoError(t, s.Mount(context.Background()))
	sub, unsub := bus.Subscribe(4)
	defer unsub()

	require.NoError(t, s.Decrease(context.Background(), "1"))
	assert.Equal(t, 1, s.State().Lines[0].Quantity)

	select {
	case ev := <-sub:
		assert.Equal(t, events.CartUpdated, ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("no cart update published")
	}
}

func TestStaleFetchAfterLogoutIsDiscarded(t *testing.T) {
	s, remote, _, _ := setup(t)
	started := make(chan struct{})
	release := make(chan struct{})
	remote.fetchFn = func(context.Context) ([]models.CartItem, error) {
		close(started)
		<-release
		return []models.CartItem{shirt("1", 4)}, nil
	}

	done := make(chan error, 1)
	go func() { done <- s.Mount(context.Background()) }()
	<-started
	s.HandleLogout()
	close(release)

	require.NoError(t, <-done)
	st := s.State()
	assert.Empty(t, st.Lines)
	assert.Zero(t, st.TotalQuantity)
	assert.False(t, st.IsSyncing)
}

func TestOlderFetchDoesNotOverwriteNewer(t *testing.T) {
	s, remote, _, _ := setup(t)
	require.NoError(t, s.Mount(context.Background()))

	slowStarted := make(chan struct{})
	release := make(chan struct{})
	var n int32
	remote.fetchFn = func(context.Context) ([]models.CartItem, error) {
		if atomic.AddInt32(&n, 1) == 1 {
			close(slowStarted)
			<-release
			return []models.CartItem{shirt("1", 1)}, nil
		}
		return []models.CartItem{shirt("1", 7)}, nil
	}

	done := make(chan error, 1)
	go func() { done <- s.Refresh(context.Background()) }()
	<-slowStarted
	require.NoError(t, s.Refresh(context.Background()))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, 7, s.State().Lines[0].Quantity)
}

func TestUnauthorizedForcesLogout(t *testing.T) {
	s, remote, tokens, bus := setup(t)
	remote.seed(shirt("1", 2))
	require.NoError(t, s.Mount(context.Background()))
	sub, unsub := bus.Subscribe(4)
	defer unsub()

	remote.removeFn = func(context.Context, string) error {
		return &transport.Error{Kind: transport.KindAuthExpired, Op: "remove line", Status: 401}
	}
	err := s.Remove(context.Background(), "1")
	assert.True(t, transport.IsAuth(err))

	st := s.State()
	assert.Empty(t, st.Lines)
	assert.Equal(t, "Your session has expired. Please log in again.", st.LastError)
	assert.Equal(t, 1, tokens.clearCount())
	assert.False(t, s.Authenticated())

	var topics []events.Topic
	for len(topics) < 2 {
		select {
		case ev := <-sub:
			topics = append(topics, ev.Topic)
		case <-time.After(time.Second):
			t.Fatal("missing logout events")
		}
	}
	assert.Equal(t, []events.Topic{events.SessionExpired, events.LoggedOut}, topics)
}

func TestForbiddenKeepsSession(t *testing.T) {
	s, remote, tokens, _ := setup(t)
	remote.seed(shirt("1", 2))
	require.NoError(t, s.Mount(context.Background()))

	remote.clearFn = func(context.Context) error {
		return &transport.Error{Kind: transport.KindForbidden, Op: "clear cart", Status: 403}
	}
	err := s.Clear(context.Background())
	assert.True(t, transport.IsKind(err, transport.KindForbidden))

	st := s.State()
	require.Len(t, st.Lines, 1, "refetch restores server cart")
	assert.Equal(t, "Access denied. Please check your permissions.", st.LastError)
	assert.True(t, s.Authenticated())
	assert.Zero(t, tokens.clearCount())
}

func TestGuardBlocksMutationsWithoutToken(t *testing.T) {
	s, remote, tokens, _ := setup(t)
	tokens.set("", nil)
	ctx := context.Background()

	err := s.AddItem(ctx, "P1", "red", 1, cartstate.Snapshot{DisplayName: "Shirt", UnitPrice: 500})
	assert.True(t, transport.IsKind(err, transport.KindUnauthenticated))
	assert.True(t, transport.IsKind(s.Clear(ctx), transport.KindUnauthenticated))
	assert.True(t, transport.IsKind(s.Refresh(ctx), transport.KindUnauthenticated))
	assert.Zero(t, remote.callCount())
	assert.Empty(t, s.State().Lines)
}

func TestAddItem_MergesAndSendsDelta(t *testing.T) {
	s, remote, _, _ := setup(t)
	remote.seed(shirt("1", 2))
	require.NoError(t, s.Mount(context.Background()))

	var sent transport.AddLineRequest
	remote.addFn = func(_ context.Context, in transport.AddLineRequest) (string, error) {
		sent = in
		remote.mu.Lock()
		remote.items[0].Quantity += in.Quantity
		remote.mu.Unlock()
		return "1", nil
	}

	snap := cartstate.Snapshot{DisplayName: "Shirt", UnitPrice: 500, MaxQuantity: 5}
	require.NoError(t, s.AddItem(context.Background(), "P1", "red", 5, snap))
	assert.Equal(t, 3, sent.Quantity)
	assert.Equal(t, "red", sent.VariantKey)

	st := s.State()
	require.Len(t, st.Lines, 1)
	assert.Equal(t, 5, st.Lines[0].Quantity)
	assert.Equal(t, 5, st.Lines[0].MaxQuantity, "ceiling survives refetch")
}

func TestAddItem_AtCeilingMakesNoCall(t *testing.T) {
	s, remote, _, _ := setup(t)
	remote.seed(shirt("1", 3))
	require.NoError(t, s.Mount(context.Background()))
	before := remote.callCount()

	err := s.AddItem(context.Background(), "P1", "red", 1, cartstate.Snapshot{DisplayName: "Shirt", UnitPrice: 500, MaxQuantity: 3})
	assert.True(t, transport.IsKind(err, transport.KindValidation))
	assert.Equal(t, before, remote.callCount())

	err = s.Increase(context.Background(), "1")
	assert.True(t, transport.IsKind(err, transport.KindValidation))
	assert.Equal(t, before, remote.callCount())
}

func TestAddItem_LowerCeilingReachesServer(t *testing.T) {
	s, remote, _, _ := setup(t)
	remote.seed(shirt("1", 5))
	require.NoError(t, s.Mount(context.Background()))

	var updates []int
	remote.updateFn = func(_ context.Context, id string, q int) error {
		updates = append(updates, q)
		remote.mu.Lock()
		remote.items[0].Quantity = q
		remote.mu.Unlock()
		return nil
	}

	err := s.AddItem(context.Background(), "P1", "red", 1, cartstate.Snapshot{DisplayName: "Shirt", UnitPrice: 500, MaxQuantity: 3})
	assert.True(t, transport.IsKind(err, transport.KindValidation))
	assert.Equal(t, []int{3}, updates)
	assert.Equal(t, 3, remote.snapshot()[0].Quantity)

	st := s.State()
	require.Len(t, st.Lines, 1)
	assert.Equal(t, 3, st.Lines[0].Quantity)
	assert.Equal(t, 3, st.Lines[0].MaxQuantity)
	assert.Equal(t, int64(1500), st.TotalAmount)

	// The ceiling survives later refetches.
	require.NoError(t, s.Refresh(context.Background()))
	st = s.State()
	assert.Equal(t, 3, st.Lines[0].Quantity)
	assert.Equal(t, 3, st.Lines[0].MaxQuantity)
}

func TestAddItem_LowerCeilingFailureKeepsServerQuantity(t *testing.T) {
	s, remote, _, _ := setup(t)
	remote.seed(shirt("1", 5))
	require.NoError(t, s.Mount(context.Background()))
	remote.updateFn = func(context.Context, string, int) error {
		return transport.NewError("update quantity", transport.KindServer, "boom")
	}

	err := s.AddItem(context.Background(), "P1", "red", 1, cartstate.Snapshot{DisplayName: "Shirt", UnitPrice: 500, MaxQuantity: 3})
	assert.True(t, transport.IsKind(err, transport.KindServer))

	st := s.State()
	require.Len(t, st.Lines, 1)
	assert.Equal(t, 5, st.Lines[0].Quantity, "local cart matches the server")
	assert.Equal(t, int64(2500), st.TotalAmount)
	assert.NotEmpty(t, st.LastError)
}

func TestAddItem_NewVariantIsSeparateLine(t *testing.T) {
	s, remote, _, _ := setup(t)
	remote.seed(shirt("1", 1))
	require.NoError(t, s.Mount(context.Background()))

	require.NoError(t, s.AddItem(context.Background(), "P1", "blue", 2, cartstate.Snapshot{DisplayName: "Shirt", UnitPrice: 500}))
	st := s.State()
	require.Len(t, st.Lines, 2)
	assert.Equal(t, 3, st.TotalQuantity)
	assert.Equal(t, int64(1500), st.TotalAmount)
}

func TestDecreaseAtOneIsNoop(t *testing.T) {
	s, remote, _, _ := setup(t)
	remote.seed(shirt("1", 1))
	require.NoError(t, s.Mount(context.Background()))
	before := remote.callCount()

	require.NoError(t, s.Decrease(context.Background(), "1"))
	require.NoError(t, s.SetQuantity(context.Background(), "1", 0))
	assert.Equal(t, 1, s.State().Lines[0].Quantity)
	assert.Equal(t, before, remote.callCount())
}

func TestRemoveAbsentLineIsNoop(t *testing.T) {
	s, remote, _, _ := setup(t)
	require.NoError(t, s.Mount(context.Background()))
	before := remote.callCount()
	require.NoError(t, s.Remove(context.Background(), "missing"))
	assert.Equal(t, before, remote.callCount())
}

func TestClearEmptiesCart(t *testing.T) {
	s, remote, _, _ := setup(t)
	remote.seed(shirt("1", 2), models.CartItem{ID: "2", ProductID: "P2", ProductName: "Hat", Price: 250, Quantity: 1})
	require.NoError(t, s.Mount(context.Background()))
	require.Len(t, s.State().Lines, 2)

	require.NoError(t, s.Clear(context.Background()))
	assert.Empty(t, s.State().Lines)
	assert.Empty(t, remote.snapshot())
}

func TestVisibilityAndFocusOnlyRefetchOnCartView(t *testing.T) {
	s, remote, tokens, _ := setup(t)
	require.NoError(t, s.Mount(context.Background()))
	ctx := context.Background()

	fetched, err := s.HandleVisibility(ctx, true)
	require.NoError(t, err)
	assert.False(t, fetched, "cart view not active")

	s.SetCartViewActive(true)
	fetched, _ = s.HandleVisibility(ctx, false)
	assert.False(t, fetched, "hidden")

	remote.seed(shirt("1", 2))
	fetched, err = s.HandleFocus(ctx)
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.Len(t, s.State().Lines, 1)

	tokens.set("", nil)
	fetched, err = s.HandleVisibility(ctx, true)
	require.NoError(t, err)
	assert.False(t, fetched, "no token")
}

func TestSweepTokens(t *testing.T) {
	s, remote, tokens, _ := setup(t)
	remote.seed(shirt("1", 2))
	require.NoError(t, s.Mount(context.Background()))

	assert.False(t, s.SweepTokens(context.Background()))

	tokens.set("tok", tokenstore.ErrTokenExpired)
	assert.True(t, s.SweepTokens(context.Background()))
	assert.Empty(t, s.State().Lines)
	assert.Equal(t, 1, tokens.clearCount())

	assert.False(t, s.SweepTokens(context.Background()), "already logged out")
}

func TestRunReactsToSessionEvents(t *testing.T) {
	s, remote, tokens, bus := setup(t)
	remote.seed(shirt("1", 2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		s.Run(ctx, bus)
		close(stopped)
	}()

	// The bus drops events until Run has subscribed.
	require.Eventually(t, func() bool {
		bus.Publish(events.Event{Topic: events.LoggedIn, Source: "test"})
		return len(s.State().Lines) == 1
	}, time.Second, 20*time.Millisecond)

	bus.Publish(events.Event{Topic: events.LoggedOut, Source: "test"})
	require.Eventually(t, func() bool { return len(s.State().Lines) == 0 }, time.Second, 10*time.Millisecond)

	tokens.set("tok", nil)
	require.NoError(t, s.HandleLogin(ctx))
	tokens.set("tok", tokenstore.ErrTokenExpired)
	require.Eventually(t, func() bool { return !s.Authenticated() }, time.Second, 10*time.Millisecond, "sweeper logs out")

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestSubscribeReceivesLatestState(t *testing.T) {
	s, remote, _, _ := setup(t)
	remote.seed(shirt("1", 2))
	ch, unsub := s.Subscribe()
	defer unsub()

	assert.Empty(t, (<-ch).Lines)
	require.NoError(t, s.Mount(context.Background()))
	st := <-ch
	assert.Len(t, st.Lines, 1)

	unsub()
	_, ok := <-ch
	assert.False(t, ok)
}

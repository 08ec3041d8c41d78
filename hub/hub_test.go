package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"stopshop/middleware"
	"stopshop/models"
	"stopshop/transport"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRegisterBroadcastUnregister(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	client := &Client{Send: make(chan []byte, 10), UserID: "u1"}
	other := &Client{Send: make(chan []byte, 10), UserID: "u2"}
	hub.register <- client
	hub.register <- other

	hub.Notify("u1")

	select {
	case got := <-client.Send:
		var ev models.CartEvent
		require.NoError(t, json.Unmarshal(got, &ev))
		assert.Equal(t, models.CartUpdatedAction, ev.Action)
		assert.Equal(t, "u1", ev.UserID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	assert.Empty(t, other.Send, "other users are not notified")

	hub.unregister <- client
	require.Eventually(t, func() bool { return hub.Connections("u1") == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-client.Send
	assert.False(t, open)
}

func TestHubStopClosesClients(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	client := &Client{Send: make(chan []byte, 1), UserID: "u1"}
	hub.register <- client
	hub.Stop()
	hub.Stop()

	_, open := <-client.Send
	assert.False(t, open)
	hub.Notify("u1")
}

type staticTokens string

func (s staticTokens) ValidToken(context.Context) (string, error) { return string(s), nil }

func TestWebSocketDeliversCartEvents(t *testing.T) {
	secret := []byte("hub-secret")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(secret)
	require.NoError(t, err)

	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	router := httprouter.New()
	router.GET("/api/cart/events", middleware.Chain(WebSocketHandler(hub), middleware.Authenticate(secret, nil, nil)))
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = transport.New(srv.URL, staticTokens("not-a-jwt")).SubscribeCartEvents(ctx)
	assert.True(t, transport.IsKind(err, transport.KindAuthExpired), "handshake rejected with 401")

	events, err := transport.New(srv.URL, staticTokens(token)).SubscribeCartEvents(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Connections("u1") == 1 }, time.Second, 5*time.Millisecond)

	hub.CartChanged(ctx, "u1")
	select {
	case ev := <-events:
		assert.Equal(t, models.CartUpdatedAction, ev.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("no cart event received")
	}

	cancel()
	require.Eventually(t, func() bool { return hub.Connections("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

package mq

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"stopshop/rdx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_EmitAndListen(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := rdx.Connect(ctx, addr, os.Getenv("REDIS_PASSWORD"))
	require.NoError(t, err)
	defer conn.Close()

	b := NewBroker(conn, nil)
	channel := "test-" + AuthChannel
	got := make(chan AuthEvent, 1)
	go b.Listen(ctx, channel, func(payload []byte) {
		var ev AuthEvent
		if json.Unmarshal(payload, &ev) == nil {
			got <- ev
		}
	})

	// Publish until the subscriber is attached.
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ev := <-got:
			assert.Equal(t, "user-loggedout", ev.Name)
			assert.Equal(t, "u1", ev.UserID)
			return
		case <-tick.C:
			require.NoError(t, b.Emit(ctx, channel, AuthEvent{Name: "user-loggedout", UserID: "u1"}))
		case <-ctx.Done():
			t.Fatal("timeout waiting for event")
		}
	}
}

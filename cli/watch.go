package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"stopshop/events"
	"stopshop/transport"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const reconnectDelay = 5 * time.Second

// NewWatchCommand creates the watch command: a long-running client that
// keeps the cart current and prints it whenever it changes.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the cart as it changes",
		Long: `Follow the cart as it changes. Changes pushed by the cart service,
logins and logouts made by other processes sharing a redis session, and an
expiring token are all picked up until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, opts)
		},
	}
}

func runWatch(ctx context.Context, cmd *cobra.Command, opts *RootOptions) error {
	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	s.cart.SetCartViewActive(true)
	updates, unsubscribe := s.cart.Subscribe()
	defer unsubscribe()
	signals, detach := s.bus.Subscribe(4)
	defer detach()

	if err := s.cart.Mount(ctx); err != nil {
		s.log.Warn("initial load failed", zap.Error(err))
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { s.cart.Run(ctx, s.bus) })
	run(func() { s.orders.Run(ctx) })
	run(func() { followServer(ctx, s) })
	if s.redisStorage != nil {
		run(func() {
			if err := s.redisStorage.Relay(ctx, s.bus); err != nil && ctx.Err() == nil {
				s.log.Warn("session relay stopped", zap.Error(err))
			}
		})
	}

	out := cmd.OutOrStdout()
	printCart(out, opts.Format, s.cart.State())
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-updates:
			if st.IsSyncing {
				continue
			}
			printCart(out, opts.Format, st)
		case ev, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			if ev.Topic != events.ProfileUpdated {
				continue
			}
			if p, ok := s.tokens.Profile(ctx); ok {
				printProfile(out, opts.Format, p)
			}
		}
	}
}

// followServer turns the service's cart event stream into CartUpdated
// events, reconnecting while a session exists.
func followServer(ctx context.Context, s *session) {
	for ctx.Err() == nil {
		if !s.cart.Authenticated() {
			if !sleepCtx(ctx, reconnectDelay) {
				return
			}
			continue
		}
		stream, err := s.client.SubscribeCartEvents(ctx)
		if err != nil {
			if transport.IsKind(err, transport.KindAuthExpired) {
				// The refetch meets the same 401 and logs the session out.
				_ = s.cart.Refresh(ctx)
			}
			s.log.Debug("cart event stream unavailable", zap.Error(err))
			if !sleepCtx(ctx, reconnectDelay) {
				return
			}
			continue
		}
		for range stream {
			s.bus.Publish(events.Event{Topic: events.CartUpdated, Source: "server"})
		}
		if !sleepCtx(ctx, reconnectDelay) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"stopshop/cartsync"
	"stopshop/checkout"
	"stopshop/events"
	"stopshop/rdx"
	"stopshop/tokenstore"
	"stopshop/transport"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// session is the client side of one command run: credentials, the cart
// service client, and the components that keep local state.
type session struct {
	tokens *tokenstore.Store
	client *transport.Client
	bus    *events.Bus
	cart   *cartsync.Synchronizer
	orders *checkout.Coordinator
	log    *zap.Logger

	// redisStorage is set when credentials live in redis, so watch can
	// follow logins made by other processes.
	redisStorage *tokenstore.RedisStorage
	closers      []func() error
}

func openSession(ctx context.Context, opts *RootOptions) (*session, error) {
	cfg, log := opts.cfg, opts.log
	s := &session{bus: events.NewBus(), log: log}

	var primary tokenstore.Storage
	switch cfg.StorageDriver {
	case "sqlite":
		if dir := filepath.Dir(cfg.StoragePath); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		st, err := tokenstore.OpenSQLite(cfg.StoragePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, st.Close)
		primary = st
	case "redis":
		conn, err := rdx.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, conn.Close)
		s.redisStorage = tokenstore.NewRedisStorage(conn, sessionPrefix(conn), log.Named("storage"))
		primary = s.redisStorage
	default:
		primary = tokenstore.NewMemoryStorage()
	}

	// The memory storage plays the per-process session store and is read
	// after the persisted one.
	s.tokens = tokenstore.New([]tokenstore.Storage{primary, tokenstore.NewMemoryStorage()}, tokenstore.WithLogger(log))
	s.client = transport.New(cfg.APIBaseURL, s.tokens,
		transport.WithTimeout(cfg.RequestTimeout),
		transport.WithLogger(log.Named("transport")),
	)
	s.cart = cartsync.New(s.client, s.tokens, cartsync.Config{
		ShippingFee:   cfg.ShippingFee,
		SweepInterval: cfg.SweepInterval,
		Bus:           s.bus,
		Logger:        log.Named("cartsync"),
	})
	s.orders = checkout.New(s.client, s.tokens, checkout.Config{
		ShippingFee: cfg.ShippingFee,
		Bus:         s.bus,
		Logger:      log.Named("checkout"),
	})
	return s, nil
}

func sessionPrefix(conn *redis.Client) string {
	return fmt.Sprintf("stopshop:session:%d:", conn.Options().DB)
}

func (s *session) Close() {
	s.bus.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Debug("close failed", zap.Error(err))
		}
	}
}

// mount loads the server cart, reporting a missing login plainly.
func (s *session) mount(ctx context.Context) error {
	if err := s.cart.Mount(ctx); err != nil {
		return userError(err)
	}
	if !s.cart.Authenticated() {
		return fmt.Errorf("not logged in: run 'stopshop login' first")
	}
	return nil
}

// userError keeps the wrapped error but leads with the shopper-facing text.
func userError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s (%w)", transport.UserMessage(err), err)
}

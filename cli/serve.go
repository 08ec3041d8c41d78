package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stopshop/auth"
	"stopshop/cart"
	"stopshop/db"
	"stopshop/hub"
	"stopshop/mq"
	"stopshop/ratelim"
	"stopshop/rdx"
	"stopshop/routes"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewServeCommand creates the serve command that runs the cart service.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the cart service",
		Long: `Run the cart service. Carts and orders are kept in MongoDB (STORE=mongo)
or in memory (STORE=memory). With REDIS_ADDR set, revoked tokens are shared
through redis and cart change notifications reach every instance.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *RootOptions) error {
	cfg, log := opts.cfg, opts.log
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set to run the service")
	}

	var store db.Store
	switch cfg.Store {
	case "mongo":
		ms, err := db.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return err
		}
		store = ms
		log.Info("using mongo store", zap.String("db", cfg.MongoDB))
	default:
		store = db.NewMemoryStore()
		log.Warn("using in-memory store; data is lost on exit")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warn("store close failed", zap.Error(err))
		}
	}()

	events := hub.NewHub(log.Named("hub"))
	go events.Run()
	defer events.Stop()

	limiter := ratelim.NewRateLimiter(30, 5)
	go limiter.RunCleanup(ctx)

	deps := routes.Deps{
		Store:   store,
		Secret:  []byte(cfg.JWTSecret),
		Hub:     events,
		Limiter: limiter,
		Log:     log,
	}

	if cfg.RedisAddr != "" {
		conn, err := rdx.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer conn.Close()

		broker := mq.NewBroker(conn, log.Named("mq"))
		deps.Revoker = rdx.NewRevocations(conn)
		deps.Emitter = broker
		deps.Notifier = hub.BrokerNotifier{Broker: broker, Log: log}
		go func() {
			if err := events.Relay(ctx, broker); err != nil && ctx.Err() == nil {
				log.Error("cart event relay stopped", zap.Error(err))
			}
		}()
		log.Info("redis connected", zap.String("addr", cfg.RedisAddr))
	} else {
		revocations := rdx.NewMemoryRevocations()
		go revocations.RunSweeper(ctx, cfg.SweepInterval, log.Named("revocations"))
		deps.Revoker = revocations
	}

	server := routes.NewServer(cfg.Port, routes.NewHandler(routes.RoutesWrapper(deps), cfg.AllowedOrigins, log))

	// on shutdown: stop the hub so event streams close
	server.RegisterOnShutdown(func() {
		log.Info("shutting down cart event hub")
		events.Stop()
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutdown signal received; shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}

var (
	_ auth.Emitter  = (*mq.Broker)(nil)
	_ cart.Notifier = hub.BrokerNotifier{}
	_ cart.Notifier = (*hub.Hub)(nil)
)

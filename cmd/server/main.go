package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/battle-live-backend/internal/auth"
	"github.com/DoyleJ11/battle-live-backend/internal/battle"
	"github.com/DoyleJ11/battle-live-backend/internal/broadcast"
	"github.com/DoyleJ11/battle-live-backend/internal/config"
	"github.com/DoyleJ11/battle-live-backend/internal/httpapi"
	"github.com/DoyleJ11/battle-live-backend/internal/hub"
	"github.com/DoyleJ11/battle-live-backend/internal/logging"
	"github.com/DoyleJ11/battle-live-backend/internal/registry"
	"github.com/DoyleJ11/battle-live-backend/internal/song"
	"github.com/DoyleJ11/battle-live-backend/internal/store"
	"github.com/DoyleJ11/battle-live-backend/internal/store/gormstore"
	"github.com/DoyleJ11/battle-live-backend/internal/store/memstore"
	"github.com/DoyleJ11/battle-live-backend/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, ready, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	reg := registry.New()
	bc := broadcast.New(reg, st, log)
	h := hub.NewHub(ctx, hub.Config{Store: st, Publisher: bc, Log: log, IdleTimeout: cfg.RoomIdleTimeout})

	public := make(map[string]bool, len(cfg.PublicProfiles))
	for _, id := range cfg.PublicProfiles {
		public[id] = true
	}
	svc := battle.NewService(h, st, auth.ContextAuthorizer{}, auth.ClaimProfiles{Public: public}, reg, log)

	provider := song.NewHTTPProvider(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.CallbackURL)
	tracker := song.NewTracker(h, st, provider, song.Config{
		DefaultBeatStyle: cfg.DefaultBeatStyle,
		SubmitTimeout:    cfg.SubmitTimeout,
		PollTimeout:      cfg.PollTimeout,
	}, log)
	poller := song.NewPoller(tracker, st, cfg.PollInterval, cfg.PollConcurrency, log)

	live := ws.Handler(reg, bc, ws.Config{
		WriteTimeout:   cfg.WSWriteTimeout,
		PingInterval:   cfg.WSPingInterval,
		OutboxSize:     cfg.OutboxSize,
		OriginPatterns: cfg.AllowedOrigins,
	}, log)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Battles:       svc,
			Songs:         tracker,
			Auth:          auth.NewJWT(cfg.JWTSecret),
			Live:          live,
			Log:           log,
			WebhookSecret: cfg.WebhookSecret,
			MaxBodyBytes:  cfg.MaxBodyBytes,
			Ready:         ready,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.ProviderBaseURL != "" {
		g.Go(func() error { return poller.Run(gctx) })
	} else {
		log.Warn("PROVIDER_BASE_URL not set, song poller disabled")
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		h.Shutdown()
		return err
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, func(context.Context) error, func() error, error) {
	if cfg.Store == "memory" {
		log.Warn("using in-memory store, battles are lost on restart")
		return memstore.New(), nil, func() error { return nil }, nil
	}
	pg, err := gormstore.Open(cfg.DatabaseURL, log)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		return nil, nil, nil, multierr.Append(fmt.Errorf("migrate: %w", err), pg.Close())
	}
	return pg, pg.Ping, pg.Close, nil
}

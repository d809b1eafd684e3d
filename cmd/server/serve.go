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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"wastedesk/backend/internal/cache"
	"wastedesk/backend/internal/choices"
	"wastedesk/backend/internal/config"
	"wastedesk/backend/internal/httpapi"
	"wastedesk/backend/internal/reconcile"
	"wastedesk/backend/internal/service"
	"wastedesk/backend/internal/store"
	"wastedesk/backend/internal/store/memory"
	pgstore "wastedesk/backend/internal/store/postgres"
	"wastedesk/backend/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE:  runServe,
}

// backends is what the server runs against, plus what to close on exit.
type backends struct {
	collab   store.Collaborators
	accounts store.Accounts
	closers  []func() error
}

func (b *backends) close(log logrus.FieldLogger) {
	for _, closeFn := range b.closers {
		if err := closeFn(); err != nil {
			log.Warnf("close error: %v", err)
		}
	}
}

// openBackends picks postgres when DATABASE_URL is set and the seeded memory
// store otherwise. When all three upstream URLs are configured the upstream
// services replace the local store for operators, sessions, spillage and
// inventory; accounts stay local.
func openBackends(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*backends, error) {
	b := &backends{}

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		b.closers = append(b.closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			b.close(log)
			return nil, err
		}
		b.collab, b.accounts = pg, pg
		log.Info("repository: postgres")
	} else {
		repo := memory.NewSeeded()
		b.collab, b.accounts = repo, repo
		log.Info("repository: in-memory")
	}

	if cfg.UpstreamEnabled() {
		b.collab = upstream.New(upstream.Options{
			POSBaseURL:       cfg.POSBaseURL,
			SpillageBaseURL:  cfg.SpillageBaseURL,
			InventoryBaseURL: cfg.InventoryBaseURL,
			Timeout:          cfg.UpstreamTimeout(),
			RetryMax:         cfg.UpstreamRetries,
			Log:              log,
		})
		log.WithFields(logrus.Fields{
			"pos":       cfg.POSBaseURL,
			"spillage":  cfg.SpillageBaseURL,
			"inventory": cfg.InventoryBaseURL,
		}).Info("collaborators: upstream services")
	}
	return b, nil
}

func openChoiceCache(ctx context.Context, cfg config.Config, b *backends, log logrus.FieldLogger) cache.ChoiceCache {
	if cfg.RedisAddr == "" {
		log.Info("cache: noop")
		return cache.NoopChoiceCache{}
	}
	redisCache := cache.NewRedisChoiceCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		log.Warnf("redis unavailable (%v), using noop cache", err)
		_ = redisCache.Close()
		return cache.NoopChoiceCache{}
	}
	b.closers = append(b.closers, redisCache.Close)
	log.Info("cache: redis")
	return redisCache
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := openBackends(startCtx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close(log)
	choiceCache := openChoiceCache(startCtx, cfg, b, log)

	resolver := choices.NewResolver(b.collab, choiceCache, cfg.ChoiceCacheTTL(), log)
	reconciler := reconcile.New(b.collab, cfg.ReconcileTimeout(), log)
	svc := service.New(b.collab, b.accounts, resolver, reconciler, service.Options{
		Location:    loc,
		FormIdleTTL: cfg.FormIdleTTL(),
		Log:         log,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), b.accounts)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		log.Infof("spillage backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if dropped := svc.ExpireIdleForms(); dropped > 0 {
					log.WithField("dropped", dropped).Info("expired idle spillage forms")
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("shutdown error: %v", err)
		}
		return nil
	})

	err = g.Wait()
	// let detached inventory jobs finish before the stores close
	reconciler.Wait()
	log.Info("server stopped")
	return err
}

// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opentrusty/subsites/internal/audit"
	"github.com/opentrusty/subsites/internal/authz"
	"github.com/opentrusty/subsites/internal/cache"
	"github.com/opentrusty/subsites/internal/config"
	"github.com/opentrusty/subsites/internal/i18n"
	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/observability/logger"
	"github.com/opentrusty/subsites/internal/observability/metrics"
	"github.com/opentrusty/subsites/internal/observability/tracing"
	"github.com/opentrusty/subsites/internal/record"
	"github.com/opentrusty/subsites/internal/report"
	"github.com/opentrusty/subsites/internal/seed"
	"github.com/opentrusty/subsites/internal/session"
	"github.com/opentrusty/subsites/internal/store/memory"
	"github.com/opentrusty/subsites/internal/store/postgres"
	"github.com/opentrusty/subsites/internal/tenant"
	transportHTTP "github.com/opentrusty/subsites/internal/transport/http"
)

// grantStore answers permission lookups and manages groups
type grantStore interface {
	authz.GrantRepository
	authz.GroupRepository
}

// recordStore is a record store whose reads follow a tenant restriction
type recordStore interface {
	record.Store
	SetRestrictor(r record.Restrictor)
}

// backend bundles the repositories of one store driver
type backend struct {
	tenants  tenant.Repository
	users    identity.UserRepository
	grants   grantStore
	sessions session.Repository
	records  recordStore
	close    func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		OTELEnabled: cfg.Observability.OTELEnabled,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting subsites server", logger.Component("server"))

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	} else {
		defer tracer.Shutdown(context.Background())
	}

	// Initialize meter
	var cacheOpts []cache.Option
	var instruments *metrics.Instruments
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err == nil {
		instruments, err = metrics.NewInstruments(meter)
	}
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
		instruments = &metrics.Instruments{}
	} else {
		cacheOpts = append(cacheOpts, cache.WithLookupCounter(instruments.CacheLookups))
	}

	store, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.close()

	if cfg.Store.SeedFile != "" {
		if err := seed.LoadFile(ctx, cfg.Store.SeedFile, seed.Target{
			Tenants: store.tenants,
			Users:   store.users,
			Groups:  store.grants,
			Records: store.records,
		}); err != nil {
			return err
		}
		slog.Info("applied seed file", logger.Component("seed"), slog.String("path", cfg.Store.SeedFile))
	}

	auditLogger := audit.NewSlogLogger()
	if err := seed.Bootstrap(ctx, cfg.Store.BootstrapAdminEmail, seed.Admins{
		Users:  store.users,
		Groups: store.grants,
		Grants: store.grants,
	}, auditLogger); err != nil {
		return err
	}

	// Initialize services
	sessionService := session.NewService(store.sessions, cfg.Session.Lifetime, cfg.Session.IdleTimeout)
	resolver := tenant.NewDomainResolver(store.tenants, cacheOpts...)
	index := authz.NewIndex(store.grants, cacheOpts...)
	locale := i18n.NewLocale(cfg.Subsite.DefaultLocale)
	tracker := tenant.NewTracker(
		tenant.TrackerConfig{UseSession: cfg.Subsite.UseSession},
		resolver,
		sessionService,
		locale,
		index,
		auditLogger,
	)

	filter := tenant.NewFilter(tracker)
	filter.Disable(cfg.Subsite.DisableFilter)
	store.records.SetRestrictor(filter)

	tenantService := tenant.NewService(store.tenants, tracker, auditLogger, resolver, index)

	reports := report.NewRegistry(index, store.tenants, store.records)
	for _, r := range []report.Report{
		report.NewRecentPages(index),
		report.NewEmptyPages(index, store.records),
	} {
		if _, err := reports.Register(r); err != nil {
			return fmt.Errorf("failed to register report %s: %w", r.ID(), err)
		}
	}

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(ctx, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Configure SameSite mode
	sameSite := http.SameSiteLaxMode
	switch cfg.Session.CookieSameSite {
	case "Strict":
		sameSite = http.SameSiteStrictMode
	case "None":
		sameSite = http.SameSiteNoneMode
	}

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		transportHTTP.Deps{
			TenantService:  tenantService,
			Tracker:        tracker,
			Index:          index,
			Reports:        reports,
			Records:        store.records,
			SessionService: sessionService,
			Users:          store.users,
			AuditLogger:    auditLogger,
			ReportDuration: instruments.ReportDuration,
			Locale:         locale,
		},
		transportHTTP.SessionConfig{
			CookieName:     cfg.Session.CookieName,
			CookieDomain:   cfg.Session.CookieDomain,
			CookiePath:     cfg.Session.CookiePath,
			CookieSecure:   cfg.Session.CookieSecure,
			CookieHTTPOnly: cfg.Session.CookieHTTPOnly,
			CookieSameSite: sameSite,
		},
		cfg.Subsite.OverrideParam,
	)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      transportHTTP.NewRouter(handler, rateLimiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start session cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sessionService.CleanupExpired(ctx); err != nil {
					slog.ErrorContext(ctx, "failed to cleanup expired sessions", logger.Error(err))
				}
			}
		}
	}()

	// Start server
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"), slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// openBackend connects the configured store driver
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.Store.Driver == config.DriverMemory {
		s := memory.New(report.PagesTable)
		slog.Warn("using in-memory store; data is lost on restart", logger.Component("store"))
		return &backend{
			tenants:  s.Tenants(),
			users:    s.Users(),
			grants:   s.Grants(),
			sessions: s.Sessions(),
			records:  s.Records(),
			close:    func() {},
		}, nil
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := db.MigrateUp(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	slog.Info("connected to database", logger.Component("store"))

	return &backend{
		tenants:  postgres.NewTenantRepository(db),
		users:    postgres.NewUserRepository(db),
		grants:   postgres.NewGrantRepository(db),
		sessions: postgres.NewSessionRepository(db),
		records:  postgres.NewRecordRepository(db),
		close:    db.Close,
	}, nil
}

func openDB(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	db, err := postgres.New(ctx, postgres.Config{
		URL:          cfg.Database.URL,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/httpapi"
	"github.com/MrEthical07/packguard/permission"
	"github.com/MrEthical07/packguard/store/postgres"
)

type serveFlags struct {
	inMemory bool
	migrate  bool
}

func newServeCmd() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API. State lives in PostgreSQL unless --memory is given;
the cache is Redis when redis.url is set and an in-process LRU otherwise.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	cmd.Flags().BoolVar(&flags.inMemory, "memory", false, "keep all state in memory (development only)")
	cmd.Flags().BoolVar(&flags.migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

func runServe(ctx context.Context, flags serveFlags) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(logOptions{Level: cfg.Logging.Level, Format: cfg.Logging.Format, File: cfg.Logging.File})
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.migrate && !flags.inMemory {
		if err := postgres.Migrate(cfg.Database.URL); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
		}
		log.Info("migrations applied")
	}

	d, err := openDeps(ctx, cfg, log, flags.inMemory)
	if err != nil {
		return err
	}
	defer d.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	engine, err := buildEngine(cfg, d, log, packguard.NewMetrics(reg))
	if err != nil {
		return err
	}
	// drains pending audit records
	defer engine.Close()

	logSecurityReport(log, engine.SecurityReport())

	if err := bootstrapAdmin(ctx, engine, cfg, log); err != nil {
		return err
	}

	opts := []httpapi.Option{httpapi.WithGatherer(reg)}
	for name, check := range d.checks {
		opts = append(opts, httpapi.WithHealthCheck(name, check))
	}
	api := httpapi.New(engine, log, cfg.HTTP, opts...)

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("address", cfg.Server.Address).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server did not shut down cleanly")
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("audit buffer not fully drained")
	}
	stats := engine.AuditStats()
	entry := log.WithFields(logrus.Fields{"delivered": stats.Delivered, "dropped": stats.Dropped})
	if stats.Dropped > 0 {
		entry.Warn("audit records were dropped")
	} else {
		entry.Info("audit trail drained")
	}
	return nil
}

func logSecurityReport(log logrus.FieldLogger, r packguard.SecurityReport) {
	log.WithFields(logrus.Fields{
		"access_ttl":     r.AccessTTL,
		"refresh_ttl":    r.RefreshTTL,
		"code_digits":    r.CodeDigits,
		"max_attempts":   r.MaxAttempts,
		"argon2_memory":  r.Argon2.Memory,
		"cache":          r.CacheEnabled,
		"audit":          r.AuditActive,
		"login_throttle": r.LoginThrottleActive,
	}).Info("security settings")
	for _, w := range r.Warnings {
		log.Warn(w)
	}
}

// bootstrapAdmin provisions the configured admin once. An existing account
// with the same e-mail is left untouched.
func bootstrapAdmin(ctx context.Context, engine *packguard.Engine, cfg *appConfig, log logrus.FieldLogger) error {
	if cfg.Bootstrap.AdminEmail == "" {
		return nil
	}
	view, err := engine.CreateIdentity(ctx, nil, packguard.NewIdentity{
		Email:       cfg.Bootstrap.AdminEmail,
		DisplayName: "Administrator",
		Password:    cfg.Bootstrap.AdminPassword,
		Role:        permission.TopSystemRole,
	})
	switch {
	case errors.Is(err, packguard.ErrEmailTaken):
		log.WithField("email", cfg.Bootstrap.AdminEmail).Debug("bootstrap admin already exists")
		return nil
	case err != nil:
		return oops.Code("BOOTSTRAP_FAILED").With("email", cfg.Bootstrap.AdminEmail).Wrap(err)
	}
	log.WithField("identity_id", view.ID).Info("bootstrap admin created")
	return nil
}

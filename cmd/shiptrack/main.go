package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/shiptrack/internal/adapter/driven/intuit"
	"github.com/ericfisherdev/shiptrack/internal/adapter/driven/jobs"
	"github.com/ericfisherdev/shiptrack/internal/adapter/driven/prom"
	"github.com/ericfisherdev/shiptrack/internal/adapter/driven/s3blob"
	sqliteadapter "github.com/ericfisherdev/shiptrack/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/shiptrack/internal/adapter/driving/http"
	webhandler "github.com/ericfisherdev/shiptrack/internal/adapter/driving/web"
	"github.com/ericfisherdev/shiptrack/internal/application"
	"github.com/ericfisherdev/shiptrack/internal/config"
	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration. Missing Intuit credentials are reported, not fatal.
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	issues := make([]string, 0)
	for _, issue := range cfg.Issues() {
		issues = append(issues, string(issue))
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"intuit_environment", cfg.IntuitEnvironment,
		"redirect_url", cfg.RedirectURL(),
		"s3_enabled", cfg.S3.Enabled(),
	)
	if len(issues) > 0 {
		slog.Warn("intuit client misconfigured, quickbooks authorization will fail", "issues", issues)
	}
	if cfg.SecretKey == nil {
		slog.Warn("SHIPTRACK_SECRET_KEY not set, quickbooks credentials cannot be stored")
	}

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire driven adapters.
	credentialStore := sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)
	shipmentStore := sqliteadapter.NewShipmentRepo(db)

	var blobStore driven.BlobStore = sqliteadapter.NewBlobRepo(db)
	if cfg.S3.Enabled() {
		s3Store, err := s3blob.New(ctx, s3blob.Options{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return err
		}
		blobStore = s3Store
		slog.Info("invoice pdfs stored in s3", "bucket", cfg.S3.Bucket)
	}

	oauthProvider := intuit.NewOAuthProvider(cfg.IntuitClientID, cfg.IntuitClientSecret, cfg.RedirectURL())
	accounting := intuit.NewAccountingClient(cfg.IntuitEnvironment)
	runner := jobs.NewRunner(ctx, slog.Default())
	metrics := prom.NewRefreshMetrics()

	// 6. Application services.
	tokens := application.NewTokenService(credentialStore, oauthProvider, metrics)
	scheduler := application.NewRefreshScheduler(credentialStore, tokens, runner, metrics)
	authSvc := application.NewAuthorizationService(
		credentialStore, oauthProvider, application.NewStateSigner(cfg.SecretKey), scheduler, issues,
	)
	shipmentSvc := application.NewShipmentService(shipmentStore, blobStore)
	workflow := application.NewInvoiceWorkflow(
		shipmentStore, credentialStore, tokens, accounting, blobStore, runner,
		application.InvoiceDefaults{
			CustomerRef: cfg.InvoiceCustomerRef,
			ItemRef:     cfg.InvoiceItemRef,
			UnitPrice:   cfg.InvoiceUnitPrice,
		},
	)
	sweeper := application.NewStaleInvoiceSweeper(shipmentStore, workflow, cfg.StaleAfter)

	// 7. Start background work from persisted state.
	if err := scheduler.Bootstrap(ctx); err != nil {
		if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
			slog.Warn("token refresh scheduler not started", "error", err)
		} else {
			return err
		}
	}
	if err := sweeper.Start(ctx, cfg.SweepSchedule); err != nil {
		return err
	}

	// 8. HTTP routes.
	mux := http.NewServeMux()
	apiHandler := httphandler.NewHandler(shipmentSvc, workflow, authSvc, scheduler, metrics.Handler(), slog.Default())
	httphandler.RegisterAPIRoutes(mux, apiHandler)

	webHandler := webhandler.NewHandler(authSvc, strings.HasPrefix(cfg.BaseURL, "https://"), slog.Default())
	webhandler.RegisterRoutes(mux, webHandler)

	handler := httphandler.ApplyMiddleware(mux, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("shiptrack started",
		"listen_addr", cfg.ListenAddr,
		"sweep_schedule", cfg.SweepSchedule,
		"stale_after", cfg.StaleAfter,
	)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	sweeper.Stop(shutdownCtx)
	if err := runner.Shutdown(shutdownCtx); err != nil {
		slog.Error("background tasks did not finish", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

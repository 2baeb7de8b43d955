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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/tenantplane/internal/adapter/apigateway"
	"github.com/neomorfeo/tenantplane/internal/adapter/awsclient"
	"github.com/neomorfeo/tenantplane/internal/adapter/cognito"
	"github.com/neomorfeo/tenantplane/internal/adapter/eventbridge"
	"github.com/neomorfeo/tenantplane/internal/adapter/firehose"
	"github.com/neomorfeo/tenantplane/internal/adapter/fsm"
	"github.com/neomorfeo/tenantplane/internal/adapter/local"
	oteladapter "github.com/neomorfeo/tenantplane/internal/adapter/otel"
	riveradapter "github.com/neomorfeo/tenantplane/internal/adapter/river"
	"github.com/neomorfeo/tenantplane/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantplane/internal/adapter/stripe"
	"github.com/neomorfeo/tenantplane/internal/adapter/yaml"
	"github.com/neomorfeo/tenantplane/internal/app"
	"github.com/neomorfeo/tenantplane/internal/domain"

	handler "github.com/neomorfeo/tenantplane/internal/adapter/http"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if err := run(); err != nil {
		slog.Error("tenantplane stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// --- Observability ---
	otelCfg := oteladapter.ConfigFromEnv()
	otelCfg.Provisioner = cfg.Provisioner
	otelCfg.Region = cfg.AWSRegion
	providers, err := oteladapter.Setup(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	// --- Adapters (out) ---
	db, err := oteladapter.OpenDB(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	repo, err := sqlite.NewFromDB(db)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}

	catalog, err := loadCatalog(ctx, cfg)
	if err != nil {
		return err
	}

	var awsCfg aws.Config
	if cfg.Provisioner == "aws" || cfg.UsageSink == "firehose" || cfg.EventBridgeBus != "" {
		if awsCfg, err = awsclient.Load(ctx, cfg.AWSRegion); err != nil {
			return err
		}
	}

	identity, gateway := provisioners(cfg, awsCfg)

	var usageSink domain.UsageSink = &local.LogSink{Logger: slog.Default()}
	if cfg.UsageSink == "firehose" {
		usageSink = firehose.NewFromConfig(awsCfg, cfg.FirehoseStream)
	}

	var mirrors []domain.EventSink
	if cfg.EventBridgeBus != "" {
		mirrors = append(mirrors, eventbridge.NewFromConfig(awsCfg, cfg.EventBridgeBus))
	}
	monitor, err := oteladapter.NewMonitor(mirrors...)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	// --- Event bus ---
	// The dispatcher is built before the orchestrator it feeds, because the
	// orchestrator publishes through the River client the dispatcher is
	// registered with.
	inbox := sqlite.NewInbox(db)
	var orch *app.Orchestrator
	dispatcher := app.NewDispatcher(func(ctx context.Context, env domain.Envelope) error {
		return orch.OnControlPlaneEvent(ctx, env)
	}, inbox, app.DispatcherConfig{
		PoolSize: cfg.DispatchPoolSize,
		RetryFor: cfg.DispatchRetryFor,
	})

	riverClient, err := riveradapter.Setup(ctx, db, inbox, dispatcher, monitor)
	if err != nil {
		return fmt.Errorf("river: %w", err)
	}
	bus := oteladapter.NewTracingBus(riveradapter.NewPublisher(riverClient))

	// --- Application ---
	orch = app.NewOrchestrator(app.Deps{
		Tenants:     oteladapter.NewTracingRepository(repo),
		Deployments: oteladapter.NewTracingDeploymentStore(sqlite.NewDeploymentStore(db)),
		Ledger:      sqlite.NewLedger(db),
		Bus:         bus,
		Tx:          sqlite.NewTransactor(db),
		Validator:   fsm.New(),
		Catalog:     catalog,
		Identity:    identity,
		Gateway:     gateway,
	}, app.Config{
		DefaultCommitID: cfg.DefaultCommitID,
		StepTimeout:     cfg.StepTimeout,
	})
	usage := app.NewUsageRouter(usageSink, app.UsageConfig{Marker: cfg.MeteringMarker})

	// Events held when the last run stopped go first, ahead of new jobs.
	replayed, err := dispatcher.Replay(ctx)
	if err != nil {
		return fmt.Errorf("replaying held events: %w", err)
	}
	if replayed > 0 {
		slog.Info("replayed held events", "count", replayed)
	}

	// River stops through Stop below, not through signal cancellation.
	if err := riverClient.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting river: %w", err)
	}

	resumed, err := orch.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resuming in-flight intents: %w", err)
	}
	if resumed > 0 {
		slog.Info("resumed in-flight intents", "count", resumed)
	}

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(otelchi.Middleware("tenantplane", otelchi.WithChiRoutes(router)))

	api := humachi.New(router, huma.DefaultConfig("tenantplane", "0.1.0"))
	handler.Register(api, orch, usage)

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("tenantplane listening", "port", cfg.Port, "docs", "http://localhost:"+cfg.Port+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	slog.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(sctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := riverClient.Stop(sctx); err != nil {
		errs = append(errs, fmt.Errorf("river shutdown: %w", err))
	}
	if err := dispatcher.Close(sctx); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher shutdown: %w", err))
	}

	slog.Info("stopped")
	return errors.Join(errs...)
}

// loadCatalog reads the tier catalog file, if any, and checks its billing
// plans when a Stripe key is configured.
func loadCatalog(ctx context.Context, cfg config) (*domain.TierCatalog, error) {
	var (
		catalog *domain.TierCatalog
		err     error
	)
	if cfg.TierCatalogPath != "" {
		catalog, err = yaml.LoadCatalog(cfg.TierCatalogPath)
	} else {
		catalog, err = domain.NewTierCatalog(domain.DefaultTierDefinitions())
	}
	if err != nil {
		return nil, fmt.Errorf("tier catalog: %w", err)
	}

	if cfg.StripeKey != "" {
		if err := stripe.NewVerifier(cfg.StripeKey).Verify(ctx, catalog); err != nil {
			return nil, fmt.Errorf("tier catalog billing plans: %w", err)
		}
	}
	return catalog, nil
}

func provisioners(cfg config, awsCfg aws.Config) (domain.IdentityProvisioner, domain.GatewayProvisioner) {
	if cfg.Provisioner != "aws" {
		return local.NewIdentity(), local.NewGateway("http://localhost:" + cfg.Port)
	}
	return cognito.NewFromConfig(awsCfg),
		apigateway.NewFromConfig(awsCfg, apigateway.Config{
			Region:     cfg.AWSRegion,
			Stage:      cfg.GatewayStage,
			UsagePlans: cfg.GatewayUsagePlans,
		})
}

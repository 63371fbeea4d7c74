package bootstrap

import (
	"context"
	"database/sql"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rotisserie/eris"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/billing"
	"servicesift-backend/internal/businesses"
	"servicesift-backend/internal/deadletter"
	"servicesift-backend/internal/extraction"
	"servicesift-backend/internal/llm"
	"servicesift-backend/internal/llm/anthropic"
	"servicesift-backend/internal/pipeline"
	"servicesift-backend/internal/queue"
	"servicesift-backend/internal/reports"
	"servicesift-backend/internal/services/health"
	"servicesift-backend/internal/shared/auth"
	"servicesift-backend/internal/shared/config"
	"servicesift-backend/internal/shared/server"
	"servicesift-backend/internal/shared/server/middleware"
	"servicesift-backend/internal/shared/storage/db"
	"servicesift-backend/internal/shared/storage/object"
	localstore "servicesift-backend/internal/shared/storage/object/local"
	s3store "servicesift-backend/internal/shared/storage/object/s3"
	"servicesift-backend/internal/shared/telemetry"
	"servicesift-backend/internal/workerproc"
)

// App holds shared dependencies for every entrypoint.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore
	// SQS is nil when SQS_QUEUE_URL is unset; jobs then run in-process.
	SQS *queue.SQSClient

	AnalysesRepo   analyses.Repo
	BusinessesRepo businesses.Repo
	ReportsRepo    reports.Repo
	DeadLetters    deadletter.Repo

	AnalysesService   *analyses.Service
	BusinessesService *businesses.Service
	ReportsService    *reports.Service
	Runner            *pipeline.Runner
	Dispatcher        pipeline.Dispatcher
	Checkout          *billing.Checkout
	Reconciler        *billing.Reconciler
	Processor         *workerproc.Processor
}

// Build prepares dependencies and the HTTP router from configuration.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sqsClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}
	analyzer, err := buildAnalyzer(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, DB: sqlDB, Store: store, SQS: sqsClient}
	buildRepos(app)

	app.BusinessesService = &businesses.Service{Repo: app.BusinessesRepo, Analyses: app.AnalysesRepo}
	app.AnalysesService = &analyses.Service{
		Repo:       app.AnalysesRepo,
		Businesses: app.BusinessesService,
		FreeMode:   cfg.FreeMode,
	}
	app.ReportsService = &reports.Service{
		Repo:     app.ReportsRepo,
		Analyses: app.AnalysesRepo,
		Store:    store,
		URLTTL:   cfg.ArtifactURLTTL,

		Retryable: pipeline.Retryable,
	}
	if signer, ok := store.(object.URLSigner); ok {
		app.ReportsService.Signer = signer
	}

	app.Runner = &pipeline.Runner{
		Analyses:   app.AnalysesRepo,
		Extractor:  extraction.NewClient(cfg.ExtractionURL, cfg.ExtractionToken, cfg.ExtractionTimeout),
		Analyzer:   analyzer,
		Reports:    app.ReportsService,
		MaxReviews: cfg.ExtractionMaxReviews,
	}
	if sqsClient != nil {
		app.Dispatcher = &pipeline.QueueDispatcher{Queue: sqsClient}
	} else {
		app.Dispatcher = &pipeline.LocalDispatcher{Runner: app.Runner}
	}
	app.Processor = &workerproc.Processor{
		Runner:      app.Runner,
		Analyses:    app.AnalysesRepo,
		DeadLetters: app.DeadLetters,
		MaxReceives: cfg.WorkerMaxReceives,
	}

	gateway := buildGateway(cfg)
	app.Checkout = &billing.Checkout{
		Analyses:   app.AnalysesRepo,
		Gateway:    gateway,
		AppBaseURL: cfg.AppBaseURL,
		Currency:   cfg.StripeCurrency,
	}
	app.Reconciler = &billing.Reconciler{
		Analyses:   app.AnalysesRepo,
		Reports:    app.ReportsService,
		Gateway:    gateway,
		Dispatcher: app.Dispatcher,
		Runner:     app.Runner,
		DebugSync:  cfg.PipelineDebugSync,
		StaleAfter: cfg.StaleAfter,
	}

	limiter := middleware.NewRateLimiter(nil)
	app.Router = server.NewRouter(server.RouterDeps{
		Config:     cfg,
		Verifier:   auth.NewVerifier(cfg.SupabaseJWTSecret),
		Health:     health.NewService(sqlDB),
		Analyses:   analyses.NewHandler(app.AnalysesService),
		Businesses: businesses.NewHandler(app.BusinessesService),
		Reports:    reports.NewHandler(app.ReportsService),
		Pipeline:   pipeline.NewHandler(app.Runner, cfg.InternalAPISecret),
		Billing: billing.NewHandler(app.Checkout, app.Reconciler, limiter, middleware.RateLimitRule{
			Rate:  cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		}),
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":           cfg.Env,
		"storage":       storageMode(sqlDB),
		"object_store":  cfg.ObjectStoreType,
		"queue":         sqsClient != nil,
		"stripe":        strings.TrimSpace(cfg.StripeSecretKey) != "",
		"anthropic":     strings.TrimSpace(cfg.AnthropicAPIKey) != "",
		"debug_sync":    cfg.PipelineDebugSync,
		"free_mode":     cfg.FreeMode,
		"stale_after_s": cfg.StaleAfter.Seconds(),
	})
	return app, nil
}

// Close waits for local pipeline runs and releases the database.
func (a *App) Close() {
	if local, ok := a.Dispatcher.(*pipeline.LocalDispatcher); ok {
		local.Wait()
	}
	if a.DB != nil && !db.IsLambdaRuntime() {
		_ = a.DB.Close()
	}
}

func buildRepos(app *App) {
	if app.DB != nil {
		app.AnalysesRepo = &analyses.PGRepo{DB: app.DB}
		app.BusinessesRepo = &businesses.PGRepo{DB: app.DB}
		app.ReportsRepo = &reports.PGRepo{DB: app.DB}
		app.DeadLetters = &deadletter.PGRepo{DB: app.DB}
		return
	}
	app.AnalysesRepo = analyses.NewMemoryRepo()
	app.BusinessesRepo = businesses.NewMemoryRepo()
	app.ReportsRepo = reports.NewMemoryRepo()
	app.DeadLetters = deadletter.NewMemoryRepo()
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_storage", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, eris.New("DATABASE_URL is required")
	}

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.DetectProfile())
	if err != nil {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_storage", map[string]any{"reason": "database connect failed", "error": err.Error()})
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, eris.New("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (*queue.SQSClient, error) {
	if strings.TrimSpace(cfg.SQSQueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.SQSQueueURL, cfg.WorkerVisibilityTimeout)
}

func buildAnalyzer(cfg config.Config) (llm.Analyzer, error) {
	if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
		return llm.PlaceholderAnalyzer{}, nil
	}
	return anthropic.New(cfg.AnthropicAPIKey, cfg.AnthropicModel)
}

// buildGateway returns nil when neither API access nor webhook verification is configured.
func buildGateway(cfg config.Config) billing.Gateway {
	if gw := billing.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret); gw != nil {
		return gw
	}
	if strings.TrimSpace(cfg.StripeWebhookSecret) != "" {
		return billing.NewStripeWebhookVerifier(cfg.StripeWebhookSecret)
	}
	return nil
}

func storageMode(sqlDB *sql.DB) string {
	if sqlDB == nil {
		return "memory"
	}
	return "postgres"
}

package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"resume-ingest/internal/adapters/conversion"
	"resume-ingest/internal/adapters/extraction"
	"resume-ingest/internal/adapters/structuring"
	"resume-ingest/internal/batches"
	"resume-ingest/internal/checkpoint"
	"resume-ingest/internal/credentials"
	openai "resume-ingest/internal/llm/openai"
	"resume-ingest/internal/pipeline"
	"resume-ingest/internal/progress"
	"resume-ingest/internal/queue"
	"resume-ingest/internal/resumes"
	"resume-ingest/internal/services/health"
	"resume-ingest/internal/shared/auth"
	"resume-ingest/internal/shared/config"
	"resume-ingest/internal/shared/server"
	"resume-ingest/internal/shared/storage/db"
	"resume-ingest/internal/shared/storage/object"
	localstore "resume-ingest/internal/shared/storage/object/local"
	s3store "resume-ingest/internal/shared/storage/object/s3"
	"resume-ingest/internal/workerproc"
)

// Role selects which process the dependencies are built for.
type Role int

const (
	RoleAPI Role = iota
	RoleWorker
	RoleCLI
)

// credentialsCacheTTL bounds reuse of env-provided keys; OAuth tokens use their own expiry.
const credentialsCacheTTL = 10 * time.Minute

// App holds shared dependencies.
type App struct {
	Config      config.Config
	Router      *gin.Engine
	DB          *sql.DB
	Store       object.ObjectStore
	Queue       queue.Client
	Redis       *redis.Client
	Resumes     resumes.Repo
	Credentials credentials.Provider
	Engine      *pipeline.Engine
	Coordinator *pipeline.Coordinator
	Resolver    *checkpoint.Resolver
	Checkpoints *checkpoint.Service
	Batches     *batches.Service
	Runner      *workerproc.Runner
	Sinks       []progress.Sink
}

// Build prepares dependencies for role. The router is only built for RoleAPI.
func Build(ctx context.Context, cfg config.Config, role Role) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	app := &App{Config: cfg}
	built := false
	defer func() {
		if !built {
			app.Close(context.Background())
		}
	}()

	sqlDB, err := buildDB(ctx, cfg, role)
	if err != nil {
		return nil, err
	}
	app.DB = sqlDB

	app.Store, err = buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		app.Redis, err = progress.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		app.Sinks = append(app.Sinks, progress.NewRedisSink(app.Redis, cfg.BatchRetention))
	}

	if role == RoleAPI && strings.TrimSpace(cfg.QueueURL) != "" {
		if app.Redis == nil {
			return nil, errors.New("INGEST_SQS_QUEUE_URL requires REDIS_URL for snapshots and cancellation")
		}
		app.Queue, err = queue.NewSQSClient(ctx, cfg.QueueURL, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
	}

	if err := buildPipeline(app); err != nil {
		return nil, err
	}
	if err := buildCheckpoints(app); err != nil {
		return nil, err
	}

	switch role {
	case RoleAPI:
		if err := buildAPI(app); err != nil {
			return nil, err
		}
	case RoleWorker:
		if app.Redis == nil {
			return nil, errors.New("worker requires REDIS_URL")
		}
		app.Runner = &workerproc.Runner{
			Coordinator: app.Coordinator,
			Store:       app.Store,
			Cancels:     progress.NewRedisStore(app.Redis, cfg.BatchRetention),
			Sinks:       app.Sinks,
		}
	}
	built = true
	return app, nil
}

// Close releases connections held by the app.
func (a *App) Close(ctx context.Context) {
	if a.Batches != nil {
		if err := a.Batches.Close(ctx); err != nil {
			log.Printf("bootstrap: batches still running at shutdown: %v", err)
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

func buildDB(ctx context.Context, cfg config.Config, role Role) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		opts := db.DefaultServerOptions()
		if role == RoleWorker {
			opts = db.DefaultWorkerOptions()
		}
		sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(opts))
		if err != nil {
			if isDevLike(cfg.Env) {
				log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
				return nil, nil
			}
			return nil, err
		}
		if role == RoleAPI {
			if err := db.RunMigrations(ctx, sqlDB); err != nil {
				sqlDB.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		return sqlDB, nil
	}
	if strings.TrimSpace(cfg.SQLitePath) != "" {
		return db.OpenSQLite(ctx, cfg.SQLitePath)
	}
	if isDevLike(cfg.Env) || role == RoleCLI {
		log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
		return nil, nil
	}
	return nil, fmt.Errorf("DATABASE_URL is required")
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildPipeline(app *App) error {
	cfg := app.Config

	switch {
	case app.DB == nil:
		app.Resumes = resumes.NewMemoryRepo()
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		app.Resumes = &resumes.PGRepo{DB: app.DB}
	default:
		app.Resumes = &resumes.SQLiteRepo{DB: app.DB}
	}

	converter, err := buildConverter(cfg)
	if err != nil {
		return err
	}

	extractLLM, err := openai.NewClient(openai.Options{
		Adapter:  "extraction",
		Endpoint: cfg.ExtractionURL,
		Model:    cfg.ExtractionModel,
		APIKey:   cfg.ExtractionAPIKey,
	})
	if err != nil {
		return err
	}
	structureLLM, err := openai.NewClient(openai.Options{
		Adapter:  "structuring",
		Endpoint: cfg.StructuringURL,
		Model:    cfg.StructuringModel,
		APIKey:   cfg.StructuringAPIKey,
	})
	if err != nil {
		return err
	}

	creds, err := buildCredentials(cfg)
	if err != nil {
		return err
	}
	app.Credentials = creds

	app.Engine = pipeline.NewEngine(
		converter,
		extraction.NewVisionClient(extractLLM),
		structuring.NewLLMClient(structureLLM),
		app.Resumes,
		pipeline.Config{
			Retry: pipeline.RetryPolicy{
				MaxAttempts: cfg.RetryMaxAttempts,
				BaseDelay:   cfg.RetryBaseDelay,
				MaxDelay:    cfg.RetryMaxDelay,
			},
			PersistAttempts:    cfg.PersistAttempts,
			ConversionTimeout:  cfg.ConversionTimeout,
			ExtractionTimeout:  cfg.ExtractionTimeout,
			StructuringTimeout: cfg.StructuringTimeout,
			PersistTimeout:     pipeline.DefaultConfig().PersistTimeout,
		},
	)
	app.Coordinator = pipeline.NewCoordinator(app.Engine, creds, batches.StoreLoader(app.Store))
	return nil
}

func buildConverter(cfg config.Config) (conversion.Converter, error) {
	dpi := int(cfg.ConversionDPI)
	if cfg.Converter == "fitz" {
		return conversion.NewFitzConverter(dpi), nil
	}
	if strings.TrimSpace(cfg.ConversionURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: CONVERSION_URL empty; rendering PDFs locally")
			return conversion.NewFitzConverter(dpi), nil
		}
		return nil, fmt.Errorf("CONVERSION_URL is required when CONVERTER=http")
	}
	return conversion.NewHTTPClient(cfg.ConversionURL, cfg.ConversionAPIKey, dpi, &http.Client{Timeout: cfg.ConversionTimeout + 5*time.Second})
}

func buildCredentials(cfg config.Config) (credentials.Provider, error) {
	switch cfg.CredentialsProvider {
	case "oauth":
		p, err := credentials.NewOAuthProvider(cfg.OAuthTokenURL, cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthScopes)
		if err != nil {
			return nil, err
		}
		return credentials.NewCachingProvider(p, 0), nil
	default:
		return credentials.NewCachingProvider(
			credentials.NewEnvProvider(cfg.ConversionAPIKey, cfg.ExtractionAPIKey, cfg.StructuringAPIKey),
			credentialsCacheTTL,
		), nil
	}
}

func buildCheckpoints(app *App) error {
	rules := []checkpoint.Rule{{Kind: checkpoint.KindExtractedResume, Store: checkpoint.ExtractedStore{Repo: app.Resumes}}}
	if app.DB != nil && strings.TrimSpace(app.Config.DatabaseURL) != "" {
		rules = append(rules,
			checkpoint.Rule{Kind: checkpoint.KindSavedResume, Store: checkpoint.NewSavedResumeStore(app.DB)},
			checkpoint.Rule{Kind: checkpoint.KindGeneratedResume, Store: checkpoint.NewGeneratedResumeStore(app.DB)},
			checkpoint.Rule{Kind: checkpoint.KindAnalysisResult, Store: checkpoint.NewAnalysisStore(app.DB)},
		)
	} else {
		rules = append(rules,
			checkpoint.Rule{Kind: checkpoint.KindSavedResume, Store: checkpoint.NewMemoryStore()},
			checkpoint.Rule{Kind: checkpoint.KindGeneratedResume, Store: checkpoint.NewMemoryStore()},
			checkpoint.Rule{Kind: checkpoint.KindAnalysisResult, Store: checkpoint.NewMemoryStore()},
		)
	}
	resolver, err := checkpoint.NewResolver(rules, app.Config.LookupTimeout)
	if err != nil {
		return err
	}
	app.Resolver = resolver
	app.Checkpoints = checkpoint.NewService(resolver)
	return nil
}

func buildAPI(app *App) error {
	cfg := app.Config
	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.Env)
	if err != nil {
		return err
	}

	opts := batches.Options{
		Coordinator: app.Coordinator,
		Store:       app.Store,
		Sinks:       app.Sinks,
		Limits:      batches.Limits{MaxFiles: cfg.MaxFilesPerBatch, MaxFileBytes: cfg.MaxFileBytes},
		Retention:   cfg.BatchRetention,
	}
	if app.Redis != nil {
		opts.Remote = progress.NewRedisStore(app.Redis, cfg.BatchRetention)
	}
	if app.Queue != nil {
		opts.Queue = app.Queue
	}
	app.Batches, err = batches.NewService(opts)
	if err != nil {
		return err
	}

	healthSvc := health.NewService(2 * time.Second)
	if app.DB != nil {
		healthSvc.Register("database", health.CheckFunc(app.DB.PingContext))
	}
	if app.Redis != nil {
		healthSvc.Register("redis", health.CheckFunc(func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		}))
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:            cfg,
		Verifier:          verifier,
		CheckpointHandler: checkpoint.NewHandler(app.Checkpoints),
		BatchesHandler:    batches.NewHandler(app.Batches),
		Health:            healthSvc,
	})
	return nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"docchat-backend/internal/conversations"
	"docchat-backend/internal/documents"
	"docchat-backend/internal/embedding"
	"docchat-backend/internal/ingest"
	"docchat-backend/internal/llm"
	openai "docchat-backend/internal/llm/openai"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/quota"
	"docchat-backend/internal/retrieval"
	"docchat-backend/internal/shared/auth"
	"docchat-backend/internal/shared/config"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/retry"
	"docchat-backend/internal/shared/server"
	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/storage/db"
	"docchat-backend/internal/shared/storage/object"
	localstore "docchat-backend/internal/shared/storage/object/local"
	miniostore "docchat-backend/internal/shared/storage/object/minio"
	s3store "docchat-backend/internal/shared/storage/object/s3"
	"docchat-backend/internal/shared/telemetry"
	"docchat-backend/internal/vectorindex"
)

// App holds shared dependencies for every binary.
type App struct {
	Config   config.Config
	Router   *gin.Engine
	DB       *sql.DB
	Redis    *redis.Client
	Mongo    *mongo.Client
	Store    object.Store
	Queue    queue.Client
	Consumer queue.Consumer

	Ledger        *quota.Ledger
	DocumentsRepo documents.Repo
	Documents     *documents.Service
	Index         vectorindex.Index
	Embedder      embedding.Embedder
	LLM           llm.Client
	Conversations *conversations.Service
	Gateway       *retrieval.Gateway
	Pipeline      *ingest.Pipeline

	health  map[string]server.HealthCheck
	closers []func() error
}

// Build prepares shared dependencies and the HTTP router.
func Build(cfg config.Config) (*App, error) {
	return BuildContext(context.Background(), cfg)
}

// BuildContext is Build with a caller-supplied context for connection setup.
func BuildContext(ctx context.Context, cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	app := &App{Config: cfg, health: map[string]server.HealthCheck{}}

	steps := []func(context.Context) error{
		app.buildDB,
		app.buildRedis,
		app.buildStore,
		app.buildQueue,
		app.buildDocuments,
		app.buildEmbedder,
		app.buildIndex,
		app.buildLLM,
		app.buildConversations,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			_ = app.Close()
			return nil, err
		}
	}
	app.buildServices()

	verifier, err := buildVerifier(ctx, cfg)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	var limiter middleware.Limiter
	if cfg.RateLimitBackend == "redis" && app.Redis != nil {
		limiter = middleware.NewRedisRateLimiter(app.Redis, time.Minute)
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:              cfg,
		Verifier:            verifier,
		Limiter:             limiter,
		DocumentHandler:     documents.NewHandler(app.Documents),
		ConversationHandler: conversations.NewHandler(app.Conversations),
		QueryHandler:        retrieval.NewHandler(app.Gateway),
		UsageHandler:        quota.NewHandler(app.Ledger),
		Health:              app.health,
	})
	return app, nil
}

// NewPool builds a worker pool draining app.Consumer into the pipeline.
func (a *App) NewPool() *ingest.Pool {
	return &ingest.Pool{
		Consumer:        a.Consumer,
		Processor:       a.Pipeline,
		Concurrency:     a.Config.WorkerConcurrency,
		MaxDeliveries:   a.Config.WorkerMaxDeliveries,
		ShutdownTimeout: a.Config.ShutdownTimeout,
	}
}

// Close releases connections opened by Build, last opened first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) retryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if a.Config.RetryMaxAttempts > 0 {
		p.MaxAttempts = a.Config.RetryMaxAttempts
	}
	if a.Config.RetryBaseDelay > 0 {
		p.BaseDelay = a.Config.RetryBaseDelay
	}
	if a.Config.RetryMaxDelay > 0 {
		p.MaxDelay = a.Config.RetryMaxDelay
	}
	return p
}

func (a *App) buildDB(ctx context.Context) error {
	cfg := a.Config
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if config.IsDevLike(cfg.Env) {
			telemetry.Info("bootstrap.memory_repos", map[string]any{"reason": "DATABASE_URL empty"})
			return nil
		}
		return fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultLambdaOptions()))
	} else {
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	}
	if err != nil {
		if config.IsDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_repos", map[string]any{"reason": "database connect failed", "error": err.Error()})
			return nil
		}
		return err
	}
	a.DB = sqlDB
	a.health["postgres"] = sqlDB.PingContext
	if err := metrics.RegisterDB(sqlDB, "docchat"); err != nil {
		telemetry.Warn("bootstrap.db_metrics", map[string]any{"error": err.Error()})
	}
	if !db.IsLambdaRuntime() {
		a.onClose(sqlDB.Close)
	}
	return nil
}

func (a *App) buildRedis(ctx context.Context) error {
	cfg := a.Config
	if cfg.QueueType != "redis" && cfg.RateLimitBackend != "redis" {
		return nil
	}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return fmt.Errorf("REDIS_URL is required when QUEUE or RATE_LIMIT_BACKEND is redis")
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("ping redis: %w", err)
	}
	a.Redis = client
	a.health["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	a.onClose(client.Close)
	return nil
}

func (a *App) buildStore(ctx context.Context) error {
	cfg := a.Config
	var (
		store object.Store
		err   error
	)
	switch cfg.ObjectStoreType {
	case "s3":
		store, err = s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	case "minio":
		store, err = miniostore.New(ctx, miniostore.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
	default:
		store = localstore.New(cfg.LocalStoreDir)
	}
	if err != nil {
		return fmt.Errorf("object store %s: %w", cfg.ObjectStoreType, err)
	}
	a.Store = store
	return nil
}

func (a *App) buildQueue(ctx context.Context) error {
	cfg := a.Config
	switch cfg.QueueType {
	case "redis":
		q := queue.NewRedis(a.Redis, "")
		a.Queue, a.Consumer = q, q
	case "sqs":
		q, err := queue.NewSQSClient(ctx, queue.SQSOptions{
			QueueURL:          cfg.SQSQueueURL,
			Region:            cfg.AWSRegion,
			VisibilitySeconds: cfg.SQSVisibilitySeconds,
		})
		if err != nil {
			return err
		}
		a.Queue, a.Consumer = q, q
	default:
		q := queue.NewMemory(0)
		a.Queue, a.Consumer = q, q
	}
	return nil
}

func (a *App) buildDocuments(ctx context.Context) error {
	tiers, err := quota.LoadTiers(a.Config.TiersFile)
	if err != nil {
		return err
	}
	if a.DB != nil {
		a.Ledger = quota.NewLedger(quota.NewPGStore(a.DB), tiers)
		a.DocumentsRepo = &documents.PGRepo{DB: a.DB}
	} else {
		a.Ledger = quota.NewMemoryLedger(tiers)
		a.DocumentsRepo = documents.NewMemoryRepo(a.Ledger)
	}
	a.Ledger.SetTotalsSource(a.DocumentsRepo)
	return nil
}

func (a *App) buildEmbedder(ctx context.Context) error {
	cfg := a.Config
	emb, err := embedding.New(embedding.Options{
		Provider: cfg.EmbeddingProvider,
		Model:    cfg.EmbeddingModel,
		Dim:      cfg.EmbeddingDim,
		RPS:      cfg.EmbeddingRPS,
		APIKey:   cfg.OpenAIAPIKey,
		BaseURL:  cfg.OpenAIBaseURL,
	})
	if err != nil {
		return err
	}
	a.Embedder = emb
	return nil
}

func (a *App) buildIndex(ctx context.Context) error {
	cfg := a.Config
	switch cfg.VectorIndex {
	case "pgvector":
		if a.DB == nil {
			return fmt.Errorf("VECTOR_INDEX=pgvector requires DATABASE_URL")
		}
		pg := vectorindex.NewPGVector(a.DB)
		if err := pg.Ready(ctx); err != nil {
			return err
		}
		a.Index = pg
	case "qdrant":
		q, err := vectorindex.NewQdrant(ctx, cfg.QdrantAddr, cfg.QdrantCollection, a.Embedder.Dimension())
		if err != nil {
			return err
		}
		a.Index = q
		a.onClose(q.Close)
	default:
		a.Index = vectorindex.NewMemory()
	}
	return nil
}

func (a *App) buildLLM(ctx context.Context) error {
	cfg := a.Config
	if cfg.LLMProvider != "openai" {
		a.LLM = llm.Extractive{}
		return nil
	}
	client, err := openai.NewClient(openai.Options{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.LLMModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		return err
	}
	a.LLM = client
	return nil
}

func (a *App) buildConversations(ctx context.Context) error {
	cfg := a.Config
	var repo conversations.Repo
	switch {
	case cfg.ConversationStore == "mongo":
		client, database, err := connectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		a.Mongo = client
		a.health["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
		a.onClose(func() error { return client.Disconnect(context.Background()) })
		mongoRepo := conversations.NewMongoRepo(database)
		if err := mongoRepo.EnsureIndexes(ctx); err != nil {
			return err
		}
		repo = mongoRepo
	case cfg.ConversationStore == "postgres" && a.DB != nil:
		repo = &conversations.PGRepo{DB: a.DB}
	default:
		repo = conversations.NewMemoryRepo()
	}
	a.Conversations = conversations.NewService(repo)
	return nil
}

func (a *App) buildServices() {
	cfg := a.Config
	policy := a.retryPolicy()

	a.Documents = &documents.Service{
		Repo:     a.DocumentsRepo,
		Store:    a.Store,
		Ledger:   a.Ledger,
		Queue:    a.Queue,
		Index:    a.Index,
		MaxBytes: cfg.MaxUploadBytes,
		Retry:    policy,
	}

	a.Pipeline = &ingest.Pipeline{
		Docs:      a.DocumentsRepo,
		Store:     a.Store,
		Embedder:  a.Embedder,
		Index:     a.Index,
		Cleaner:   a.Documents,
		Chunker:   ingest.Chunker{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		Retry:     policy,
		BatchSize: cfg.EmbeddingBatchSize,
		Timeout:   cfg.ProcessingTimeout,
	}

	queryPolicy := policy
	queryPolicy.OnRetry = func(attempt int, err error) {
		metrics.IncIngestRetry("query")
	}
	a.Gateway = &retrieval.Gateway{
		Ledger:        a.Ledger,
		Docs:          a.DocumentsRepo,
		Embedder:      a.Embedder,
		Index:         a.Index,
		LLM:           a.LLM,
		Conversations: a.Conversations,
		TopK:          cfg.RetrievalTopK,
		Retry:         queryPolicy,
	}
}

func buildVerifier(ctx context.Context, cfg config.Config) (auth.TokenVerifier, error) {
	var chain auth.ChainVerifier
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		v, err := auth.NewHMACVerifier(cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
		chain = append(chain, v)
	}
	if strings.TrimSpace(cfg.OIDCIssuer) != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, v)
	}
	if len(chain) == 0 {
		if !config.IsDevLike(cfg.Env) {
			return nil, fmt.Errorf("JWT_SECRET or OIDC_ISSUER is required outside dev")
		}
		return nil, nil
	}
	return chain, nil
}

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"docingest/internal/ai"
	"docingest/internal/app"
	"docingest/internal/config"
	"docingest/internal/lock"
	"docingest/internal/pkg/extract"
	"docingest/internal/platform/database"
	minioClient "docingest/internal/platform/minio"
	rabbitmqClient "docingest/internal/platform/rabbitmq"
	redisClient "docingest/internal/platform/redis"
	"docingest/internal/repository"
	"docingest/internal/vectorstore"
	"docingest/internal/vision"
	"docingest/internal/worker"
)

type App struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Store     *repository.Store
	Publisher *rabbitmqClient.Publisher
	Pipeline  *app.DocumentPipeline
	Batch     *app.BatchPipeline

	logger    *slog.Logger
	vectorDB  *gorm.DB
	closers   []func() error
	worker    *worker.IngestWorker
	StartedAt time.Time
}

// New connects every configured backend and assembles the pipelines. Optional
// backends (Redis, RabbitMQ, MinIO) are skipped when disabled.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger, StartedAt: time.Now()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.DB, err = database.New(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := repository.AutoMigrate(a.DB); err != nil {
		return nil, err
	}
	a.Store = repository.NewStore(a.DB)

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithChunker(app.Chunker{Size: cfg.Pipeline.ChunkSize, Overlap: cfg.Pipeline.ChunkOverlap}),
		app.WithCollection(cfg.Vector.Collection),
		app.WithWorkerName(cfg.App.WorkerName),
	}

	if cfg.Redis.Enabled {
		a.Redis, err = redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		ttl := time.Duration(cfg.Redis.LeaseTTLSeconds) * time.Second
		opts = append(opts, app.WithLocker(lock.NewRedisLocker(a.Redis, cfg.Redis.LeasePrefix, ttl)))
	}

	if cfg.RabbitMQ.Enabled {
		a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			return nil, err
		}
		for _, queue := range []string{cfg.RabbitMQ.EventQueue, cfg.RabbitMQ.IngestQueue} {
			if err := rabbitmqClient.DeclareQueue(a.MQConn, queue); err != nil {
				return nil, err
			}
		}
		a.Publisher = rabbitmqClient.NewPublisher(a.MQConn, cfg.RabbitMQ.EventQueue, cfg.RabbitMQ.IngestQueue)
		opts = append(opts, app.WithEventPublisher(a.Publisher))
	}

	if cfg.ObjectStore.Enabled {
		archive, err := minioClient.New(ctx,
			cfg.ObjectStore.Endpoint,
			cfg.ObjectStore.AccessKey,
			cfg.ObjectStore.SecretKey,
			cfg.ObjectStore.Bucket,
			cfg.ObjectStore.UseSSL,
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, app.WithArchiver(archive))
	}

	describer, err := a.newDescriber(cfg.Vision)
	if err != nil {
		return nil, err
	}
	opts = append(opts, app.WithDescriber(describer))

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	vectors, err := a.newVectorStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := extract.NewRegistry()
	a.Pipeline = app.NewDocumentPipeline(a.Store, registry, embedder, vectors, opts...)
	a.Batch = app.NewBatchPipeline(a.Pipeline, a.Store, registry, logger)

	logger.Info("application ready",
		"database", cfg.Database.Driver,
		"vector_store", cfg.Vector.Provider,
		"embedding", cfg.Embedding.Provider,
		"vision", cfg.Vision.Provider,
		"redis", cfg.Redis.Enabled,
		"rabbitmq", cfg.RabbitMQ.Enabled,
		"object_store", cfg.ObjectStore.Enabled)
	return a, nil
}

func newEmbedder(cfg config.EmbeddingConfig) (ai.Embedder, error) {
	aiCfg := ai.EmbeddingConfig{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Model: cfg.Model}
	switch cfg.Provider {
	case "langchain":
		return ai.NewLangChainEmbedder(aiCfg)
	default:
		return ai.NewOpenAICompatibleClient(aiCfg), nil
	}
}

func (a *App) newVectorStore(ctx context.Context, cfg *config.Config) (vectorstore.Store, error) {
	switch cfg.Vector.Provider {
	case "qdrant":
		store, err := vectorstore.NewQdrantStore(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.APIKey)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "pgvector":
		db := a.DB
		if cfg.Vector.DSN != "" || cfg.Database.Driver != database.DriverPostgres {
			var err error
			db, err = database.New(ctx, database.DriverPostgres, cfg.Vector.DSN)
			if err != nil {
				return nil, err
			}
			a.vectorDB = db
		}
		return vectorstore.NewPGVectorStore(ctx, db)
	default:
		return vectorstore.NewMemoryStore(), nil
	}
}

func (a *App) newDescriber(cfg config.VisionConfig) (vision.Describer, error) {
	if cfg.Provider != "onnx" {
		return vision.NewBasicDescriber(), nil
	}
	classifier := vision.NewClassifier(cfg.ModelPath, cfg.LabelsPath, cfg.ONNXSharedLibPath, cfg.TopK)
	a.closers = append(a.closers, classifier.Close)
	return classifier, nil
}

// StartWorker consumes the ingest queue until ctx is cancelled or Close is called.
func (a *App) StartWorker(ctx context.Context) error {
	if a.MQConn == nil {
		return errors.New("start ingest worker failed: rabbitmq is not enabled")
	}
	a.worker = worker.NewIngestWorker(a.MQConn, a.Pipeline, a.Config.RabbitMQ.IngestQueue, a.logger)
	if err := a.worker.Start(ctx); err != nil {
		return fmt.Errorf("start ingest worker failed: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	var closeErr error
	if a.worker != nil {
		a.worker.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if err := database.Close(a.vectorDB); err != nil {
		closeErr = err
	}
	if err := database.Close(a.DB); err != nil {
		closeErr = err
	}
	return closeErr
}

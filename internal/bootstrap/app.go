package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	appsvc "dermassist/internal/app"
	"dermassist/internal/cache"
	"dermassist/internal/config"
	"dermassist/internal/model"
	mysqlClient "dermassist/internal/platform/mysql"
	rabbitmqClient "dermassist/internal/platform/rabbitmq"
	redisClient "dermassist/internal/platform/redis"
	"dermassist/internal/rag"
	"dermassist/internal/repository"
	"dermassist/internal/repository/memory"
	"dermassist/internal/storage"
	"dermassist/internal/vision"
	"dermassist/internal/worker"
)

type App struct {
	Config       *config.Config
	MySQL        *gorm.DB
	Redis        *redis.Client
	MQConn       *amqp.Connection
	Publisher    *rabbitmqClient.IngestPublisher
	IngestWorker *worker.IngestionWorker

	Auth       *appsvc.AuthService
	RAG        *appsvc.RAGService
	Embedder   *rag.ResilientEmbedder
	Classifier *vision.Classifier

	StartedAt time.Time
}

// New connects MySQL, Redis and RabbitMQ, wires the services on top of them
// and starts the ingestion worker.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	a := &App{Config: cfg, StartedAt: time.Now()}
	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	files, err := storage.NewLocalFileStore(cfg.Upload.Dir)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	embedder, err := NewEmbedder(cfg.Embedding)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	docRepo := repository.NewDocumentRepository(a.MySQL)
	a.Publisher = rabbitmqClient.NewIngestPublisher(a.MQConn, cfg.RabbitMQ.IngestQueue)
	a.Embedder = embedder
	a.Auth = appsvc.NewAuthService(repository.NewUserRepository(a.MySQL), cfg.Auth.JWTSecret, cfg.JWTExpiration())
	a.RAG, err = appsvc.NewRAGService(appsvc.RAGDeps{
		Documents: docRepo,
		Chunks:    repository.NewChunkRepository(a.MySQL),
		Files:     files,
		Queue:     a.Publisher,
		Cache:     cache.NewDocumentStatusCache(a.Redis, cfg.Redis.StatusTTL()),
		Embedder:  embedder,
		Generator: NewGenerator(cfg.Generation),
	}, ragConfig(cfg.RAG))
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Classifier = vision.NewClassifier(cfg.Vision.ModelPath, cfg.Vision.LabelsPath, cfg.Vision.ONNXSharedLibPath, cfg.Vision.TopK)

	a.IngestWorker = worker.NewIngestionWorker(a.MQConn, a.RAG, cfg.RabbitMQ.IngestQueue, cfg.Worker.Concurrency)
	if err := a.IngestWorker.Start(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("start ingestion worker failed: %w", err)
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	var err error
	a.MySQL, err = mysqlClient.New(ctx, mysqlClient.Options{
		DSN:          cfg.MySQLDSN(),
		MaxOpenConns: cfg.MySQL.MaxOpenConns,
		MaxIdleConns: cfg.MySQL.MaxIdleConns,
		LogLevel:     cfg.MySQL.LogLevel,
	}, &model.User{}, &model.Document{}, &model.Chunk{})
	if err != nil {
		return err
	}
	a.Redis, err = redisClient.New(ctx, redisClient.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue)
	return err
}

// NewLocal wires the services on in-memory stores with synchronous
// ingestion. Nothing outside the process is contacted except the optional
// hosted models.
func NewLocal(cfg *config.Config) (*App, error) {
	files, err := storage.NewLocalFileStore(cfg.Upload.Dir)
	if err != nil {
		return nil, err
	}
	embedder, err := NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	store := memory.New()
	queue := worker.NewInlineQueue()
	ragService, err := appsvc.NewRAGService(appsvc.RAGDeps{
		Documents: store,
		Chunks:    store,
		Files:     files,
		Queue:     queue,
		Embedder:  embedder,
		Generator: NewGenerator(cfg.Generation),
	}, ragConfig(cfg.RAG))
	if err != nil {
		return nil, err
	}
	queue.Attach(ragService)

	return &App{
		Config:     cfg,
		Auth:       appsvc.NewAuthService(memory.NewUserStore(), cfg.Auth.JWTSecret, cfg.JWTExpiration()),
		RAG:        ragService,
		Embedder:   embedder,
		Classifier: vision.NewClassifier(cfg.Vision.ModelPath, cfg.Vision.LabelsPath, cfg.Vision.ONNXSharedLibPath, cfg.Vision.TopK),
		StartedAt:  time.Now(),
	}, nil
}

func (a *App) Close() error {
	var errs []error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Classifier != nil {
		a.Classifier.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MySQL != nil {
		if sqlDB, err := a.MySQL.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

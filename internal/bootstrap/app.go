package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"compliance-doc-engine/internal/ai"
	"compliance-doc-engine/internal/app"
	"compliance-doc-engine/internal/blob"
	"compliance-doc-engine/internal/cache"
	"compliance-doc-engine/internal/config"
	"compliance-doc-engine/internal/model"
	mysqlClient "compliance-doc-engine/internal/platform/mysql"
	rabbitmqClient "compliance-doc-engine/internal/platform/rabbitmq"
	redisClient "compliance-doc-engine/internal/platform/redis"
	"compliance-doc-engine/internal/repository"
	"compliance-doc-engine/internal/worker"
)

type App struct {
	Config *config.Config
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	IngestService *app.IngestService
	QueryService  *app.QueryService
	IngestWorker  *worker.IngestWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(&model.Document{}, &model.Chunk{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	blobStore, err := blob.NewStore(cfg.Ingest.BlobDir)
	if err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	docRepo := repository.NewDocumentRepository(mysqlDB)
	chunkRepo := repository.NewChunkRepository(mysqlDB)
	statusCache := cache.NewStatusCache(redisCli, time.Duration(cfg.Redis.StatusTTLSeconds)*time.Second)
	publisher := rabbitmqClient.NewIngestPublisher(mqConn, cfg.RabbitMQ.IngestQueue)

	ingestService := app.NewIngestService(
		docRepo,
		chunkRepo,
		blobStore,
		publisher,
		statusCache,
		embedder,
		app.IngestConfig{
			EmbedBatchSize:  cfg.Ingest.EmbedBatchSize,
			EmbedTimeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
			EmbedMaxRetries: cfg.Ingest.EmbedMaxRetries,
			RetryBaseDelay:  time.Duration(cfg.Ingest.RetryBaseDelayMs) * time.Millisecond,
		},
	)
	queryService := app.NewQueryService(docRepo, chunkRepo, embedder, app.QueryConfig{
		DefaultTopK:          cfg.Query.DefaultTopK,
		MaxTopK:              cfg.Query.MaxTopK,
		DefaultMinSimilarity: float32(cfg.Query.DefaultMinSimilarity),
	})

	ingestWorker := worker.NewIngestWorker(mqConn, ingestService, cfg.RabbitMQ.IngestQueue, cfg.Ingest.Workers)
	if err := ingestWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ingest worker failed: %w", err)
	}

	return &App{
		Config:        cfg,
		MySQL:         mysqlDB,
		Redis:         redisCli,
		MQConn:        mqConn,
		IngestService: ingestService,
		QueryService:  queryService,
		IngestWorker:  ingestWorker,
		StartedAt:     time.Now(),
	}, nil
}

func newEmbedder(cfg *config.Config) (ai.Embedder, error) {
	switch cfg.Embedding.Backend {
	case "openai":
		return ai.NewOpenAIEmbedder(ai.OpenAIConfig{
			BaseURL:   cfg.Embedding.BaseURL,
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			Timeout:   time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
		}), nil
	case "onnx":
		return ai.NewONNXEmbedder(ai.ONNXConfig{
			ModelPath: cfg.Embedding.ONNXModelPath,
			VocabPath: cfg.Embedding.ONNXVocabPath,
			LibPath:   cfg.Embedding.ONNXLibPath,
			Dimension: cfg.Embedding.Dimension,
			SeqLen:    cfg.Embedding.ONNXSeqLen,
		}), nil
	}
	return nil, fmt.Errorf("unknown embedding backend %q", cfg.Embedding.Backend)
}

func (a *App) Close() error {
	var closeErr error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
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
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"docchat/internal/ai"
	"docchat/internal/app"
	"docchat/internal/cache"
	"docchat/internal/chunker"
	"docchat/internal/config"
	"docchat/internal/engine"
	"docchat/internal/index"
	"docchat/internal/logging"
	"docchat/internal/metastore"
	"docchat/internal/metrics"
	mysqlClient "docchat/internal/platform/mysql"
	rabbitmqClient "docchat/internal/platform/rabbitmq"
	redisClient "docchat/internal/platform/redis"
	"docchat/internal/reader"
	"docchat/internal/repository"
	"docchat/internal/retrieval"
	"docchat/internal/vectorstore"
	"docchat/internal/vectorstore/local"
	"docchat/internal/vectorstore/pgstore"
	"docchat/internal/worker"
)

type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	Documents   *app.DocumentService
	Engines     *engine.Factory
	VectorStore vectorstore.Store

	MySQL            *gorm.DB
	Redis            *redis.Client
	MQConn           *amqp.Connection
	Exchanges        *repository.ExchangeRepository
	TranscriptWorker *worker.TranscriptWorker

	StartedAt time.Time
}

// New loads configuration from configPath (CONFIG_FILE or the default when empty) and wires
// every component. Optional services are only dialled when enabled.
func New(ctx context.Context, configPath string) (*App, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFile(configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	a := &App{
		Config:    cfg,
		Logger:    logging.New(cfg.Log, cfg.App.Env, os.Stderr),
		Metrics:   metrics.New(),
		StartedAt: time.Now(),
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	chat, embedder, err := ai.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("create llm backend failed: %w", err)
	}

	store, err := openVectorStore(ctx, cfg, a.Logger)
	if err != nil {
		return err
	}
	a.VectorStore = store

	splitter, err := chunker.NewSentenceChunker(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		return err
	}
	builder := index.NewBuilder(splitter, embedder, store, index.Options{
		BatchSize:   cfg.LLM.EmbeddingBatchSize,
		Concurrency: cfg.LLM.EmbeddingConcurrency,
	}, a.Logger)

	var remote *reader.RemoteParser
	if cfg.Reader.RemoteAPIKey != "" {
		remote, err = reader.NewRemoteParser(reader.RemoteConfig{
			BaseURL:      cfg.Reader.RemoteURL,
			APIKey:       cfg.Reader.RemoteAPIKey,
			PollInterval: time.Duration(cfg.Reader.RemotePollSeconds) * time.Second,
			Timeout:      time.Duration(cfg.Reader.RemoteTimeoutSecond) * time.Second,
		})
		if err != nil {
			return err
		}
	}
	defaultStrategy, err := reader.ParseStrategy(cfg.Reader.DefaultStrategy)
	if err != nil {
		return err
	}

	var history cache.HistoryStore = cache.NewMemoryHistory(cfg.Index.MaxHistory)
	if cfg.Redis.Enabled {
		a.Redis, err = redisClient.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		history = cache.NewRedisHistory(a.Redis, cfg.Index.MaxHistory, time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second)
	}

	var (
		sink        engine.TranscriptSink
		transcripts app.TranscriptReader
	)
	if cfg.MySQL.Enabled {
		a.MySQL, err = mysqlClient.New(ctx, cfg)
		if err != nil {
			return err
		}
		a.Exchanges = repository.NewExchangeRepository(a.MySQL)
		if err := a.Exchanges.AutoMigrate(); err != nil {
			return err
		}
		sink = a.Exchanges
		transcripts = a.Exchanges
	}
	if cfg.RabbitMQ.Enabled {
		a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ)
		if err != nil {
			return err
		}
		sink = rabbitmqClient.NewTranscriptPublisher(a.MQConn, cfg.RabbitMQ.TranscriptQueue)
		if a.Exchanges != nil {
			a.TranscriptWorker = worker.NewTranscriptWorker(a.MQConn, a.Exchanges, cfg.RabbitMQ.TranscriptQueue, a.Logger)
		} else {
			a.Logger.Warn().Msg("rabbitmq enabled without mysql: transcripts are queued but not persisted")
		}
	}

	mode, err := retrieval.ParseMode(cfg.Index.RetrievalMode)
	if err != nil {
		return err
	}
	if _, err := retrieval.AnalyzerFor(cfg.Index.KeywordLanguage); err != nil {
		return err
	}
	factory := engine.NewFactory(store, embedder, chat, history, sink, engine.Config{
		TopK:             cfg.Index.TopK,
		Mode:             mode,
		KeywordLanguage:  cfg.Index.KeywordLanguage,
		KeywordCacheSize: cfg.Index.KeywordCacheSize,
	}, a.Logger)
	a.Engines = factory

	a.Documents = app.NewDocumentService(
		metastore.New(cfg.Storage.MetadataFile, a.Logger),
		reader.New(remote, a.Logger),
		builder,
		app.EngineOpenerFunc(func(ctx context.Context, indexID string) (app.QueryEngine, error) {
			eng, err := factory.Open(ctx, indexID)
			if err != nil {
				return nil, err
			}
			return eng, nil
		}),
		transcripts,
		a.Metrics,
		app.Options{
			FilesDir:        cfg.Storage.FilesDir,
			DefaultStrategy: defaultStrategy,
		},
		a.Logger,
	)

	a.Logger.Info().
		Str("llm", cfg.LLM.Backend).
		Str("model", cfg.LLM.Model).
		Str("embedding_model", embedder.ModelName()).
		Str("vector", cfg.Vector.Backend).
		Str("retrieval", string(mode)).
		Bool("redis", cfg.Redis.Enabled).
		Bool("mysql", cfg.MySQL.Enabled).
		Bool("rabbitmq", cfg.RabbitMQ.Enabled).
		Msg("application wired")
	return nil
}

func openVectorStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (vectorstore.Store, error) {
	switch cfg.Vector.Backend {
	case "pgvector":
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:        cfg.Vector.PostgresDSN,
			Collection: cfg.Vector.Collection,
			Dimensions: cfg.LLM.EmbeddingDimensions,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := local.New(local.Config{
			Dir:        cfg.Vector.Dir,
			Collection: cfg.Vector.Collection,
			Dimensions: cfg.LLM.EmbeddingDimensions,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// StartWorkers launches background consumers. Only the long-running server calls it.
func (a *App) StartWorkers(ctx context.Context) error {
	if a.TranscriptWorker == nil {
		return nil
	}
	if err := a.TranscriptWorker.Start(ctx); err != nil {
		return fmt.Errorf("start transcript worker failed: %w", err)
	}
	return nil
}

// HealthChecks returns one probe per enabled dependency.
func (a *App) HealthChecks() map[string]func(ctx context.Context) error {
	checks := make(map[string]func(ctx context.Context) error)
	switch store := a.VectorStore.(type) {
	case *pgstore.Store:
		checks["vector_store"] = store.Ping
	case *local.Store:
		checks["vector_store"] = func(context.Context) error {
			_, err := os.Stat(store.Root())
			return err
		}
	}
	if a.MySQL != nil {
		checks["mysql"] = func(ctx context.Context) error {
			sqlDB, err := a.MySQL.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	if a.MQConn != nil {
		checks["rabbitmq"] = func(context.Context) error {
			if a.MQConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}
	}
	return checks
}

func (a *App) Close() error {
	var closeErr error
	if a.TranscriptWorker != nil {
		a.TranscriptWorker.Close()
	}
	if a.Engines != nil {
		a.Engines.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		if err := mysqlClient.Close(a.MySQL); err != nil {
			closeErr = err
		}
	}
	if a.VectorStore != nil {
		if err := a.VectorStore.Close(); err != nil {
			closeErr = err
		}
	}
	return closeErr
}

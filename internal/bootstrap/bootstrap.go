package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opn-tools/permit-assistant/internal/config"
	"github.com/opn-tools/permit-assistant/internal/core/ports"
	"github.com/opn-tools/permit-assistant/internal/core/retrieval"
	"github.com/opn-tools/permit-assistant/internal/core/usecase"
	"github.com/opn-tools/permit-assistant/internal/infrastructure/chunking"
	"github.com/opn-tools/permit-assistant/internal/infrastructure/extractor/pdfext"
	"github.com/opn-tools/permit-assistant/internal/infrastructure/llm/gemini"
	"github.com/opn-tools/permit-assistant/internal/infrastructure/queue/nats"
	"github.com/opn-tools/permit-assistant/internal/infrastructure/report/excel"
	"github.com/opn-tools/permit-assistant/internal/infrastructure/repository/postgres"
	"github.com/opn-tools/permit-assistant/internal/infrastructure/resilience"
	"github.com/opn-tools/permit-assistant/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue       ports.MessageQueue
	Sessions    ports.SessionStore
	Retriever   ports.ContextProvider
	Checker     ports.SubmissionChecker
	Report      ports.ReportWriter
	VectorizeUC *usecase.VectorizeKnowledgeUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sessions := postgres.NewSessionRepository(db)
	if err := sessions.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure sessions schema: %w", err)
	}
	knowledge := postgres.NewKnowledgeStore(db)
	if err := knowledge.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure knowledge schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executorCfg := resilience.DefaultConfig()
	executorCfg.BreakerEnabled = cfg.BreakerEnabled
	executor := resilience.NewExecutor(executorCfg)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	llm := gemini.New(cfg.GeminiURL, cfg.GeminiAPIKey, cfg.GeminiGenModel, cfg.GeminiEmbedModel, gemini.Options{
		EmbedRatePerSecond: cfg.GeminiEmbedRPS,
		EmbedBurst:         cfg.GeminiEmbedBurst,
		Executor:           executor,
	})
	factExtractor := gemini.NewExtractor(llm)
	assessor := gemini.NewAssessor(llm)

	embedder := retrieval.NewCachingEmbedder(llm, cfg.EmbedCacheSize)
	engine := retrieval.NewEngine(embedder, knowledge, logger, retrieval.Config{
		TopK:         cfg.RetrievalTopK,
		FusionWeight: cfg.RetrievalFusionAlfa,
		MMRLambda:    cfg.RetrievalMMRLambda,
	})

	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	textExtractor := pdfext.NewExtractor(storage)
	report := excel.NewWriter()

	catalog, err := usecase.DefaultCatalog()
	if err != nil {
		return nil, fmt.Errorf("load requirement catalog: %w", err)
	}

	checker := usecase.NewCheckSubmissionUseCase(
		sessions,
		storage,
		textExtractor,
		factExtractor,
		catalog,
		engine,
		assessor,
		logger,
		cfg.RetrievalTopK,
	)
	vectorizeUC := usecase.NewVectorizeKnowledgeUseCase(llm, chunker, knowledge, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:       queue,
		Sessions:    sessions,
		Retriever:   engine,
		Checker:     checker,
		Report:      report,
		VectorizeUC: vectorizeUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brandtrace/ownership-cli/internal/evalsink"
	"github.com/brandtrace/ownership-cli/internal/mapping"
	"github.com/brandtrace/ownership-cli/internal/pipeline"
	"github.com/brandtrace/ownership-cli/internal/stage"
	"github.com/brandtrace/ownership-cli/internal/store"
	"github.com/brandtrace/ownership-cli/internal/trace"
	"github.com/brandtrace/ownership-cli/internal/verify"
	anthropicpkg "github.com/brandtrace/ownership-cli/pkg/anthropic"
	"github.com/brandtrace/ownership-cli/pkg/jina"
	"github.com/brandtrace/ownership-cli/pkg/openfoodfacts"
	"github.com/brandtrace/ownership-cli/pkg/perplexity"
)

// pipelineEnv holds the initialized store, clients, and pipeline shared
// by the resolve/batch/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Registry *mapping.Registry
	Hub      *trace.Hub
	Sink     evalsink.Sink
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Sink != nil {
		if err := pe.Sink.Close(); err != nil {
			zap.L().Warn("eval sink close failed", zap.Error(err))
		}
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "ownership.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, API clients, mapping registry, and the
// research stage ladder. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (OWNERCLI_ANTHROPIC_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	mappings, err := st.ListMappings(ctx)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load brand mappings")
	}
	registry := mapping.NewRegistry(mappings)
	zap.L().Info("mapping registry loaded", zap.Int("brands", registry.Len()))

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	jinaOpts := []jina.Option{jina.WithBaseURL(cfg.Jina.BaseURL)}
	if cfg.Jina.SearchBaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
	}
	if cfg.Jina.SearchRPS > 0 {
		jinaOpts = append(jinaOpts, jina.WithSearchRPS(cfg.Jina.SearchRPS))
	}
	jinaClient := jina.NewClient(cfg.Jina.Key, jinaOpts...)

	stages := []stage.ResearchStage{
		stage.NewStaticStage(registry, cfg.Resolver.MappingConfidence),
		stage.NewInferenceStage(anthropicClient, cfg.Anthropic.InferenceModel),
	}
	if cfg.Jina.Key != "" {
		stages = append(stages, stage.NewWebSearchStage(jinaClient, anthropicClient, cfg.Anthropic.SynthesisModel, stage.WebSearchConfig{
			Queries:     cfg.Resolver.SearchQueries,
			ResultsEach: cfg.Resolver.SearchResultsEach,
			PageFetches: cfg.Resolver.SearchPageFetches,
		}))
	} else {
		zap.L().Warn("OWNERCLI_JINA_KEY not set, web search stage disabled")
	}

	var verifier verify.Verifier
	if cfg.Perplexity.Key != "" {
		perplexityClient := perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
		verifier = verify.NewPerplexityVerifier(perplexityClient, cfg.Perplexity.Model, verify.DeltaBounds{
			Min: cfg.Resolver.VerifyMinDelta,
			Max: cfg.Resolver.VerifyMaxDelta,
		})
	} else {
		zap.L().Warn("OWNERCLI_PERPLEXITY_KEY not set, verification disabled")
	}

	identity := openfoodfacts.NewClient(
		openfoodfacts.WithBaseURL(cfg.OpenFoodFacts.BaseURL),
		openfoodfacts.WithUserAgent(cfg.OpenFoodFacts.UserAgent),
	)

	var sink evalsink.Sink
	if cfg.Eval.WorkbookPath != "" {
		xs, err := evalsink.NewXLSXSink(cfg.Eval.WorkbookPath)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "open eval workbook")
		}
		sink = evalsink.NewAsync(xs)
		zap.L().Info("eval sink enabled", zap.String("path", cfg.Eval.WorkbookPath))
	}

	hub := trace.NewHub()

	p := pipeline.New(cfg.Resolver, pipeline.Deps{
		Stages:    stages,
		Verifier:  verifier,
		Store:     st,
		Identity:  identity,
		Sink:      sink,
		Publisher: hub,
	})

	return &pipelineEnv{
		Store:    st,
		Pipeline: p,
		Registry: registry,
		Hub:      hub,
		Sink:     sink,
	}, nil
}

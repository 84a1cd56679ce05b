package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sightline-analytics/costlens/internal/classify"
	"github.com/sightline-analytics/costlens/internal/cost"
	"github.com/sightline-analytics/costlens/internal/decision"
	"github.com/sightline-analytics/costlens/internal/ingest"
	"github.com/sightline-analytics/costlens/internal/pipeline"
	"github.com/sightline-analytics/costlens/internal/queue"
	"github.com/sightline-analytics/costlens/internal/store"
	"github.com/sightline-analytics/costlens/internal/webhook"
)

// pipelineEnv bundles the wired components shared by serve and worker.
type pipelineEnv struct {
	Store   store.Store
	Queue   queue.Queue
	Manager *ingest.Manager
	Engine  *decision.Engine
	Stages  *pipeline.Stages
}

func (e *pipelineEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "costlens.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initQueue returns the task queue matching the store driver. Postgres gets
// the durable SKIP LOCKED queue on the shared pool; sqlite deployments are
// single-process, so an in-memory queue suffices.
func initQueue(ctx context.Context, st store.Store) (queue.Queue, error) {
	ps, ok := st.(*store.PostgresStore)
	if !ok {
		return queue.NewMemory(), nil
	}
	q := queue.NewPostgres(ps.Pool())
	if err := q.Migrate(ctx); err != nil {
		return nil, eris.Wrap(err, "migrate task queue")
	}
	return q, nil
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	q, err := initQueue(ctx, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	rules := classify.DefaultRules()
	if cfg.Classify.RulesPath != "" {
		rules, err = classify.LoadRules(cfg.Classify.RulesPath)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		zap.L().Info("classification rules loaded",
			zap.String("path", cfg.Classify.RulesPath),
			zap.Int("rules", len(rules)),
		)
	}
	classifier, err := classify.NewRuleEngine(rules)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	comparator := cost.NewComparator(st, cfg.Cost.DefaultThreshold, cfg.Cost.CategoryThresholds)
	engine := decision.NewEngine(st, q, cfg.Decision)
	dispatcher := webhook.NewDispatcher(cfg.Webhook, st)
	extractor := ingest.NewExtractor(st, q, cfg.Ingest)

	return &pipelineEnv{
		Store:   st,
		Queue:   q,
		Manager: ingest.NewManager(st, q, cfg.Ingest),
		Engine:  engine,
		Stages:  pipeline.NewStages(st, extractor, classifier, comparator, engine, dispatcher, cfg.Queue.MaxTaskAttempts),
	}, nil
}

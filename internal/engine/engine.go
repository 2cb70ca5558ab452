// Package engine assembles the mapping engine from its parts: schema
// reference, pattern memory, strategy pipeline, quality assessor,
// reflection, and the task orchestrator. Library embedders and the CLI
// both go through this package.
package engine

import (
	"context"
	"fmt"

	"enmap/internal/cache"
	"enmap/internal/config"
	"enmap/internal/inference"
	"enmap/internal/logging"
	"enmap/internal/memory"
	"enmap/internal/pipeline"
	"enmap/internal/quality"
	"enmap/internal/reflection"
	"enmap/internal/resilience"
	"enmap/internal/schema"
	"enmap/internal/task"
)

// Engine is a fully wired mapping engine.
type Engine struct {
	Config       *config.Config
	Schema       *schema.Reference
	Memory       *memory.Memory
	Pipeline     *pipeline.Pipeline
	Assessor     *quality.Assessor
	Analyzer     *reflection.Analyzer
	Orchestrator *task.Orchestrator

	repo    memory.Repository
	store   task.Store
	worker  *reflection.Worker
	watcher *schema.Watcher
	exec    *resilience.Executor
}

// New builds an engine from configuration. The caller owns the returned
// engine and must Close it.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ref, err := schema.Load(cfg.Schema.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load target schema: %w", err)
	}

	repo, err := memory.OpenSQLiteRepository(cfg.Memory.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pattern repository: %w", err)
	}
	mem := memory.New(repo, cfg.Memory)

	client, err := newClient(ctx, cfg)
	if err != nil {
		repo.Close()
		return nil, err
	}
	exec := resilience.NewExecutor(client, cfg.Inference, cfg.Resilience)

	pipe := pipeline.New(cfg.Engine.AcceptanceThreshold,
		pipeline.NewDirectPattern(mem, ref, cfg.Memory),
		pipeline.NewSemanticInference(exec, ref, cfg.Inference),
		pipeline.NewContextMatch(ref),
	)
	assessor := quality.NewAssessor(ref, cfg.Quality)
	analyzer := reflection.NewAnalyzer(mem, ref, cfg.Reflection.MinFrequency)

	var worker *reflection.Worker
	if cfg.Reflection.Async {
		worker = reflection.NewWorker(analyzer, cfg.Reflection.QueueSize)
		worker.Start()
	}

	var store task.Store
	if cfg.Engine.TaskDatabasePath != "" {
		store, err = task.OpenSQLiteStore(cfg.Engine.TaskDatabasePath)
		if err != nil {
			repo.Close()
			if worker != nil {
				worker.Stop()
			}
			return nil, fmt.Errorf("failed to open task store: %w", err)
		}
	} else {
		store = task.NewMemoryStore()
	}

	orch := task.NewOrchestrator(task.Options{
		Config:   cfg,
		Pipeline: pipe,
		Assessor: assessor,
		Schema:   ref,
		Memory:   mem,
		Groups:   cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTLDuration()),
		Store:    store,
		Worker:   worker,
		Analyzer: analyzer,
	})

	eng := &Engine{
		Config:       cfg,
		Schema:       ref,
		Memory:       mem,
		Pipeline:     pipe,
		Assessor:     assessor,
		Analyzer:     analyzer,
		Orchestrator: orch,
		repo:         repo,
		store:        store,
		worker:       worker,
		exec:         exec,
	}

	if cfg.Schema.Watch && cfg.Schema.Path != "" {
		eng.watcher, err = schema.NewWatcher(ref)
		if err != nil {
			logging.Boot("schema watcher unavailable: %v", err)
		} else if err := eng.watcher.Start(ctx); err != nil {
			logging.Boot("schema watcher failed to start: %v", err)
			eng.watcher = nil
		}
	}

	logging.Boot("engine ready: provider=%s, schema devices=%d", client.Name(), len(ref.DeviceTypes()))
	return eng, nil
}

// newClient picks the inference provider.
func newClient(ctx context.Context, cfg *config.Config) (inference.Client, error) {
	switch cfg.Inference.Provider {
	case "http":
		return inference.NewHTTPClient(cfg.Inference)
	case "gemini":
		return inference.NewGeminiClient(ctx, cfg.Inference)
	case "none", "":
		return inference.NoneClient{}, nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Inference.Provider)
	}
}

// Close drains running tasks, stops background workers, and flushes
// learned patterns to the repository.
func (e *Engine) Close() error {
	e.Orchestrator.Shutdown()
	if e.worker != nil {
		e.worker.Stop()
	}
	if e.watcher != nil {
		e.watcher.Stop()
	}

	var firstErr error
	if err := e.Memory.Flush(); err != nil {
		firstErr = err
	}
	if err := e.repo.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	logging.CloseAll()
	return firstErr
}

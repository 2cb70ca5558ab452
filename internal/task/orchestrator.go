// Package task turns mapping requests into asynchronous batch tasks:
// callers get a task identifier immediately and poll for status while
// batches run concurrently through the strategy pipeline.
package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"enmap/internal/cache"
	"enmap/internal/config"
	"enmap/internal/logging"
	"enmap/internal/memory"
	"enmap/internal/pipeline"
	"enmap/internal/quality"
	"enmap/internal/reflection"
	"enmap/internal/schema"
	"enmap/internal/types"
)

// Filter selects which finished results an improvement pass should re-map.
// It receives the result's quality level ("" when no assessment exists).
type Filter func(types.QualityLevel) bool

// FilterAll re-maps every result.
func FilterAll(types.QualityLevel) bool { return true }

// FilterBelow re-maps results whose quality ranks below level, including
// results with no assessment at all.
func FilterBelow(level types.QualityLevel) Filter {
	return func(l types.QualityLevel) bool {
		if l == "" {
			return true
		}
		return l.Rank() < level.Rank()
	}
}

// Request is one mapping job.
type Request struct {
	Points    []types.RawPoint
	BatchSize int    // 0 uses the configured default
	Filter    Filter // nil skips the improvement pass
}

// Orchestrator owns task lifecycle: validation, batching, concurrent
// execution, progress tracking, and handoff to reflection.
type Orchestrator struct {
	cfg      *config.Config
	pipe     *pipeline.Pipeline
	assessor *quality.Assessor
	ref      *schema.Reference
	mem      *memory.Memory
	groups   *cache.Cache
	store    Store

	worker   *reflection.Worker   // async reflection, may be nil
	analyzer *reflection.Analyzer // inline reflection, may be nil

	slots chan struct{} // bounds concurrent pipeline work across all tasks

	mu    sync.RWMutex
	tasks map[string]*types.BatchTask

	wg sync.WaitGroup
}

// Options carries the orchestrator's collaborators.
type Options struct {
	Config   *config.Config
	Pipeline *pipeline.Pipeline
	Assessor *quality.Assessor
	Schema   *schema.Reference
	Memory   *memory.Memory
	Groups   *cache.Cache
	Store    Store
	Worker   *reflection.Worker
	Analyzer *reflection.Analyzer
}

// NewOrchestrator assembles an orchestrator. Store defaults to in-memory.
func NewOrchestrator(opts Options) *Orchestrator {
	store := opts.Store
	if store == nil {
		store = NewMemoryStore()
	}
	poolSize := opts.Config.Engine.WorkerPoolSize
	if poolSize < 1 {
		poolSize = 1
	}
	return &Orchestrator{
		cfg:      opts.Config,
		pipe:     opts.Pipeline,
		assessor: opts.Assessor,
		ref:      opts.Schema,
		mem:      opts.Memory,
		groups:   opts.Groups,
		store:    store,
		worker:   opts.Worker,
		analyzer: opts.Analyzer,
		slots:    make(chan struct{}, poolSize),
		tasks:    make(map[string]*types.BatchTask),
	}
}

// Submit validates the request, registers a pending task, and starts it in
// the background. The task identifier is returned immediately.
func (o *Orchestrator) Submit(req Request) (string, error) {
	if len(req.Points) == 0 {
		return "", &types.ValidationError{Field: "points", Reason: "must not be empty"}
	}
	if max := o.cfg.Engine.MaxPointsPerTask; max > 0 && len(req.Points) > max {
		return "", &types.ResourceExhaustedError{Resource: "points per task", Limit: max, Requested: len(req.Points)}
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = o.cfg.Engine.BatchSize
	}
	totalBatches := (len(req.Points) + batchSize - 1) / batchSize

	task := &types.BatchTask{
		TaskID:       uuid.NewString(),
		Status:       types.TaskPending,
		TotalPoints:  len(req.Points),
		TotalBatches: totalBatches,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	o.mu.Lock()
	o.tasks[task.TaskID] = task
	o.mu.Unlock()
	o.persist(task)

	logging.Tasks("task %s submitted: %d points in %d batches", task.TaskID, task.TotalPoints, totalBatches)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(task.TaskID, req, batchSize)
	}()
	return task.TaskID, nil
}

// RunSync executes a request to completion and returns the finished task.
// Used by the CLI, which has nothing better to do than wait.
func (o *Orchestrator) RunSync(ctx context.Context, req Request) (*types.BatchTask, error) {
	taskID, err := o.Submit(req)
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			task, err := o.Status(taskID)
			if err != nil {
				return nil, err
			}
			if task.Status.Terminal() {
				return task, nil
			}
		}
	}
}

// Status returns a snapshot of the task, preferring live state over the
// persisted one.
func (o *Orchestrator) Status(taskID string) (*types.BatchTask, error) {
	o.mu.RLock()
	task, ok := o.tasks[taskID]
	if ok {
		snapshot := task.Clone()
		o.mu.RUnlock()
		return snapshot, nil
	}
	o.mu.RUnlock()
	return o.store.Get(taskID)
}

// Shutdown waits for running tasks to finish.
func (o *Orchestrator) Shutdown() {
	o.wg.Wait()
}

// taskBudget derives the task deadline from the point count: a per-point
// budget, capped by the ceiling so pathological inputs cannot hold a slot
// for hours.
func (o *Orchestrator) taskBudget(points int) time.Duration {
	budget := time.Duration(points) * o.cfg.Engine.PerPointBudgetDuration()
	if ceiling := o.cfg.Engine.TaskTimeoutCeilingDuration(); ceiling > 0 && budget > ceiling {
		budget = ceiling
	}
	if budget <= 0 {
		budget = 10 * time.Minute
	}
	return budget
}

// batchBudget bounds one batch below the additive sum of its point budgets:
// points inside a batch run concurrently, so granting the full sum would let
// a single slow batch starve the rest of the task window.
func (o *Orchestrator) batchBudget(points int) time.Duration {
	per := o.cfg.Engine.PerPointBudgetDuration()
	if per <= 0 || points <= 0 {
		return 0
	}
	budget := per * time.Duration((points+1)/2)
	if budget < per {
		budget = per
	}
	return budget
}

func (o *Orchestrator) run(taskID string, req Request, batchSize int) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), o.taskBudget(len(req.Points)))
	defer cancel()

	o.update(taskID, func(t *types.BatchTask) {
		t.Status = types.TaskProcessing
	})

	results := make([]types.MappingResult, len(req.Points))
	var completed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	maxBatches := o.cfg.Engine.MaxConcurrentBatches
	if maxBatches < 1 {
		maxBatches = 1
	}
	g.SetLimit(maxBatches)

	totalBatches := (len(req.Points) + batchSize - 1) / batchSize
	for b := 0; b < totalBatches; b++ {
		lo := b * batchSize
		hi := lo + batchSize
		if hi > len(req.Points) {
			hi = len(req.Points)
		}
		batchNum := b
		g.Go(func() error {
			bctx := gctx
			if budget := o.batchBudget(hi - lo); budget > 0 {
				var cancel context.CancelFunc
				bctx, cancel = context.WithTimeout(gctx, budget)
				defer cancel()
			}
			o.runBatch(bctx, req.Points[lo:hi], results[lo:hi])
			done := completed.Add(1)
			o.update(taskID, func(t *types.BatchTask) {
				// Batches finish out of order; never let a stale count
				// roll progress backwards for pollers.
				if int(done) > t.CompletedBatches {
					t.CompletedBatches = int(done)
					t.Progress = float64(done) / float64(totalBatches)
				}
			})
			logging.TasksDebug("task %s: batch %d/%d done", taskID, batchNum+1, totalBatches)
			return nil
		})
	}
	g.Wait()

	// Improvement pass: re-map the results the caller's filter selects,
	// keeping the new result only when it actually improves.
	if req.Filter != nil && ctx.Err() == nil {
		o.improve(ctx, results, req.Filter)
	}

	o.update(taskID, func(t *types.BatchTask) {
		t.Status = types.TaskCompleted
		t.Results = results
		t.Progress = 1.0
		if ctx.Err() != nil {
			t.Error = fmt.Sprintf("task budget exhausted after %s, remaining points marked as errors", time.Since(start).Round(time.Millisecond))
		}
	})

	// Hand the finished batch to reflection after the results are
	// committed, never before.
	switch {
	case o.worker != nil:
		o.worker.Enqueue(results)
	case o.analyzer != nil:
		o.analyzer.Analyze(results)
	}

	o.mu.Lock()
	delete(o.tasks, taskID)
	o.mu.Unlock()

	logging.Tasks("task %s completed in %s", taskID, time.Since(start).Round(time.Millisecond))
}

// runBatch fans the batch's points out to the shared worker pool. Each
// point runs in its own goroutine once it holds a pool slot, writing into
// its own index of the caller-provided slice so input order survives
// concurrent completion.
func (o *Orchestrator) runBatch(ctx context.Context, points []types.RawPoint, out []types.MappingResult) {
	var wg sync.WaitGroup
	for i := range points {
		if ctx.Err() != nil {
			out[i] = o.timeoutResult(points[i])
			continue
		}

		select {
		case o.slots <- struct{}{}:
		case <-ctx.Done():
			out[i] = o.timeoutResult(points[i])
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-o.slots }()
			out[i] = o.mapPoint(ctx, points[i])
		}(i)
	}
	wg.Wait()
}

// mapPoint runs one point through classification, quality assessment,
// outcome feedback, and the device-group cache.
func (o *Orchestrator) mapPoint(ctx context.Context, point types.RawPoint) types.MappingResult {
	pctx := ctx
	var cancel context.CancelFunc
	if budget := o.cfg.Engine.PerPointBudgetDuration(); budget > 0 {
		pctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	dctx := o.deviceContext(point)
	result := o.pipe.Classify(pctx, point, dctx)

	// A deadline firing mid-classification cuts the strategy loop short;
	// report that as a timeout, not as a genuinely unmappable point.
	if result.Status == types.StatusUnmapped && ctx.Err() != nil {
		return o.timeoutResult(point)
	}

	if result.Status == types.StatusMapped {
		result.Quality = o.assessor.Assess(result, dctx.Siblings)
	}

	// Feedback: a direct-pattern hit confirms or contradicts the pattern
	// that produced it, judged by the assessed quality.
	if result.Selected != nil && result.Selected.Strategy == types.StrategyDirectPattern {
		o.recordPatternOutcome(result, dctx.DeviceType)
	}

	if key := point.DeviceKey(); key != "" {
		if err := o.groups.Append(key, dctx.DeviceType, point.DeviceID, result); err != nil {
			logging.TasksDebug("device group append rejected for %s: %v", key, err)
		}
	}
	return result
}

// deviceContext builds the sibling view for a point from the device-group
// cache.
func (o *Orchestrator) deviceContext(point types.RawPoint) *pipeline.DeviceContext {
	deviceType := point.DeviceType
	if deviceType == "" {
		deviceType = o.ref.InferDeviceType(point.PointName)
	}
	dctx := &pipeline.DeviceContext{DeviceType: deviceType, DeviceID: point.DeviceID}
	if group, ok := o.groups.Get(point.DeviceKey()); ok {
		dctx.Siblings = group.Results
	}
	return dctx
}

func (o *Orchestrator) recordPatternOutcome(result types.MappingResult, deviceType string) {
	if o.mem == nil {
		return
	}
	success := result.Quality != nil && result.Quality.Level.Rank() >= types.QualityFair.Rank()
	for _, p := range o.mem.FindCandidates(result.Original, deviceType) {
		if o.ref.FullPath(deviceType, p.TargetSuffix) == result.Selected.TargetPath {
			o.mem.RecordOutcome(p.Key(), success)
			return
		}
	}
}

func (o *Orchestrator) timeoutResult(point types.RawPoint) types.MappingResult {
	err := &types.TimeoutError{Op: "task.mapPoint", Budget: o.cfg.Engine.PerPointBudgetDuration()}
	return types.MappingResult{
		Original: point,
		Status:   types.StatusError,
		Error:    err.Error(),
	}
}

// improve re-runs the pipeline for filtered results. A replacement is kept
// when it is better than the original: higher quality level, or a mapping
// where there was none.
func (o *Orchestrator) improve(ctx context.Context, results []types.MappingResult, filter Filter) {
	for i := range results {
		if ctx.Err() != nil {
			return
		}
		r := results[i]
		if r.Status == types.StatusError {
			continue
		}
		level := types.QualityLevel("")
		if r.Quality != nil {
			level = r.Quality.Level
		}
		if !filter(level) {
			continue
		}

		redo := o.mapPoint(ctx, r.Original)
		if better(redo, r) {
			results[i] = redo
			logging.TasksDebug("improved %s: %s -> %s", r.Original.PointName, describe(r), describe(redo))
		}
	}
}

func better(candidate, current types.MappingResult) bool {
	if candidate.Status != types.StatusMapped {
		return false
	}
	if current.Status != types.StatusMapped {
		return true
	}
	switch {
	case candidate.Quality != nil && current.Quality != nil:
		return candidate.Quality.OverallScore > current.Quality.OverallScore
	case candidate.Quality != nil:
		return true
	default:
		return false
	}
}

func describe(r types.MappingResult) string {
	if r.Selected == nil {
		return string(r.Status)
	}
	return fmt.Sprintf("%s(%.2f)", r.Selected.TargetPath, r.Selected.Confidence)
}

// update mutates the live task under lock and persists the new snapshot.
func (o *Orchestrator) update(taskID string, fn func(*types.BatchTask)) {
	o.mu.Lock()
	task, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return
	}
	fn(task)
	task.UpdatedAt = time.Now()
	snapshot := task.Clone()
	o.mu.Unlock()

	o.persist(snapshot)
}

func (o *Orchestrator) persist(task *types.BatchTask) {
	if err := o.store.Put(task.Clone()); err != nil {
		logging.TasksError("failed to persist task %s: %v", task.TaskID, err)
	}
}

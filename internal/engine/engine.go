package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/easelhq/easel/internal/comfy"
	"github.com/easelhq/easel/internal/graph"
	"github.com/easelhq/easel/internal/model"
	"github.com/easelhq/easel/internal/storage"
	"github.com/easelhq/easel/internal/store"
)

// Defaults applied by NewEngine when the corresponding Config field is zero.
const (
	DefaultWorkers      = 4
	DefaultQueueSize    = 64
	DefaultPollTimeout  = 2 * time.Minute
	DefaultPollInterval = time.Second
)

// ErrQueueFull is returned by Submit when the run queue has no free slot.
// The caller sees it before any run record is created.
var ErrQueueFull = errors.New("run queue is full")

// ComputeClient is the subset of the compute-backend client the engine uses.
type ComputeClient interface {
	SubmitJob(ctx context.Context, g graph.Graph) string
	PollUntilTerminal(ctx context.Context, jobID string, timeout, interval time.Duration) (*comfy.JobStatus, error)
	FetchArtifact(ctx context.Context, a comfy.Artifact) []byte
}

// PromptOptimizer rewrites a prompt before submission. Optimizer failures
// never fail a run.
type PromptOptimizer interface {
	Optimize(ctx context.Context, prompt string) (string, error)
}

// Config holds the engine's tunables.
type Config struct {
	Workers      int
	QueueSize    int
	PollTimeout  time.Duration
	PollInterval time.Duration
}

// Engine drives runs through their lifecycle on a bounded worker pool. Each
// run is executed by exactly one worker, which is the sole writer of that
// run's record.
type Engine struct {
	store     store.Store
	compute   ComputeClient
	objects   storage.ObjectStore
	assets    storage.AssetLibrary // nil when mirroring is not configured
	optimizer PromptOptimizer     // nil when no optimizer is configured
	logger    *slog.Logger
	cfg       Config

	queue  chan *model.Run
	slots  chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewEngine creates a run engine. assets and optimizer may be nil to disable
// asset-library mirroring and prompt optimization respectively.
func NewEngine(
	s store.Store,
	compute ComputeClient,
	objects storage.ObjectStore,
	assets storage.AssetLibrary,
	optimizer PromptOptimizer,
	logger *slog.Logger,
	cfg Config,
) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Engine{
		store:     s,
		compute:   compute,
		objects:   objects,
		assets:    assets,
		optimizer: optimizer,
		logger:    logger,
		cfg:       cfg,
		queue:     make(chan *model.Run, cfg.QueueSize),
		slots:     make(chan struct{}, cfg.QueueSize),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the worker pool. It returns immediately.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true

	e.logger.Info("run engine starting",
		"workers", e.cfg.Workers,
		"queue_size", e.cfg.QueueSize,
	)
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
}

// Stop signals the workers to stop picking up new runs and waits for
// in-flight runs to finish, or for ctx to expire. Runs are never aborted
// mid-flight; on a deadline the engine simply stops waiting.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopCh)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("run engine stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn("run engine shutdown timed out with runs in flight")
		return ctx.Err()
	}
}

// Submit reserves a queue slot, creates the run record in pending state, and
// hands the run to the worker pool. The caller gets the pending record back
// immediately; everything after that is observed through the store. When the
// queue is full, ErrQueueFull is returned and no record is created.
func (e *Engine) Submit(ctx context.Context, r *model.Run) error {
	select {
	case e.slots <- struct{}{}:
	default:
		return ErrQueueFull
	}

	if err := e.store.CreateRun(ctx, r); err != nil {
		<-e.slots
		return fmt.Errorf("create run: %w", err)
	}
	runsSubmitted.Inc()

	// The worker operates on a copy so the caller's record stays race-free.
	rCopy := *r
	// Cannot block: a held slot guarantees queue capacity.
	e.queue <- &rCopy
	return nil
}

// worker consumes runs from the queue until the engine stops.
func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case r := <-e.queue:
			<-e.slots
			e.execute(r)
		}
	}
}

// execute drives one run to a terminal state. It is the only writer of the
// run's record. Any panic escaping the stages below is converted into a
// failed terminal state so a run can never be left stuck mid-lifecycle.
func (e *Engine) execute(r *model.Run) {
	ctx := context.Background()

	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("run task panicked", "run_id", r.ID, "panic", rec)
			e.finishFailed(r.ID, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	wf, err := e.store.GetWorkflow(ctx, r.WorkflowID)
	if err != nil {
		e.finishFailed(r.ID, fmt.Sprintf("load workflow: %v", err))
		return
	}

	params := e.resolveParams(ctx, r)

	e.setStatus(r.ID, model.StatusSubmitting)
	g, err := graph.Normalize(wf.Graph)
	if err != nil {
		e.finishFailed(r.ID, fmt.Sprintf("invalid workflow graph: %v", err))
		return
	}
	g = graph.ApplyOverrides(g, wf.Overrides, params)

	jobID := e.compute.SubmitJob(ctx, g)
	if jobID == "" {
		e.finishFailed(r.ID, "failed to submit job to compute backend")
		return
	}
	if err := e.store.SetRunJobID(ctx, r.ID, jobID); err != nil {
		e.logger.Error("persist job id", "run_id", r.ID, "error", err)
	}
	e.setStatus(r.ID, model.StatusGenerating)

	status, err := e.compute.PollUntilTerminal(ctx, jobID, e.cfg.PollTimeout, e.cfg.PollInterval)
	if errors.Is(err, comfy.ErrPollTimeout) {
		e.finishFailed(r.ID, fmt.Sprintf("generation timed out after %s", e.cfg.PollTimeout))
		return
	}
	if err != nil {
		e.finishFailed(r.ID, fmt.Sprintf("poll job: %v", err))
		return
	}
	if status.State == comfy.StateFailed {
		msg := status.Err
		if msg == "" {
			msg = "generation failed"
		}
		e.finishFailed(r.ID, msg)
		return
	}

	e.setStatus(r.ID, model.StatusUploading)
	e.uploadArtifacts(ctx, r, status.Outputs)

	if err := e.store.FinishRun(ctx, r.ID, model.StatusCompleted, ""); err != nil {
		e.logger.Error("finish completed run", "run_id", r.ID, "error", err)
		return
	}
	runsFinished.WithLabelValues(model.StatusCompleted).Inc()
	e.logger.Info("run completed", "run_id", r.ID, "job_id", jobID)
}

// resolveParams returns the run's parameters with the prompt optionally
// rewritten. The rewriting_prompt stage only happens when the run asked for
// it, an optimizer is configured, and there is a prompt to rewrite; a
// failing optimizer logs and falls back to the original prompt.
func (e *Engine) resolveParams(ctx context.Context, r *model.Run) map[string]any {
	params := make(map[string]any, len(r.Params))
	for k, v := range r.Params {
		params[k] = v
	}

	if !r.OptimizePrompt || e.optimizer == nil {
		return params
	}
	prompt, ok := params["prompt"].(string)
	if !ok || prompt == "" {
		return params
	}

	e.setStatus(r.ID, model.StatusRewritingPrompt)
	optimized, err := e.optimizer.Optimize(ctx, prompt)
	if err != nil {
		e.logger.Warn("prompt optimization failed, using original prompt",
			"run_id", r.ID, "error", err)
		return params
	}
	if optimized == "" {
		return params
	}

	params["prompt"] = optimized
	if err := e.store.SetRunOptimizedPrompt(ctx, r.ID, optimized); err != nil {
		e.logger.Error("persist optimized prompt", "run_id", r.ID, "error", err)
	}
	return params
}

// setStatus applies a non-terminal status transition, logging failures. A
// failed intermediate update is not fatal: the run continues and the next
// transition re-synchronizes the record.
func (e *Engine) setStatus(id, status string) {
	if err := e.store.UpdateRunStatus(context.Background(), id, status); err != nil {
		e.logger.Error("update run status", "run_id", id, "status", status, "error", err)
	}
}

// finishFailed marks a run as failed with the given message.
func (e *Engine) finishFailed(id, msg string) {
	if err := e.store.FinishRun(context.Background(), id, model.StatusFailed, msg); err != nil {
		e.logger.Error("finish failed run", "run_id", id, "error", err)
		return
	}
	runsFinished.WithLabelValues(model.StatusFailed).Inc()
	e.logger.Info("run failed", "run_id", id, "reason", msg)
}

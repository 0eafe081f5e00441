// Package executor implements the parallel build executor (C5): a
// ready-queue/worker-pool scheduler that drives the dependency graph (C2) to
// completion, consulting the target cache (C3) before invoking a language
// handler under the retry orchestrator (C7), and publishing lifecycle
// events (C8) throughout.
package executor

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kraklabs/builder/internal/checkpoint"
	"github.com/kraklabs/builder/internal/errs"
	"github.com/kraklabs/builder/internal/events"
	"github.com/kraklabs/builder/internal/graph"
	"github.com/kraklabs/builder/internal/handler"
	"github.com/kraklabs/builder/internal/retry"
	"github.com/kraklabs/builder/internal/targetcache"
	"github.com/kraklabs/builder/internal/trace"
)

// Config controls the executor's concurrency and scheduling behavior.
type Config struct {
	// Parallelism is the worker count. Zero means runtime.NumCPU().
	Parallelism int
	// ReadyQueueCapacity bounds the ready-node channel. Default 1024.
	ReadyQueueCapacity int
	// LargeBuildThreshold is the target count above which GC is disabled for
	// the build's duration. Default 100.
	LargeBuildThreshold int
	// EnableWorkStealing switches batch dispatch from a plain goroutine-per-
	// node fan-out to the per-worker-deque stealing scheduler.
	EnableWorkStealing bool
	// CheckpointPath, if non-empty, enables periodic checkpoint writes.
	CheckpointPath string
	// CheckpointMinInterval bounds how often checkpoints are written.
	CheckpointMinInterval time.Duration
}

// DefaultConfig returns the engine's mandated defaults.
func DefaultConfig() Config {
	return Config{
		ReadyQueueCapacity:    1024,
		LargeBuildThreshold:   100,
		CheckpointMinInterval: 2 * time.Second,
	}
}

func (c Config) workers() int {
	if c.Parallelism > 0 {
		return c.Parallelism
	}
	return runtime.NumCPU()
}

// Executor owns one build's run: a graph, the cache it consults, the
// handler registry it dispatches to, and the event bus it narrates through.
type Executor struct {
	Graph     *graph.BuildGraph
	Cache     *targetcache.Cache
	Handlers  *handler.Registry
	Retry     retry.Policy
	Bus       *events.Bus
	Tracer    *trace.Tracer
	Config    Config
	// Workspace is the root directory handlers run their toolchain in.
	Workspace string

	activeTasks int64
	failedTasks int64
}

// Summary is the executor's final report for one build.
type Summary struct {
	TargetsTotal  int
	TargetsBuilt  int
	TargetsCached int
	TargetsFailed int
	Elapsed       time.Duration
}

// Run drives the graph to completion per the engine's main loop: ready
// nodes are batched and dispatched in parallel, dependents are enqueued as
// their pending-dep counters reach zero, and a failing node cascades Failed
// status to every transitive dependent without invoking their handlers.
func (e *Executor) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	cfg := e.Config
	if cfg.ReadyQueueCapacity == 0 {
		cfg = DefaultConfig()
		cfg.Parallelism = e.Config.Parallelism
		cfg.EnableWorkStealing = e.Config.EnableWorkStealing
		cfg.CheckpointPath = e.Config.CheckpointPath
		if e.Config.CheckpointMinInterval > 0 {
			cfg.CheckpointMinInterval = e.Config.CheckpointMinInterval
		}
	}
	workers := cfg.workers()

	ids := e.Graph.IDs()
	e.publish(events.Event{Kind: events.KindBuildStarted, Stats: events.Stats{TargetsTotal: len(ids)}})

	if len(ids) > cfg.LargeBuildThreshold {
		prev := debug.SetGCPercent(-1)
		defer debug.SetGCPercent(prev)
	}

	var writer *checkpoint.Writer
	if cfg.CheckpointPath != "" {
		writer = checkpoint.NewWriter(cfg.CheckpointPath, cfg.CheckpointMinInterval)
	}

	ready := make(chan *graph.BuildNode, cfg.ReadyQueueCapacity)
	for _, n := range e.Graph.GetReadyNodes() {
		ready <- n
	}

	var pool *stealingPool
	if cfg.EnableWorkStealing {
		pool = newStealingPool(workers)
	}

	for {
		if atomic.LoadInt64(&e.failedTasks) > 0 {
			break
		}

		batch := drain(ready, workers)
		if len(batch) == 0 {
			if atomic.LoadInt64(&e.activeTasks) == 0 {
				break
			}
			time.Sleep(time.Millisecond)
			continue
		}

		for _, n := range batch {
			if err := e.Graph.MarkBuilding(n.Target.ID); err != nil {
				return e.summary(start), err
			}
		}
		atomic.AddInt64(&e.activeTasks, int64(len(batch)))

		results := e.dispatch(ctx, batch, pool)

		for _, r := range results {
			atomic.AddInt64(&e.activeTasks, -1)
			if r.err == nil {
				newlyReady, err := e.Graph.Complete(r.node.Target.ID, r.cached, r.outputHash)
				if err != nil {
					return e.summary(start), err
				}
				for _, depID := range newlyReady {
					ready <- e.Graph.Node(depID)
				}
			} else {
				if _, err := e.Graph.FailAndPropagate(r.node.Target.ID, r.err); err != nil {
					return e.summary(start), err
				}
				atomic.AddInt64(&e.failedTasks, 1)
			}
		}

		if writer != nil {
			cp := checkpoint.FromGraph("", e.Graph)
			_ = writer.MaybeSave(cp, false)
		}
	}

	if err := e.Cache.Flush(true); err != nil {
		return e.summary(start), err
	}
	if writer != nil {
		cp := checkpoint.FromGraph("", e.Graph)
		_ = writer.MaybeSave(cp, true)
	}

	summary := e.summary(start)
	e.publish(events.Event{Kind: events.KindStatistics, Stats: events.Stats{
		TargetsTotal:  summary.TargetsTotal,
		TargetsBuilt:  summary.TargetsBuilt,
		TargetsCached: summary.TargetsCached,
		TargetsFailed: summary.TargetsFailed,
		ElapsedMillis: summary.Elapsed.Milliseconds(),
	}})
	if summary.TargetsFailed > 0 {
		e.publish(events.Event{Kind: events.KindBuildFailed, FailCount: summary.TargetsFailed})
	} else {
		e.publish(events.Event{Kind: events.KindBuildCompleted})
	}
	return summary, nil
}

func (e *Executor) summary(start time.Time) Summary {
	snap := e.Graph.Snapshot()
	s := Summary{TargetsTotal: len(snap), Elapsed: time.Since(start)}
	for _, status := range snap {
		switch status {
		case graph.Success:
			s.TargetsBuilt++
		case graph.Cached:
			s.TargetsCached++
		case graph.Failed:
			s.TargetsFailed++
		}
	}
	return s
}

func (e *Executor) publish(ev events.Event) {
	if e.Bus != nil {
		e.Bus.Publish(ev)
	}
}

type nodeResult struct {
	node       *graph.BuildNode
	cached     bool
	outputHash string
	err        error
}

// drain pulls up to n nodes out of ready without blocking once it is empty.
func drain(ready <-chan *graph.BuildNode, n int) []*graph.BuildNode {
	var batch []*graph.BuildNode
	for len(batch) < n {
		select {
		case node := <-ready:
			batch = append(batch, node)
		default:
			return batch
		}
	}
	return batch
}

// dispatch submits batch to either the plain fan-out path or the
// work-stealing pool, and collects every result before returning.
func (e *Executor) dispatch(ctx context.Context, batch []*graph.BuildNode, pool *stealingPool) []nodeResult {
	results := make([]nodeResult, len(batch))
	if pool != nil {
		pool.Run(batch, func(i int, n *graph.BuildNode) {
			results[i] = e.buildNode(ctx, n)
		})
		return results
	}

	var wg sync.WaitGroup
	wg.Add(len(batch))
	for i, n := range batch {
		i, n := i, n
		go func() {
			defer wg.Done()
			results[i] = e.buildNode(ctx, n)
		}()
	}
	wg.Wait()
	return results
}

// buildNode implements the engine's per-node contract: check the cache,
// fall back to the handler under the retry orchestrator, and narrate every
// step through the event bus.
func (e *Executor) buildNode(ctx context.Context, n *graph.BuildNode) nodeResult {
	ctx, span := e.startSpan(ctx, n)
	defer span.End()

	target := n.Target
	e.publish(events.Event{Kind: events.KindTargetStarted, TargetID: target.ID, Language: target.Language})

	if e.Cache.IsCached(target.ID, target.Sources, target.Deps) {
		entry, _ := e.Cache.Lookup(target.ID)
		span.SetStatus(trace.StatusOK)
		e.publish(events.Event{Kind: events.KindTargetCached, TargetID: target.ID})
		return nodeResult{node: n, cached: true, outputHash: entry.BuildHash}
	}

	h, ok := e.Handlers.Lookup(target.Language)
	if !ok {
		err := &errs.HandlerNotFoundError{Language: target.Language}
		span.SetStatus(trace.StatusError)
		e.publish(events.Event{Kind: events.KindTargetFailed, TargetID: target.ID, Error: err, Message: err.Error()})
		return nodeResult{node: n, err: err}
	}

	var outputHash string
	retryNode := &retryCounter{node: n}
	err := retry.Do(ctx, e.Retry, retryNode, func(ctx context.Context) error {
		hash, buildErr := h.Build(ctx, target, e.Workspace)
		if buildErr != nil {
			return buildErr
		}
		outputHash = hash
		return nil
	})
	if err != nil {
		span.SetStatus(trace.StatusError)
		e.publish(events.Event{Kind: events.KindTargetFailed, TargetID: target.ID, Error: err, Message: err.Error()})
		return nodeResult{node: n, err: err}
	}

	if err := e.Cache.Update(target.ID, target.Sources, target.Deps, outputHash); err != nil {
		span.SetStatus(trace.StatusError)
		e.publish(events.Event{Kind: events.KindTargetFailed, TargetID: target.ID, Error: err, Message: err.Error()})
		return nodeResult{node: n, err: err}
	}
	span.SetStatus(trace.StatusOK)
	e.publish(events.Event{Kind: events.KindTargetCompleted, TargetID: target.ID})
	return nodeResult{node: n, outputHash: outputHash}
}

func (e *Executor) startSpan(ctx context.Context, n *graph.BuildNode) (context.Context, *trace.Span) {
	if e.Tracer == nil {
		return ctx, &trace.Span{}
	}
	ctx, span := e.Tracer.StartSpan(ctx, "target:"+n.Target.ID, trace.KindInternal)
	span.SetAttribute("language", n.Target.Language)
	return ctx, span
}

// retryCounter adapts a *graph.BuildNode to retry.Node.
type retryCounter struct{ node *graph.BuildNode }

func (r *retryCounter) RetryAttempt() int      { return r.node.RetryAttempts }
func (r *retryCounter) SetRetryAttempt(n int)  { r.node.RetryAttempts = n }

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/kraklabs/builder/internal/checkpoint"
	"github.com/kraklabs/builder/internal/config"
	"github.com/kraklabs/builder/internal/events"
	"github.com/kraklabs/builder/internal/executor"
	"github.com/kraklabs/builder/internal/handler"
	"github.com/kraklabs/builder/internal/retry"
	"github.com/kraklabs/builder/internal/targetcache"
	"github.com/kraklabs/builder/internal/trace"
)

// BuildInvocation is the canonicalized description of a `build` or `resume`
// run. All paths are absolute, resolved against WorkDir up front so neither
// the executor nor the caches need to consult the process CWD.
type BuildInvocation struct {
	WorkDir        string
	GraphPath      string
	CacheDir       string
	Resume         bool
	Parallelism    int
	WorkStealing   bool
	TracePath      string
}

func parseBuildInvocation(args []string, resume bool) (BuildInvocation, error) {
	fs := pflag.NewFlagSet("build", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var workDir, graphPath, cacheDir, tracePath string
	var parallelism int
	var workStealing bool

	fs.StringVar(&workDir, "workdir", "", "Absolute working directory. Required.")
	fs.StringVar(&graphPath, "graph", "", "Target graph JSON path. Required.")
	fs.StringVar(&cacheDir, "cache-dir", ".builder-cache", "Cache directory (relative to workdir unless absolute).")
	fs.IntVar(&parallelism, "parallelism", 0, "Worker count; 0 = CPU count.")
	fs.BoolVar(&workStealing, "work-stealing", false, "Enable the work-stealing scheduler.")
	fs.StringVar(&tracePath, "trace", "", "Trace output path (optional; console export always runs).")

	if err := fs.Parse(args); err != nil {
		return BuildInvocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return BuildInvocation{}, invalidInvocationf("unexpected positional arguments: %v", fs.Args())
	}
	if workDir == "" {
		return BuildInvocation{}, invalidInvocationf("--workdir is required")
	}
	if !filepath.IsAbs(workDir) {
		return BuildInvocation{}, invalidInvocationf("--workdir must be absolute (got %q)", workDir)
	}
	if graphPath == "" {
		return BuildInvocation{}, invalidInvocationf("--graph is required")
	}
	if tracePath != "" {
		tracePath = resolveUnderWorkDir(workDir, tracePath)
	}

	return BuildInvocation{
		WorkDir:      filepath.Clean(workDir),
		GraphPath:    resolveUnderWorkDir(workDir, graphPath),
		CacheDir:     resolveUnderWorkDir(workDir, cacheDir),
		Resume:       resume,
		Parallelism:  parallelism,
		WorkStealing: workStealing,
		TracePath:    tracePath,
	}, nil
}

func resolveUnderWorkDir(workDir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(workDir, p))
}

// executeBuild wires the hashing, graph, target cache, executor, checkpoint,
// retry, event bus and tracing subsystems (C1-C3, C5-C8, C12) into one
// Executor run; the action cache (C4) and artifact store (C9) are not wired
// in. It reports the result as a stable exit code: success, build failure
// (targets failed), or a configuration error standing up the
// cache/checkpoint layer.
func executeBuild(ctx context.Context, inv BuildInvocation) (Result, error) {
	g, err := LoadGraphFromFile(inv.GraphPath)
	if err != nil {
		return Result{ExitCode: ExitInvalidInvocation}, err
	}

	cfg, err := config.FromEnvironment(nil)
	if err != nil {
		return Result{ExitCode: ExitConfigError}, err
	}

	if err := os.MkdirAll(inv.CacheDir, 0o755); err != nil {
		return Result{ExitCode: ExitConfigError}, fmt.Errorf("create cache dir: %w", err)
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err == nil {
		log.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	bus := events.New()
	bus.Subscribe(events.LoggingSubscriber(log))
	metrics := events.NewMetrics(prometheus.NewRegistry())
	bus.Subscribe(metrics.Subscriber())

	tracer := trace.NewTracer()
	tracer.RegisterExporter(trace.NewConsoleExporter(os.Stderr))
	if inv.TracePath != "" {
		tracer.RegisterExporter(trace.NewJaegerExporter(inv.TracePath))
	}

	cachePath := filepath.Join(inv.CacheDir, "cache.bin")
	policy := targetcache.FromEnvironment(cfg.CacheMaxSize, cfg.CacheMaxEntries, cfg.CacheMaxAgeDays)
	cache, err := targetcache.Open(inv.WorkDir, cachePath, policy, func(reason string) {
		bus.Publish(events.Event{Kind: events.KindMessage, Severity: events.SeverityWarning, Message: "target cache reset: " + reason})
	})
	if err != nil {
		return Result{ExitCode: ExitConfigError}, fmt.Errorf("open target cache: %w", err)
	}
	defer cache.Close()

	checkpointPath := filepath.Join(inv.CacheDir, "checkpoint.bin")
	if inv.Resume {
		if cp, ok := checkpoint.Load(checkpointPath); ok && !cp.IsStale() && cp.Matches(g) {
			checkpoint.Merge(g, cp)
		}
	}

	registry := handler.NewRegistry()
	registry.Register("shell", handler.NewShellHandler())
	registry.Register("custom", handler.NewShellHandler())

	ex := &executor.Executor{
		Graph:     g,
		Cache:     cache,
		Handlers:  registry,
		Retry:     retry.FromEnvironment(cfg.RetryMaxAttempts, cfg.RetryBaseDelay),
		Bus:       bus,
		Tracer:    tracer,
		Workspace: inv.WorkDir,
		Config: executor.Config{
			Parallelism:           inv.Parallelism,
			ReadyQueueCapacity:    executor.DefaultConfig().ReadyQueueCapacity,
			LargeBuildThreshold:   executor.DefaultConfig().LargeBuildThreshold,
			EnableWorkStealing:    inv.WorkStealing,
			CheckpointPath:        checkpointPath,
			CheckpointMinInterval: 2 * time.Second,
		},
	}

	summary, err := ex.Run(ctx)
	if err != nil {
		return Result{ExitCode: ExitInternalError}, err
	}
	if err := tracer.Flush(); err != nil {
		log.WithError(err).Warn("trace flush failed")
	}

	if summary.TargetsFailed > 0 {
		return Result{ExitCode: ExitBuildFailure}, fmt.Errorf("%d target(s) failed", summary.TargetsFailed)
	}
	_ = checkpoint.Remove(checkpointPath)
	return Result{ExitCode: ExitSuccess}, nil
}

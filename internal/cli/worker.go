package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kraklabs/builder/internal/config"
	"github.com/kraklabs/builder/internal/distproto"
)

// WorkerInvocation is the canonicalized description of a `worker` run: a
// distributed-mode coordinator process that hosts the worker registry and
// sweeps expired workers' in-flight work back into the pool.
//
// This is the registry half of C10 only: the network listener a real
// coordinator would run (accepting Envelope-framed connections) is the wire
// transport the engine's Non-goals explicitly exclude; this subcommand
// exercises the registry contract a transport would sit in front of.
type WorkerInvocation struct {
	RegistryPath     string
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
}

func parseWorkerInvocation(args []string) (WorkerInvocation, error) {
	fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var registryPath string
	var sweepInterval time.Duration
	fs.StringVar(&registryPath, "registry", ".builder-cache/registry.bbolt", "Worker registry durable store path.")
	fs.DurationVar(&sweepInterval, "sweep-interval", time.Second, "Interval between expired-worker sweeps.")
	if err := fs.Parse(args); err != nil {
		return WorkerInvocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return WorkerInvocation{}, invalidInvocationf("unexpected positional arguments: %v", fs.Args())
	}
	return WorkerInvocation{RegistryPath: registryPath, SweepInterval: sweepInterval}, nil
}

// executeWorker opens the durable worker registry and, every SweepInterval,
// marks workers whose heartbeat has expired as Failed, until ctx is
// cancelled. The in-flight ActionIds each sweep returns are discarded; this
// subcommand does not re-dispatch them.
func executeWorker(ctx context.Context, inv WorkerInvocation) (Result, error) {
	cfg, err := config.FromEnvironment(nil)
	if err != nil {
		return Result{ExitCode: ExitConfigError}, err
	}
	timeout := inv.HeartbeatTimeout
	if timeout == 0 {
		timeout = cfg.WorkerHeartbeatTimeout
	}

	reg, err := distproto.OpenRegistry(inv.RegistryPath, timeout)
	if err != nil {
		return Result{ExitCode: ExitConfigError}, fmt.Errorf("open worker registry: %w", err)
	}
	defer reg.Close()

	ticker := time.NewTicker(inv.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Result{ExitCode: ExitSuccess}, nil
		case <-ticker.C:
			reg.SweepExpired()
		}
	}
}

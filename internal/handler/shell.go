package handler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/kraklabs/builder/internal/errs"
	"github.com/kraklabs/builder/internal/graph"
	"github.com/kraklabs/builder/internal/hash"
)

// ShellHandler builds TargetCustom targets by running Target.Command through
// "sh -c" inside the workspace, with a strictly isolated environment (no
// ambient os.Environ() passthrough) and whole-process-group cancellation on
// context cancellation.
type ShellHandler struct{}

// NewShellHandler returns a ready-to-use ShellHandler.
func NewShellHandler() *ShellHandler { return &ShellHandler{} }

// Build runs target.Command in workspace and hashes target.OutputPath (or,
// if empty, stdout) to produce the output hash.
func (h *ShellHandler) Build(ctx context.Context, target graph.Target, workspace string) (string, error) {
	if target.Command == "" {
		return "", &errs.HandlerNotFoundError{Language: target.Language}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", target.Command)
	cmd.Dir = workspace
	cmd.Env = buildIsolatedEnv(target.Env)
	configureProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := runWithGroupKill(ctx, cmd)
	if runErr != nil {
		if ctx.Err() != nil {
			return "", &errs.TimeoutError{Cause: ctx.Err()}
		}
		if _, ok := runErr.(*exec.ExitError); ok {
			return "", &errs.CompileFailureError{TargetID: target.ID, Stderr: stderr.String()}
		}
		return "", &errs.TransientIOError{Cause: runErr}
	}

	if target.OutputPath != "" {
		if digest := hash.HashFile(target.OutputPath); digest != "" {
			return digest, nil
		}
		return "", fmt.Errorf("output %q was not produced", target.OutputPath)
	}
	return hash.HashString(stdout.String()), nil
}

// AnalyzeImports is a no-op for the shell reference handler: shell scripts
// have no import/require statements the engine needs to understand.
func (h *ShellHandler) AnalyzeImports(sources []string) ([]Import, error) {
	return nil, nil
}

func buildIsolatedEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

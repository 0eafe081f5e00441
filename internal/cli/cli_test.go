package cli_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kraklabs/builder/internal/cli"
)

func writeGraphJSON(t *testing.T, path string, targets []map[string]any) {
	t.Helper()
	b, err := json.Marshal(map[string]any{"targets": targets})
	if err != nil {
		t.Fatalf("marshal graph: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir graph dir: %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write graph: %v", err)
	}
}

func TestBuildSubcommandCleanThenCachedRun(t *testing.T) {
	workDir := t.TempDir()
	graphPath := filepath.Join(workDir, "graph.json")
	writeGraphJSON(t, graphPath, []map[string]any{
		{"id": "//a", "type": "custom", "language": "shell", "command": "echo hello"},
	})

	args := []string{
		"build",
		"--workdir", workDir,
		"--graph", graphPath,
		"--cache-dir", "cache",
	}

	res, err := cli.Run(context.Background(), args)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != cli.ExitSuccess {
		t.Fatalf("exit code = %d, want success", res.ExitCode)
	}

	// Second run should hit the cache; still exits success.
	res2, err := cli.Run(context.Background(), args)
	if err != nil {
		t.Fatalf("run2: %v", err)
	}
	if res2.ExitCode != cli.ExitSuccess {
		t.Fatalf("exit code = %d, want success", res2.ExitCode)
	}
}

func TestBuildSubcommandCascadingFailure(t *testing.T) {
	workDir := t.TempDir()
	graphPath := filepath.Join(workDir, "graph.json")
	writeGraphJSON(t, graphPath, []map[string]any{
		{"id": "//a", "type": "custom", "language": "shell", "command": "exit 1"},
		{"id": "//b", "type": "custom", "language": "shell", "command": "echo ok", "deps": []string{"//a"}},
	})

	args := []string{
		"build",
		"--workdir", workDir,
		"--graph", graphPath,
		"--cache-dir", "cache",
	}
	res, err := cli.Run(context.Background(), args)
	if err == nil {
		t.Fatalf("expected a build-failure error")
	}
	if res.ExitCode != cli.ExitBuildFailure {
		t.Fatalf("exit code = %d, want ExitBuildFailure", res.ExitCode)
	}
}

func TestQuerySubcommandDeps(t *testing.T) {
	workDir := t.TempDir()
	graphPath := filepath.Join(workDir, "graph.json")
	writeGraphJSON(t, graphPath, []map[string]any{
		{"id": "//lib:a", "type": "library", "language": "go"},
		{"id": "//lib:b", "type": "library", "language": "go"},
		{"id": "//app:main", "type": "executable", "language": "go", "deps": []string{"//lib:a", "//lib:b"}},
	})

	res, err := cli.Run(context.Background(), []string{"query", "--graph", graphPath, "deps(//app:main)"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != cli.ExitSuccess {
		t.Fatalf("exit code = %d, want success", res.ExitCode)
	}
}

func TestInvalidInvocationMissingSubcommand(t *testing.T) {
	_, err := cli.Run(context.Background(), nil)
	if err == nil {
		t.Fatalf("expected an error for a missing subcommand")
	}
	if cli.ExitCode(err) != cli.ExitInvalidInvocation {
		t.Fatalf("expected ExitInvalidInvocation, got %d", cli.ExitCode(err))
	}
}

func TestInvalidInvocationUnknownSubcommand(t *testing.T) {
	_, err := cli.Run(context.Background(), []string{"bogus"})
	if err == nil {
		t.Fatalf("expected an error for an unknown subcommand")
	}
	if cli.ExitCode(err) != cli.ExitInvalidInvocation {
		t.Fatalf("expected ExitInvalidInvocation, got %d", cli.ExitCode(err))
	}
}

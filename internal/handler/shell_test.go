package handler

import (
	"context"
	"testing"
	"time"

	"github.com/kraklabs/builder/internal/errs"
	"github.com/kraklabs/builder/internal/graph"
)

func TestShellHandlerBuildSuccess(t *testing.T) {
	h := NewShellHandler()
	target := graph.Target{ID: "//t", Type: graph.TargetCustom, Command: "echo hello"}
	out, err := h.Build(context.Background(), target, t.TempDir())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out == "" {
		t.Fatalf("expected non-empty output hash")
	}
}

func TestShellHandlerBuildFailureIsCompileFailure(t *testing.T) {
	h := NewShellHandler()
	target := graph.Target{ID: "//t", Type: graph.TargetCustom, Command: "exit 1"}
	_, err := h.Build(context.Background(), target, t.TempDir())
	if err == nil {
		t.Fatalf("expected an error")
	}
	if _, ok := err.(*errs.CompileFailureError); !ok {
		t.Fatalf("expected *errs.CompileFailureError, got %T: %v", err, err)
	}
}

func TestShellHandlerNoCommandIsHandlerNotFound(t *testing.T) {
	h := NewShellHandler()
	target := graph.Target{ID: "//t", Type: graph.TargetCustom, Language: "mystery"}
	_, err := h.Build(context.Background(), target, t.TempDir())
	if _, ok := err.(*errs.HandlerNotFoundError); !ok {
		t.Fatalf("expected *errs.HandlerNotFoundError, got %T: %v", err, err)
	}
}

func TestShellHandlerRespectsContextCancellation(t *testing.T) {
	h := NewShellHandler()
	target := graph.Target{ID: "//t", Type: graph.TargetCustom, Command: "sleep 5"}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.Build(ctx, target, t.TempDir())
	if err == nil {
		t.Fatalf("expected cancellation to surface an error")
	}
}

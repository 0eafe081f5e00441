// Package handler defines the language-handler contract the executor
// consults to build one target, and provides a reference shell-based
// implementation used to exercise the executor in tests and for the
// TargetCustom target type. Real language toolchains (Python, Rust, Go,
// C++, ...) are external collaborators implementing this same contract;
// the core never depends on a specific one.
package handler

import (
	"context"

	"github.com/kraklabs/builder/internal/graph"
)

// ImportKind classifies a discovered import.
type ImportKind string

const (
	ImportModule ImportKind = "module"
	ImportPackage ImportKind = "package"
)

// Import is one import statement discovered by AnalyzeImports.
type Import struct {
	ModuleName string
	Kind       ImportKind
	Location   string
}

// Handler is the single contract every language plug-in implements.
type Handler interface {
	// Build runs target's toolchain inside workspace and returns the
	// content hash of its outputs, or an error classified per
	// internal/errs.
	Build(ctx context.Context, target graph.Target, workspace string) (outputHash string, err error)

	// AnalyzeImports extracts import/require statements from sources
	// without building anything.
	AnalyzeImports(sources []string) ([]Import, error)
}

// Registry maps a language name to its Handler.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register installs h for language.
func (r *Registry) Register(language string, h Handler) {
	r.handlers[language] = h
}

// Lookup returns the handler registered for language, or (nil, false).
func (r *Registry) Lookup(language string) (Handler, bool) {
	h, ok := r.handlers[language]
	return h, ok
}

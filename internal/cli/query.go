package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/kraklabs/builder/internal/query"
)

// QueryInvocation is the canonicalized description of a `query` run.
type QueryInvocation struct {
	GraphPath  string
	Expression string
}

func parseQueryInvocation(args []string) (QueryInvocation, error) {
	fs := pflag.NewFlagSet("query", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var graphPath string
	fs.StringVar(&graphPath, "graph", "", "Target graph JSON path. Required.")
	if err := fs.Parse(args); err != nil {
		return QueryInvocation{}, invalidInvocationf("%v", err)
	}
	if graphPath == "" {
		return QueryInvocation{}, invalidInvocationf("--graph is required")
	}
	if fs.NArg() != 1 {
		return QueryInvocation{}, invalidInvocationf("expected exactly one query expression argument")
	}
	return QueryInvocation{GraphPath: filepath.Clean(graphPath), Expression: fs.Arg(0)}, nil
}

// executeQuery evaluates the query expression over the loaded graph and
// prints matching target IDs, one per line, in sorted order.
func executeQuery(inv QueryInvocation) (Result, error) {
	g, err := LoadGraphFromFile(inv.GraphPath)
	if err != nil {
		return Result{ExitCode: ExitInvalidInvocation}, err
	}
	set, err := query.Eval(g, inv.Expression)
	if err != nil {
		return Result{ExitCode: ExitInvalidInvocation}, fmt.Errorf("query: %w", err)
	}
	for _, id := range set.Sorted() {
		fmt.Println(id)
	}
	return Result{ExitCode: ExitSuccess}, nil
}

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kraklabs/builder/internal/graph"
)

// graphFile is the on-disk shape of a target graph definition: a flat list
// of targets, each carrying its own dependency IDs. Parsing the build DSL
// itself is out of this engine's scope; this loader accepts the frontend's
// already-resolved target list.
type graphFile struct {
	Targets []graph.Target `json:"targets"`
}

// LoadGraphFromFile reads and parses the target graph definition at path,
// then constructs a BuildGraph (which performs full cycle/validation
// checking at construction time).
//
// The loader is deterministic: it disallows unknown fields and rejects any
// trailing data after the single JSON value, matching the engine's
// determinism goals for invocation parsing.
func LoadGraphFromFile(path string) (*graph.BuildGraph, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var gf graphFile
	if err := dec.Decode(&gf); err != nil {
		return nil, fmt.Errorf("parse graph json: %w", err)
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("parse graph json: trailing data")
		}
		return nil, fmt.Errorf("parse graph json: %w", err)
	}
	if len(gf.Targets) == 0 {
		return nil, fmt.Errorf("parse graph json: no targets")
	}
	return graph.New(gf.Targets)
}

// Package checkpoint implements the build's resume machinery (C6): a
// per-workspace snapshot of every node's status, written as the build
// progresses and merged back onto a fresh graph on the next run so already
// Success/Cached nodes are not rebuilt.
package checkpoint

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/kraklabs/builder/internal/atomicfile"
	"github.com/kraklabs/builder/internal/graph"
)

// staleAfter is the engine's mandated checkpoint staleness window.
const staleAfter = 24 * time.Hour

// Checkpoint is one workspace's persisted resume state.
type Checkpoint struct {
	WorkspaceRoot   string
	Timestamp       time.Time
	TotalTargets    int
	CompletedTargets int
	FailedTargets   int
	FailedTargetIDs []string
	NodeStates      map[string]graph.Status
	NodeHashes      map[string]string
}

// IsStale reports whether cp is older than the engine's 24h resume window.
func (cp *Checkpoint) IsStale() bool {
	if cp == nil || cp.Timestamp.IsZero() {
		return true
	}
	return time.Since(cp.Timestamp) > staleAfter
}

// FromGraph snapshots g into a fresh Checkpoint for workspaceRoot.
func FromGraph(workspaceRoot string, g *graph.BuildGraph) *Checkpoint {
	snapshot := g.Snapshot()
	cp := &Checkpoint{
		WorkspaceRoot: workspaceRoot,
		Timestamp:     time.Now(),
		TotalTargets:  len(snapshot),
		NodeStates:    make(map[string]graph.Status, len(snapshot)),
		NodeHashes:    make(map[string]string, len(snapshot)),
	}
	for id, status := range snapshot {
		cp.NodeStates[id] = status
		n := g.Node(id)
		if n != nil {
			cp.NodeHashes[id] = n.OutputHash
		}
		switch status {
		case graph.Success, graph.Cached:
			cp.CompletedTargets++
		case graph.Failed:
			cp.FailedTargets++
			cp.FailedTargetIDs = append(cp.FailedTargetIDs, id)
		}
	}
	return cp
}

// Matches reports whether cp's node set is exactly g's node set, the
// precondition for merging a prior checkpoint onto a freshly constructed
// graph (the engine never merges a checkpoint from a different target set).
func (cp *Checkpoint) Matches(g *graph.BuildGraph) bool {
	ids := g.IDs()
	if len(ids) != len(cp.NodeStates) {
		return false
	}
	for _, id := range ids {
		if _, ok := cp.NodeStates[id]; !ok {
			return false
		}
	}
	return true
}

// Merge adopts Success/Cached status and output hashes from cp onto g.
// Failed, Pending, and Building nodes are left Pending so the executor
// retries them. Merge is a no-op (and returns false) when cp is stale, nil,
// or its node set does not match g.
func Merge(g *graph.BuildGraph, cp *Checkpoint) bool {
	if cp == nil || cp.IsStale() || !cp.Matches(g) {
		return false
	}
	// Dependencies come before dependents in topological order, so adopting a
	// node releases it from its dependents' pending-dep counters before they
	// are examined, just as a live completion would.
	for _, id := range g.TopologicalSort() {
		status, ok := cp.NodeStates[id]
		if !ok || (status != graph.Success && status != graph.Cached) {
			continue
		}
		n := g.Node(id)
		if n == nil || n.PendingDeps != 0 {
			// A dependency not itself restorable (e.g. it was Failed) leaves
			// this node's pending-dep counter non-zero; adopting its status
			// without also satisfying its deps would violate the executor's
			// "Building only after every dep is Success/Cached" invariant.
			continue
		}
		adoptStatus(n, status, cp.NodeHashes[id])
		for _, dependent := range n.Dependents() {
			g.Node(dependent).PendingDeps--
		}
	}
	return true
}

// adoptStatus moves n straight from Pending to the checkpointed terminal
// status without running the handler. It assigns the fields directly: the
// graph's transition table, which the executor uses during a live build,
// has no Pending->Success or Pending->Cached edge.
func adoptStatus(n *graph.BuildNode, status graph.Status, outputHash string) {
	n.Status = status
	n.OutputHash = outputHash
}

// Writer persists checkpoints at a rate-limited cadence: every successful
// node completion requests a save, but writes are throttled so a large,
// fast-completing build does not hammer disk once per target.
type Writer struct {
	path    string
	limiter *rate.Limiter
}

// NewWriter returns a Writer that persists to path, allowing at most one
// write per minInterval (plus one burst) to stay off the hot path.
func NewWriter(path string, minInterval time.Duration) *Writer {
	return &Writer{path: path, limiter: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// MaybeSave writes cp to disk if the rate limiter currently allows it.
// force bypasses the limiter (used at build end).
func (w *Writer) MaybeSave(cp *Checkpoint, force bool) error {
	if !force && !w.limiter.Allow() {
		return nil
	}
	return Save(w.path, cp)
}

// Save writes cp to path as a CKPT binary blob.
func Save(path string, cp *Checkpoint) error {
	return atomicfile.Write(path, encode(cp))
}

// Load reads a checkpoint from path. A missing file, corrupt blob, or
// unreadable version is reported via ok=false rather than an error, per the
// engine's "absent checkpoint just means a clean build" semantics.
func Load(path string) (cp *Checkpoint, ok bool) {
	blob, err := readFileIfExists(path)
	if err != nil || blob == nil {
		return nil, false
	}
	cp, err = decode(blob)
	if err != nil {
		return nil, false
	}
	return cp, true
}

// Remove deletes the checkpoint file, the engine's "remove on clean success
// unless retained" rule. A missing file is not an error.
func Remove(path string) error {
	return removeIfExists(path)
}

package graph

import "sort"

// GetReadyNodes returns every node whose Status is Pending and whose
// PendingDeps counter has reached zero, sorted by depth ascending, then by
// CriticalPathCost descending (the scheduler's tie-break), then by id
// ascending, so the order is deterministic.
func (g *BuildGraph) GetReadyNodes() []*BuildNode {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ready []*BuildNode
	for _, id := range g.order {
		n := g.nodesByID[id]
		if n.Status == Pending && n.PendingDeps == 0 {
			ready = append(ready, n)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Depth != ready[j].Depth {
			return ready[i].Depth < ready[j].Depth
		}
		if ci, cj := CriticalPathCost(ready[i]), CriticalPathCost(ready[j]); ci != cj {
			return ci > cj
		}
		return ready[i].Target.ID < ready[j].Target.ID
	})
	return ready
}

// MarkBuilding transitions id from Pending to Building.
func (g *BuildGraph) MarkBuilding(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.nodesByID[id]
	if n == nil {
		return invalidf("unknown node %q", id)
	}
	return g.transition(n, Pending, Building)
}

// Complete transitions id to Success or Cached, recording outputHash, and
// returns the list of dependent IDs whose PendingDeps counter reached zero as
// a result (the executor should enqueue these).
func (g *BuildGraph) Complete(id string, cached bool, outputHash string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.nodesByID[id]
	if n == nil {
		return nil, invalidf("unknown node %q", id)
	}
	target := Success
	if cached {
		target = Cached
	}
	if err := g.transition(n, Building, target); err != nil {
		return nil, err
	}
	n.OutputHash = outputHash
	n.RetryAttempts = 0

	var newlyReady []string
	for _, depID := range n.dependents {
		dep := g.nodesByID[depID]
		dep.PendingDeps--
		if dep.PendingDeps == 0 {
			newlyReady = append(newlyReady, depID)
		}
	}
	sort.Strings(newlyReady)
	return newlyReady, nil
}

// FailAndPropagate transitions id from Building to Failed, then marks every
// transitive dependent Failed (cascading failure) without ever invoking
// their handlers, and returns the full set of newly failed IDs (id included).
func (g *BuildGraph) FailAndPropagate(id string, cause error) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.nodesByID[id]
	if n == nil {
		return nil, invalidf("unknown node %q", id)
	}
	if err := g.transition(n, Building, Failed); err != nil {
		return nil, err
	}
	n.LastError = cause

	failed := []string{id}
	queue := append([]string(nil), n.dependents...)
	seen := map[string]bool{id: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		dn := g.nodesByID[cur]
		if dn.Status == Building {
			return nil, invalidf("invariant violation: %q is Building during cascade from %q", cur, id)
		}
		if dn.Status.IsTerminal() {
			continue
		}
		dn.Status = Failed
		dn.LastError = cause
		failed = append(failed, cur)
		queue = append(queue, dn.dependents...)
	}
	sort.Strings(failed[1:])
	return failed, nil
}

var transitions = map[Status]map[Status]bool{
	Pending:  {Building: true},
	Building: {Success: true, Cached: true, Failed: true},
}

func (g *BuildGraph) transition(n *BuildNode, from, to Status) error {
	if n.Status != from {
		return invalidf("node %q: expected status %s, got %s", n.Target.ID, from, n.Status)
	}
	if !transitions[from][to] {
		return invalidf("node %q: illegal transition %s -> %s", n.Target.ID, from, to)
	}
	n.Status = to
	return nil
}

// Snapshot returns a point-in-time copy of every node's status, for
// checkpointing and observation.
func (g *BuildGraph) Snapshot() map[string]Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]Status, len(g.order))
	for _, id := range g.order {
		out[id] = g.nodesByID[id].Status
	}
	return out
}

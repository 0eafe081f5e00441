package executor

import (
	"sync"

	"github.com/kraklabs/builder/internal/graph"
)

// stealingPool is the optional work-stealing scheduler: each worker owns a
// private deque of batch indices it pops from the tail of, and steals from
// the head of a sibling's deque once its own runs dry. It is grounded on the
// engine's persistent-worker-goroutine pattern (a fixed pool draining a
// shared channel) but swaps the shared queue for per-worker deques to cut
// contention on wide, shallow batches where every worker would otherwise
// fight over the same queue.
//
// A deque here is a mutex-guarded slice rather than a lock-free ring
// buffer: one dispatch round never holds more items than the worker count,
// so the contention a lock-free structure would avoid never materializes.
type stealingPool struct {
	deques []*deque
}

func newStealingPool(workers int) *stealingPool {
	if workers < 1 {
		workers = 1
	}
	p := &stealingPool{deques: make([]*deque, workers)}
	for i := range p.deques {
		p.deques[i] = &deque{}
	}
	return p
}

// Run distributes batch round-robin across the pool's deques, then runs one
// goroutine per deque: each drains its own deque tail-first, falling back to
// stealing from a sibling's head once empty, until every node is processed.
// fn(i, node) receives the node's original index in batch so the caller can
// index its results slice; Run blocks until every node has been processed.
func (p *stealingPool) Run(batch []*graph.BuildNode, fn func(i int, n *graph.BuildNode)) {
	for i := range p.deques {
		p.deques[i].reset()
	}
	for i := range batch {
		p.deques[i%len(p.deques)].pushBack(i)
	}

	var wg sync.WaitGroup
	wg.Add(len(p.deques))
	for w := range p.deques {
		w := w
		go func() {
			defer wg.Done()
			own := p.deques[w]
			for {
				if i, ok := own.popBack(); ok {
					fn(i, batch[i])
					continue
				}
				if i, ok := p.stealFrom(w); ok {
					fn(i, batch[i])
					continue
				}
				return
			}
		}()
	}
	wg.Wait()
}

// stealFrom looks for work on every sibling deque other than own, starting
// just after it so repeated steals fan out rather than hammering one victim.
func (p *stealingPool) stealFrom(own int) (int, bool) {
	n := len(p.deques)
	for offset := 1; offset < n; offset++ {
		victim := p.deques[(own+offset)%n]
		if i, ok := victim.stealFront(); ok {
			return i, true
		}
	}
	return 0, false
}

type deque struct {
	mu    sync.Mutex
	items []int
}

func (d *deque) reset() {
	d.mu.Lock()
	d.items = d.items[:0]
	d.mu.Unlock()
}

func (d *deque) pushBack(i int) {
	d.mu.Lock()
	d.items = append(d.items, i)
	d.mu.Unlock()
}

func (d *deque) popBack() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return 0, false
	}
	n := len(d.items) - 1
	v := d.items[n]
	d.items = d.items[:n]
	return v, true
}

func (d *deque) stealFront() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return 0, false
	}
	v := d.items[0]
	d.items = d.items[1:]
	return v, true
}

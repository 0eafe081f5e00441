package distproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DefaultHeartbeatTimeout is the engine's mandated worker liveness window.
const DefaultHeartbeatTimeout = 15 * time.Second

var workersBucket = []byte("workers")

// WorkerState is a registry entry's liveness.
type WorkerState byte

const (
	WorkerActive WorkerState = iota
	WorkerFailed
)

// WorkerInfo is everything the coordinator knows about one worker.
type WorkerInfo struct {
	ID           WorkerID
	Capabilities Capabilities
	State        WorkerState
	LastSeen     time.Time
	QueueDepth   uint32
	CPUUsage     float64
	MemUsage     float64
	DiskUsage    float64
}

func (w WorkerInfo) encode() []byte {
	var buf bytes.Buffer
	writeU64(&buf, uint64(w.ID))
	w.Capabilities.encode(&buf)
	buf.WriteByte(byte(w.State))
	writeI64(&buf, w.LastSeen.UnixNano())
	writeU32(&buf, w.QueueDepth)
	writeFloat(&buf, w.CPUUsage)
	writeFloat(&buf, w.MemUsage)
	writeFloat(&buf, w.DiskUsage)
	return buf.Bytes()
}

func decodeWorkerInfo(blob []byte) (WorkerInfo, error) {
	r := bytes.NewReader(blob)
	var w WorkerInfo
	id, err := readU64(r)
	if err != nil {
		return w, err
	}
	w.ID = WorkerID(id)
	if w.Capabilities, err = decodeCapabilities(r); err != nil {
		return w, err
	}
	state, err := r.ReadByte()
	if err != nil {
		return w, err
	}
	w.State = WorkerState(state)
	lastSeen, err := readI64(r)
	if err != nil {
		return w, err
	}
	w.LastSeen = time.Unix(0, lastSeen)
	if w.QueueDepth, err = readU32(r); err != nil {
		return w, err
	}
	if w.CPUUsage, err = readFloat(r); err != nil {
		return w, err
	}
	if w.MemUsage, err = readFloat(r); err != nil {
		return w, err
	}
	w.DiskUsage, err = readFloat(r)
	return w, err
}

// ActionProfile tells the scheduler which resource an action leans on, for
// selectWorker's disqualification rules.
type ActionProfile struct {
	CPUBound    bool
	MemoryBound bool
	Required    Capabilities
}

// Registry is the coordinator's worker bookkeeping: an in-memory map for
// hot-path scheduling decisions, durably mirrored to a bbolt file so a
// coordinator restart does not forget registered workers. What is persisted
// is each worker's WorkerInfo record; it carries no cumulative
// completed/failed counters.
type Registry struct {
	mu               sync.Mutex
	workers          map[WorkerID]*WorkerInfo
	inFlight         map[WorkerID]map[string]bool // worker -> set of ActionIDs
	db               *bolt.DB
	heartbeatTimeout time.Duration
}

// OpenRegistry opens (creating if absent) the bbolt file at path and loads
// any previously registered workers. heartbeatTimeout <= 0 uses
// DefaultHeartbeatTimeout.
func OpenRegistry(path string, heartbeatTimeout time.Duration) (*Registry, error) {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("distproto: open registry: %w", err)
	}
	r := &Registry{
		workers:          make(map[WorkerID]*WorkerInfo),
		inFlight:         make(map[WorkerID]map[string]bool),
		db:               db,
		heartbeatTimeout: heartbeatTimeout,
	}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(workersBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			info, err := decodeWorkerInfo(v)
			if err != nil {
				return nil // skip a corrupt entry rather than fail the whole open
			}
			w := info
			r.workers[w.ID] = &w
			return nil
		})
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the underlying bbolt handle.
func (r *Registry) Close() error {
	return r.db.Close()
}

func workerKey(id WorkerID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func (r *Registry) persistLocked(w *WorkerInfo) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(workersBucket)
		return b.Put(workerKey(w.ID), w.encode())
	})
}

// Register admits a newly started worker, persisting it immediately.
func (r *Registry) Register(id WorkerID, caps Capabilities) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := &WorkerInfo{ID: id, Capabilities: caps, State: WorkerActive, LastSeen: time.Now()}
	r.workers[id] = w
	r.inFlight[id] = make(map[string]bool)
	return r.persistLocked(w)
}

// Heartbeat refreshes a worker's liveness and load metrics.
func (r *Registry) Heartbeat(hb HeartBeat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[hb.WorkerID]
	if !ok {
		return fmt.Errorf("distproto: heartbeat from unregistered worker %d", hb.WorkerID)
	}
	w.State = WorkerActive
	w.LastSeen = time.Now()
	w.QueueDepth = hb.QueueDepth
	w.CPUUsage = hb.CPUUsage
	w.MemUsage = hb.MemUsage
	w.DiskUsage = hb.DiskUsage
	return r.persistLocked(w)
}

// Health reports whether id is known, not Failed, and has been seen within
// the registry's heartbeat timeout.
func (r *Registry) Health(id WorkerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok || w.State == WorkerFailed {
		return false
	}
	return time.Since(w.LastSeen) < r.heartbeatTimeout
}

// AssignAction records actionID as in-flight on worker, for re-enqueueing on
// failure.
func (r *Registry) AssignAction(worker WorkerID, actionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.inFlight[worker]
	if !ok {
		set = make(map[string]bool)
		r.inFlight[worker] = set
	}
	set[actionID] = true
}

// CompleteAction clears actionID's in-flight tracking once it finishes,
// successfully or not.
func (r *Registry) CompleteAction(worker WorkerID, actionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.inFlight[worker]; ok {
		delete(set, actionID)
	}
}

// SweepExpired marks every worker whose last heartbeat is older than the
// registry's timeout as Failed, and returns the ActionIDs that were
// in-flight on each so the caller can re-enqueue them.
func (r *Registry) SweepExpired() map[WorkerID][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	requeue := make(map[WorkerID][]string)
	now := time.Now()
	for id, w := range r.workers {
		if w.State == WorkerFailed {
			continue
		}
		if now.Sub(w.LastSeen) < r.heartbeatTimeout {
			continue
		}
		w.State = WorkerFailed
		_ = r.persistLocked(w)

		var ids []string
		for actionID := range r.inFlight[id] {
			ids = append(ids, actionID)
		}
		sort.Strings(ids)
		delete(r.inFlight, id)
		if len(ids) > 0 {
			requeue[id] = ids
		}
	}
	return requeue
}

// SelectWorker applies the disqualification rules (capability mismatch,
// overloaded per profile) and returns the healthy survivor with the lowest
// load = 0.6·queueDepth + 0.4·cpuUsage, ties broken by ascending WorkerID.
func (r *Registry) SelectWorker(profile ActionProfile) (WorkerID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *WorkerInfo
	var bestLoad float64
	for id, w := range r.workers {
		if w.State == WorkerFailed || time.Since(w.LastSeen) >= r.heartbeatTimeout {
			continue
		}
		if !w.Capabilities.Satisfies(profile.Required) {
			continue
		}
		if w.DiskUsage > 0.95 {
			continue
		}
		if profile.MemoryBound && w.MemUsage > 0.85 {
			continue
		}
		if profile.CPUBound && w.CPUUsage > 0.90 {
			continue
		}
		load := 0.6*float64(w.QueueDepth) + 0.4*w.CPUUsage
		if best == nil || load < bestLoad || (load == bestLoad && id < best.ID) {
			best = w
			bestLoad = load
		}
	}
	if best == nil {
		return 0, false
	}
	return best.ID, true
}

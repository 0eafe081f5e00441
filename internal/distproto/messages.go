package distproto

import (
	"bytes"
	"time"
)

// Capabilities describes the sandbox an action needs and, symmetrically,
// the sandbox a worker can grant. The scheduler disqualifies any worker
// whose grant is narrower than what the action requests.
type Capabilities struct {
	Network    bool
	WriteHome  bool
	WriteTmp   bool
	ReadPaths  []string
	WritePaths []string
	MaxCPU     uint64 // 0 = unlimited
	MaxMemory  uint64 // bytes, 0 = unlimited
	Timeout    time.Duration
}

const (
	capFlagNetwork   = 1 << 0
	capFlagWriteHome = 1 << 1
	capFlagWriteTmp  = 1 << 2
)

func (c Capabilities) encode(buf *bytes.Buffer) {
	var flags byte
	if c.Network {
		flags |= capFlagNetwork
	}
	if c.WriteHome {
		flags |= capFlagWriteHome
	}
	if c.WriteTmp {
		flags |= capFlagWriteTmp
	}
	buf.WriteByte(flags)
	writeStrings(buf, c.ReadPaths)
	writeStrings(buf, c.WritePaths)
	writeU64(buf, c.MaxCPU)
	writeU64(buf, c.MaxMemory)
	writeI64(buf, int64(c.Timeout))
}

func decodeCapabilities(r *bytes.Reader) (Capabilities, error) {
	var c Capabilities
	flags, err := r.ReadByte()
	if err != nil {
		return c, err
	}
	c.Network = flags&capFlagNetwork != 0
	c.WriteHome = flags&capFlagWriteHome != 0
	c.WriteTmp = flags&capFlagWriteTmp != 0
	if c.ReadPaths, err = readStrings(r); err != nil {
		return c, err
	}
	if c.WritePaths, err = readStrings(r); err != nil {
		return c, err
	}
	if c.MaxCPU, err = readU64(r); err != nil {
		return c, err
	}
	if c.MaxMemory, err = readU64(r); err != nil {
		return c, err
	}
	timeoutNanos, err := readI64(r)
	if err != nil {
		return c, err
	}
	c.Timeout = time.Duration(timeoutNanos)
	return c, nil
}

// Satisfies reports whether a worker granting `want` (this value) meets an
// action's required capabilities.
func (c Capabilities) Satisfies(required Capabilities) bool {
	if required.Network && !c.Network {
		return false
	}
	if required.WriteHome && !c.WriteHome {
		return false
	}
	if required.WriteTmp && !c.WriteTmp {
		return false
	}
	if required.MaxCPU != 0 && (c.MaxCPU == 0 || c.MaxCPU < required.MaxCPU) {
		return false
	}
	if required.MaxMemory != 0 && (c.MaxMemory == 0 || c.MaxMemory < required.MaxMemory) {
		return false
	}
	return true
}

// Registration is a worker's hello to the coordinator.
type Registration struct {
	WorkerID     WorkerID
	Capabilities Capabilities
	Hostname     string
}

func (m Registration) Encode() []byte {
	var buf bytes.Buffer
	writeU64(&buf, uint64(m.WorkerID))
	m.Capabilities.encode(&buf)
	writeString(&buf, m.Hostname)
	return buf.Bytes()
}

func DecodeRegistration(payload []byte) (Registration, error) {
	r := bytes.NewReader(payload)
	var m Registration
	id, err := readU64(r)
	if err != nil {
		return m, err
	}
	m.WorkerID = WorkerID(id)
	if m.Capabilities, err = decodeCapabilities(r); err != nil {
		return m, err
	}
	m.Hostname, err = readString(r)
	return m, err
}

// ActionRequest dispatches one action to a worker.
type ActionRequest struct {
	ActionID     string
	TargetID     string
	Command      []string
	Env          []string
	Capabilities Capabilities
}

func (m ActionRequest) Encode() []byte {
	var buf bytes.Buffer
	writeString(&buf, m.ActionID)
	writeString(&buf, m.TargetID)
	writeStrings(&buf, m.Command)
	writeStrings(&buf, m.Env)
	m.Capabilities.encode(&buf)
	return buf.Bytes()
}

func DecodeActionRequest(payload []byte) (ActionRequest, error) {
	r := bytes.NewReader(payload)
	var m ActionRequest
	var err error
	if m.ActionID, err = readString(r); err != nil {
		return m, err
	}
	if m.TargetID, err = readString(r); err != nil {
		return m, err
	}
	if m.Command, err = readStrings(r); err != nil {
		return m, err
	}
	if m.Env, err = readStrings(r); err != nil {
		return m, err
	}
	m.Capabilities, err = decodeCapabilities(r)
	return m, err
}

// ActionResult is a worker's report back for one ActionRequest.
type ActionResult struct {
	ActionID   string
	Success    bool
	OutputHash string
	Stdout     string
	Stderr     string
	ExitCode   int32
}

func (m ActionResult) Encode() []byte {
	var buf bytes.Buffer
	writeString(&buf, m.ActionID)
	if m.Success {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeString(&buf, m.OutputHash)
	writeString(&buf, m.Stdout)
	writeString(&buf, m.Stderr)
	writeI64(&buf, int64(m.ExitCode))
	return buf.Bytes()
}

func DecodeActionResult(payload []byte) (ActionResult, error) {
	r := bytes.NewReader(payload)
	var m ActionResult
	var err error
	if m.ActionID, err = readString(r); err != nil {
		return m, err
	}
	success, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.Success = success == 1
	if m.OutputHash, err = readString(r); err != nil {
		return m, err
	}
	if m.Stdout, err = readString(r); err != nil {
		return m, err
	}
	if m.Stderr, err = readString(r); err != nil {
		return m, err
	}
	exitCode, err := readI64(r)
	if err != nil {
		return m, err
	}
	m.ExitCode = int32(exitCode)
	return m, nil
}

// HeartBeat reports a worker's current load so the coordinator can keep
// Health(worker) and selectWorker's load ranking current.
type HeartBeat struct {
	WorkerID   WorkerID
	QueueDepth uint32
	CPUUsage   float64 // 0..1
	MemUsage   float64 // 0..1
	DiskUsage  float64 // 0..1
}

func (m HeartBeat) Encode() []byte {
	var buf bytes.Buffer
	writeU64(&buf, uint64(m.WorkerID))
	writeU32(&buf, m.QueueDepth)
	writeFloat(&buf, m.CPUUsage)
	writeFloat(&buf, m.MemUsage)
	writeFloat(&buf, m.DiskUsage)
	return buf.Bytes()
}

func DecodeHeartBeat(payload []byte) (HeartBeat, error) {
	r := bytes.NewReader(payload)
	var m HeartBeat
	id, err := readU64(r)
	if err != nil {
		return m, err
	}
	m.WorkerID = WorkerID(id)
	if m.QueueDepth, err = readU32(r); err != nil {
		return m, err
	}
	if m.CPUUsage, err = readFloat(r); err != nil {
		return m, err
	}
	if m.MemUsage, err = readFloat(r); err != nil {
		return m, err
	}
	m.DiskUsage, err = readFloat(r)
	return m, err
}

// StealRequest asks a peer worker for a share of its queued work.
type StealRequest struct {
	FromWorker WorkerID
	Count      uint32
}

func (m StealRequest) Encode() []byte {
	var buf bytes.Buffer
	writeU64(&buf, uint64(m.FromWorker))
	writeU32(&buf, m.Count)
	return buf.Bytes()
}

func DecodeStealRequest(payload []byte) (StealRequest, error) {
	r := bytes.NewReader(payload)
	var m StealRequest
	id, err := readU64(r)
	if err != nil {
		return m, err
	}
	m.FromWorker = WorkerID(id)
	m.Count, err = readU32(r)
	return m, err
}

// StealResponse returns the granted action IDs (possibly fewer than asked).
type StealResponse struct {
	ActionIDs []string
}

func (m StealResponse) Encode() []byte {
	var buf bytes.Buffer
	writeStrings(&buf, m.ActionIDs)
	return buf.Bytes()
}

func DecodeStealResponse(payload []byte) (StealResponse, error) {
	r := bytes.NewReader(payload)
	ids, err := readStrings(r)
	return StealResponse{ActionIDs: ids}, err
}

// Shutdown tells a worker to stop; Graceful=true lets it drain in-flight
// work up to Timeout before exiting.
type Shutdown struct {
	Graceful bool
	Timeout  time.Duration
}

func (m Shutdown) Encode() []byte {
	var buf bytes.Buffer
	if m.Graceful {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeI64(&buf, int64(m.Timeout))
	return buf.Bytes()
}

func DecodeShutdown(payload []byte) (Shutdown, error) {
	r := bytes.NewReader(payload)
	var m Shutdown
	graceful, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.Graceful = graceful == 1
	timeoutNanos, err := readI64(r)
	if err != nil {
		return m, err
	}
	m.Timeout = time.Duration(timeoutNanos)
	return m, nil
}

// WorkRequest is an idle worker pulling for more work rather than waiting
// for the coordinator to push an ActionRequest.
type WorkRequest struct {
	WorkerID WorkerID
	Capacity uint32
}

func (m WorkRequest) Encode() []byte {
	var buf bytes.Buffer
	writeU64(&buf, uint64(m.WorkerID))
	writeU32(&buf, m.Capacity)
	return buf.Bytes()
}

func DecodeWorkRequest(payload []byte) (WorkRequest, error) {
	r := bytes.NewReader(payload)
	var m WorkRequest
	id, err := readU64(r)
	if err != nil {
		return m, err
	}
	m.WorkerID = WorkerID(id)
	m.Capacity, err = readU32(r)
	return m, err
}

// PeerDiscoveryRequest asks known peers to announce themselves.
type PeerDiscoveryRequest struct {
	RequesterID WorkerID
}

func (m PeerDiscoveryRequest) Encode() []byte {
	var buf bytes.Buffer
	writeU64(&buf, uint64(m.RequesterID))
	return buf.Bytes()
}

func DecodePeerDiscoveryRequest(payload []byte) (PeerDiscoveryRequest, error) {
	r := bytes.NewReader(payload)
	id, err := readU64(r)
	return PeerDiscoveryRequest{RequesterID: WorkerID(id)}, err
}

// PeerDiscoveryResponse lists the peers known to the responder.
type PeerDiscoveryResponse struct {
	Peers []WorkerID
}

func (m PeerDiscoveryResponse) Encode() []byte {
	var buf bytes.Buffer
	writeU32(&buf, uint32(len(m.Peers)))
	for _, p := range m.Peers {
		writeU64(&buf, uint64(p))
	}
	return buf.Bytes()
}

func DecodePeerDiscoveryResponse(payload []byte) (PeerDiscoveryResponse, error) {
	r := bytes.NewReader(payload)
	n, err := readU32(r)
	if err != nil {
		return PeerDiscoveryResponse{}, err
	}
	peers := make([]WorkerID, n)
	for i := uint32(0); i < n; i++ {
		id, err := readU64(r)
		if err != nil {
			return PeerDiscoveryResponse{}, err
		}
		peers[i] = WorkerID(id)
	}
	return PeerDiscoveryResponse{Peers: peers}, nil
}

// PeerAnnounce is unsolicited: "I exist, here is how to reach me."
type PeerAnnounce struct {
	WorkerID WorkerID
	Address  string
}

func (m PeerAnnounce) Encode() []byte {
	var buf bytes.Buffer
	writeU64(&buf, uint64(m.WorkerID))
	writeString(&buf, m.Address)
	return buf.Bytes()
}

func DecodePeerAnnounce(payload []byte) (PeerAnnounce, error) {
	r := bytes.NewReader(payload)
	id, err := readU64(r)
	if err != nil {
		return PeerAnnounce{}, err
	}
	addr, err := readString(r)
	return PeerAnnounce{WorkerID: WorkerID(id), Address: addr}, err
}

// PeerMetricsUpdate is HeartBeat's peer-to-peer analogue, gossiped between
// workers running a work-stealing mesh without a coordinator in the loop.
type PeerMetricsUpdate struct {
	WorkerID   WorkerID
	QueueDepth uint32
	CPUUsage   float64
}

func (m PeerMetricsUpdate) Encode() []byte {
	var buf bytes.Buffer
	writeU64(&buf, uint64(m.WorkerID))
	writeU32(&buf, m.QueueDepth)
	writeFloat(&buf, m.CPUUsage)
	return buf.Bytes()
}

func DecodePeerMetricsUpdate(payload []byte) (PeerMetricsUpdate, error) {
	r := bytes.NewReader(payload)
	id, err := readU64(r)
	if err != nil {
		return PeerMetricsUpdate{}, err
	}
	depth, err := readU32(r)
	if err != nil {
		return PeerMetricsUpdate{}, err
	}
	cpu, err := readFloat(r)
	return PeerMetricsUpdate{WorkerID: WorkerID(id), QueueDepth: depth, CPUUsage: cpu}, err
}

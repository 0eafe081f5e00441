package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/kraklabs/builder/internal/graph"
)

const (
	ckptMagic   = "CKPT"
	ckptVersion = 1
)

// encode serializes cp per the engine's CKPT binary layout: magic(4)
// version(1) length-prefixed workspace root, 8-byte unix timestamp, three
// 4-byte counts (total/completed/failed), then node-state entries,
// node-hash entries, and the failed-target list, all length-prefixed.
func encode(cp *Checkpoint) []byte {
	var buf bytes.Buffer
	buf.WriteString(ckptMagic)
	buf.WriteByte(ckptVersion)
	writeString(&buf, cp.WorkspaceRoot)
	writeI64(&buf, cp.Timestamp.Unix())
	writeU32(&buf, uint32(cp.TotalTargets))
	writeU32(&buf, uint32(cp.CompletedTargets))
	writeU32(&buf, uint32(cp.FailedTargets))

	ids := make([]string, 0, len(cp.NodeStates))
	for id := range cp.NodeStates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	writeU32(&buf, uint32(len(ids)))
	for _, id := range ids {
		writeString(&buf, id)
		buf.WriteByte(byte(cp.NodeStates[id]))
	}

	hashIDs := make([]string, 0, len(cp.NodeHashes))
	for id := range cp.NodeHashes {
		hashIDs = append(hashIDs, id)
	}
	sort.Strings(hashIDs)
	writeU32(&buf, uint32(len(hashIDs)))
	for _, id := range hashIDs {
		writeString(&buf, id)
		writeString(&buf, cp.NodeHashes[id])
	}

	failed := append([]string(nil), cp.FailedTargetIDs...)
	sort.Strings(failed)
	writeU32(&buf, uint32(len(failed)))
	for _, id := range failed {
		writeString(&buf, id)
	}
	return buf.Bytes()
}

func decode(blob []byte) (*Checkpoint, error) {
	r := bytes.NewReader(blob)
	m := make([]byte, 4)
	if _, err := r.Read(m); err != nil || string(m) != ckptMagic {
		return nil, fmt.Errorf("checkpoint: bad magic")
	}
	v, err := r.ReadByte()
	if err != nil || v != ckptVersion {
		return nil, fmt.Errorf("checkpoint: unsupported version %d", v)
	}
	cp := &Checkpoint{}
	if cp.WorkspaceRoot, err = readString(r); err != nil {
		return nil, err
	}
	ts, err := readI64(r)
	if err != nil {
		return nil, err
	}
	cp.Timestamp = time.Unix(ts, 0)

	total, err := readU32(r)
	if err != nil {
		return nil, err
	}
	completed, err := readU32(r)
	if err != nil {
		return nil, err
	}
	failed, err := readU32(r)
	if err != nil {
		return nil, err
	}
	cp.TotalTargets, cp.CompletedTargets, cp.FailedTargets = int(total), int(completed), int(failed)

	stateCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	cp.NodeStates = make(map[string]graph.Status, stateCount)
	for i := uint32(0); i < stateCount; i++ {
		id, err := readString(r)
		if err != nil {
			return nil, err
		}
		statusByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		cp.NodeStates[id] = graph.Status(statusByte)
	}

	hashCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	cp.NodeHashes = make(map[string]string, hashCount)
	for i := uint32(0); i < hashCount; i++ {
		id, err := readString(r)
		if err != nil {
			return nil, err
		}
		h, err := readString(r)
		if err != nil {
			return nil, err
		}
		cp.NodeHashes[id] = h
	}

	failedCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	cp.FailedTargetIDs = make([]string, failedCount)
	for i := uint32(0); i < failedCount; i++ {
		if cp.FailedTargetIDs[i], err = readString(r); err != nil {
			return nil, err
		}
	}
	return cp, nil
}

func readFileIfExists(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return b, err
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeI64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readI64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

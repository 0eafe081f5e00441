package actioncache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"time"
)

const (
	magic   = "ACTC"
	version = 1
)

// encode serializes the entry map per the engine's ACTC binary layout:
// magic(4) version(1) count(4 BE), then for each entry: the raw 32-byte
// ActionId, length-prefixed targetId and subId, 1-byte ActionType,
// length-prefixed hash-of-inputs, two length-prefixed string arrays
// (inputs, outputs), three
// length-prefixed string-to-string maps (inputHashes, outputHashes,
// metadata), two 8-byte BE unix timestamps, length-prefixed executionHash,
// 1-byte success.
func encode(entries map[ActionID]*Entry) []byte {
	ids := make([]ActionID, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(version)
	writeU32(&buf, uint32(len(ids)))
	for _, id := range ids {
		e := entries[id]
		buf.Write(id[:])
		writeString(&buf, e.TargetID)
		writeString(&buf, e.SubID)
		buf.WriteByte(byte(e.Type))
		writeString(&buf, e.HashOfInputs)
		writeStringArray(&buf, e.Inputs)
		writeStringArray(&buf, e.Outputs)
		writeStringMap(&buf, e.InputHashes)
		writeStringMap(&buf, e.OutputHashes)
		writeStringMap(&buf, e.Metadata)
		writeI64(&buf, e.Timestamp.Unix())
		writeI64(&buf, e.LastAccess.Unix())
		writeString(&buf, e.ExecutionHash)
		if e.Success {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

func decode(blob []byte) (map[ActionID]*Entry, error) {
	r := bytes.NewReader(blob)
	m := make([]byte, 4)
	if _, err := r.Read(m); err != nil || string(m) != magic {
		return nil, fmt.Errorf("actioncache: bad magic")
	}
	v, err := r.ReadByte()
	if err != nil || v != version {
		return nil, fmt.Errorf("actioncache: unsupported version %d", v)
	}
	count, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make(map[ActionID]*Entry, count)
	for i := uint32(0); i < count; i++ {
		var e Entry
		if _, err := r.Read(e.ID[:]); err != nil {
			return nil, err
		}
		if e.TargetID, err = readString(r); err != nil {
			return nil, err
		}
		if e.SubID, err = readString(r); err != nil {
			return nil, err
		}
		typ, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		e.Type = ActionType(typ)
		if e.HashOfInputs, err = readString(r); err != nil {
			return nil, err
		}
		if e.Inputs, err = readStringArray(r); err != nil {
			return nil, err
		}
		if e.Outputs, err = readStringArray(r); err != nil {
			return nil, err
		}
		if e.InputHashes, err = readStringMap(r); err != nil {
			return nil, err
		}
		if e.OutputHashes, err = readStringMap(r); err != nil {
			return nil, err
		}
		if e.Metadata, err = readStringMap(r); err != nil {
			return nil, err
		}
		ts, err := readI64(r)
		if err != nil {
			return nil, err
		}
		la, err := readI64(r)
		if err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0)
		e.LastAccess = time.Unix(la, 0)
		if e.ExecutionHash, err = readString(r); err != nil {
			return nil, err
		}
		success, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		e.Success = success != 0
		out[e.ID] = &e
	}
	return out, nil
}

func readFileIfExists(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return b, err
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

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) { writeBytes(buf, []byte(s)) }

func writeStringArray(buf *bytes.Buffer, ss []string) {
	cp := append([]string(nil), ss...)
	sort.Strings(cp)
	writeU32(buf, uint32(len(cp)))
	for _, s := range cp {
		writeString(buf, s)
	}
}

func writeStringMap(buf *bytes.Buffer, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeU32(buf, uint32(len(keys)))
	for _, k := range keys {
		writeString(buf, k)
		writeString(buf, m[k])
	}
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

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}

func readStringArray(r *bytes.Reader) ([]string, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := uint32(0); i < n; i++ {
		if out[i], err = readString(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readStringMap(r *bytes.Reader) (map[string]string, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

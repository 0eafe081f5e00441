package targetcache

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/zeebo/blake3"

	"github.com/kraklabs/builder/internal/hash"
)

const (
	envelopeMagic   = "TCAC"
	envelopeVersion = 1
)

// signingKey derives the BLAKE3 keyed-hash signing key from a workspace root
// path, per the engine's "BLAKE3-keyed HMAC whose key is derived from
// workspace root" requirement.
func signingKey(workspaceRoot string) [32]byte {
	var key [32]byte
	copy(key[:], hash.RawBytes([]byte(workspaceRoot)))
	return key
}

func sign(workspaceRoot string, data []byte) ([]byte, error) {
	key := signingKey(workspaceRoot)
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		return nil, err
	}
	_, _ = h.Write(data)
	return h.Sum(nil), nil
}

func verify(workspaceRoot string, data, signature []byte) bool {
	want, err := sign(workspaceRoot, data)
	if err != nil {
		return false
	}
	return bytes.Equal(want, signature)
}

// encodeEnvelope wraps the serialized entry map in a signed envelope:
// magic(4) version(1) createdAt(8 BE) len(data)(4 BE) data len(sig)(4 BE) sig.
func encodeEnvelope(workspaceRoot string, entries map[string]*Entry) ([]byte, error) {
	data := encodeEntries(entries)
	sig, err := sign(workspaceRoot, data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(envelopeMagic)
	buf.WriteByte(envelopeVersion)
	writeI64(&buf, time.Now().Unix())
	writeBytes(&buf, data)
	writeBytes(&buf, sig)
	return buf.Bytes(), nil
}

// decodeEnvelope validates magic/version/signature and returns the decoded
// entries. verificationFailed is true (with entries=nil, err=nil) when the
// signature does not match, letting the caller reset-with-log rather than
// treat it as a hard I/O error.
func decodeEnvelope(workspaceRoot string, blob []byte) (entries map[string]*Entry, createdAt time.Time, verificationFailed bool, err error) {
	r := bytes.NewReader(blob)
	magic := make([]byte, 4)
	if _, err = r.Read(magic); err != nil || string(magic) != envelopeMagic {
		return nil, time.Time{}, false, fmt.Errorf("not a target cache envelope")
	}
	version, err := r.ReadByte()
	if err != nil || version != envelopeVersion {
		return nil, time.Time{}, false, fmt.Errorf("unsupported target cache version %d", version)
	}
	createdUnix, err := readI64(r)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	data, err := readBytes(r)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	sig, err := readBytes(r)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	if !verify(workspaceRoot, data, sig) {
		return nil, time.Unix(createdUnix, 0), true, nil
	}
	entries, err = decodeEntries(data)
	return entries, time.Unix(createdUnix, 0), false, err
}

func encodeEntries(entries map[string]*Entry) []byte {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var buf bytes.Buffer
	writeU32(&buf, uint32(len(ids)))
	for _, id := range ids {
		e := entries[id]
		writeString(&buf, e.TargetID)
		writeString(&buf, e.BuildHash)
		writeStringMap(&buf, e.SourceContentHashes)
		writeStringMap(&buf, e.SourceMetadataHashes)
		writeStringMap(&buf, e.DepHashes)
		writeI64(&buf, e.CreatedAt.Unix())
		writeI64(&buf, e.LastAccessAt.Unix())
	}
	return buf.Bytes()
}

func decodeEntries(data []byte) (map[string]*Entry, error) {
	r := bytes.NewReader(data)
	count, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Entry, count)
	for i := uint32(0); i < count; i++ {
		e := &Entry{}
		if e.TargetID, err = readString(r); err != nil {
			return nil, err
		}
		if e.BuildHash, err = readString(r); err != nil {
			return nil, err
		}
		if e.SourceContentHashes, err = readStringMap(r); err != nil {
			return nil, err
		}
		if e.SourceMetadataHashes, err = readStringMap(r); err != nil {
			return nil, err
		}
		if e.DepHashes, err = readStringMap(r); err != nil {
			return nil, err
		}
		created, err := readI64(r)
		if err != nil {
			return nil, err
		}
		lastAccess, err := readI64(r)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(created, 0)
		e.LastAccessAt = time.Unix(lastAccess, 0)
		out[e.TargetID] = e
	}
	return out, nil
}

// decodeLegacyJSON migrates the pre-binary cache.json format: a plain JSON
// object mapping target ID to Entry.
func decodeLegacyJSON(blob []byte) (map[string]*Entry, error) {
	var raw map[string]*Entry
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, err
	}
	return raw, nil
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

// Package distproto implements the distributed build protocol (C10): a
// length-framed binary envelope carrying one of a fixed set of message
// types between a coordinator and its workers, plus the coordinator-side
// worker registry and scheduling policy.
package distproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// ProtocolVersion is the only envelope version this package speaks.
const ProtocolVersion = 1

// Compression names the payload codec, carried as a single byte on the wire.
type Compression byte

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

// MessageType identifies the payload that follows an Envelope's header.
type MessageType byte

const (
	MessageRegistration MessageType = iota + 1
	MessageActionRequest
	MessageActionResult
	MessageHeartBeat
	MessageStealRequest
	MessageStealResponse
	MessageShutdown
	MessageWorkRequest
	MessagePeerDiscoveryRequest
	MessagePeerDiscoveryResponse
	MessagePeerAnnounce
	MessagePeerMetricsUpdate
)

// WorkerID is a worker's identity: the low 64 bits of a random V4 UUID, so
// concurrent registrations at a coordinator never collide without a
// coordinator-assigned sequence number. 0 is reserved for "broadcast".
type WorkerID uint64

// NewWorkerID mints a fresh, collision-resistant worker identity.
func NewWorkerID() WorkerID {
	u := uuid.New()
	return WorkerID(binary.BigEndian.Uint64(u[8:16]))
}

// BroadcastWorkerID is the recipient value meaning "every worker".
const BroadcastWorkerID WorkerID = 0

// Envelope is the fixed-layout header every message travels in, followed by
// a 1-byte MessageType and a type-specific, possibly compressed payload.
type Envelope struct {
	Version     byte
	MessageID   uint64
	Sender      WorkerID
	Recipient   WorkerID
	SysTime     int64 // unix nanoseconds
	Compression Compression
	Type        MessageType
	Payload     []byte // already compressed per Compression
}

// NewEnvelope builds an envelope around an already-encoded, uncompressed
// payload, compressing it per compression and stamping a fresh MessageID.
func NewEnvelope(sender, recipient WorkerID, sysTimeUnixNano int64, typ MessageType, compression Compression, rawPayload []byte) (Envelope, error) {
	payload, err := compress(compression, rawPayload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Version:     ProtocolVersion,
		MessageID:   randomMessageID(),
		Sender:      sender,
		Recipient:   recipient,
		SysTime:     sysTimeUnixNano,
		Compression: compression,
		Type:        typ,
		Payload:     payload,
	}, nil
}

func randomMessageID() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[0:8])
}

// DecodedPayload decompresses e's payload per its Compression tag.
func (e Envelope) DecodedPayload() ([]byte, error) {
	return decompress(e.Compression, e.Payload)
}

// Encode serializes e: {u8 version, u64 messageId, u64 sender, u64
// recipient, i64 sysTime, u8 compression, u8 messageType, len-prefixed
// payload}. All integers are big-endian.
func (e Envelope) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(e.Version)
	writeU64(&buf, e.MessageID)
	writeU64(&buf, uint64(e.Sender))
	writeU64(&buf, uint64(e.Recipient))
	writeI64(&buf, e.SysTime)
	buf.WriteByte(byte(e.Compression))
	buf.WriteByte(byte(e.Type))
	writeBytes(&buf, e.Payload)
	return buf.Bytes()
}

// DecodeEnvelope parses the wire format produced by Encode.
func DecodeEnvelope(blob []byte) (Envelope, error) {
	r := bytes.NewReader(blob)
	var e Envelope
	var err error
	if e.Version, err = r.ReadByte(); err != nil {
		return Envelope{}, err
	}
	if e.Version != ProtocolVersion {
		return Envelope{}, fmt.Errorf("distproto: unsupported envelope version %d", e.Version)
	}
	if e.MessageID, err = readU64(r); err != nil {
		return Envelope{}, err
	}
	sender, err := readU64(r)
	if err != nil {
		return Envelope{}, err
	}
	e.Sender = WorkerID(sender)
	recipient, err := readU64(r)
	if err != nil {
		return Envelope{}, err
	}
	e.Recipient = WorkerID(recipient)
	if e.SysTime, err = readI64(r); err != nil {
		return Envelope{}, err
	}
	compression, err := r.ReadByte()
	if err != nil {
		return Envelope{}, err
	}
	e.Compression = Compression(compression)
	typ, err := r.ReadByte()
	if err != nil {
		return Envelope{}, err
	}
	e.Type = MessageType(typ)
	if e.Payload, err = readBytes(r); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeI64(buf *bytes.Buffer, v int64) { writeU64(buf, uint64(v)) }

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) { writeBytes(buf, []byte(s)) }

func writeStrings(buf *bytes.Buffer, ss []string) {
	writeU32(buf, uint32(len(ss)))
	for _, s := range ss {
		writeString(buf, s)
	}
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readI64(r *bytes.Reader) (int64, error) {
	v, err := readU64(r)
	return int64(v), err
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

func writeFloat(buf *bytes.Buffer, v float64) {
	writeU64(buf, math.Float64bits(v))
}

func readFloat(r *bytes.Reader) (float64, error) {
	bits, err := readU64(r)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

func readStrings(r *bytes.Reader) ([]string, error) {
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

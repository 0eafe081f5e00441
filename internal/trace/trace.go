// Package trace implements the engine's span tree (C12): parent/child spans
// with W3C traceparent propagation, attributes, timestamped events, and a
// pluggable exporter seam. Tracing is purely observational: nothing here
// ever influences scheduling or cache decisions.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Kind classifies a span's role, mirroring the common server/client/internal
// distinctions used by distributed tracing systems.
type Kind string

const (
	KindInternal Kind = "internal"
	KindServer   Kind = "server"
	KindClient   Kind = "client"
	KindProducer Kind = "producer"
	KindConsumer Kind = "consumer"
)

// Status is a span's terminal outcome.
type Status string

const (
	StatusUnset Status = "unset"
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Event is a timestamped annotation attached to a span.
type Event struct {
	Time       time.Time
	Name       string
	Attributes map[string]string
}

// Span is one node in the trace tree. TraceID is 128 bits, SpanID 64 bits;
// ParentSpanID is all-zero for a root span.
type Span struct {
	TraceID      [16]byte
	SpanID       [8]byte
	ParentSpanID [8]byte
	Name         string
	Kind         Kind
	Start        time.Time
	Finish       time.Time
	Attributes   map[string]string
	Events       []Event
	Status       Status

	tracer *Tracer
}

// TraceIDHex renders the span's trace ID as 32 lowercase hex characters.
func (s *Span) TraceIDHex() string { return hex.EncodeToString(s.TraceID[:]) }

// SpanIDHex renders the span's ID as 16 lowercase hex characters.
func (s *Span) SpanIDHex() string { return hex.EncodeToString(s.SpanID[:]) }

// SetAttribute records a string attribute on the span.
func (s *Span) SetAttribute(key, value string) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]string)
	}
	s.Attributes[key] = value
}

// AddEvent appends a timestamped event to the span.
func (s *Span) AddEvent(name string, attrs map[string]string) {
	s.Events = append(s.Events, Event{Time: time.Now(), Name: name, Attributes: attrs})
}

// SetStatus records the span's terminal status.
func (s *Span) SetStatus(status Status) { s.Status = status }

// TraceParent formats the span's W3C traceparent header value:
// "00-<trace32hex>-<span16hex>-<sampledFlag>".
func (s *Span) TraceParent(sampled bool) string {
	flag := "00"
	if sampled {
		flag = "01"
	}
	return "00-" + s.TraceIDHex() + "-" + s.SpanIDHex() + "-" + flag
}

// End finalizes the span (stamping Finish if unset) and hands it to the
// tracer's exporters.
func (s *Span) End() {
	if s.Finish.IsZero() {
		s.Finish = time.Now()
	}
	if s.tracer != nil {
		s.tracer.finish(s)
	}
}

// Exporter receives finished spans. Implementations must not block the
// caller for long; Tracer invokes exporters synchronously on span end.
type Exporter interface {
	Export(*Span)
	Flush() error
}

// Tracer is a thread-safe span factory and exporter fan-out. It is an
// explicit context object per the engine's no-singletons rule: callers wire
// one Tracer through their call graph (the active span travels in the
// context StartSpan returns) rather than reaching for a package-level global.
type Tracer struct {
	mu        sync.Mutex
	exporters []Exporter
}

// NewTracer returns a Tracer with no exporters registered.
func NewTracer() *Tracer { return &Tracer{} }

// RegisterExporter adds exp to the set notified on every span end.
func (t *Tracer) RegisterExporter(exp Exporter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exporters = append(t.exporters, exp)
}

// Flush forces every registered exporter to flush buffered spans.
func (t *Tracer) Flush() error {
	t.mu.Lock()
	exporters := append([]Exporter(nil), t.exporters...)
	t.mu.Unlock()
	var firstErr error
	for _, exp := range exporters {
		if err := exp.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Tracer) finish(s *Span) {
	t.mu.Lock()
	exporters := append([]Exporter(nil), t.exporters...)
	t.mu.Unlock()
	for _, exp := range exporters {
		exp.Export(s)
	}
}

type spanCtxKey struct{}

// StartSpan begins a new span. If ctx carries a parent span, the new span's
// TraceID and ParentSpanID are derived from it; otherwise a fresh TraceID is
// generated and the span is a root. The returned context carries the new
// span so nested calls can discover their parent.
func (t *Tracer) StartSpan(ctx context.Context, name string, kind Kind) (context.Context, *Span) {
	s := &Span{Name: name, Kind: kind, Start: time.Now(), Status: StatusUnset, tracer: t}
	if parent, ok := SpanFromContext(ctx); ok {
		s.TraceID = parent.TraceID
		s.ParentSpanID = parent.SpanID
	} else {
		s.TraceID = randomID16()
	}
	s.SpanID = randomID8()
	return context.WithValue(ctx, spanCtxKey{}, s), s
}

// SpanFromContext retrieves the active span installed by StartSpan, if any.
func SpanFromContext(ctx context.Context) (*Span, bool) {
	s, ok := ctx.Value(spanCtxKey{}).(*Span)
	return s, ok
}

// ParseTraceParent decodes a W3C traceparent header into a trace/span ID
// pair suitable for seeding a child Tracer's next StartSpan call across a
// process boundary (e.g. a distributed worker picking up a dispatched
// action). It returns ok=false for a malformed header.
func ParseTraceParent(header string) (traceID [16]byte, spanID [8]byte, sampled bool, ok bool) {
	if len(header) != 55 {
		return traceID, spanID, false, false
	}
	if header[0:2] != "00" || header[2] != '-' || header[35] != '-' || header[52] != '-' {
		return traceID, spanID, false, false
	}
	tb, err := hex.DecodeString(header[3:35])
	if err != nil || len(tb) != 16 {
		return traceID, spanID, false, false
	}
	sb, err := hex.DecodeString(header[36:52])
	if err != nil || len(sb) != 8 {
		return traceID, spanID, false, false
	}
	copy(traceID[:], tb)
	copy(spanID[:], sb)
	return traceID, spanID, header[53:55] == "01", true
}

func randomID16() [16]byte {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return b
}

func randomID8() [8]byte {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return b
}

package trace

import (
	"encoding/json"
	"os"
	"sync"
)

// jaegerSpan mirrors the subset of the Jaeger JSON model the exporter emits:
// enough for a `jaeger-ui`-style viewer to render the tree, not the full
// OTel/Jaeger collector schema.
type jaegerSpan struct {
	TraceID       string            `json:"traceID"`
	SpanID        string            `json:"spanID"`
	ParentSpanID  string            `json:"parentSpanID,omitempty"`
	OperationName string            `json:"operationName"`
	StartTime     int64             `json:"startTime"` // microseconds since epoch
	Duration      int64             `json:"duration"`  // microseconds
	Tags          map[string]string `json:"tags,omitempty"`
	Logs          []jaegerLog       `json:"logs,omitempty"`
	Status        string            `json:"status"`
}

type jaegerLog struct {
	Timestamp int64             `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
	Name      string            `json:"name"`
}

type jaegerDocument struct {
	Data []struct {
		TraceID string       `json:"traceID"`
		Spans   []jaegerSpan `json:"spans"`
	} `json:"data"`
}

// JaegerExporter buffers finished spans in memory, grouped by trace, and
// writes them as a single Jaeger-shaped JSON document to path on Flush.
type JaegerExporter struct {
	path string

	mu    sync.Mutex
	byTID map[string][]jaegerSpan
	order []string
}

// NewJaegerExporter returns an exporter that will write its buffered trace
// document to path when Flush is called.
func NewJaegerExporter(path string) *JaegerExporter {
	return &JaegerExporter{path: path, byTID: make(map[string][]jaegerSpan)}
}

func (j *JaegerExporter) Export(s *Span) {
	js := jaegerSpan{
		TraceID:       s.TraceIDHex(),
		SpanID:        s.SpanIDHex(),
		OperationName: s.Name,
		StartTime:     s.Start.UnixMicro(),
		Duration:      s.Finish.Sub(s.Start).Microseconds(),
		Tags:          s.Attributes,
		Status:        string(s.Status),
	}
	var zero [8]byte
	if s.ParentSpanID != zero {
		js.ParentSpanID = hexEncode(s.ParentSpanID[:])
	}
	for _, e := range s.Events {
		js.Logs = append(js.Logs, jaegerLog{Timestamp: e.Time.UnixMicro(), Fields: e.Attributes, Name: e.Name})
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.byTID[js.TraceID]; !ok {
		j.order = append(j.order, js.TraceID)
	}
	j.byTID[js.TraceID] = append(j.byTID[js.TraceID], js)
}

// Flush writes the buffered traces to disk as one Jaeger JSON document. It
// does not clear the buffer, so a later Flush re-writes the full history.
func (j *JaegerExporter) Flush() error {
	j.mu.Lock()
	doc := jaegerDocument{}
	for _, tid := range j.order {
		doc.Data = append(doc.Data, struct {
			TraceID string       `json:"traceID"`
			Spans   []jaegerSpan `json:"spans"`
		}{TraceID: tid, Spans: j.byTID[tid]})
	}
	j.mu.Unlock()

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(j.path, b, 0o644)
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0xf]
	}
	return string(out)
}

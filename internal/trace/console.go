package trace

import (
	"fmt"
	"io"
	"sort"
)

// ConsoleExporter writes a one-line-per-span summary to w, in the style of a
// developer-facing trace log rather than a machine-readable format.
type ConsoleExporter struct {
	w io.Writer
}

// NewConsoleExporter returns an Exporter that prints finished spans to w.
func NewConsoleExporter(w io.Writer) *ConsoleExporter { return &ConsoleExporter{w: w} }

func (c *ConsoleExporter) Export(s *Span) {
	dur := s.Finish.Sub(s.Start)
	fmt.Fprintf(c.w, "[trace %s] span %s %-20s %-8s %v status=%s\n",
		s.TraceIDHex()[:8], s.SpanIDHex(), s.Name, s.Kind, dur, s.Status)
	keys := make([]string, 0, len(s.Attributes))
	for k := range s.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(c.w, "    %s=%s\n", k, s.Attributes[k])
	}
	for _, e := range s.Events {
		fmt.Fprintf(c.w, "    event %s at %s\n", e.Name, e.Time.Format("15:04:05.000"))
	}
}

func (c *ConsoleExporter) Flush() error { return nil }

// Package warn collects the non-fatal anomalies raised while building and
// resolving a document. Every warning is logged when it is raised and kept
// so callers can inspect, count, or escalate them.
package warn

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Kind classifies a warning.
type Kind string

const (
	UnexpectedTag         Kind = "unexpected_tag"
	UnhandledTextTag      Kind = "unhandled_text_tag"
	MultipleTitle         Kind = "multiple_title"
	ZeroMatch             Kind = "zero_match"
	MultipleMatch         Kind = "multiple_match"
	UnmatchedCitation     Kind = "unmatched_citation"
	UnmatchedTable        Kind = "unmatched_table"
	UnmatchedFigure       Kind = "unmatched_figure"
	UnresolvableReference Kind = "unresolvable_reference"
	ReadHTMLFailure       Kind = "read_html_failure"
	ResolutionLoop        Kind = "resolution_loop"
	Unclassified          Kind = "unclassified"
	BadTextFormatting     Kind = "bad_text_formatting"
	ValidationSkipped     Kind = "validation_skipped"
)

// Warning is a single recorded anomaly.
type Warning struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}

func (w Warning) Error() string {
	if w.Context != "" {
		return fmt.Sprintf("%s: %s (%s)", w.Kind, w.Message, w.Context)
	}
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}

// Collector records warnings for one document. A nil *Collector discards
// everything.
type Collector struct {
	mu    sync.Mutex
	log   *slog.Logger
	items []Warning
}

// NewCollector returns a collector that logs through log. A nil logger
// falls back to slog.Default().
func NewCollector(log *slog.Logger) *Collector {
	if log == nil {
		log = slog.Default()
	}
	return &Collector{log: log}
}

// Discard returns a collector that records warnings without logging them.
func Discard() *Collector {
	return &Collector{log: slog.New(slog.DiscardHandler)}
}

// Warn records a warning. context names the element or document the
// warning applies to and may be empty.
func (c *Collector) Warn(kind Kind, context, format string, args ...any) {
	if c == nil {
		return
	}
	w := Warning{Kind: kind, Message: fmt.Sprintf(format, args...), Context: context}
	c.log.Warn(w.Message, "kind", string(kind), "context", context)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, w)
}

// Warnings returns a copy of every recorded warning in order.
func (c *Collector) Warnings() []Warning {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Warning, len(c.items))
	copy(out, c.items)
	return out
}

// Count returns the number of recorded warnings.
func (c *Collector) Count() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// CountKind returns the number of warnings of a given kind.
func (c *Collector) CountKind(kind Kind) int {
	n := 0
	for _, w := range c.Warnings() {
		if w.Kind == kind {
			n++
		}
	}
	return n
}

// Escalate joins all recorded warnings into one error, or returns nil when
// there are none. Callers running in strict mode use it to fail a document.
func (c *Collector) Escalate() error {
	ws := c.Warnings()
	if len(ws) == 0 {
		return nil
	}
	errs := make([]error, len(ws))
	for i, w := range ws {
		errs[i] = w
	}
	return errors.Join(errs...)
}

// Package envelope builds the uniform response shape shared by all Canvas
// tools.
package envelope

import (
	"github.com/edukit/canvas-mcp/pkg/client"
	"github.com/edukit/canvas-mcp/pkg/delta"
	"github.com/edukit/canvas-mcp/pkg/pagination"
)

// ErrorInfo is one user-visible error entry. Messages carry kind and a
// human explanation, never stack traces or credentials.
type ErrorInfo struct {
	Source  string `json:"source_name"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Envelope is the uniform tool response. OK is false iff every requested
// source failed with zero items produced; partial failures keep OK true
// with populated Errors.
type Envelope struct {
	OK         bool              `json:"ok"`
	Source     string            `json:"source"`
	Tool       string            `json:"tool"`
	Items      []pagination.Item `json:"items"`
	Pagination *pagination.Meta  `json:"pagination,omitempty"`
	FetchedAt  string            `json:"fetched_at"`
	Errors     []ErrorInfo       `json:"errors"`

	succeeded int
}

// New creates an empty envelope for a tool, stamped with the current time.
func New(tool string) *Envelope {
	return &Envelope{
		OK:        true,
		Source:    "canvas",
		Tool:      tool,
		Items:     []pagination.Item{},
		FetchedAt: delta.NowISO(),
		Errors:    []ErrorInfo{},
	}
}

// AddItems appends items to the envelope.
func (e *Envelope) AddItems(items []pagination.Item) {
	e.Items = append(e.Items, items...)
}

// AddError records a per-source failure.
func (e *Envelope) AddError(source string, err error) {
	e.Errors = append(e.Errors, ErrorInfo{
		Source:  source,
		Kind:    string(client.KindOf(err)),
		Message: err.Error(),
	})
}

// MarkSuccess records that one requested source completed without a fatal
// error. A source that legitimately returns zero items still counts.
func (e *Envelope) MarkSuccess() {
	e.succeeded++
}

// Finalize applies the OK invariant and returns the envelope.
func (e *Envelope) Finalize() *Envelope {
	e.OK = len(e.Errors) == 0 || e.succeeded > 0 || len(e.Items) > 0
	return e
}

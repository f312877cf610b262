package core

import "encoding/json"

// Request is the envelope sent once per flushed batch. ID correlates the
// matching Response and is unique per dispatcher instance.
type Request struct {
	ID     int                 `json:"id"`
	Method string              `json:"method"`
	Calls  [][]json.RawMessage `json:"calls"`
}

// Result is one positional entry of a Response. Exactly one of Response or
// Error is meaningful; a non-empty Error marks the call as failed.
type Result struct {
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Failed reports whether the result carries an error.
func (r Result) Failed() bool { return r.Error != "" }

// Response answers a Request. Results are aligned with Request.Calls.
type Response struct {
	ID      int      `json:"id"`
	Results []Result `json:"results"`
}

// StreamRequest starts a streaming (time-sliced) operation on the worker.
type StreamRequest struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Stream status values, emitted in the order start, pending*, done
// (or start, error).
const (
	StatusStart   = "start"
	StatusPending = "pending"
	StatusDone    = "done"
	StatusError   = "error"
)

// StreamStatus is one progress message of a streaming operation. Data holds
// only the results of the slice that produced it.
type StreamStatus struct {
	ID     int               `json:"id"`
	Status string            `json:"status"`
	Data   []json.RawMessage `json:"data,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// Terminal reports whether no further statuses follow this one.
func (s StreamStatus) Terminal() bool {
	return s.Status == StatusDone || s.Status == StatusError
}

// ---------------------------------------------------------------------------
// Debugger domain types shared by the worker tables and the client facades.
// ---------------------------------------------------------------------------

// Source is a script known to the debugger. Generated sources come from the
// debuggee; original sources are reconstructed through source maps.
type Source struct {
	ID           string `json:"id"`
	URL          string `json:"url,omitempty"`
	Text         string `json:"text,omitempty"`
	ContentType  string `json:"contentType,omitempty"`
	SourceMapURL string `json:"sourceMapURL,omitempty"`
	IsWasm       bool   `json:"isWasm,omitempty"`
}

// SourceLocation addresses a position in a source. Line is 1-based, Column
// is 0-based; a nil Column means "start of line".
type SourceLocation struct {
	SourceID  string `json:"sourceId"`
	Line      int    `json:"line"`
	Column    *int   `json:"column,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
}

// Col returns the column, treating an absent column as 0.
func (l SourceLocation) Col() int {
	if l.Column == nil {
		return 0
	}
	return *l.Column
}

// Position is a line/column pair inside a single source.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Before reports whether p sorts strictly before o.
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Column < o.Column
}

// AstLocation is a start/end span inside a source.
type AstLocation struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Contains reports whether pos lies within the span (inclusive).
func (l AstLocation) Contains(pos Position) bool {
	return !pos.Before(l.Start) && !l.End.Before(pos)
}

// MappedLocation pairs a location with its generated counterpart.
type MappedLocation struct {
	Location          SourceLocation `json:"location"`
	GeneratedLocation SourceLocation `json:"generatedLocation"`
}

// Range is a generated-code span addressed by line and column bounds.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// LineRange is a column span on a single line.
type LineRange struct {
	Line        int `json:"line"`
	ColumnStart int `json:"columnStart"`
	ColumnEnd   int `json:"columnEnd"`
}

// OriginalFrame is a stack frame remapped into original source coordinates.
type OriginalFrame struct {
	DisplayName string         `json:"displayName"`
	Location    SourceLocation `json:"location"`
}

// OriginalText is the text of an original source recovered from a map.
type OriginalText struct {
	Text        string `json:"text"`
	ContentType string `json:"contentType"`
}

// Int returns a pointer to v, for optional columns.
func Int(v int) *int { return &v }

// Mapping links a generated position to an original one, in the shape a
// source map generator accepts. Lines are 1-based, columns 0-based. A
// mapping without Source marks generated code with no original.
type Mapping struct {
	Generated Position  `json:"generated"`
	Original  *Position `json:"original,omitempty"`
	Source    string    `json:"source,omitempty"`
	Name      string    `json:"name,omitempty"`
}

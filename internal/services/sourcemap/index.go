package sourcemap

import (
	"math"

	"github.com/tidwall/btree"

	"github.com/cryguy/taskworker/internal/core"
)

// EndOfLine is the column end of a span that runs to the end of its line.
const EndOfLine = math.MaxInt32

// Bias picks the neighbour used when no mapping sits exactly at a position.
type Bias int

const (
	GreatestLowerBound Bias = iota
	LeastUpperBound
)

// ParseBias reads the search option of location queries. Unknown values
// mean GreatestLowerBound.
func ParseBias(s string) Bias {
	if s == "LEAST_UPPER_BOUND" {
		return LeastUpperBound
	}
	return GreatestLowerBound
}

type entry struct {
	core.Mapping
	seq int
}

func (e entry) origLine() int {
	if e.Original == nil {
		return 0
	}
	return e.Original.Line
}

func (e entry) origCol() int {
	if e.Original == nil {
		return 0
	}
	return e.Original.Column
}

func byGenerated(a, b entry) bool {
	if a.Generated.Line != b.Generated.Line {
		return a.Generated.Line < b.Generated.Line
	}
	if a.Generated.Column != b.Generated.Column {
		return a.Generated.Column < b.Generated.Column
	}
	return a.seq < b.seq
}

func byOriginal(a, b entry) bool {
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if a.origLine() != b.origLine() {
		return a.origLine() < b.origLine()
	}
	if a.origCol() != b.origCol() {
		return a.origCol() < b.origCol()
	}
	return byGenerated(a, b)
}

// index is a loaded source map, ordered both ways for position lookups.
type index struct {
	generatedID string
	url         string
	sources     []string
	content     map[string]string

	gen  *btree.BTreeG[entry]
	orig *btree.BTreeG[entry]
}

func newIndex(generatedID, url string, m *Map) (*index, error) {
	mappings, err := m.Decode()
	if err != nil {
		return nil, err
	}
	ix := &index{
		generatedID: generatedID,
		url:         url,
		sources:     append([]string(nil), m.Sources...),
		content:     make(map[string]string),
		gen:         btree.NewBTreeG(byGenerated),
		orig:        btree.NewBTreeG(byOriginal),
	}
	for i, src := range m.Sources {
		if text, ok := m.Content(i); ok {
			ix.content[src] = text
		}
	}
	for i, mp := range mappings {
		e := entry{Mapping: mp, seq: i}
		ix.gen.Set(e)
		if mp.Original != nil {
			ix.orig.Set(e)
		}
	}
	return ix, nil
}

func (ix *index) hasSource(url string) bool {
	return indexOf(ix.sources, url) >= 0
}

// originalFor finds the mapping covering a generated position. Only
// mappings on the same generated line qualify.
func (ix *index) originalFor(line, col int, bias Bias) (entry, bool) {
	var found entry
	var ok bool
	visit := func(e entry) bool {
		found, ok = e, e.Generated.Line == line
		return false
	}
	if bias == LeastUpperBound {
		ix.gen.Ascend(entry{Mapping: core.Mapping{Generated: core.Position{Line: line, Column: col}}, seq: -1}, visit)
	} else {
		ix.gen.Descend(entry{Mapping: core.Mapping{Generated: core.Position{Line: line, Column: col}}, seq: math.MaxInt}, visit)
	}
	if !ok || found.Original == nil {
		return entry{}, false
	}
	return found, true
}

func origPivot(source string, line, col int, high bool) entry {
	e := entry{Mapping: core.Mapping{Source: source, Original: &core.Position{Line: line, Column: col}}, seq: -1}
	if high {
		e.Generated = core.Position{Line: math.MaxInt, Column: math.MaxInt}
		e.seq = math.MaxInt
	}
	return e
}

// generatedFor finds the generated position of an original one in source.
func (ix *index) generatedFor(source string, line, col int, bias Bias) (entry, bool) {
	var found entry
	var ok bool
	visit := func(e entry) bool {
		found, ok = e, e.Source == source
		return false
	}
	if bias == LeastUpperBound {
		ix.orig.Ascend(origPivot(source, line, col, false), visit)
	} else {
		ix.orig.Descend(origPivot(source, line, col, true), visit)
	}
	return found, ok
}

// allGeneratedFor returns every generated position of the first mapped
// column at or after col on the given original line.
func (ix *index) allGeneratedFor(source string, line, col int) []entry {
	var out []entry
	target := -1
	ix.orig.Ascend(origPivot(source, line, col, false), func(e entry) bool {
		if e.Source != source || e.origLine() != line {
			return false
		}
		if target < 0 {
			target = e.origCol()
		}
		if e.origCol() != target {
			return false
		}
		out = append(out, e)
		return true
	})
	return out
}

// lastColumn is the final generated column covered by e: one before the
// next mapping on the same line, or EndOfLine.
func (ix *index) lastColumn(e entry) int {
	last := EndOfLine
	ix.gen.Ascend(e, func(next entry) bool {
		if next.seq == e.seq {
			return true
		}
		if next.Generated.Line == e.Generated.Line && next.Generated.Column > e.Generated.Column {
			last = next.Generated.Column - 1
		}
		return next.Generated.Line == e.Generated.Line && next.Generated.Column == e.Generated.Column
	})
	return last
}

// originalRanges lists the mapped column spans of source, per original
// line, in order.
func (ix *index) originalRanges(source string) []core.LineRange {
	var out []core.LineRange
	ix.orig.Ascend(origPivot(source, 0, 0, false), func(e entry) bool {
		if e.Source != source {
			return false
		}
		line, col := e.origLine(), e.origCol()
		if n := len(out); n > 0 && out[n-1].Line == line {
			if out[n-1].ColumnStart == col {
				return true
			}
			out[n-1].ColumnEnd = col - 1
		}
		out = append(out, core.LineRange{Line: line, ColumnStart: col, ColumnEnd: EndOfLine})
		return true
	})
	return out
}

// generatedRanges lists the spans of generated code that map to source.
// With mergeUnmapped, spans separated only by unmapped code are joined.
func (ix *index) generatedRanges(source string, mergeUnmapped bool) []core.Range {
	var (
		out  []core.Range
		open bool
	)
	ix.gen.Scan(func(e entry) bool {
		switch {
		case e.Source == source:
			end := core.Position{Line: e.Generated.Line, Column: ix.lastColumn(e)}
			if open {
				out[len(out)-1].End = end
			} else {
				out = append(out, core.Range{Start: e.Generated, End: end})
				open = true
			}
		case e.Original == nil && mergeUnmapped:
		default:
			open = false
		}
		return true
	})
	return out
}

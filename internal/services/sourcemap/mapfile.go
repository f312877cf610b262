package sourcemap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cryguy/taskworker/internal/core"
)

// Map is a version 3 source map file.
type Map struct {
	Version        int       `json:"version"`
	File           string    `json:"file,omitempty"`
	SourceRoot     string    `json:"sourceRoot,omitempty"`
	Sources        []string  `json:"sources"`
	SourcesContent []*string `json:"sourcesContent,omitempty"`
	Names          []string  `json:"names,omitempty"`
	Mappings       string    `json:"mappings"`
}

var errBadVLQ = errors.New("invalid VLQ data in mappings")

// xssiPrefix may guard a map served over HTTP and is skipped when parsing.
const xssiPrefix = ")]}'"

// Parse decodes a source map file. Index maps with sections are not
// supported.
func Parse(data []byte) (*Map, error) {
	data = bytes.TrimSpace(data)
	if bytes.HasPrefix(data, []byte(xssiPrefix)) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			data = data[i+1:]
		} else {
			data = nil
		}
	}
	var probe struct {
		Sections json.RawMessage `json:"sections"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing source map: %w", err)
	}
	if len(probe.Sections) > 0 {
		return nil, errors.New("parsing source map: index maps are not supported")
	}
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing source map: %w", err)
	}
	if m.Version != 3 {
		return nil, fmt.Errorf("parsing source map: unsupported version %d", m.Version)
	}
	return &m, nil
}

// Content returns the embedded text of the i-th source.
func (m *Map) Content(i int) (string, bool) {
	if i < 0 || i >= len(m.SourcesContent) || m.SourcesContent[i] == nil {
		return "", false
	}
	return *m.SourcesContent[i], true
}

// Decode expands the mappings string. Sources are reported as listed in
// m.Sources.
func (m *Map) Decode() ([]core.Mapping, error) {
	var (
		out                               []core.Mapping
		source, origLine, origCol, nameIx int
	)
	for lineIx, line := range strings.Split(m.Mappings, ";") {
		genCol := 0
		for _, seg := range strings.Split(line, ",") {
			if seg == "" {
				continue
			}
			var fields [5]int
			n, pos := 0, 0
			for pos < len(seg) {
				if n == len(fields) {
					return nil, errBadVLQ
				}
				v, next, err := decodeVLQ(seg, pos)
				if err != nil {
					return nil, err
				}
				fields[n] = v
				n++
				pos = next
			}
			if n != 1 && n != 4 && n != 5 {
				return nil, fmt.Errorf("%w: segment with %d fields", errBadVLQ, n)
			}

			genCol += fields[0]
			mp := core.Mapping{Generated: core.Position{Line: lineIx + 1, Column: genCol}}
			if n >= 4 {
				source += fields[1]
				origLine += fields[2]
				origCol += fields[3]
				if source < 0 || source >= len(m.Sources) {
					return nil, fmt.Errorf("%w: source index %d out of range", errBadVLQ, source)
				}
				mp.Source = m.Sources[source]
				mp.Original = &core.Position{Line: origLine + 1, Column: origCol}
			}
			if n == 5 {
				nameIx += fields[4]
				if nameIx >= 0 && nameIx < len(m.Names) {
					mp.Name = m.Names[nameIx]
				}
			}
			out = append(out, mp)
		}
	}
	return out, nil
}

// Generate builds a map for file from mappings. Mappings without a source
// but with an original position are attributed to defaultSource.
func Generate(file, defaultSource string, mappings []core.Mapping) *Map {
	sorted := make([]core.Mapping, len(mappings))
	copy(sorted, mappings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Generated.Before(sorted[j].Generated)
	})

	m := &Map{Version: 3, File: file, Sources: []string{}}
	sourceIx := map[string]int{}
	nameIx := map[string]int{}
	intern := func(tbl map[string]int, list *[]string, s string) int {
		if i, ok := tbl[s]; ok {
			return i
		}
		tbl[s] = len(*list)
		*list = append(*list, s)
		return tbl[s]
	}

	var (
		b                                          strings.Builder
		line                                       = 1
		genCol, prevSrc, prevLine, prevCol, prevNm int
		first                                      = true
	)
	for _, mp := range sorted {
		if mp.Generated.Line < 1 {
			continue
		}
		for line < mp.Generated.Line {
			b.WriteByte(';')
			line++
			genCol = 0
			first = true
		}
		if !first {
			b.WriteByte(',')
		}
		first = false

		encodeVLQ(&b, mp.Generated.Column-genCol)
		genCol = mp.Generated.Column
		if mp.Original == nil {
			continue
		}
		src := mp.Source
		if src == "" {
			src = defaultSource
		}
		si := intern(sourceIx, &m.Sources, src)
		encodeVLQ(&b, si-prevSrc)
		encodeVLQ(&b, mp.Original.Line-1-prevLine)
		encodeVLQ(&b, mp.Original.Column-prevCol)
		prevSrc, prevLine, prevCol = si, mp.Original.Line-1, mp.Original.Column
		if mp.Name != "" {
			ni := intern(nameIx, &m.Names, mp.Name)
			encodeVLQ(&b, ni-prevNm)
			prevNm = ni
		}
	}
	m.Mappings = b.String()
	return m
}

// SetContent embeds text as the content of source, adding the source when
// the map does not list it.
func (m *Map) SetContent(source, text string) {
	i := indexOf(m.Sources, source)
	if i < 0 {
		m.Sources = append(m.Sources, source)
		i = len(m.Sources) - 1
	}
	for len(m.SourcesContent) < len(m.Sources) {
		m.SourcesContent = append(m.SourcesContent, nil)
	}
	m.SourcesContent[i] = &text
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

const base64Digits = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64Values = func() (t [256]int8) {
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(base64Digits); i++ {
		t[base64Digits[i]] = int8(i)
	}
	return t
}()

func decodeVLQ(s string, pos int) (value, next int, err error) {
	var result, shift int
	for {
		if pos >= len(s) {
			return 0, pos, errBadVLQ
		}
		digit := base64Values[s[pos]]
		if digit < 0 {
			return 0, pos, fmt.Errorf("%w: unexpected %q", errBadVLQ, s[pos])
		}
		pos++
		result += int(digit&31) << shift
		if digit&32 == 0 {
			break
		}
		shift += 5
		if shift > 30 {
			return 0, pos, fmt.Errorf("%w: value overflows", errBadVLQ)
		}
	}
	if result&1 == 1 {
		return -(result >> 1), pos, nil
	}
	return result >> 1, pos, nil
}

func encodeVLQ(b *strings.Builder, v int) {
	u := v << 1
	if v < 0 {
		u = (-v)<<1 | 1
	}
	for {
		digit := u & 31
		u >>= 5
		if u > 0 {
			digit |= 32
		}
		b.WriteByte(base64Digits[digit])
		if u == 0 {
			return
		}
	}
}

// Package search implements the search worker: text matching inside a single
// source and project-wide search streamed one source at a time.
package search

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/handler"
)

// WorkerFileName is the url the search worker is registered under.
const WorkerFileName = "search-worker.js"

// Modifiers select how a query is interpreted.
type Modifiers struct {
	CaseSensitive bool `json:"caseSensitive"`
	WholeWord     bool `json:"wholeWord"`
	RegexMatch    bool `json:"regexMatch"`
}

// Match is a match inside one text. Line and Ch are 0-based.
type Match struct {
	Line  int    `json:"line"`
	Ch    int    `json:"ch"`
	Match string `json:"match"`
}

// SourceMatch is a match inside a source. Line is 1-based, Column 0-based.
type SourceMatch struct {
	SourceID string `json:"sourceId"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Match    string `json:"match"`
	Value    string `json:"value"`
}

// BuildQuery compiles query under mods. Without RegexMatch the query is
// matched literally.
func BuildQuery(query string, mods Modifiers) (*regexp.Regexp, error) {
	expr := query
	if !mods.RegexMatch {
		expr = regexp.QuoteMeta(query)
	}
	if mods.WholeWord {
		expr = `\b(?:` + expr + `)\b`
	}
	if !mods.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, core.NewRemoteError("SyntaxError", "invalid regular expression %q: %v", query, err)
	}
	return re, nil
}

// GetMatches finds every match of query in text. An empty query or text
// matches nothing.
func GetMatches(query, text string, mods Modifiers) ([]Match, error) {
	if query == "" || text == "" {
		return []Match{}, nil
	}
	re, err := BuildQuery(query, mods)
	if err != nil {
		return nil, err
	}
	matches := []Match{}
	for i, line := range strings.Split(text, "\n") {
		for _, loc := range re.FindAllStringIndex(line, -1) {
			matches = append(matches, Match{Line: i, Ch: loc[0], Match: line[loc[0]:loc[1]]})
		}
	}
	return matches, nil
}

// FindSourceMatches finds queryText in source, literally and ignoring case.
// Sources without text, and wasm sources, match nothing.
func FindSourceMatches(source core.Source, queryText string) []SourceMatch {
	return findSourceMatches(source, queryText, Modifiers{})
}

func findSourceMatches(source core.Source, query string, mods Modifiers) []SourceMatch {
	out := []SourceMatch{}
	if source.Text == "" || source.IsWasm || query == "" {
		return out
	}
	re, err := BuildQuery(query, mods)
	if err != nil {
		return out
	}
	for i, line := range strings.Split(source.Text, "\n") {
		for _, loc := range re.FindAllStringIndex(line, -1) {
			if loc[0] == loc[1] {
				continue
			}
			out = append(out, SourceMatch{
				SourceID: source.ID,
				Line:     i + 1,
				Column:   loc[0],
				Match:    line[loc[0]:loc[1]],
				Value:    line,
			})
		}
	}
	return out
}

// SearchRequest is the argument of the streaming searchSources method.
type SearchRequest struct {
	Sources   []core.Source `json:"sources"`
	Query     string        `json:"query"`
	Modifiers Modifiers     `json:"modifiers"`
}

// SourceResult is one item of a searchSources stream.
type SourceResult struct {
	SourceID string        `json:"sourceId"`
	Matches  []SourceMatch `json:"matches"`
}

// searchSources queues one work item per source so results stream back as
// each time slice completes.
func searchSources(_ context.Context, raw json.RawMessage) (*handler.WorkList, error) {
	var req SearchRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, core.NewRemoteError("TypeError", "searchSources: %v", err)
		}
	}
	if req.Modifiers.RegexMatch {
		if _, err := BuildQuery(req.Query, req.Modifiers); err != nil {
			return nil, err
		}
	}
	list := handler.NewWorkList()
	for _, src := range req.Sources {
		list.Push(handler.WorkItem{
			Callback: func(ctx context.Context, args any) (any, error) {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				s := args.(core.Source)
				return SourceResult{SourceID: s.ID, Matches: findSourceMatches(s, req.Query, req.Modifiers)}, nil
			},
			Args: src,
		})
	}
	return list, nil
}

// NewTable returns the search worker's method table.
func NewTable() *handler.Table {
	t := handler.NewTable()
	t.MustRegister("getMatches", GetMatches)
	t.MustRegister("findSourceMatches", FindSourceMatches)
	t.HandleStream("searchSources", searchSources)
	return t
}

// Main is the search worker entry point.
func Main(opts ...handler.Option) core.WorkerMain {
	return handler.Main(NewTable(), opts...)
}

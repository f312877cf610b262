package taskworker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/cryguy/taskworker/internal/core"
)

const minified = "function f(a){if(a){return 1}return 2}"

const prettyURL = "http://example.com/min.js:formatted"

func newEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(Config{}, log.New(io.Discard, "", 0))
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestParserClient(t *testing.T) {
	p := newEngine(t).Parser()
	t.Cleanup(p.Destroy)
	ctx := ctxT(t)

	if p.Started() {
		t.Fatal("worker started before the first call")
	}
	if err := p.SetSource(ctx, Source{ID: "s", Text: "import Vue from 'vue';\nfunction go(a) { return a; }"}); err != nil {
		t.Fatal(err)
	}
	if !p.Started() {
		t.Error("worker not started by the first call")
	}
	sym, err := p.GetSymbols(ctx, "s")
	if err != nil {
		t.Fatal(err)
	}
	if len(sym.Functions) != 1 || sym.Functions[0].Name != "go" {
		t.Errorf("functions = %+v", sym.Functions)
	}
	fw, err := p.GetFramework(ctx, "s")
	if err != nil || fw != "Vue" {
		t.Errorf("framework = %q, %v", fw, err)
	}
	msg, err := p.HasSyntaxError(ctx, "function (")
	if err != nil || msg == "" {
		t.Errorf("syntax error = %q, %v", msg, err)
	}
	if msg, _ := p.HasSyntaxError(ctx, "a + 1"); msg != "" {
		t.Errorf("valid input reported %q", msg)
	}
	mapped, err := p.MapExpression(ctx, "await x", nil, nil, true, true)
	if err != nil || !mapped.Mapped.Await {
		t.Errorf("mapExpression = %+v, %v", mapped, err)
	}
}

func TestPrettyPrintRejectsNonJavaScript(t *testing.T) {
	pp := newEngine(t).PrettyPrinter()
	_, err := pp.PrettyPrint(ctxT(t), Source{ID: "css", URL: "http://example.com/a.css", Text: "a{}"}, "x")
	if !errors.Is(err, ErrNotJavaScript) {
		t.Fatalf("err = %v", err)
	}
	if pp.Started() {
		t.Error("rejected source started the worker")
	}
}

func TestIsJavaScript(t *testing.T) {
	tests := []struct {
		src  Source
		want bool
	}{
		{Source{URL: "http://x/a.js"}, true},
		{Source{URL: "http://x/a.mjs?v=2"}, true},
		{Source{URL: "http://x/a.css"}, false},
		{Source{ContentType: "text/javascript"}, true},
		{Source{}, false},
	}
	for _, tt := range tests {
		if got := IsJavaScript(tt.src); got != tt.want {
			t.Errorf("IsJavaScript(%+v) = %v", tt.src, got)
		}
	}
}

// prettyPrinted pretty prints the minified source "min" and installs the
// result as its source map.
func prettyPrinted(t *testing.T, e *Engine) (*SourceMapWorker, SourceLookup) {
	t.Helper()
	ctx := ctxT(t)
	pp := e.PrettyPrinter()
	t.Cleanup(pp.Destroy)
	sm := e.SourceMaps()
	t.Cleanup(sm.Destroy)

	gen := Source{ID: "min", URL: "http://example.com/min.js", Text: minified}
	res, err := pp.PrettyPrint(ctx, gen, prettyURL)
	if err != nil {
		t.Fatal(err)
	}
	if err := sm.ApplySourceMap(ctx, gen.ID, prettyURL, res.Code, res.Mappings); err != nil {
		t.Fatal(err)
	}
	orig := Source{ID: GeneratedToOriginalID(gen.ID, prettyURL), URL: prettyURL, Text: res.Code}
	sources := map[string]Source{gen.ID: gen, orig.ID: orig}
	return sm, func(id string) (Source, bool) {
		s, ok := sources[id]
		return s, ok
	}
}

func TestLocationHelpers(t *testing.T) {
	e := newEngine(t)
	sm, lookup := prettyPrinted(t, e)
	ctx := ctxT(t)
	origID := GeneratedToOriginalID("min", prettyURL)

	if !IsOriginalID(origID) || IsGeneratedID(origID) || OriginalToGeneratedID(origID) != "min" {
		t.Fatalf("id helpers disagree on %q", origID)
	}

	genLoc := SourceLocation{SourceID: "min", Line: 1, Column: Int(20)}
	mapped, err := GetMappedLocation(ctx, lookup, sm, genLoc)
	if err != nil {
		t.Fatal(err)
	}
	if mapped.Location.SourceID != origID || mapped.Location.Line != 3 || mapped.Location.Col() != 4 {
		t.Errorf("original of %+v = %+v", genLoc, mapped.Location)
	}

	back, err := MapLocation(ctx, lookup, sm, mapped.Location)
	if err != nil {
		t.Fatal(err)
	}
	if back.SourceID != "min" || back.Line != 1 || back.Col() != 20 || back.SourceURL != "http://example.com/min.js" {
		t.Errorf("generated of %+v = %+v", mapped.Location, back)
	}

	if got := GetSelectedLocation(mapped, "min"); got != mapped.GeneratedLocation {
		t.Errorf("selected in generated view = %+v", got)
	}
	if got := GetSelectedLocation(mapped, ""); got.SourceID != origID {
		t.Errorf("selected without context = %+v", got)
	}

	unknown := SourceLocation{SourceID: "nope", Line: 1}
	if got, err := MapLocation(ctx, lookup, sm, unknown); err != nil || got.SourceID != "nope" {
		t.Errorf("MapLocation(unknown) = %+v, %v", got, err)
	}
	if _, err := GetMappedLocation(ctx, lookup, sm, unknown); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("GetMappedLocation(unknown) err = %v", err)
	}
	if got, _ := GetOriginalLocation(ctx, sm, mapped.Location); got.SourceID != origID {
		t.Errorf("original location of an original location moved to %+v", got)
	}
}

func TestSearchClient(t *testing.T) {
	s := newEngine(t).Search()
	t.Cleanup(s.Destroy)
	ctx := ctxT(t)

	matches, err := s.GetMatches(ctx, "b", "abcb", Modifiers{})
	if err != nil || len(matches) != 2 {
		t.Fatalf("GetMatches = %+v, %v", matches, err)
	}

	req := SearchRequest{
		Sources: []Source{{ID: "a", Text: "x\nneedle"}, {ID: "b", Text: "hay"}},
		Query:   "needle",
	}
	var got []SourceResult
	err = s.SearchSources(ctx, req, func(r SourceResult) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].SourceID != "a" || len(got[0].Matches) != 1 || len(got[1].Matches) != 0 {
		t.Errorf("results = %+v", got)
	}

	req.Query, req.Modifiers = "(", Modifiers{RegexMatch: true}
	err = s.SearchSources(ctx, req, func(SourceResult) error { return nil })
	var re *RemoteError
	if !errors.As(err, &re) || re.Name != "SyntaxError" {
		t.Errorf("bad regex err = %v", err)
	}
}

func TestUnknownMethod(t *testing.T) {
	c := NewClient(Config{}, newEngine(t), "search-worker.js", nil)
	t.Cleanup(c.Destroy)
	err := c.Do(ctxT(t), nil, "noSuchMethod")
	if !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("err = %v", err)
	}
}

// countingHost counts the requests posted to its workers, per method.
type countingHost struct {
	core.Host

	mu    sync.Mutex
	posts map[string]int
}

func (h *countingHost) Spawn(url string) (core.Port, error) {
	p, err := h.Host.Spawn(url)
	if err != nil {
		return nil, err
	}
	return &countingPort{Port: p, h: h}, nil
}

func (h *countingHost) count(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.posts[method]
}

type countingPort struct {
	core.Port
	h *countingHost
}

func (p *countingPort) PostMessage(msg []byte) error {
	var req struct {
		Method string `json:"method"`
	}
	if json.Unmarshal(msg, &req) == nil {
		p.h.mu.Lock()
		p.h.posts[req.Method]++
		p.h.mu.Unlock()
	}
	return p.Port.PostMessage(msg)
}

func TestBatchSharesOneRequest(t *testing.T) {
	h := &countingHost{Host: newEngine(t), posts: make(map[string]int)}
	sm := NewSourceMapWorker(Config{}, h)
	t.Cleanup(sm.Destroy)
	ctx := ctxT(t)

	const url = "http://example.com/min.js:formatted"
	mappings := []Mapping{
		{Generated: Position{Line: 1, Column: 0}, Original: &Position{Line: 1, Column: 0}, Source: url},
		{Generated: Position{Line: 1, Column: 9}, Original: &Position{Line: 2, Column: 2}, Source: url},
		{Generated: Position{Line: 1, Column: 20}, Original: &Position{Line: 3, Column: 0}, Source: url},
	}
	if err := sm.ApplySourceMap(ctx, "min", url, "a\n  b\nc\n", mappings); err != nil {
		t.Fatal(err)
	}

	var calls [3]*Call
	err := sm.Batch(func(b *Batch) {
		for i, col := range []int{0, 12, 25} {
			calls[i] = sm.QueueOriginalLocation(b, SourceLocation{SourceID: "min", Line: 1, Column: Int(col)}, "")
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []int{1, 2, 3} {
		got, err := Await[SourceLocation](ctx, calls[i])
		if err != nil || got.Line != want {
			t.Errorf("call %d = %+v, %v; want line %d", i, got, err, want)
		}
	}
	if n := h.count("getOriginalLocation"); n != 1 {
		t.Errorf("%d getOriginalLocation requests, want 1", n)
	}
}

func TestBatchUnqueuedMethods(t *testing.T) {
	h := &countingHost{Host: newEngine(t), posts: make(map[string]int)}
	s := NewSearchWorker(Config{}, h)
	t.Cleanup(s.Destroy)
	ctx := ctxT(t)

	var calls [2]*Call
	err := s.Batch(func(b *Batch) {
		calls[0] = b.Call("getMatches", "a", "aa", Modifiers{})
		calls[1] = b.Call("getMatches", "b", "b", Modifiers{})
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []int{2, 1} {
		got, err := Await[[]Match](ctx, calls[i])
		if err != nil || len(got) != want {
			t.Errorf("call %d = %+v, %v", i, got, err)
		}
	}
	if n := h.count("getMatches"); n != 2 {
		t.Errorf("%d getMatches requests, want 2", n)
	}
}

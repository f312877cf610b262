package sourcemap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/taskworker/internal/core"
)

func pos(line, col int) *core.Position { return &core.Position{Line: line, Column: col} }

// appMappings describe app.js, generated from src/a.js and src/b.js:
//
//	1:0  -> a 1:0 (init)
//	1:10 -> a 2:2
//	1:20    unmapped
//	1:25 -> a 2:8
//	2:0  -> a 3:0
//	3:0  -> b 1:0
var appMappings = []core.Mapping{
	{Generated: core.Position{Line: 1, Column: 0}, Original: pos(1, 0), Source: "src/a.js", Name: "init"},
	{Generated: core.Position{Line: 1, Column: 10}, Original: pos(2, 2), Source: "src/a.js"},
	{Generated: core.Position{Line: 1, Column: 20}},
	{Generated: core.Position{Line: 1, Column: 25}, Original: pos(2, 8), Source: "src/a.js"},
	{Generated: core.Position{Line: 2, Column: 0}, Original: pos(3, 0), Source: "src/a.js"},
	{Generated: core.Position{Line: 3, Column: 0}, Original: pos(1, 0), Source: "src/b.js"},
}

const (
	appURL = "http://example.com/app.js"
	aURL   = "http://example.com/src/a.js"
	bURL   = "http://example.com/src/b.js"
)

var (
	appSource = core.Source{ID: "gen1", URL: appURL, SourceMapURL: "app.js.map"}
	aID       = core.GeneratedToOriginalID("gen1", aURL)
	aSource   = core.Source{ID: aID, URL: aURL}
)

type fakeWeb map[string]string

func (w fakeWeb) fetch(_ context.Context, url string) ([]byte, error) {
	body, ok := w[url]
	if !ok {
		return nil, fmt.Errorf("404 %s", url)
	}
	return []byte(body), nil
}

func appMapJSON(t *testing.T) string {
	t.Helper()
	m := Generate("app.js", "", appMappings)
	m.SetContent("src/a.js", "// a\n  init();\n")
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func newService(t *testing.T, web fakeWeb) (*Service, *Store) {
	t.Helper()
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return NewService(store, WithFetcher(web.fetch)), store
}

func loadedService(t *testing.T) (*Service, *Store) {
	t.Helper()
	web := fakeWeb{
		"http://example.com/app.js.map": appMapJSON(t),
		bURL:                            "// b\n",
	}
	s, store := newService(t, web)
	urls, err := s.GetOriginalURLs(context.Background(), appSource)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(urls, []string{aURL, bURL}) {
		t.Fatalf("original urls = %v", urls)
	}
	return s, store
}

func at(id string, line, col int) core.SourceLocation {
	return core.SourceLocation{SourceID: id, Line: line, Column: core.Int(col)}
}

func TestVLQ(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"A", 0}, {"C", 1}, {"D", -1}, {"gB", 16}, {"hB", -16}, {"//B", -1023},
	}
	for _, tt := range tests {
		got, next, err := decodeVLQ(tt.in, 0)
		if err != nil || got != tt.want || next != len(tt.in) {
			t.Errorf("decodeVLQ(%q) = %d, %d, %v; want %d", tt.in, got, next, err, tt.want)
		}
		var b strings.Builder
		encodeVLQ(&b, tt.want)
		if b.String() != tt.in {
			t.Errorf("encodeVLQ(%d) = %q, want %q", tt.want, b.String(), tt.in)
		}
	}
	if _, _, err := decodeVLQ("g", 0); err == nil {
		t.Error("truncated VLQ accepted")
	}
}

func TestGenerateDecode(t *testing.T) {
	m := Generate("app.js", "", appMappings)
	got, err := m.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, appMappings) {
		t.Errorf("decoded mappings differ:\n got %+v\nwant %+v", got, appMappings)
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse([]byte(")]}'\n" + `{"version":3,"sources":[],"mappings":""}`)); err != nil {
		t.Errorf("guarded map: %v", err)
	}
	if _, err := Parse([]byte(`{"version":2,"sources":[],"mappings":""}`)); err == nil {
		t.Error("version 2 accepted")
	}
	if _, err := Parse([]byte(`{"version":3,"sections":[{}]}`)); err == nil {
		t.Error("index map accepted")
	}
}

func TestOriginalLocation(t *testing.T) {
	s, _ := loadedService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		loc    core.SourceLocation
		opts   LocationOptions
		wantID string
		line   int
		col    int
	}{
		{"exact", at("gen1", 1, 10), LocationOptions{}, aID, 2, 2},
		{"lower bound", at("gen1", 1, 14), LocationOptions{}, aID, 2, 2},
		{"upper bound", at("gen1", 1, 21), LocationOptions{Search: "LEAST_UPPER_BOUND"}, aID, 2, 8},
		{"unmapped", at("gen1", 1, 22), LocationOptions{}, "gen1", 1, 22},
		{"other source", at("gen1", 3, 4), LocationOptions{}, core.GeneratedToOriginalID("gen1", bURL), 1, 0},
		{"past end", at("gen1", 9, 0), LocationOptions{}, "gen1", 9, 0},
		{"no map", at("gen2", 1, 0), LocationOptions{}, "gen2", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GetOriginalLocation(ctx, tt.loc, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if got.SourceID != tt.wantID || got.Line != tt.line || got.Col() != tt.col {
				t.Errorf("got %s %d:%d, want %s %d:%d", got.SourceID, got.Line, got.Col(), tt.wantID, tt.line, tt.col)
			}
		})
	}

	mapped, _ := s.HasMappedSource(ctx, at("gen1", 1, 3))
	unmapped, _ := s.HasMappedSource(ctx, at("gen1", 1, 22))
	if !mapped || unmapped {
		t.Errorf("HasMappedSource = %v, %v; want true, false", mapped, unmapped)
	}

	locs, err := s.GetOriginalLocations(ctx, []core.SourceLocation{at("gen1", 1, 0), at("gen1", 2, 5)}, LocationOptions{})
	if err != nil || len(locs) != 2 || locs[0].Line != 1 || locs[1].Line != 3 {
		t.Errorf("GetOriginalLocations = %+v, %v", locs, err)
	}

	frames, err := s.GetOriginalStackFrames(ctx, at("gen1", 1, 2))
	if err != nil || len(frames) != 1 || frames[0].DisplayName != "init" || frames[0].Location.SourceURL != aURL {
		t.Errorf("GetOriginalStackFrames = %+v, %v", frames, err)
	}
}

func TestGeneratedLocations(t *testing.T) {
	s, _ := loadedService(t)
	ctx := context.Background()

	got, err := s.GetGeneratedLocation(ctx, at(aID, 2, 2), aSource)
	if err != nil || got.SourceID != "gen1" || got.Line != 1 || got.Col() != 10 {
		t.Errorf("GetGeneratedLocation = %+v, %v", got, err)
	}
	got, _ = s.GetGeneratedLocation(ctx, at(aID, 2, 5), aSource)
	if got.Line != 1 || got.Col() != 25 {
		t.Errorf("GetGeneratedLocation(2:5) = %d:%d, want 1:25", got.Line, got.Col())
	}
	gen := at("gen1", 4, 4)
	if got, _ := s.GetGeneratedLocation(ctx, gen, aSource); !reflect.DeepEqual(got, gen) {
		t.Errorf("generated location changed: %+v", got)
	}

	all, err := s.GetAllGeneratedLocations(ctx, at(aID, 2, 0), aSource)
	if err != nil || len(all) != 1 || all[0].Col() != 10 {
		t.Errorf("GetAllGeneratedLocations = %+v, %v", all, err)
	}

	ranges, err := s.GetGeneratedRanges(ctx, at(aID, 2, 2), aSource)
	want := []core.LineRange{{Line: 1, ColumnStart: 10, ColumnEnd: 19}}
	if err != nil || !reflect.DeepEqual(ranges, want) {
		t.Errorf("GetGeneratedRanges = %+v, %v", ranges, err)
	}
}

func TestRanges(t *testing.T) {
	s, _ := loadedService(t)
	ctx := context.Background()

	orig, err := s.GetOriginalRanges(ctx, aID, aURL)
	wantOrig := []core.LineRange{
		{Line: 1, ColumnStart: 0, ColumnEnd: EndOfLine},
		{Line: 2, ColumnStart: 2, ColumnEnd: 7},
		{Line: 2, ColumnStart: 8, ColumnEnd: EndOfLine},
		{Line: 3, ColumnStart: 0, ColumnEnd: EndOfLine},
	}
	if err != nil || !reflect.DeepEqual(orig, wantOrig) {
		t.Errorf("GetOriginalRanges = %+v, %v", orig, err)
	}

	split, _ := s.GetGeneratedRangesForOriginal(ctx, aID, aURL, false)
	wantSplit := []core.Range{
		{Start: core.Position{Line: 1, Column: 0}, End: core.Position{Line: 1, Column: 19}},
		{Start: core.Position{Line: 1, Column: 25}, End: core.Position{Line: 2, Column: EndOfLine}},
	}
	if !reflect.DeepEqual(split, wantSplit) {
		t.Errorf("unmerged ranges = %+v", split)
	}
	merged, _ := s.GetGeneratedRangesForOriginal(ctx, aID, aURL, true)
	if len(merged) != 1 || merged[0].End != (core.Position{Line: 2, Column: EndOfLine}) {
		t.Errorf("merged ranges = %+v", merged)
	}

	file, err := s.GetFileGeneratedRange(ctx, aSource)
	if err != nil || file == nil || file.Start != (core.Position{Line: 1, Column: 0}) {
		t.Errorf("GetFileGeneratedRange = %+v, %v", file, err)
	}
}

func TestOriginalSourceText(t *testing.T) {
	s, _ := loadedService(t)
	ctx := context.Background()

	a, err := s.GetOriginalSourceText(ctx, aSource)
	if err != nil || a.Text != "// a\n  init();\n" || a.ContentType != "text/javascript" {
		t.Errorf("embedded text = %+v, %v", a, err)
	}
	b, err := s.GetOriginalSourceText(ctx, core.Source{ID: core.GeneratedToOriginalID("gen1", bURL), URL: bURL})
	if err != nil || b.Text != "// b\n" {
		t.Errorf("fetched text = %+v, %v", b, err)
	}
	none, err := s.GetOriginalSourceText(ctx, core.Source{ID: "gen9/originalSource-x", URL: "x.ts"})
	if err != nil || none != nil {
		t.Errorf("text without map = %+v, %v", none, err)
	}
}

func TestOriginalSourceTextUnlistedURL(t *testing.T) {
	web := fakeWeb{"/etc/passwd": "root:x:0:0"}
	s, _ := newService(t, web)
	ctx := context.Background()

	mappings := []core.Mapping{{Generated: core.Position{Line: 1, Column: 0}, Original: pos(1, 0), Source: "a.js"}}
	if err := s.ApplySourceMap(ctx, "g1", "a.js", "x", mappings); err != nil {
		t.Fatal(err)
	}
	for _, url := range []string{"/etc/passwd", "file:///etc/passwd", "b.js"} {
		text, err := s.GetOriginalSourceText(ctx, core.Source{ID: core.GeneratedToOriginalID("g1", "a.js"), URL: url})
		if !errors.Is(err, ErrNotInMap) || text != nil {
			t.Errorf("GetOriginalSourceText(%q) = %+v, %v", url, text, err)
		}
	}
}

func TestStoreOutlivesService(t *testing.T) {
	_, store := loadedService(t)
	ctx := context.Background()

	fresh := NewService(store, WithFetcher(fakeWeb{}.fetch))
	got, err := fresh.GetOriginalLocation(ctx, at("gen1", 2, 0), LocationOptions{})
	if err != nil || got.SourceID != aID || got.Line != 3 {
		t.Errorf("reloaded lookup = %+v, %v", got, err)
	}
	if ok, err := fresh.HasOriginalURL(ctx, bURL); err != nil || !ok {
		t.Errorf("HasOriginalURL from store = %v, %v", ok, err)
	}

	if err := fresh.ClearSourceMaps(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := fresh.HasOriginalURL(ctx, bURL); ok {
		t.Error("url still known after ClearSourceMaps")
	}
	if got, _ := fresh.GetOriginalLocation(ctx, at("gen1", 2, 0), LocationOptions{}); got.SourceID != "gen1" {
		t.Errorf("location mapped after ClearSourceMaps: %+v", got)
	}
}

func TestGetOriginalURLsFailures(t *testing.T) {
	s, _ := newService(t, fakeWeb{"http://example.com/bad.map": "{"})
	ctx := context.Background()

	if urls, err := s.GetOriginalURLs(ctx, core.Source{ID: "plain", URL: appURL}); err != nil || urls != nil {
		t.Errorf("source without map = %v, %v", urls, err)
	}
	if _, err := s.GetOriginalURLs(ctx, core.Source{ID: "x", URL: appURL, SourceMapURL: "missing.map"}); err == nil {
		t.Error("missing map accepted")
	}
	if _, err := s.GetOriginalURLs(ctx, core.Source{ID: "y", URL: appURL, SourceMapURL: "bad.map"}); err == nil {
		t.Error("malformed map accepted")
	}
}

func TestApplySourceMap(t *testing.T) {
	s, _ := newService(t, fakeWeb{})
	ctx := context.Background()

	const url = "http://example.com/min.js:formatted"
	mappings := []core.Mapping{
		{Generated: core.Position{Line: 1, Column: 0}, Original: pos(1, 0), Source: url},
		{Generated: core.Position{Line: 1, Column: 9}, Original: pos(2, 2), Source: url},
	}
	if err := s.ApplySourceMap(ctx, "min", url, "function f() {\n  go();\n}\n", mappings); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetOriginalLocation(ctx, at("min", 1, 12), LocationOptions{})
	if err != nil || got.SourceURL != url || got.Line != 2 || got.Col() != 2 {
		t.Errorf("GetOriginalLocation = %+v, %v", got, err)
	}
	text, err := s.GetOriginalSourceText(ctx, core.Source{ID: core.GeneratedToOriginalID("min", url), URL: url})
	if err != nil || text == nil || !strings.HasPrefix(text.Text, "function f()") {
		t.Errorf("GetOriginalSourceText = %+v, %v", text, err)
	}
}

func TestEsbuildMap(t *testing.T) {
	result := esbuild.Transform("function add(a, b) {\n  return a + b;\n}\n", esbuild.TransformOptions{
		Sourcefile:       "add.js",
		Sourcemap:        esbuild.SourceMapExternal,
		MinifyWhitespace: true,
	})
	if len(result.Errors) > 0 {
		t.Fatal(result.Errors[0].Text)
	}
	code := string(result.Code)
	col := strings.Index(code, "return")
	if col < 0 {
		t.Fatalf("unexpected output %q", code)
	}

	s, _ := newService(t, fakeWeb{})
	src := core.Source{
		ID:           "min",
		URL:          "http://example.com/add.min.js",
		SourceMapURL: "data:application/json;base64," + base64.StdEncoding.EncodeToString(result.Map),
	}
	ctx := context.Background()
	urls, err := s.GetOriginalURLs(ctx, src)
	if err != nil || len(urls) != 1 || urls[0] != "http://example.com/add.js" {
		t.Fatalf("original urls = %v, %v", urls, err)
	}
	got, err := s.GetOriginalLocation(ctx, at("min", 1, col), LocationOptions{})
	if err != nil || got.Line != 2 || got.Col() != 2 {
		t.Errorf("return statement maps to %d:%d, %v; want 2:2", got.Line, got.Col(), err)
	}
}

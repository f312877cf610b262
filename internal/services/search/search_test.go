package search

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/dispatch"
	"github.com/cryguy/taskworker/internal/host"
)

const sample = "const foo = 1;\nfunction fooBar() {\n  return foo + Foo;\n}"

func TestGetMatches(t *testing.T) {
	tests := []struct {
		name  string
		query string
		mods  Modifiers
		want  []Match
	}{
		{"ignore case", "foo", Modifiers{}, []Match{
			{0, 6, "foo"}, {1, 9, "foo"}, {2, 9, "foo"}, {2, 15, "Foo"},
		}},
		{"case sensitive", "Foo", Modifiers{CaseSensitive: true}, []Match{{2, 15, "Foo"}}},
		{"whole word", "foo", Modifiers{WholeWord: true}, []Match{
			{0, 6, "foo"}, {2, 9, "foo"}, {2, 15, "Foo"},
		}},
		{"literal", "foo +", Modifiers{}, []Match{{2, 9, "foo +"}}},
		{"regex", `f\w+B`, Modifiers{RegexMatch: true, CaseSensitive: true}, []Match{{1, 9, "fooB"}}},
		{"empty query", "", Modifiers{}, []Match{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetMatches(tt.query, sample, tt.mods)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetMatches_BadRegex(t *testing.T) {
	_, err := GetMatches("(", sample, Modifiers{RegexMatch: true})
	var re *core.RemoteError
	if !errors.As(err, &re) || re.Name != "SyntaxError" {
		t.Errorf("err = %v, want SyntaxError", err)
	}
}

func TestFindSourceMatches(t *testing.T) {
	src := core.Source{ID: "s1", Text: sample}
	got := FindSourceMatches(src, "return")
	want := []SourceMatch{{SourceID: "s1", Line: 3, Column: 2, Match: "return", Value: "  return foo + Foo;"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v", got)
	}

	if got := FindSourceMatches(core.Source{ID: "w", Text: sample, IsWasm: true}, "foo"); len(got) != 0 {
		t.Errorf("wasm source matched: %+v", got)
	}
	if got := FindSourceMatches(core.Source{ID: "e"}, "foo"); len(got) != 0 {
		t.Errorf("empty source matched: %+v", got)
	}
}

func TestSearchSourcesStreams(t *testing.T) {
	h := host.NewLocal()
	h.Register(WorkerFileName, Main())
	d := dispatch.New()
	if err := d.Start(WorkerFileName, h); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := SearchRequest{
		Sources: []core.Source{
			{ID: "a", Text: "let foo;\nfoo = 2;"},
			{ID: "b", Text: "nothing here"},
		},
		Query: "foo",
	}
	data, err := d.Stream("searchSources", req).Collect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 2 {
		t.Fatalf("got %d results, want one per source", len(data))
	}
	var first, second SourceResult
	if err := json.Unmarshal(data[0], &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data[1], &second); err != nil {
		t.Fatal(err)
	}
	if first.SourceID != "a" || len(first.Matches) != 2 || first.Matches[1].Line != 2 {
		t.Errorf("first = %+v", first)
	}
	if second.SourceID != "b" || len(second.Matches) != 0 {
		t.Errorf("second = %+v", second)
	}

	matches, err := dispatch.Await[[]Match](ctx, d.Invoke("getMatches", "foo", "a foo", Modifiers{}))
	if err != nil || len(matches) != 1 || matches[0].Ch != 2 {
		t.Errorf("getMatches = %v, %v", matches, err)
	}
}

func TestSearchSourcesRejectsBadRegex(t *testing.T) {
	h := host.NewLocal()
	h.Register(WorkerFileName, Main())
	d := dispatch.New()
	if err := d.Start(WorkerFileName, h); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := SearchRequest{Query: "(", Modifiers: Modifiers{RegexMatch: true}}
	_, err := d.Stream("searchSources", req).Collect(ctx)
	var re *core.RemoteError
	if !errors.As(err, &re) || re.Name != "SyntaxError" {
		t.Errorf("err = %v, want SyntaxError", err)
	}
}

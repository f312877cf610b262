package parser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/dispatch"
	"github.com/cryguy/taskworker/internal/host"
)

const componentJS = `import React from "react";
class Foo extends Bar {
  render(a, b) {
    return this.props.x;
  }
}
function add(x, y = 2) {
  const sum = x + y;
  console.log("sum", sum);
  return sum;
}
const mul = (a, b) => a * b;
`

func newServiceWith(t *testing.T, sources ...core.Source) *Service {
	t.Helper()
	s := NewService()
	for _, src := range sources {
		s.SetSource(src)
	}
	return s
}

func names[T any](items []T, name func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, name(it))
	}
	return out
}

func TestGetSymbols(t *testing.T) {
	s := newServiceWith(t, core.Source{ID: "c", Text: componentJS})
	sym, err := s.GetSymbols("c")
	if err != nil {
		t.Fatal(err)
	}

	fns := names(sym.Functions, func(f FunctionDeclaration) string { return f.Name })
	if strings.Join(fns, ",") != "render,add,mul" {
		t.Fatalf("functions = %v", fns)
	}
	render, add, mul := sym.Functions[0], sym.Functions[1], sym.Functions[2]
	if render.Klass != "Foo" || strings.Join(render.ParameterNames, ",") != "a,b" {
		t.Errorf("render = %+v", render)
	}
	if strings.Join(add.ParameterNames, ",") != "x,y" || add.Identifier == nil || add.Identifier.Location.Start != (core.Position{Line: 7, Column: 9}) {
		t.Errorf("add = %+v", add)
	}
	if mul.Identifier != nil || strings.Join(mul.ParameterNames, ",") != "a,b" {
		t.Errorf("mul = %+v", mul)
	}

	if len(sym.Classes) != 1 || sym.Classes[0].Name != "Foo" || sym.Classes[0].Parent != "Bar" {
		t.Errorf("classes = %+v", sym.Classes)
	}
	if vars := names(sym.Variables, func(v SymbolDeclaration) string { return v.Name }); strings.Join(vars, ",") != "sum,mul" {
		t.Errorf("variables = %v", vars)
	}
	if len(sym.CallExpressions) != 1 || sym.CallExpressions[0].Name != "log" || strings.Join(sym.CallExpressions[0].Values, ",") != "sum" {
		t.Errorf("calls = %+v", sym.CallExpressions)
	}
	members := names(sym.MemberExpressions, func(m MemberDeclaration) string { return m.Expression })
	if strings.Join(members, ",") != "this.props,this.props.x,console.log" {
		t.Errorf("member expressions = %v", members)
	}
	if len(sym.Imports) != 1 || sym.Imports[0].Source != "react" || sym.Imports[0].Specifiers[0] != "React" {
		t.Errorf("imports = %+v", sym.Imports)
	}
	if sym.Framework != "React" || sym.HasJsx || sym.HasTypes {
		t.Errorf("framework %q jsx %v types %v", sym.Framework, sym.HasJsx, sym.HasTypes)
	}
}

func TestGetSymbolsUnknownSource(t *testing.T) {
	_, err := NewService().GetSymbols("missing")
	var re *core.RemoteError
	if !errors.As(err, &re) || !strings.Contains(re.Message, "missing") {
		t.Errorf("err = %v", err)
	}
}

func TestGetFramework(t *testing.T) {
	s := newServiceWith(t,
		core.Source{ID: "vue", Text: "import Vue from 'vue';\nnew Vue({});"},
		core.Source{ID: "plain", Text: "let a = 1;"},
	)
	fw, err := s.GetFramework("vue")
	if err != nil || fw == nil || *fw != "Vue" {
		t.Errorf("vue framework = %v, %v", fw, err)
	}
	fw, err = s.GetFramework("plain")
	if err != nil || fw != nil {
		t.Errorf("plain framework = %v, %v", fw, err)
	}
}

func TestHTMLSource(t *testing.T) {
	page := "<html><body>\n<script>\nfunction hi() {}\n</script>\n<script src=\"x.js\">function no() {}</script>\n</body></html>"
	s := newServiceWith(t, core.Source{ID: "page", Text: page, ContentType: "text/html"})
	sym, err := s.GetSymbols("page")
	if err != nil {
		t.Fatal(err)
	}
	if len(sym.Functions) != 1 || sym.Functions[0].Name != "hi" {
		t.Fatalf("functions = %+v", sym.Functions)
	}
	if got := sym.Functions[0].Location.Start; got != (core.Position{Line: 3, Column: 0}) {
		t.Errorf("hi starts at %+v", got)
	}
}

func TestGetScopes(t *testing.T) {
	src := "function outer(a) {\n  let b = a;\n  if (b) {\n    const c = 1;\n    return c;\n  }\n}\n"
	s := newServiceWith(t, core.Source{ID: "s", Text: src})

	scopes := s.GetScopes(core.SourceLocation{SourceID: "s", Line: 5, Column: core.Int(4)})
	kinds := names(scopes, func(sc SourceScope) string { return sc.Type })
	if strings.Join(kinds, ",") != "block,function,module" {
		t.Fatalf("scopes = %v", kinds)
	}
	block, fn, module := scopes[0], scopes[1], scopes[2]
	if c := block.Bindings["c"]; c.Type != "const" || len(c.Refs) != 2 || c.Refs[0].Type != "decl" {
		t.Errorf("c = %+v", c)
	}
	if fn.DisplayName != "outer" || fn.Bindings["a"].Type != "var" || len(fn.Bindings["a"].Refs) != 2 {
		t.Errorf("function scope = %+v", fn)
	}
	if b := fn.Bindings["b"]; b.Type != "let" || len(b.Refs) != 2 {
		t.Errorf("b = %+v", b)
	}
	if _, ok := module.Bindings["outer"]; !ok {
		t.Errorf("module bindings = %+v", module.Bindings)
	}
	if fn.Start != (core.Position{Line: 1, Column: 0}) || fn.End != (core.Position{Line: 7, Column: 1}) {
		t.Errorf("function span = %+v..%+v", fn.Start, fn.End)
	}
}

func TestGetScopesForLoop(t *testing.T) {
	s := newServiceWith(t, core.Source{ID: "loop", Text: "for (let i = 0; i < 3; i++) { total += i; }"})
	scopes := s.GetScopes(core.SourceLocation{SourceID: "loop", Line: 1, Column: core.Int(30)})
	if len(scopes) != 2 {
		t.Fatalf("scopes = %+v", scopes)
	}
	if i := scopes[0].Bindings["i"]; i.Type != "let" || len(i.Refs) != 4 {
		t.Errorf("i = %+v", i)
	}
	if total := scopes[1].Bindings["total"]; total.Type != "implicit" {
		t.Errorf("total = %+v", total)
	}
}

func TestGetScopesUnknownSource(t *testing.T) {
	if got := NewService().GetScopes(core.SourceLocation{SourceID: "x", Line: 1}); len(got) != 0 {
		t.Errorf("scopes = %+v", got)
	}
}

func TestFindOutOfScopeLocations(t *testing.T) {
	src := "function a() {\n  function inner() {}\n}\nfunction b() {\n  return 1;\n}\n"
	s := newServiceWith(t, core.Source{ID: "o", Text: src})
	locs, err := s.FindOutOfScopeLocations("o", core.Position{Line: 5, Column: 2})
	if err != nil {
		t.Fatal(err)
	}
	want := core.AstLocation{Start: core.Position{Line: 1, Column: 0}, End: core.Position{Line: 3, Column: 1}}
	if len(locs) != 1 || locs[0] != want {
		t.Errorf("locations = %+v", locs)
	}
}

func TestGetNextStep(t *testing.T) {
	src := "async function f() {\n  await a();\n  b();\n}\n"
	s := newServiceWith(t, core.Source{ID: "n", Text: src})

	next, err := s.GetNextStep("n", core.Position{Line: 2, Column: 2})
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.SourceID != "n" || next.Line != 3 || next.Col() != 2 {
		t.Errorf("next step = %+v", next)
	}
	if next, _ := s.GetNextStep("n", core.Position{Line: 3, Column: 2}); next != nil {
		t.Errorf("plain statement next step = %+v", next)
	}
}

func TestCaches(t *testing.T) {
	s := newServiceWith(t, core.Source{ID: "x", Text: "let a;"})
	if !s.HasSource("x") || s.HasSource("y") {
		t.Fatal("HasSource")
	}
	first, _ := s.GetSymbols("x")
	s.ClearASTs()
	if again, _ := s.GetSymbols("x"); again != first {
		t.Error("symbols should survive clearASTs")
	}
	s.ClearSymbols()
	if again, _ := s.GetSymbols("x"); again == first {
		t.Error("clearSymbols kept the cached symbols")
	}

	s.SetSource(core.Source{ID: "x", Text: "let b;"})
	sym, _ := s.GetSymbols("x")
	if len(sym.Variables) != 1 || sym.Variables[0].Name != "b" {
		t.Errorf("replaced source symbols = %+v", sym.Variables)
	}
	s.ClearScopes()
	s.ClearSources()
	if s.HasSource("x") {
		t.Error("clearSources kept x")
	}
}

func TestHasSyntaxError(t *testing.T) {
	if got := HasSyntaxError("1 + 2"); got != false {
		t.Errorf("valid input = %v", got)
	}
	msg, ok := HasSyntaxError("1 +").(string)
	if !ok || !strings.HasPrefix(msg, "SyntaxError : ") {
		t.Errorf("invalid input = %v", msg)
	}
}

func TestMapExpression(t *testing.T) {
	str := func(s string) *string { return &s }
	tests := []struct {
		name     string
		expr     string
		mappings map[string]*string
		bindings []string
		want     string
		flags    MappedFlags
	}{
		{"original names", "a + b", map[string]*string{"a": str("_a"), "b": nil}, nil, "_a + b", MappedFlags{OriginalExpression: true}},
		{"member untouched", "o.a", map[string]*string{"a": str("_a")}, nil, "o.a", MappedFlags{}},
		{"new binding", "let x = 1", nil, nil, "self.x = 1", MappedFlags{Bindings: true}},
		{"existing binding", "let x = 1", nil, []string{"x"}, "x = 1", MappedFlags{Bindings: true}},
		{"uninitialized", "let a = 1, b", nil, nil, "self.a = 1, self.b = undefined", MappedFlags{Bindings: true}},
		{"assignment", "y = 2", nil, nil, "self.y = 2", MappedFlags{Bindings: true}},
		{"await", "await fetch()", nil, nil, "(async () => { return (await fetch()); })()", MappedFlags{Await: true}},
		{"await with binding", "let x = await f(); x", nil, nil, "(async () => { self.x = await f(); return (x); })()", MappedFlags{Await: true, Bindings: true}},
		{"nested await", "async () => { await x }", nil, nil, "async () => { await x }", MappedFlags{}},
		{"syntax error", "let = ;", map[string]*string{"let": str("y")}, nil, "let = ;", MappedFlags{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapExpression(tt.expr, tt.mappings, tt.bindings, true, true)
			if got.Expression != tt.want || got.Mapped != tt.flags {
				t.Errorf("MapExpression(%q) = %q %+v, want %q %+v", tt.expr, got.Expression, got.Mapped, tt.want, tt.flags)
			}
		})
	}
}

func TestParserWorker(t *testing.T) {
	h := host.NewLocal()
	h.Register(WorkerFileName, Main())
	d := dispatch.New()
	if err := d.Start(WorkerFileName, h); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := d.Invoke("setSource", core.Source{ID: "w", Text: componentJS}).Wait(ctx); err != nil {
		t.Fatal(err)
	}
	ok, err := dispatch.Await[bool](ctx, d.Invoke("hasSource", "w"))
	if err != nil || !ok {
		t.Fatalf("hasSource = %v, %v", ok, err)
	}
	sym, err := dispatch.Await[SymbolDeclarations](ctx, d.Invoke("getSymbols", "w"))
	if err != nil || len(sym.Functions) != 3 {
		t.Fatalf("getSymbols = %+v, %v", sym.Functions, err)
	}
	mapped, err := dispatch.Await[MappedExpression](ctx, d.Invoke("mapExpression", "let z = 1", nil, []string{}))
	if err != nil || mapped.Expression != "self.z = 1" {
		t.Errorf("mapExpression = %+v, %v", mapped, err)
	}
	if _, err := d.Invoke("getSymbols", "nope").Wait(ctx); err == nil {
		t.Error("getSymbols of an unknown source succeeded")
	}
}

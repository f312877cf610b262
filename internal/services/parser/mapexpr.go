package parser

import (
	"fmt"
	"sort"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// MappedFlags records which rewrites changed an expression.
type MappedFlags struct {
	Await              bool `json:"await"`
	Bindings           bool `json:"bindings"`
	OriginalExpression bool `json:"originalExpression"`
}

// MappedExpression is the result of mapExpression.
type MappedExpression struct {
	Expression string      `json:"expression"`
	Mapped     MappedFlags `json:"mapped"`
}

// syntaxError returns esbuild's first error for input, or "".
func syntaxError(input string) string {
	res := esbuild.Transform(input, esbuild.TransformOptions{Loader: esbuild.LoaderJS, Format: esbuild.FormatESModule})
	if len(res.Errors) == 0 {
		return ""
	}
	e := res.Errors[0]
	if e.Location != nil {
		return fmt.Sprintf("SyntaxError : %s (%d:%d)", e.Text, e.Location.Line, e.Location.Column)
	}
	return "SyntaxError : " + e.Text
}

// MapExpression prepares a console expression for evaluation in a paused
// frame. Original names are replaced by their generated ones, top-level
// declarations and assignments of names the frame does not bind become
// properties of self, and a top-level await is wrapped in an async
// function returning the last expression. Expressions that do not parse
// are returned unchanged.
func MapExpression(expression string, mappings map[string]*string, bindings []string, mapBindings, mapAwait bool) MappedExpression {
	out := MappedExpression{Expression: expression}
	if syntaxError(expression) != "" {
		return out
	}
	if len(mappings) > 0 {
		before := out.Expression
		out.Expression = mapOriginalNames(out.Expression, mappings)
		out.Mapped.OriginalExpression = before != out.Expression
	}
	if mapBindings {
		before := out.Expression
		out.Expression = mapTopLevelBindings(out.Expression, bindings)
		out.Mapped.Bindings = before != out.Expression
	}
	if mapAwait {
		before := out.Expression
		out.Expression = mapTopLevelAwait(out.Expression)
		out.Mapped.Await = before != out.Expression
	}
	return out
}

type edit struct {
	from, to int
	text     string
}

func applyEdits(src string, edits []edit) string {
	sort.SliceStable(edits, func(a, b int) bool { return edits[a].from < edits[b].from })
	var b strings.Builder
	last := 0
	for _, e := range edits {
		if e.from < last {
			continue
		}
		b.WriteString(src[last:e.from])
		b.WriteString(e.text)
		last = e.to
	}
	b.WriteString(src[last:])
	return b.String()
}

func mapOriginalNames(expr string, mappings map[string]*string) string {
	f := analyze(expr)
	var edits []edit
	for i, t := range f.toks {
		if !f.isIdent(i) || f.isMemberName(i) || f.objectKey(i) {
			continue
		}
		if to, ok := mappings[t.text]; ok && to != nil && *to != t.text {
			edits = append(edits, edit{t.off, t.endOff, *to})
		}
	}
	return applyEdits(expr, edits)
}

// depths returns the bracket nesting depth of every token.
func (f *file) depths() []int {
	d := make([]int, len(f.toks))
	n := 0
	for i, t := range f.toks {
		if t.kind == tkPunct && closers[t.text] && n > 0 {
			n--
		}
		d[i] = n
		if t.kind == tkPunct && (t.text == "(" || t.text == "[" || t.text == "{") {
			n++
		}
	}
	return d
}

func mapTopLevelBindings(expr string, bindings []string) string {
	bound := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		bound[b] = true
	}
	target := func(name string) string {
		if bound[name] {
			return ""
		}
		return "self."
	}

	f := analyze(expr)
	depth := f.depths()
	var edits []edit
	for i, t := range f.toks {
		if depth[i] != 0 || !f.statementStart(i) {
			continue
		}
		switch {
		case t.kind == tkIdent && (t.text == "var" || t.text == "let" || t.text == "const"):
			decl, ok := f.simpleDeclarators(i, depth)
			if !ok {
				continue
			}
			edits = append(edits, edit{t.off, f.toks[i+1].off, ""})
			for _, d := range decl {
				id := f.toks[d]
				edits = append(edits, edit{id.off, id.off, target(id.text)})
				if f.text(d+1) != "=" {
					edits = append(edits, edit{id.endOff, id.endOff, " = undefined"})
				}
			}
		case f.isIdent(i) && f.text(i+1) == "=" && f.kind(i+1) == tkPunct:
			if p := target(t.text); p != "" {
				edits = append(edits, edit{t.off, t.off, p})
			}
		}
	}
	return applyEdits(expr, edits)
}

// simpleDeclarators returns the declared identifiers of the declaration
// at i when each declarator binds a plain identifier.
func (f *file) simpleDeclarators(i int, depth []int) ([]int, bool) {
	var ids []int
	j := i + 1
	for j < len(f.toks) {
		if !f.isIdent(j) {
			return nil, false
		}
		ids = append(ids, j)
		j++
		if f.text(j) == "=" {
			j++
			for j < len(f.toks) && !(depth[j] == 0 && (f.text(j) == "," || f.text(j) == ";")) {
				if f.toks[j].nl && f.statementStart(j) {
					return ids, true
				}
				j = f.next(j)
			}
		}
		if f.text(j) != "," {
			break
		}
		j++
	}
	return ids, len(ids) > 0
}

func mapTopLevelAwait(expr string) string {
	f := analyze(expr)
	hasAwait := false
	for i := range f.toks {
		if f.text(i) == "await" && functionScope(f.scopeAt[i]).kind == "module" {
			hasAwait = true
			break
		}
	}
	if !hasAwait {
		return expr
	}

	depth := f.depths()
	var stmts []string
	from := 0
	flush := func(to int) {
		if s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(expr[from:to]), ";")); s != "" {
			stmts = append(stmts, s)
		}
	}
	for i, t := range f.toks {
		if depth[i] != 0 {
			continue
		}
		switch {
		case t.is(tkPunct, ";"):
			flush(t.endOff)
			from = t.endOff
		case i > 0 && t.nl && f.statementStart(i) && t.off > from:
			flush(t.off)
			from = t.off
		}
	}
	flush(len(expr))
	if len(stmts) == 0 {
		return expr
	}

	last := stmts[len(stmts)-1]
	first, _ := lex(last)
	if len(first) == 0 || !(first[0].kind == tkIdent && statementKeywords[first[0].text]) {
		stmts[len(stmts)-1] = "return (" + last + ")"
	}
	return "(async () => { " + strings.Join(stmts, "; ") + "; })()"
}

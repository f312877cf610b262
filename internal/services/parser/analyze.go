package parser

import (
	"sort"
	"strings"

	"github.com/cryguy/taskworker/internal/core"
)

// file is the analysis of one source: its tokens and bracket structure,
// the functions, classes and imports they form, and the lexical scopes
// with their bindings.
type file struct {
	toks     []token
	comments []token
	match    []int // index of the matching bracket, or -1

	functions []*function
	classes   []*class
	imports   []*importDecl
	scopes    []*scope // outermost first
	scopeAt   []*scope // innermost scope of each token

	declTok   map[int]bool // tokens declaring a binding
	variables []int        // tokens declared by var, let and const
	skip      map[int]bool // identifiers that are neither bindings nor references
}

type function struct {
	name       string
	nameTok    int // -1 when anonymous
	method     bool
	start, end int // first and last token
	paramLo    int // inner token range of the parameter list
	paramHi    int
	bodyOpen   int
	decl       bool
	klass      string
	paramNames []string
	paramToks  []int
}

type class struct {
	name     string
	parent   string
	start    int
	bodyOpen int
	end      int
	decl     bool
	nameTok  int
}

type importDecl struct {
	source     string
	specifiers []string
	start, end int
}

type scope struct {
	kind       string // module, function or block
	name       string
	start, end int // inclusive token range
	parent     *scope
	bindings   map[string]*binding
	order      []string
}

type binding struct {
	kind string // var, let, const, import or implicit
	refs []ref
}

type ref struct {
	tok  int
	decl bool
}

var statementKeywords = map[string]bool{
	"var": true, "let": true, "const": true, "function": true, "class": true,
	"if": true, "for": true, "while": true, "do": true, "return": true,
	"switch": true, "try": true, "throw": true, "import": true, "export": true,
}

var closers = map[string]bool{")": true, "]": true, "}": true}

func analyze(src string) *file {
	f := &file{declTok: make(map[int]bool), skip: make(map[int]bool)}
	f.toks, f.comments = lex(src)
	f.matchBrackets()
	f.findClasses()
	f.findFunctions()
	f.findImports()
	f.buildScopes()
	f.bindDeclarations()
	f.resolveRefs()
	return f
}

func (f *file) text(i int) string {
	if i < 0 || i >= len(f.toks) {
		return ""
	}
	return f.toks[i].text
}

func (f *file) kind(i int) tokKind {
	if i < 0 || i >= len(f.toks) {
		return -1
	}
	return f.toks[i].kind
}

// isIdent reports whether token i is an identifier that is not a keyword.
func (f *file) isIdent(i int) bool {
	return f.kind(i) == tkIdent && !keywords[f.text(i)]
}

func (f *file) isMemberName(i int) bool {
	p := f.text(i - 1)
	return f.kind(i-1) == tkPunct && (p == "." || p == "?.")
}

// next returns the index after token i, jumping over a bracketed group
// that opens at i.
func (f *file) next(i int) int {
	if i >= 0 && i < len(f.match) && f.match[i] > i {
		return f.match[i] + 1
	}
	return i + 1
}

func (f *file) span(from, to int) core.AstLocation {
	return core.AstLocation{Start: f.toks[from].start, End: f.toks[to].end}
}

func (f *file) matchBrackets() {
	f.match = make([]int, len(f.toks))
	var stack []int
	pairs := map[string]string{")": "(", "]": "[", "}": "{"}
	for i, t := range f.toks {
		f.match[i] = -1
		if t.kind != tkPunct {
			continue
		}
		switch t.text {
		case "(", "[", "{":
			stack = append(stack, i)
		case ")", "]", "}":
			if n := len(stack); n > 0 && f.toks[stack[n-1]].text == pairs[t.text] {
				open := stack[n-1]
				stack = stack[:n-1]
				f.match[open], f.match[i] = i, open
			}
		}
	}
}

// statementStart reports whether token i begins a statement.
func (f *file) statementStart(i int) bool {
	if i == 0 {
		return true
	}
	switch f.text(i - 1) {
	case ";", "{", "}", "export", "default":
		return f.kind(i-1) != tkString
	}
	if f.toks[i].nl {
		switch f.text(i - 1) {
		case "=", "(", ",", ":", "?", "||", "&&", "??", "return", "[", "+", "-":
			return false
		}
		return true
	}
	return false
}

// inferName names an anonymous function or class from the assignment or
// property it is the value of.
func (f *file) inferName(start int) string {
	switch f.text(start - 1) {
	case "=":
		if f.kind(start-2) == tkIdent {
			return f.text(start - 2)
		}
	case ":":
		if f.kind(start-2) == tkIdent || f.kind(start-2) == tkString {
			return strings.Trim(f.text(start-2), `"'`)
		}
	}
	return "anonymous"
}

func (f *file) findClasses() {
	for i, t := range f.toks {
		if !t.is(tkIdent, "class") || f.isMemberName(i) {
			continue
		}
		c := &class{start: i, nameTok: -1}
		j := i + 1
		if f.isIdent(j) && f.text(j) != "extends" {
			c.name, c.nameTok = f.text(j), j
			j++
		}
		if f.text(j) == "extends" {
			j++
			var parts []string
			for j < len(f.toks) && f.text(j) != "{" {
				parts = append(parts, f.text(j))
				j = f.next(j)
			}
			c.parent = strings.Join(parts, "")
		}
		for j < len(f.toks) && f.text(j) != "{" {
			j = f.next(j)
		}
		if j >= len(f.toks) || f.match[j] < 0 {
			continue
		}
		c.bodyOpen, c.end = j, f.match[j]
		c.decl = c.nameTok >= 0 && f.statementStart(i)
		if c.name == "" {
			c.name = f.inferName(i)
		}
		f.classes = append(f.classes, c)
	}
}

var methodModifiers = map[string]bool{"static": true, "get": true, "set": true, "async": true}

func (f *file) findFunctions() {
	named := make(map[int]bool)
	for i, t := range f.toks {
		var fn *function
		switch {
		case t.is(tkIdent, "function") && !f.isMemberName(i):
			fn = f.functionAt(i)
		case t.is(tkPunct, "=>"):
			fn = f.arrowAt(i)
		case f.isIdent(i) && !named[i] && !f.isMemberName(i):
			fn = f.methodAt(i)
		}
		if fn == nil {
			continue
		}
		if fn.nameTok >= 0 {
			named[fn.nameTok] = true
		}
		fn.paramToks = f.patternNames(fn.paramLo, fn.paramHi)
		for _, p := range fn.paramToks {
			fn.paramNames = append(fn.paramNames, f.text(p))
		}
		f.functions = append(f.functions, fn)
	}
	sort.SliceStable(f.functions, func(a, b int) bool {
		return f.functions[a].start < f.functions[b].start
	})
	for _, fn := range f.functions {
		for _, c := range f.classes {
			if c.bodyOpen < fn.start && fn.end <= c.end {
				fn.klass = c.name
			}
		}
	}
}

func (f *file) functionAt(i int) *function {
	fn := &function{start: i, nameTok: -1}
	if f.text(i-1) == "async" {
		fn.start = i - 1
	}
	j := i + 1
	if f.text(j) == "*" {
		j++
	}
	if f.isIdent(j) {
		fn.nameTok = j
		j++
	}
	if f.text(j) != "(" || f.match[j] < 0 {
		return nil
	}
	fn.paramLo, fn.paramHi = j+1, f.match[j]-1
	b := f.match[j] + 1
	if f.text(b) != "{" || f.match[b] < 0 {
		return nil
	}
	fn.bodyOpen, fn.end = b, f.match[b]
	if fn.nameTok >= 0 {
		fn.name = f.text(fn.nameTok)
		fn.decl = f.statementStart(fn.start)
	} else {
		fn.name = f.inferName(fn.start)
	}
	return fn
}

func (f *file) arrowAt(i int) *function {
	fn := &function{nameTok: -1}
	switch {
	case f.text(i-1) == ")" && f.match[i-1] >= 0:
		open := f.match[i-1]
		fn.start, fn.paramLo, fn.paramHi = open, open+1, i-2
	case f.isIdent(i - 1):
		fn.start, fn.paramLo, fn.paramHi = i-1, i-1, i-1
	default:
		return nil
	}
	if f.text(fn.start-1) == "async" {
		f.skip[fn.start-1] = true
		fn.start--
	}

	body := i + 1
	if body >= len(f.toks) {
		return nil
	}
	fn.bodyOpen = body
	if f.text(body) == "{" && f.match[body] > body {
		fn.end = f.match[body]
	} else {
		j := body
		for j < len(f.toks) {
			t := f.toks[j]
			if t.kind == tkPunct && (t.text == "," || t.text == ";" || closers[t.text]) {
				break
			}
			if j > body && t.nl && t.kind == tkIdent && statementKeywords[t.text] {
				break
			}
			j = f.next(j)
		}
		fn.end = j - 1
		if fn.end < body {
			fn.end = body
		}
	}
	fn.name = f.inferName(fn.start)
	return fn
}

var notMethods = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"with": true, "function": true, "return": true, "typeof": true, "new": true,
}

func (f *file) methodAt(i int) *function {
	if notMethods[f.text(i)] || f.text(i+1) != "(" || f.match[i+1] < 0 {
		return nil
	}
	b := f.match[i+1] + 1
	if f.text(b) != "{" || f.match[b] < 0 {
		return nil
	}
	prev := f.text(i - 1)
	if i > 0 && prev != "{" && prev != "," && prev != ";" && prev != "}" && prev != "*" && !methodModifiers[prev] {
		return nil
	}
	for j := i - 1; j >= 0 && methodModifiers[f.text(j)]; j-- {
		f.skip[j] = true
	}
	return &function{
		name:     f.text(i),
		nameTok:  i,
		method:   true,
		start:    i,
		end:      f.match[b],
		paramLo:  i + 2,
		paramHi:  f.match[i+1] - 1,
		bodyOpen: b,
	}
}

// patternNames returns the tokens bound by a parameter list or
// destructuring pattern spanning tokens lo..hi. Default values are
// skipped.
func (f *file) patternNames(lo, hi int) []int {
	var out []int
	for i := lo; i <= hi && i < len(f.toks); i++ {
		switch t := f.toks[i]; {
		case t.is(tkPunct, "="):
			j := i + 1
			for j <= hi && !f.toks[j].is(tkPunct, ",") && !(f.toks[j].kind == tkPunct && closers[f.toks[j].text]) {
				j = f.next(j)
			}
			i = j - 1
		case f.isIdent(i) && !f.isMemberName(i):
			nx := f.text(i + 1)
			if i == hi || nx == "," || nx == "=" || closers[nx] {
				out = append(out, i)
			}
		}
	}
	return out
}

func (f *file) findImports() {
	for i, t := range f.toks {
		if !t.is(tkIdent, "import") || f.isMemberName(i) || f.text(i+1) == "(" || f.text(i+1) == "." {
			continue
		}
		imp := &importDecl{start: i, end: i}
		j := i + 1
		for j < len(f.toks) && f.kind(j) != tkString {
			switch {
			case f.text(j) == "{" && f.match[j] > j:
				for k := j + 1; k < f.match[j]; k++ {
					if f.isIdent(k) && (f.text(k+1) == "," || f.text(k+1) == "}") {
						imp.specifiers = append(imp.specifiers, f.text(k))
						f.declTok[k] = true
					}
				}
				j = f.match[j] + 1
			case f.text(j) == "as" && f.isIdent(j+1), f.isIdent(j) && f.text(j) != "from" && f.text(j) != "as" && (f.text(j+1) == "," || f.text(j+1) == "from"):
				if f.text(j) == "as" {
					j++
				}
				imp.specifiers = append(imp.specifiers, f.text(j))
				f.declTok[j] = true
				j++
			default:
				j++
			}
		}
		if j >= len(f.toks) {
			continue
		}
		imp.source = strings.Trim(f.text(j), "\"'")
		imp.end = j
		if f.text(j+1) == ";" {
			imp.end = j + 1
		}
		for k := imp.start; k <= imp.end; k++ {
			if !f.declTok[k] {
				f.skip[k] = true
			}
		}
		f.imports = append(f.imports, imp)
	}
}

// blockBrace reports whether the '{' at i opens a statement block rather
// than an object literal.
func (f *file) blockBrace(i int) bool {
	if i == 0 {
		return true
	}
	switch f.text(i - 1) {
	case ";", "{", "}", ")", "else", "try", "finally", "do":
		return f.kind(i-1) == tkPunct || f.kind(i-1) == tkIdent
	}
	return false
}

func (f *file) buildScopes() {
	n := len(f.toks)
	module := &scope{kind: "module", start: 0, end: n - 1, bindings: map[string]*binding{}}
	f.scopes = []*scope{module}

	bodies := make(map[int]bool)
	for _, fn := range f.functions {
		bodies[fn.bodyOpen] = true
		f.scopes = append(f.scopes, &scope{kind: "function", name: fn.name, start: fn.start, end: fn.end, bindings: map[string]*binding{}})
	}
	for _, c := range f.classes {
		bodies[c.bodyOpen] = true
	}
	for i, t := range f.toks {
		if t.is(tkPunct, "{") && f.match[i] > i && !bodies[i] && f.blockBrace(i) {
			start := i
			// for and catch heads belong to the block they introduce
			if f.text(i-1) == ")" && f.match[i-1] > 0 {
				if h := f.match[i-1] - 1; f.text(h) == "for" || f.text(h) == "catch" {
					start = h
				}
			}
			f.scopes = append(f.scopes, &scope{kind: "block", start: start, end: f.match[i], bindings: map[string]*binding{}})
		}
	}
	sort.SliceStable(f.scopes[1:], func(a, b int) bool {
		sa, sb := f.scopes[1+a], f.scopes[1+b]
		if sa.start != sb.start {
			return sa.start < sb.start
		}
		return sa.end > sb.end
	})

	f.scopeAt = make([]*scope, n)
	stack := []*scope{module}
	next := 1
	for i := 0; i < n; i++ {
		for len(stack) > 1 && stack[len(stack)-1].end < i {
			stack = stack[:len(stack)-1]
		}
		for next < len(f.scopes) && f.scopes[next].start == i {
			s := f.scopes[next]
			s.parent = stack[len(stack)-1]
			stack = append(stack, s)
			next++
		}
		f.scopeAt[i] = stack[len(stack)-1]
	}
}

func (f *file) scopeStartingAt(i int, kind string) *scope {
	for _, s := range f.scopes {
		if s.start == i && s.kind == kind {
			return s
		}
	}
	return nil
}

func functionScope(s *scope) *scope {
	for s.kind == "block" && s.parent != nil {
		s = s.parent
	}
	return s
}

func (f *file) declare(s *scope, name, kind string, tok int) {
	b, ok := s.bindings[name]
	if !ok {
		b = &binding{kind: kind}
		s.bindings[name] = b
		s.order = append(s.order, name)
	}
	b.refs = append(b.refs, ref{tok: tok, decl: true})
	f.declTok[tok] = true
}

func (f *file) bindDeclarations() {
	module := f.scopes[0]
	for _, imp := range f.imports {
		for k := imp.start; k <= imp.end; k++ {
			if f.declTok[k] {
				f.declare(module, f.text(k), "import", k)
			}
		}
	}

	for _, fn := range f.functions {
		own := f.scopeStartingAt(fn.start, "function")
		if own == nil {
			continue
		}
		if fn.nameTok >= 0 && !fn.method {
			if fn.decl && own.parent != nil {
				f.declare(own.parent, fn.name, "var", fn.nameTok)
			} else {
				f.declare(own, fn.name, "var", fn.nameTok)
			}
		}
		for _, p := range fn.paramToks {
			f.declare(own, f.text(p), "var", p)
		}
	}

	for _, c := range f.classes {
		if c.decl {
			f.declare(f.scopeAt[c.start], c.name, "let", c.nameTok)
		}
	}

	for i, t := range f.toks {
		switch {
		case t.kind == tkIdent && (t.text == "var" || t.text == "let" || t.text == "const") && !f.isMemberName(i):
			f.declareVariables(i)
		case t.is(tkPunct, "{") && f.text(i-1) == ")" && f.match[i-1] > 0 && f.text(f.match[i-1]-1) == "catch":
			if s := f.scopeStartingAt(f.match[i-1]-1, "block"); s != nil {
				for _, p := range f.patternNames(f.match[i-1]+1, i-2) {
					f.declare(s, f.text(p), "let", p)
				}
			}
		}
	}
}

// declareVariables binds the declarators of the var, let or const
// statement at i.
func (f *file) declareVariables(i int) {
	kind := f.text(i)
	s := f.scopeAt[i]
	if kind == "var" {
		s = functionScope(s)
	}

	j := i + 1
	for j < len(f.toks) {
		switch {
		case f.isIdent(j):
			f.declare(s, f.text(j), kind, j)
			f.variables = append(f.variables, j)
			j++
		case (f.text(j) == "{" || f.text(j) == "[") && f.match[j] > j:
			for _, p := range f.patternNames(j+1, f.match[j]-1) {
				f.declare(s, f.text(p), kind, p)
				f.variables = append(f.variables, p)
			}
			j = f.match[j] + 1
		default:
			return
		}
		if f.text(j) == "=" {
			j++
			for j < len(f.toks) {
				t := f.toks[j]
				if t.kind == tkPunct && (t.text == "," || t.text == ";" || closers[t.text]) {
					break
				}
				if t.kind == tkIdent && (t.text == "of" || t.text == "in") && f.text(i-2) == "for" {
					break
				}
				if t.nl && t.kind == tkIdent && statementKeywords[t.text] {
					break
				}
				j = f.next(j)
			}
		}
		if f.text(j) != "," {
			return
		}
		j++
	}
}

// objectKey reports whether identifier i names a property in an object
// literal or pattern.
func (f *file) objectKey(i int) bool {
	if f.text(i+1) != ":" {
		return false
	}
	p := f.text(i - 1)
	return p == "{" || p == ","
}

func (f *file) contextual(i int) bool {
	switch f.text(i) {
	case "of", "as", "from":
		p := i - 1
		return f.kind(p) == tkIdent || f.text(p) == "]" || f.text(p) == "}" || f.text(p) == "*"
	case "async":
		return f.text(i+1) == "function"
	}
	return false
}

func (f *file) resolveRefs() {
	if len(f.scopes) == 0 || len(f.toks) == 0 {
		return
	}
	module := f.scopes[0]
	methodNames := make(map[int]bool)
	for _, fn := range f.functions {
		if fn.method {
			methodNames[fn.nameTok] = true
		}
	}
	for i, t := range f.toks {
		if !f.isIdent(i) || f.declTok[i] || f.skip[i] || methodNames[i] ||
			f.isMemberName(i) || f.objectKey(i) || f.contextual(i) {
			continue
		}
		var b *binding
		for s := f.scopeAt[i]; s != nil; s = s.parent {
			if b = s.bindings[t.text]; b != nil {
				break
			}
		}
		if b == nil {
			b = &binding{kind: "implicit"}
			module.bindings[t.text] = b
			module.order = append(module.order, t.text)
		}
		b.refs = append(b.refs, ref{tok: i})
	}
}

// scopesAt returns the scopes enclosing pos, innermost first. The module
// scope always encloses.
func (f *file) scopesAt(pos core.Position) []*scope {
	innermost := f.scopes[0]
	for _, s := range f.scopes[1:] {
		if s.end < s.start || s.end >= len(f.toks) {
			continue
		}
		if f.span(s.start, s.end).Contains(pos) {
			innermost = s
		}
	}
	var out []*scope
	for s := innermost; s != nil; s = s.parent {
		out = append(out, s)
	}
	return out
}

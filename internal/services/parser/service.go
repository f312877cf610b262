// Package parser implements the parser worker: symbol, scope and stepping
// queries over the JavaScript sources the debugger shows, plus the
// rewriting of console expressions before evaluation.
package parser

import (
	"context"
	"sort"
	"sync"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/handler"
)

// WorkerFileName is the url the parser worker is registered under.
const WorkerFileName = "parser-worker.js"

// BindingLocation is one declaration or reference of a binding.
type BindingLocation struct {
	Type  string        `json:"type"` // decl or ref
	Start core.Position `json:"start"`
	End   core.Position `json:"end"`
}

// BindingData is a binding and every place it appears.
type BindingData struct {
	Type string            `json:"type"`
	Refs []BindingLocation `json:"refs"`
}

// SourceScope is a lexical scope with its bindings.
type SourceScope struct {
	Type        string                 `json:"type"`
	DisplayName string                 `json:"displayName"`
	Start       core.Position          `json:"start"`
	End         core.Position          `json:"end"`
	Bindings    map[string]BindingData `json:"bindings"`
}

// Service caches sources and what has been computed from them.
type Service struct {
	mu      sync.Mutex
	sources map[string]core.Source
	files   map[string]*file
	symbols map[string]*SymbolDeclarations
	scopes  map[string]*file
}

// NewService creates an empty Service.
func NewService() *Service {
	return &Service{
		sources: make(map[string]core.Source),
		files:   make(map[string]*file),
		symbols: make(map[string]*SymbolDeclarations),
		scopes:  make(map[string]*file),
	}
}

func errNoSource(id string) error {
	return core.NewRemoteError("Error", "parser: source %s was not provided", id)
}

// fileFor returns the analysis of source id. mu must be held.
func (s *Service) fileFor(id string) (*file, core.Source, error) {
	src, ok := s.sources[id]
	if !ok {
		return nil, src, errNoSource(id)
	}
	if f, ok := s.files[id]; ok {
		return f, src, nil
	}
	text := src.Text
	if isHTML(src.ContentType) {
		text = scriptText(text)
	}
	f := analyze(text)
	s.files[id] = f
	return f, src, nil
}

// SetSource adds or replaces a source and drops what was derived from the
// previous text.
func (s *Service) SetSource(src core.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.ID] = src
	delete(s.files, src.ID)
	delete(s.symbols, src.ID)
	delete(s.scopes, src.ID)
}

// HasSource reports whether id was set.
func (s *Service) HasSource(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sources[id]
	return ok
}

// ClearSources forgets every source and everything derived from them.
func (s *Service) ClearSources() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = make(map[string]core.Source)
	s.files = make(map[string]*file)
	s.symbols = make(map[string]*SymbolDeclarations)
	s.scopes = make(map[string]*file)
}

// ClearASTs drops the token and structure caches.
func (s *Service) ClearASTs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = make(map[string]*file)
}

// ClearScopes drops the scope cache.
func (s *Service) ClearScopes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes = make(map[string]*file)
}

// ClearSymbols drops the symbol cache.
func (s *Service) ClearSymbols() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = make(map[string]*SymbolDeclarations)
}

// GetSymbols returns the symbols of source id.
func (s *Service) GetSymbols(id string) (*SymbolDeclarations, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sym, ok := s.symbols[id]; ok {
		return sym, nil
	}
	f, src, err := s.fileFor(id)
	if err != nil {
		return nil, err
	}
	sym := f.symbols(src.ContentType)
	s.symbols[id] = sym
	return sym, nil
}

// GetFramework returns the UI framework source id uses, or nil.
func (s *Service) GetFramework(id string) (*string, error) {
	sym, err := s.GetSymbols(id)
	if err != nil {
		return nil, err
	}
	if sym.Framework == "" {
		return nil, nil
	}
	fw := sym.Framework
	return &fw, nil
}

// GetScopes returns the scopes enclosing loc, innermost first. Unknown
// sources have no scopes.
func (s *Service) GetScopes(loc core.SourceLocation) []SourceScope {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.scopes[loc.SourceID]
	if !ok {
		var err error
		if f, _, err = s.fileFor(loc.SourceID); err != nil {
			return []SourceScope{}
		}
		s.scopes[loc.SourceID] = f
	}

	chain := f.scopesAt(core.Position{Line: loc.Line, Column: loc.Col()})
	out := make([]SourceScope, 0, len(chain))
	for _, sc := range chain {
		out = append(out, f.sourceScope(sc))
	}
	return out
}

func (f *file) sourceScope(sc *scope) SourceScope {
	out := SourceScope{
		Type:        sc.kind,
		DisplayName: sc.name,
		Bindings:    make(map[string]BindingData, len(sc.bindings)),
	}
	if sc.end >= sc.start && sc.end < len(f.toks) {
		loc := f.span(sc.start, sc.end)
		out.Start, out.End = loc.Start, loc.End
	}
	if sc.kind == "module" {
		out.DisplayName = "Module"
	}
	for _, name := range sc.order {
		b := sc.bindings[name]
		data := BindingData{Type: b.kind, Refs: make([]BindingLocation, 0, len(b.refs))}
		for _, r := range b.refs {
			typ := "ref"
			if r.decl {
				typ = "decl"
			}
			t := f.toks[r.tok]
			data.Refs = append(data.Refs, BindingLocation{Type: typ, Start: t.start, End: t.end})
		}
		out.Bindings[name] = data
	}
	return out
}

// FindOutOfScopeLocations returns the spans of the functions that do not
// contain pos. Nested spans are folded into the outermost one.
func (s *Service) FindOutOfScopeLocations(id string, pos core.Position) ([]core.AstLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, _, err := s.fileFor(id)
	if err != nil {
		return nil, err
	}

	var spans []core.AstLocation
	for _, fn := range f.functions {
		loc := f.span(fn.start, fn.end)
		if !loc.Contains(pos) {
			spans = append(spans, loc)
		}
	}
	sort.SliceStable(spans, func(a, b int) bool { return spans[a].Start.Before(spans[b].Start) })

	out := []core.AstLocation{}
	for _, loc := range spans {
		if n := len(out); n > 0 && !out[n-1].End.Before(loc.End) {
			continue
		}
		out = append(out, loc)
	}
	return out, nil
}

// GetNextStep returns where execution resumes when the statement paused
// at is an await or yield, or nil when a plain step suffices.
func (s *Service) GetNextStep(id string, paused core.Position) (*core.SourceLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, _, err := s.fileFor(id)
	if err != nil {
		return nil, err
	}

	first := -1
	for i, t := range f.toks {
		if !t.start.Before(paused) {
			first = i
			break
		}
	}
	if first < 0 {
		return nil, nil
	}
	for first > 0 && !f.statementStart(first) && f.match[first-1] < 0 {
		first--
	}

	fnScope := functionScope(f.scopeAt[first])
	suspends := false
	i := first
	for ; i < len(f.toks); i = f.next(i) {
		t := f.toks[i]
		if i > first && f.statementStart(i) || t.kind == tkPunct && closers[t.text] {
			break
		}
		if t.kind == tkIdent && (t.text == "await" || t.text == "yield") {
			suspends = true
		}
		if t.is(tkPunct, ";") {
			i++
			break
		}
	}
	if !suspends || i >= len(f.toks) || f.toks[i].kind == tkPunct && closers[f.toks[i].text] {
		return nil, nil
	}
	if functionScope(f.scopeAt[i]) != fnScope {
		return nil, nil
	}
	next := f.toks[i].start
	return &core.SourceLocation{SourceID: id, Line: next.Line, Column: core.Int(next.Column)}, nil
}

// HasSyntaxError returns false for input that parses, else the error.
func HasSyntaxError(input string) any {
	if msg := syntaxError(input); msg != "" {
		return msg
	}
	return false
}

// NewTable returns the parser worker's method table bound to s.
func NewTable(s *Service) *handler.Table {
	t := handler.NewTable()
	t.MustRegister("findOutOfScopeLocations", s.FindOutOfScopeLocations)
	t.MustRegister("getNextStep", s.GetNextStep)
	t.MustRegister("clearASTs", s.ClearASTs)
	t.MustRegister("getScopes", s.GetScopes)
	t.MustRegister("clearScopes", s.ClearScopes)
	t.MustRegister("clearSymbols", s.ClearSymbols)
	t.MustRegister("getSymbols", s.GetSymbols)
	t.MustRegister("hasSource", s.HasSource)
	t.MustRegister("setSource", s.SetSource)
	t.MustRegister("clearSources", s.ClearSources)
	t.MustRegister("hasSyntaxError", HasSyntaxError)
	t.MustRegister("mapExpression", func(expression string, mappings map[string]*string, bindings []string, mapBindings, mapAwait *bool) MappedExpression {
		return MapExpression(expression, mappings, bindings, mapBindings == nil || *mapBindings, mapAwait == nil || *mapAwait)
	})
	t.MustRegister("getFramework", s.GetFramework)
	return t
}

// Main is the parser worker entry point. Each worker has its own caches.
func Main(opts ...handler.Option) core.WorkerMain {
	return func(ctx context.Context, scope core.Scope) {
		handler.Main(NewTable(NewService()), opts...)(ctx, scope)
	}
}

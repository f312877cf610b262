package parser

import (
	"strings"

	"github.com/cryguy/taskworker/internal/core"
)

// SymbolDeclaration is a named span.
type SymbolDeclaration struct {
	Name     string           `json:"name"`
	Location core.AstLocation `json:"location"`
}

// FunctionDeclaration describes a function, arrow function or method.
type FunctionDeclaration struct {
	Name           string             `json:"name"`
	Klass          string             `json:"klass,omitempty"`
	Location       core.AstLocation   `json:"location"`
	ParameterNames []string           `json:"parameterNames"`
	Identifier     *SymbolDeclaration `json:"identifier,omitempty"`
}

// ClassDeclaration describes a class and the expression it extends.
type ClassDeclaration struct {
	Name     string           `json:"name"`
	Parent   string           `json:"parent,omitempty"`
	Location core.AstLocation `json:"location"`
}

// IdentifierDeclaration is an identifier and the expression it sits in.
type IdentifierDeclaration struct {
	Name       string           `json:"name"`
	Expression string           `json:"expression"`
	Location   core.AstLocation `json:"location"`
}

// MemberDeclaration is a property access. Expression is the whole chain
// up to and including the property.
type MemberDeclaration struct {
	Name       string           `json:"name"`
	Expression string           `json:"expression"`
	Computed   bool             `json:"computed"`
	Location   core.AstLocation `json:"location"`
}

// CallDeclaration is a call site with its literal arguments.
type CallDeclaration struct {
	Name     string           `json:"name"`
	Values   []string         `json:"values"`
	Location core.AstLocation `json:"location"`
}

// ImportDeclaration is an import statement.
type ImportDeclaration struct {
	Source     string           `json:"source"`
	Specifiers []string         `json:"specifiers"`
	Location   core.AstLocation `json:"location"`
}

// SymbolDeclarations is everything getSymbols reports for a source.
type SymbolDeclarations struct {
	Functions         []FunctionDeclaration   `json:"functions"`
	Variables         []SymbolDeclaration     `json:"variables"`
	MemberExpressions []MemberDeclaration     `json:"memberExpressions"`
	CallExpressions   []CallDeclaration       `json:"callExpressions"`
	ObjectProperties  []IdentifierDeclaration `json:"objectProperties"`
	Comments          []SymbolDeclaration     `json:"comments"`
	Identifiers       []IdentifierDeclaration `json:"identifiers"`
	Classes           []ClassDeclaration      `json:"classes"`
	Imports           []ImportDeclaration     `json:"imports"`
	Literals          []IdentifierDeclaration `json:"literals"`
	HasJsx            bool                    `json:"hasJsx"`
	HasTypes          bool                    `json:"hasTypes"`
	Framework         string                  `json:"framework,omitempty"`
}

func (f *file) symbols(contentType string) *SymbolDeclarations {
	s := &SymbolDeclarations{
		Functions:         []FunctionDeclaration{},
		Variables:         []SymbolDeclaration{},
		MemberExpressions: []MemberDeclaration{},
		CallExpressions:   []CallDeclaration{},
		ObjectProperties:  []IdentifierDeclaration{},
		Comments:          []SymbolDeclaration{},
		Identifiers:       []IdentifierDeclaration{},
		Classes:           []ClassDeclaration{},
		Imports:           []ImportDeclaration{},
		Literals:          []IdentifierDeclaration{},
	}

	for _, fn := range f.functions {
		d := FunctionDeclaration{
			Name:           fn.name,
			Klass:          fn.klass,
			Location:       f.span(fn.start, fn.end),
			ParameterNames: append([]string{}, fn.paramNames...),
		}
		if fn.nameTok >= 0 {
			d.Identifier = &SymbolDeclaration{Name: fn.name, Location: f.toks[fn.nameTok].loc()}
		}
		s.Functions = append(s.Functions, d)
	}
	for _, c := range f.classes {
		s.Classes = append(s.Classes, ClassDeclaration{Name: c.name, Parent: c.parent, Location: f.span(c.start, c.end)})
	}
	for _, imp := range f.imports {
		s.Imports = append(s.Imports, ImportDeclaration{
			Source:     imp.source,
			Specifiers: append([]string{}, imp.specifiers...),
			Location:   f.span(imp.start, imp.end),
		})
	}
	for _, v := range f.variables {
		s.Variables = append(s.Variables, SymbolDeclaration{Name: f.text(v), Location: f.toks[v].loc()})
	}
	for _, c := range f.comments {
		s.Comments = append(s.Comments, SymbolDeclaration{Name: c.text, Location: c.loc()})
	}

	for i, t := range f.toks {
		switch t.kind {
		case tkString:
			s.Literals = append(s.Literals, IdentifierDeclaration{Name: unquote(t.text), Expression: t.text, Location: t.loc()})
			if f.objectKey(i) {
				s.ObjectProperties = append(s.ObjectProperties, IdentifierDeclaration{Name: unquote(t.text), Expression: t.text, Location: t.loc()})
			}
		case tkIdent:
			if keywords[t.text] && t.text != "this" {
				continue
			}
			if f.isMemberName(i) {
				s.MemberExpressions = append(s.MemberExpressions, MemberDeclaration{
					Name:       t.text,
					Expression: f.memberChain(i),
					Location:   t.loc(),
				})
			} else if f.objectKey(i) {
				s.ObjectProperties = append(s.ObjectProperties, IdentifierDeclaration{
					Name:       t.text,
					Expression: t.text,
					Location:   t.loc(),
				})
			}
			if t.text != "this" {
				s.Identifiers = append(s.Identifiers, IdentifierDeclaration{Name: t.text, Expression: f.memberChain(i), Location: t.loc()})
			}
			if call, ok := f.callAt(i); ok {
				s.CallExpressions = append(s.CallExpressions, call)
			}
		case tkPunct:
			if t.text == "[" && i > 0 && f.match[i] > i && f.isValueEnd(i-1) {
				inner := f.toks[i+1 : f.match[i]]
				if len(inner) == 1 && (inner[0].kind == tkString || inner[0].kind == tkNumber) {
					s.MemberExpressions = append(s.MemberExpressions, MemberDeclaration{
						Name:       unquote(inner[0].text),
						Expression: f.memberChain(i-1) + "[" + inner[0].text + "]",
						Computed:   true,
						Location:   f.span(i, f.match[i]),
					})
				}
			}
			if t.text == "<" && f.jsxAt(i) {
				s.HasJsx = true
			}
		}
	}

	s.HasTypes = f.hasTypes(contentType)
	s.Framework = f.framework()
	return s
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'' || s[0] == '`') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// isValueEnd reports whether token i can end an operand, so that a
// following bracket is a property access.
func (f *file) isValueEnd(i int) bool {
	switch f.kind(i) {
	case tkIdent:
		return !keywords[f.text(i)] || f.text(i) == "this"
	case tkString, tkTemplate, tkNumber:
		return true
	case tkPunct:
		return f.text(i) == ")" || f.text(i) == "]"
	}
	return false
}

// memberChain returns the dotted expression ending at identifier i, such
// as "a.b.c" for the c in a.b.c().
func (f *file) memberChain(i int) string {
	start := i
	for f.isMemberName(start) && f.kind(start-2) == tkIdent {
		start -= 2
	}
	var b strings.Builder
	for j := start; j <= i; j++ {
		b.WriteString(f.text(j))
	}
	return b.String()
}

// callAt reports a call whose callee ends at identifier i.
func (f *file) callAt(i int) (CallDeclaration, bool) {
	if f.text(i+1) != "(" || f.match[i+1] < 0 || keywords[f.text(i)] || f.text(i-1) == "function" {
		return CallDeclaration{}, false
	}
	end := f.match[i+1]
	if f.text(end+1) == "{" && !f.isMemberName(i) {
		// method definition
		return CallDeclaration{}, false
	}
	call := CallDeclaration{Name: f.text(i), Values: []string{}, Location: f.span(i, end)}
	for j := i + 2; j < end; j = f.next(j) {
		if k := f.kind(j); (k == tkString || k == tkNumber) && (f.text(j+1) == "," || j+1 == end) {
			call.Values = append(call.Values, unquote(f.text(j)))
		}
	}
	return call, true
}

// jsxAt guesses whether the '<' at i opens a JSX element.
func (f *file) jsxAt(i int) bool {
	if f.kind(i+1) != tkIdent && f.text(i+1) != ">" {
		return false
	}
	if i == 0 {
		return true
	}
	switch f.text(i - 1) {
	case "(", "return", "=", ",", "?", ":", "=>", "&&", "||", "{", "[":
		return f.kind(i-1) == tkPunct || f.text(i-1) == "return"
	}
	return false
}

func (f *file) hasTypes(contentType string) bool {
	if strings.Contains(contentType, "typescript") {
		return true
	}
	for _, c := range f.comments {
		if strings.Contains(c.text, "@flow") {
			return true
		}
	}
	for i := range f.toks {
		if (f.text(i) == "interface" || f.text(i) == "type") && f.statementStart(i) && f.isIdent(i+1) {
			if n := f.text(i + 2); n == "{" || n == "=" || n == "<" {
				return true
			}
		}
	}
	return false
}

// framework detects React, Angular and Vue from imports, requires and a
// few characteristic globals.
func (f *file) framework() string {
	var modules []string
	for _, imp := range f.imports {
		modules = append(modules, imp.source)
	}
	for i := range f.toks {
		if f.text(i) == "require" && f.text(i+1) == "(" && f.kind(i+2) == tkString {
			modules = append(modules, unquote(f.text(i+2)))
		}
	}
	for _, m := range modules {
		switch {
		case m == "react" || strings.HasPrefix(m, "react-dom"):
			return "React"
		case strings.HasPrefix(m, "@angular/") || m == "angular":
			return "Angular"
		case m == "vue":
			return "Vue"
		}
	}
	for i := range f.toks {
		switch {
		case f.text(i) == "React" && f.text(i+1) == ".":
			return "React"
		case f.text(i) == "angular" && f.text(i+1) == "." && f.text(i+2) == "module":
			return "Angular"
		case f.text(i) == "new" && f.text(i+1) == "Vue":
			return "Vue"
		}
	}
	return ""
}

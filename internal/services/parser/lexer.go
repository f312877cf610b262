package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cryguy/taskworker/internal/core"
)

type tokKind int

const (
	tkIdent tokKind = iota // identifiers and keywords
	tkPunct
	tkString
	tkTemplate
	tkNumber
	tkRegex
	tkComment
)

type token struct {
	kind        tokKind
	text        string
	start, end  core.Position
	off, endOff int
	nl          bool // a line break precedes the token
}

func (t token) loc() core.AstLocation {
	return core.AstLocation{Start: t.start, End: t.end}
}

func (t token) is(kind tokKind, text string) bool {
	return t.kind == kind && t.text == text
}

var keywords = map[string]bool{
	"break": true, "case": true, "catch": true, "class": true, "const": true,
	"continue": true, "debugger": true, "default": true, "delete": true, "do": true,
	"else": true, "export": true, "extends": true, "finally": true, "for": true,
	"function": true, "if": true, "import": true, "in": true, "instanceof": true,
	"new": true, "return": true, "super": true, "switch": true, "this": true,
	"throw": true, "try": true, "typeof": true, "var": true, "void": true,
	"while": true, "with": true, "yield": true, "let": true, "static": true,
	"enum": true, "await": true, "null": true, "true": true, "false": true,
}

// regexAfter lists keywords after which a slash starts a regular
// expression rather than a division.
var regexAfter = map[string]bool{
	"return": true, "typeof": true, "instanceof": true, "in": true, "of": true,
	"new": true, "delete": true, "void": true, "throw": true, "case": true,
	"do": true, "else": true, "yield": true, "await": true,
}

var punctuators = []string{
	">>>=", "...", "===", "!==", "**=", "<<=", ">>=", ">>>", "&&=", "||=", "??=",
	"=>", "==", "!=", "<=", ">=", "&&", "||", "??", "?.", "++", "--",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "**", "<<", ">>",
}

// lexer splits JavaScript source into tokens. It never fails: malformed
// input produces best-effort tokens up to the end of the text. Columns
// count bytes.
type lexer struct {
	src       string
	off       int
	line, col int
	nl        bool

	toks     []token
	comments []token
}

func lex(src string) (toks, comments []token) {
	l := &lexer{src: src, line: 1}
	l.run()
	return l.toks, l.comments
}

func (l *lexer) pos() core.Position { return core.Position{Line: l.line, Column: l.col} }

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.off < len(l.src); i++ {
		if l.src[l.off] == '\n' {
			l.line++
			l.col = 0
			l.nl = true
		} else {
			l.col++
		}
		l.off++
	}
}

func (l *lexer) peek(i int) byte {
	if l.off+i < len(l.src) {
		return l.src[l.off+i]
	}
	return 0
}

func (l *lexer) emit(kind tokKind, startOff int, start core.Position, nl bool) {
	t := token{kind: kind, text: l.src[startOff:l.off], start: start, end: l.pos(), off: startOff, endOff: l.off, nl: nl}
	if kind == tkComment {
		l.comments = append(l.comments, t)
		return
	}
	l.toks = append(l.toks, t)
}

func (l *lexer) run() {
	for l.off < len(l.src) {
		c := l.src[l.off]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v' {
			l.advance(1)
			continue
		}
		start, startOff, nl := l.pos(), l.off, l.nl
		l.nl = false

		switch {
		case c == '/' && l.peek(1) == '/':
			for l.off < len(l.src) && l.src[l.off] != '\n' {
				l.advance(1)
			}
			l.emit(tkComment, startOff, start, nl)
			l.nl = nl
		case c == '/' && l.peek(1) == '*':
			end := strings.Index(l.src[l.off+2:], "*/")
			if end < 0 {
				l.advance(len(l.src) - l.off)
			} else {
				l.advance(end + 4)
			}
			sawNL := l.nl
			l.emit(tkComment, startOff, start, nl)
			l.nl = nl || sawNL
		case c == '"' || c == '\'':
			l.quoted(c)
			l.emit(tkString, startOff, start, nl)
		case c == '`':
			l.template()
			l.emit(tkTemplate, startOff, start, nl)
		case c >= '0' && c <= '9', c == '.' && l.peek(1) >= '0' && l.peek(1) <= '9':
			for l.off < len(l.src) && isIdentPart(rune(l.src[l.off])) || l.peek(0) == '.' {
				l.advance(1)
			}
			l.emit(tkNumber, startOff, start, nl)
		case c == '/' && l.regexAllowed():
			l.regex()
			l.emit(tkRegex, startOff, start, nl)
		case isIdentStart(l.rune()):
			for l.off < len(l.src) && isIdentPart(l.rune()) {
				_, size := utf8.DecodeRuneInString(l.src[l.off:])
				l.advance(size)
			}
			l.emit(tkIdent, startOff, start, nl)
		default:
			n := 1
			for _, p := range punctuators {
				if strings.HasPrefix(l.src[l.off:], p) {
					n = len(p)
					break
				}
			}
			if n == 1 && c >= utf8.RuneSelf {
				_, n = utf8.DecodeRuneInString(l.src[l.off:])
			}
			l.advance(n)
			l.emit(tkPunct, startOff, start, nl)
		}
	}
}

func (l *lexer) rune() rune {
	r, _ := utf8.DecodeRuneInString(l.src[l.off:])
	return r
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || r == '#' || r == '\\' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || r == '\u200c' || r == '\u200d'
}

func (l *lexer) regexAllowed() bool {
	if len(l.toks) == 0 {
		return true
	}
	prev := l.toks[len(l.toks)-1]
	switch prev.kind {
	case tkPunct:
		return prev.text != ")" && prev.text != "]" && prev.text != "}"
	case tkIdent:
		return regexAfter[prev.text]
	default:
		return false
	}
}

func (l *lexer) quoted(q byte) {
	l.advance(1)
	for l.off < len(l.src) {
		switch l.src[l.off] {
		case '\\':
			l.advance(2)
		case q:
			l.advance(1)
			return
		case '\n':
			return
		default:
			l.advance(1)
		}
	}
}

func (l *lexer) template() {
	l.advance(1)
	for l.off < len(l.src) {
		switch {
		case l.src[l.off] == '\\':
			l.advance(2)
		case l.src[l.off] == '`':
			l.advance(1)
			return
		case l.src[l.off] == '$' && l.peek(1) == '{':
			l.advance(2)
			l.substitution()
		default:
			l.advance(1)
		}
	}
}

// substitution skips a ${...} expression, including nested strings and
// templates.
func (l *lexer) substitution() {
	depth := 1
	for l.off < len(l.src) {
		switch c := l.src[l.off]; c {
		case '{':
			depth++
			l.advance(1)
		case '}':
			depth--
			l.advance(1)
			if depth == 0 {
				return
			}
		case '"', '\'':
			l.quoted(c)
		case '`':
			l.template()
		default:
			l.advance(1)
		}
	}
}

func (l *lexer) regex() {
	l.advance(1)
	inClass := false
	for l.off < len(l.src) {
		switch c := l.src[l.off]; {
		case c == '\\':
			l.advance(2)
		case c == '[':
			inClass = true
			l.advance(1)
		case c == ']':
			inClass = false
			l.advance(1)
		case c == '/' && !inClass:
			l.advance(1)
			for l.off < len(l.src) && isIdentPart(rune(l.src[l.off])) {
				l.advance(1)
			}
			return
		case c == '\n':
			return
		default:
			l.advance(1)
		}
	}
}

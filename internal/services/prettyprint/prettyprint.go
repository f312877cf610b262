// Package prettyprint implements the pretty-print worker. Minified
// JavaScript is reprinted by esbuild and the result comes with mappings
// that lead from the minified text into the pretty one.
package prettyprint

import (
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/handler"
	"github.com/cryguy/taskworker/internal/services/sourcemap"
)

// WorkerFileName is the url the pretty-print worker is registered under.
const WorkerFileName = "pretty-print-worker.js"

// esbuild indents with two spaces per level.
const printerIndent = 2

// Request is the argument of prettyPrint.
type Request struct {
	URL        string `json:"url"`
	Indent     int    `json:"indent"`
	SourceText string `json:"sourceText"`
}

// Result is the pretty text and its mappings. Each mapping's Generated
// position is in the input text and its Original position in Code, ready
// for the source-map worker's applySourceMap.
type Result struct {
	Code     string         `json:"code"`
	Mappings []core.Mapping `json:"mappings"`
}

// PrettyPrint reformats req.SourceText.
func PrettyPrint(req Request) (*Result, error) {
	if req.Indent <= 0 {
		req.Indent = printerIndent
	}
	out := esbuild.Transform(req.SourceText, esbuild.TransformOptions{
		Loader:     esbuild.LoaderJS,
		Sourcefile: req.URL,
		Sourcemap:  esbuild.SourceMapExternal,
		Charset:    esbuild.CharsetUTF8,
	})
	if len(out.Errors) > 0 {
		e := out.Errors[0]
		if e.Location != nil {
			return nil, core.NewRemoteError("SyntaxError", "%s (%d:%d)", e.Text, e.Location.Line, e.Location.Column)
		}
		return nil, core.NewRemoteError("SyntaxError", "%s", e.Text)
	}

	m, err := sourcemap.Parse(out.Map)
	if err != nil {
		return nil, err
	}
	forward, err := m.Decode()
	if err != nil {
		return nil, err
	}

	code, shift := reindent(string(out.Code), req.Indent)
	mappings := make([]core.Mapping, 0, len(forward))
	for _, mp := range forward {
		if mp.Original == nil {
			continue
		}
		pretty := mp.Generated
		pretty.Column = shift(pretty.Line, pretty.Column)
		mappings = append(mappings, core.Mapping{
			Generated: *mp.Original,
			Original:  &pretty,
			Source:    req.URL,
			Name:      mp.Name,
		})
	}
	return &Result{Code: code, Mappings: mappings}, nil
}

// reindent rewrites the leading indentation of every line from
// printerIndent to indent spaces per level. shift translates a column of
// the original text into the rewritten one.
func reindent(code string, indent int) (string, func(line, col int) int) {
	if indent == printerIndent {
		return code, func(_, col int) int { return col }
	}
	lines := strings.Split(code, "\n")
	lead := make([]int, len(lines))
	delta := make([]int, len(lines))
	for i, line := range lines {
		n := len(line) - len(strings.TrimLeft(line, " "))
		levels, rest := n/printerIndent, n%printerIndent
		lead[i] = n
		delta[i] = levels*indent + rest - n
		lines[i] = strings.Repeat(" ", levels*indent+rest) + line[n:]
	}
	shift := func(line, col int) int {
		i := line - 1
		if i < 0 || i >= len(lines) || col < lead[i] {
			return col
		}
		return col + delta[i]
	}
	return strings.Join(lines, "\n"), shift
}

// NewTable returns the pretty-print worker's method table.
func NewTable() *handler.Table {
	t := handler.NewTable()
	t.MustRegister("prettyPrint", PrettyPrint)
	return t
}

// Main is the pretty-print worker entry point.
func Main(opts ...handler.Option) core.WorkerMain {
	return handler.Main(NewTable(), opts...)
}

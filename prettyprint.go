package taskworker

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/services/prettyprint"
)

// ErrNotJavaScript is returned when a non-JavaScript source is sent to the
// pretty printer.
var ErrNotJavaScript = errors.New("taskworker: can't prettify non-javascript files")

const prettyPrintIndent = 2

// PrettyPrintWorker is the client of the pretty-print worker.
type PrettyPrintWorker struct {
	*Client
}

// NewPrettyPrintWorker creates a pretty-print worker client on h.
func NewPrettyPrintWorker(cfg Config, h core.Host, opts ...ClientOption) *PrettyPrintWorker {
	return &PrettyPrintWorker{NewClient(cfg, h, prettyprint.WorkerFileName, nil, opts...)}
}

// PrettyPrint reformats src. url names the pretty source the returned
// mappings point into.
func (p *PrettyPrintWorker) PrettyPrint(ctx context.Context, src Source, url string) (*PrettyPrintResult, error) {
	if !IsJavaScript(src) {
		return nil, ErrNotJavaScript
	}
	var out PrettyPrintResult
	req := prettyprint.Request{URL: url, Indent: prettyPrintIndent, SourceText: src.Text}
	if err := p.Do(ctx, &out, "prettyPrint", req); err != nil {
		return nil, err
	}
	return &out, nil
}

// IsJavaScript reports whether src is JavaScript by url extension or
// content type.
func IsJavaScript(src Source) bool {
	if strings.Contains(src.ContentType, "javascript") {
		return true
	}
	if src.URL == "" {
		return false
	}
	u, _, _ := strings.Cut(src.URL, "?")
	u, _, _ = strings.Cut(u, "#")
	switch path.Ext(u) {
	case ".js", ".jsm", ".mjs", ".jsx":
		return true
	}
	return false
}

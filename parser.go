package taskworker

import (
	"context"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/services/parser"
)

// ParserWorker is the client of the parser worker.
type ParserWorker struct {
	*Client
}

// NewParserWorker creates a parser worker client on h.
func NewParserWorker(cfg Config, h core.Host, opts ...ClientOption) *ParserWorker {
	return &ParserWorker{NewClient(cfg, h, parser.WorkerFileName, nil, opts...)}
}

// FindOutOfScopeLocations returns the function spans that do not contain
// pos.
func (p *ParserWorker) FindOutOfScopeLocations(ctx context.Context, sourceID string, pos Position) ([]AstLocation, error) {
	var out []AstLocation
	err := p.Do(ctx, &out, "findOutOfScopeLocations", sourceID, pos)
	return out, err
}

// GetNextStep returns where an await or yield resumes, or nil.
func (p *ParserWorker) GetNextStep(ctx context.Context, sourceID string, paused Position) (*SourceLocation, error) {
	var out *SourceLocation
	err := p.Do(ctx, &out, "getNextStep", sourceID, paused)
	return out, err
}

func (p *ParserWorker) ClearASTs(ctx context.Context) error {
	return p.Do(ctx, nil, "clearASTs")
}

// GetScopes returns the scopes enclosing loc, innermost first.
func (p *ParserWorker) GetScopes(ctx context.Context, loc SourceLocation) ([]SourceScope, error) {
	var out []SourceScope
	err := p.Do(ctx, &out, "getScopes", loc)
	return out, err
}

func (p *ParserWorker) ClearScopes(ctx context.Context) error {
	return p.Do(ctx, nil, "clearScopes")
}

func (p *ParserWorker) ClearSymbols(ctx context.Context) error {
	return p.Do(ctx, nil, "clearSymbols")
}

func (p *ParserWorker) GetSymbols(ctx context.Context, sourceID string) (*SymbolDeclarations, error) {
	var out SymbolDeclarations
	if err := p.Do(ctx, &out, "getSymbols", sourceID); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *ParserWorker) HasSource(ctx context.Context, sourceID string) (bool, error) {
	var out bool
	err := p.Do(ctx, &out, "hasSource", sourceID)
	return out, err
}

func (p *ParserWorker) SetSource(ctx context.Context, src Source) error {
	return p.Do(ctx, nil, "setSource", src)
}

func (p *ParserWorker) ClearSources(ctx context.Context) error {
	return p.Do(ctx, nil, "clearSources")
}

// HasSyntaxError returns the syntax error of input, or "" when it parses.
func (p *ParserWorker) HasSyntaxError(ctx context.Context, input string) (string, error) {
	var out any
	if err := p.Do(ctx, &out, "hasSyntaxError", input); err != nil {
		return "", err
	}
	msg, _ := out.(string)
	return msg, nil
}

// MapExpression rewrites a console expression for evaluation in a paused
// frame. mappings may be nil.
func (p *ParserWorker) MapExpression(ctx context.Context, expression string, mappings map[string]*string, bindings []string, mapBindings, mapAwait bool) (*MappedExpression, error) {
	var out MappedExpression
	if err := p.Do(ctx, &out, "mapExpression", expression, mappings, bindings, mapBindings, mapAwait); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetFramework returns the UI framework of a source, or "".
func (p *ParserWorker) GetFramework(ctx context.Context, sourceID string) (string, error) {
	var out string
	err := p.Do(ctx, &out, "getFramework", sourceID)
	return out, err
}

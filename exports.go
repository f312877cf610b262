package taskworker

import (
	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/dispatch"
	"github.com/cryguy/taskworker/internal/services/parser"
	"github.com/cryguy/taskworker/internal/services/prettyprint"
	"github.com/cryguy/taskworker/internal/services/search"
)

// Type aliases re-exporting internal types so callers can use
// taskworker.Source, taskworker.SourceLocation, etc. without importing
// the internal packages.

type Config = core.Config
type WorkerConfig = core.WorkerConfig
type Host = core.Host
type Port = core.Port
type Scope = core.Scope
type WorkerMain = core.WorkerMain
type RemoteError = core.RemoteError
type Call = dispatch.Call

type Source = core.Source
type SourceLocation = core.SourceLocation
type Position = core.Position
type AstLocation = core.AstLocation
type MappedLocation = core.MappedLocation
type Range = core.Range
type LineRange = core.LineRange
type OriginalFrame = core.OriginalFrame
type OriginalText = core.OriginalText
type Mapping = core.Mapping

type SymbolDeclarations = parser.SymbolDeclarations
type SourceScope = parser.SourceScope
type MappedExpression = parser.MappedExpression

type PrettyPrintResult = prettyprint.Result

type Modifiers = search.Modifiers
type Match = search.Match
type SourceMatch = search.SourceMatch
type SearchRequest = search.SearchRequest
type SourceResult = search.SourceResult

// Remote error kinds, matched with errors.Is.
var (
	ErrUnknownMethod = core.ErrUnknownMethod
	ErrUnknownURL    = core.ErrUnknownURL
)

// Int returns a pointer to v, for optional columns.
var Int = core.Int

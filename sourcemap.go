package taskworker

import (
	"context"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/services/sourcemap"
)

// Location queries the debugger issues in bursts are batched per turn.
var sourceMapQueued = []string{
	"getGeneratedRanges",
	"getGeneratedLocation",
	"getAllGeneratedLocations",
	"getOriginalLocation",
}

// SourceMapWorker is the client of the source-map worker.
type SourceMapWorker struct {
	*Client
}

// NewSourceMapWorker creates a source-map worker client on h.
func NewSourceMapWorker(cfg Config, h core.Host, opts ...ClientOption) *SourceMapWorker {
	return &SourceMapWorker{NewClient(cfg, h, sourcemap.WorkerFileName, sourceMapQueued, opts...)}
}

func (s *SourceMapWorker) SetAssetRootURL(ctx context.Context, root string) error {
	return s.Do(ctx, nil, "setAssetRootURL", root)
}

// GetOriginalURLs loads the source map of a generated source and returns
// the urls of its original sources. A source without a map has none.
func (s *SourceMapWorker) GetOriginalURLs(ctx context.Context, generated Source) ([]string, error) {
	var out []string
	err := s.Do(ctx, &out, "getOriginalURLs", generated)
	return out, err
}

func (s *SourceMapWorker) HasOriginalURL(ctx context.Context, url string) (bool, error) {
	var out bool
	err := s.Do(ctx, &out, "hasOriginalURL", url)
	return out, err
}

func (s *SourceMapWorker) GetOriginalRanges(ctx context.Context, sourceID, url string) ([]LineRange, error) {
	var out []LineRange
	err := s.Do(ctx, &out, "getOriginalRanges", sourceID, url)
	return out, err
}

func (s *SourceMapWorker) GetGeneratedRanges(ctx context.Context, loc SourceLocation, original Source) ([]LineRange, error) {
	var out []LineRange
	err := s.Do(ctx, &out, "getGeneratedRanges", loc, original)
	return out, err
}

// GetGeneratedLocation maps an original location to generated code.
func (s *SourceMapWorker) GetGeneratedLocation(ctx context.Context, loc SourceLocation, original Source) (SourceLocation, error) {
	var out SourceLocation
	err := s.Do(ctx, &out, "getGeneratedLocation", loc, original)
	return out, err
}

func (s *SourceMapWorker) GetAllGeneratedLocations(ctx context.Context, loc SourceLocation, original Source) ([]SourceLocation, error) {
	var out []SourceLocation
	err := s.Do(ctx, &out, "getAllGeneratedLocations", loc, original)
	return out, err
}

// GetOriginalLocation maps a generated location to its original source.
// search is "" or one of "GREATEST_LOWER_BOUND" and "LEAST_UPPER_BOUND".
func (s *SourceMapWorker) GetOriginalLocation(ctx context.Context, loc SourceLocation, search string) (SourceLocation, error) {
	var out SourceLocation
	err := s.Do(ctx, &out, "getOriginalLocation", loc, sourcemap.LocationOptions{Search: search})
	return out, err
}

// QueueOriginalLocation adds a getOriginalLocation call to b. Calls queued
// in one batch travel as a single request.
func (s *SourceMapWorker) QueueOriginalLocation(b *Batch, loc SourceLocation, search string) *Call {
	return b.Call("getOriginalLocation", loc, sourcemap.LocationOptions{Search: search})
}

func (s *SourceMapWorker) GetOriginalLocations(ctx context.Context, locs []SourceLocation, search string) ([]SourceLocation, error) {
	var out []SourceLocation
	err := s.Do(ctx, &out, "getOriginalLocations", locs, sourcemap.LocationOptions{Search: search})
	return out, err
}

func (s *SourceMapWorker) GetGeneratedRangesForOriginal(ctx context.Context, sourceID, url string, mergeUnmapped bool) ([]Range, error) {
	var out []Range
	err := s.Do(ctx, &out, "getGeneratedRangesForOriginal", sourceID, url, mergeUnmapped)
	return out, err
}

// GetFileGeneratedRange returns the span of generated code an original
// source maps to, or nil.
func (s *SourceMapWorker) GetFileGeneratedRange(ctx context.Context, original Source) (*Range, error) {
	var out *Range
	err := s.Do(ctx, &out, "getFileGeneratedRange", original)
	return out, err
}

func (s *SourceMapWorker) GetOriginalSourceText(ctx context.Context, original Source) (*OriginalText, error) {
	var out *OriginalText
	err := s.Do(ctx, &out, "getOriginalSourceText", original)
	return out, err
}

// ApplySourceMap installs mappings from a generated source into url, for
// example the output of the pretty printer.
func (s *SourceMapWorker) ApplySourceMap(ctx context.Context, generatedID, url, code string, mappings []Mapping) error {
	return s.Do(ctx, nil, "applySourceMap", generatedID, url, code, mappings)
}

func (s *SourceMapWorker) ClearSourceMaps(ctx context.Context) error {
	return s.Do(ctx, nil, "clearSourceMaps")
}

func (s *SourceMapWorker) HasMappedSource(ctx context.Context, loc SourceLocation) (bool, error) {
	var out bool
	err := s.Do(ctx, &out, "hasMappedSource", loc)
	return out, err
}

func (s *SourceMapWorker) GetOriginalStackFrames(ctx context.Context, loc SourceLocation) ([]OriginalFrame, error) {
	var out []OriginalFrame
	err := s.Do(ctx, &out, "getOriginalStackFrames", loc)
	return out, err
}

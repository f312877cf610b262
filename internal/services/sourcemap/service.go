// Package sourcemap implements the source-map worker: it loads the maps of
// generated sources and translates locations between generated and
// original code.
package sourcemap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/handler"
)

// WorkerFileName is the url the source-map worker is registered under.
const WorkerFileName = "source-map-worker.js"

// LocationOptions tune getOriginalLocation. Search is "LEAST_UPPER_BOUND"
// or "GREATEST_LOWER_BOUND" (the default).
type LocationOptions struct {
	Search string `json:"search,omitempty"`
}

// Service holds the maps known to one worker. Loaded maps are kept in
// memory and persisted to the store.
type Service struct {
	store  *Store
	fetch  Fetcher
	logger *log.Logger

	mu        sync.Mutex
	maps      map[string]*index
	assetRoot string
}

// Option configures a Service.
type Option func(*Service)

// WithFetcher replaces DefaultFetch.
func WithFetcher(f Fetcher) Option {
	return func(s *Service) { s.fetch = f }
}

// WithLogger routes service logs to l.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service backed by store.
func NewService(store *Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		fetch:  DefaultFetch,
		logger: log.Default(),
		maps:   make(map[string]*index),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lookup returns the map of a generated source, from memory or the store.
// A source without a map yields nil.
func (s *Service) lookup(ctx context.Context, generatedID string) (*index, error) {
	s.mu.Lock()
	ix, ok := s.maps[generatedID]
	s.mu.Unlock()
	if ok {
		return ix, nil
	}

	m, url, err := s.store.Load(ctx, generatedID)
	if errors.Is(err, ErrNoMap) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ix, err = newIndex(generatedID, url, m)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.maps[generatedID] = ix
	s.mu.Unlock()
	return ix, nil
}

func (s *Service) install(ctx context.Context, generatedID, url string, m *Map) (*index, error) {
	ix, err := newIndex(generatedID, url, m)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, generatedID, url, m); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.maps[generatedID] = ix
	s.mu.Unlock()
	return ix, nil
}

// SetAssetRootURL records the root url of the worker's own assets.
func (s *Service) SetAssetRootURL(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assetRoot = root
}

// AssetRootURL returns the value set by SetAssetRootURL.
func (s *Service) AssetRootURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assetRoot
}

// GetOriginalURLs loads the map of a generated source and returns the urls
// of its original sources. Sources without a map url yield nil.
func (s *Service) GetOriginalURLs(ctx context.Context, src core.Source) ([]string, error) {
	if src.SourceMapURL == "" {
		return nil, nil
	}
	if ix, err := s.lookup(ctx, src.ID); err != nil {
		return nil, err
	} else if ix != nil {
		return ix.sources, nil
	}

	mapURL := resolveURL(src.URL, src.SourceMapURL)
	data, err := s.fetch(ctx, mapURL)
	if err != nil {
		s.logger.Printf("taskworker: source map %s of %s: %v", mapURL, src.ID, err)
		return nil, fmt.Errorf("loading source map of %s: %w", src.ID, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}

	base := mapURL
	if strings.HasPrefix(mapURL, "data:") {
		base = src.URL
	}
	if m.SourceRoot != "" {
		base = resolveURL(base, strings.TrimRight(m.SourceRoot, "/")+"/")
	}
	for i, u := range m.Sources {
		m.Sources[i] = resolveURL(base, u)
	}
	m.SourceRoot = ""

	ix, err := s.install(ctx, src.ID, src.URL, m)
	if err != nil {
		return nil, err
	}
	return ix.sources, nil
}

// HasOriginalURL reports whether a loaded map lists url.
func (s *Service) HasOriginalURL(ctx context.Context, url string) (bool, error) {
	s.mu.Lock()
	for _, ix := range s.maps {
		if ix.hasSource(url) {
			s.mu.Unlock()
			return true, nil
		}
	}
	s.mu.Unlock()
	return s.store.HasOriginalURL(ctx, url)
}

// GetOriginalRanges lists the mapped column spans of an original source.
func (s *Service) GetOriginalRanges(ctx context.Context, sourceID, url string) ([]core.LineRange, error) {
	if !core.IsOriginalID(sourceID) {
		return []core.LineRange{}, nil
	}
	ix, err := s.lookup(ctx, core.OriginalToGeneratedID(sourceID))
	if err != nil || ix == nil {
		return []core.LineRange{}, err
	}
	out := ix.originalRanges(url)
	if out == nil {
		out = []core.LineRange{}
	}
	return out, nil
}

// GetGeneratedRanges lists the generated spans of an original location.
func (s *Service) GetGeneratedRanges(ctx context.Context, loc core.SourceLocation, original core.Source) ([]core.LineRange, error) {
	out := []core.LineRange{}
	if !core.IsOriginalID(loc.SourceID) {
		return out, nil
	}
	ix, err := s.lookup(ctx, core.OriginalToGeneratedID(loc.SourceID))
	if err != nil || ix == nil {
		return out, err
	}
	for _, e := range ix.allGeneratedFor(original.URL, loc.Line, loc.Col()) {
		out = append(out, core.LineRange{
			Line:        e.Generated.Line,
			ColumnStart: e.Generated.Column,
			ColumnEnd:   ix.lastColumn(e),
		})
	}
	return out, nil
}

// GetGeneratedLocation maps an original location to generated code.
// Generated locations, and locations the map cannot place, are returned
// unchanged.
func (s *Service) GetGeneratedLocation(ctx context.Context, loc core.SourceLocation, original core.Source) (core.SourceLocation, error) {
	if !core.IsOriginalID(loc.SourceID) {
		return loc, nil
	}
	generatedID := core.OriginalToGeneratedID(loc.SourceID)
	ix, err := s.lookup(ctx, generatedID)
	if err != nil || ix == nil {
		return loc, err
	}
	e, ok := ix.generatedFor(original.URL, loc.Line, loc.Col(), LeastUpperBound)
	if !ok {
		e, ok = ix.generatedFor(original.URL, loc.Line, loc.Col(), GreatestLowerBound)
	}
	if !ok {
		return loc, nil
	}
	return core.SourceLocation{
		SourceID: generatedID,
		Line:     e.Generated.Line,
		Column:   core.Int(e.Generated.Column),
	}, nil
}

// GetAllGeneratedLocations returns every generated location of an
// original location.
func (s *Service) GetAllGeneratedLocations(ctx context.Context, loc core.SourceLocation, original core.Source) ([]core.SourceLocation, error) {
	out := []core.SourceLocation{}
	if !core.IsOriginalID(loc.SourceID) {
		return out, nil
	}
	generatedID := core.OriginalToGeneratedID(loc.SourceID)
	ix, err := s.lookup(ctx, generatedID)
	if err != nil || ix == nil {
		return out, err
	}
	for _, e := range ix.allGeneratedFor(original.URL, loc.Line, loc.Col()) {
		out = append(out, core.SourceLocation{
			SourceID: generatedID,
			Line:     e.Generated.Line,
			Column:   core.Int(e.Generated.Column),
		})
	}
	return out, nil
}

// GetOriginalLocation maps a generated location to its original. Locations
// the map does not cover are returned unchanged.
func (s *Service) GetOriginalLocation(ctx context.Context, loc core.SourceLocation, opts LocationOptions) (core.SourceLocation, error) {
	if core.IsOriginalID(loc.SourceID) {
		return loc, nil
	}
	ix, err := s.lookup(ctx, loc.SourceID)
	if err != nil || ix == nil {
		return loc, err
	}
	e, ok := ix.originalFor(loc.Line, loc.Col(), ParseBias(opts.Search))
	if !ok {
		return loc, nil
	}
	return core.SourceLocation{
		SourceID:  core.GeneratedToOriginalID(loc.SourceID, e.Source),
		SourceURL: e.Source,
		Line:      e.Original.Line,
		Column:    core.Int(e.Original.Column),
	}, nil
}

// GetOriginalLocations maps each location with GetOriginalLocation.
func (s *Service) GetOriginalLocations(ctx context.Context, locs []core.SourceLocation, opts LocationOptions) ([]core.SourceLocation, error) {
	out := make([]core.SourceLocation, len(locs))
	for i, loc := range locs {
		mapped, err := s.GetOriginalLocation(ctx, loc, opts)
		if err != nil {
			return nil, err
		}
		out[i] = mapped
	}
	return out, nil
}

// GetGeneratedRangesForOriginal lists the spans of generated code produced
// from the original source url.
func (s *Service) GetGeneratedRangesForOriginal(ctx context.Context, sourceID, url string, mergeUnmapped bool) ([]core.Range, error) {
	ix, err := s.lookup(ctx, core.OriginalToGeneratedID(sourceID))
	if err != nil || ix == nil {
		return []core.Range{}, err
	}
	out := ix.generatedRanges(url, mergeUnmapped)
	if out == nil {
		out = []core.Range{}
	}
	return out, nil
}

// GetFileGeneratedRange returns the generated span covering all code of an
// original source, or nil when nothing maps to it.
func (s *Service) GetFileGeneratedRange(ctx context.Context, original core.Source) (*core.Range, error) {
	ranges, err := s.GetGeneratedRangesForOriginal(ctx, original.ID, original.URL, true)
	if err != nil || len(ranges) == 0 {
		return nil, err
	}
	return &core.Range{Start: ranges[0].Start, End: ranges[len(ranges)-1].End}, nil
}

// GetOriginalSourceText returns the text of an original source, from the
// map's embedded content or else fetched from its url. Only urls listed in
// the map's sources are fetched. Sources with no loaded map yield nil.
func (s *Service) GetOriginalSourceText(ctx context.Context, original core.Source) (*core.OriginalText, error) {
	ix, err := s.lookup(ctx, core.OriginalToGeneratedID(original.ID))
	if err != nil || ix == nil {
		return nil, err
	}
	text, ok := ix.content[original.URL]
	if !ok {
		if !ix.hasSource(original.URL) {
			return nil, fmt.Errorf("%w: %s is not a source of %s", ErrNotInMap, original.URL, ix.generatedID)
		}
		data, err := s.fetch(ctx, original.URL)
		if err != nil {
			return nil, fmt.Errorf("loading original source %s: %w", original.URL, err)
		}
		text = string(data)
	}
	return &core.OriginalText{Text: text, ContentType: contentType(original.URL)}, nil
}

// ApplySourceMap installs a map built from mappings for generatedID. The
// map's only original source is url, with code as its text.
func (s *Service) ApplySourceMap(ctx context.Context, generatedID, url, code string, mappings []core.Mapping) error {
	m := Generate(url, url, mappings)
	m.SetContent(url, code)
	_, err := s.install(ctx, generatedID, "", m)
	return err
}

// ClearSourceMaps forgets every map.
func (s *Service) ClearSourceMaps(ctx context.Context) error {
	s.mu.Lock()
	s.maps = make(map[string]*index)
	s.mu.Unlock()
	return s.store.Clear(ctx)
}

// HasMappedSource reports whether loc is original or maps to an original.
func (s *Service) HasMappedSource(ctx context.Context, loc core.SourceLocation) (bool, error) {
	if core.IsOriginalID(loc.SourceID) {
		return true, nil
	}
	mapped, err := s.GetOriginalLocation(ctx, loc, LocationOptions{})
	if err != nil {
		return false, err
	}
	return mapped.SourceID != loc.SourceID, nil
}

// GetOriginalStackFrames returns the original frame of a generated
// location, named after the mapping's symbol, or nil when unmapped.
func (s *Service) GetOriginalStackFrames(ctx context.Context, loc core.SourceLocation) ([]core.OriginalFrame, error) {
	if core.IsOriginalID(loc.SourceID) {
		return nil, nil
	}
	ix, err := s.lookup(ctx, loc.SourceID)
	if err != nil || ix == nil {
		return nil, err
	}
	e, ok := ix.originalFor(loc.Line, loc.Col(), GreatestLowerBound)
	if !ok {
		return nil, nil
	}
	return []core.OriginalFrame{{
		DisplayName: e.Name,
		Location: core.SourceLocation{
			SourceID:  core.GeneratedToOriginalID(loc.SourceID, e.Source),
			SourceURL: e.Source,
			Line:      e.Original.Line,
			Column:    core.Int(e.Original.Column),
		},
	}}, nil
}

// NewTable returns the method table of a source-map worker backed by s.
func NewTable(s *Service) *handler.Table {
	t := handler.NewTable()
	t.MustRegister("setAssetRootURL", s.SetAssetRootURL)
	t.MustRegister("getOriginalURLs", s.GetOriginalURLs)
	t.MustRegister("hasOriginalURL", s.HasOriginalURL)
	t.MustRegister("getOriginalRanges", s.GetOriginalRanges)
	t.MustRegister("getGeneratedRanges", s.GetGeneratedRanges)
	t.MustRegister("getGeneratedLocation", s.GetGeneratedLocation)
	t.MustRegister("getAllGeneratedLocations", s.GetAllGeneratedLocations)
	t.MustRegister("getOriginalLocation", s.GetOriginalLocation)
	t.MustRegister("getOriginalLocations", s.GetOriginalLocations)
	t.MustRegister("getGeneratedRangesForOriginal", s.GetGeneratedRangesForOriginal)
	t.MustRegister("getFileGeneratedRange", s.GetFileGeneratedRange)
	t.MustRegister("getOriginalSourceText", s.GetOriginalSourceText)
	t.MustRegister("applySourceMap", s.ApplySourceMap)
	t.MustRegister("clearSourceMaps", s.ClearSourceMaps)
	t.MustRegister("hasMappedSource", s.HasMappedSource)
	t.MustRegister("getOriginalStackFrames", s.GetOriginalStackFrames)
	return t
}

// Main returns a worker entry point. Each spawned worker opens its own
// store at dsn and closes it when the worker ends.
func Main(dsn string, opts []Option, hopts ...handler.Option) core.WorkerMain {
	return func(ctx context.Context, scope core.Scope) {
		store, err := OpenStore(dsn)
		if err != nil {
			log.Printf("taskworker: source map worker: %v", err)
			return
		}
		defer store.Close()
		svc := NewService(store, opts...)
		handler.Main(NewTable(svc), hopts...)(ctx, scope)
	}
}

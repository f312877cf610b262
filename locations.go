package taskworker

import (
	"context"
	"errors"
	"fmt"

	"github.com/cryguy/taskworker/internal/core"
)

// ErrUnknownSource is returned when a location names a source the lookup
// does not know.
var ErrUnknownSource = errors.New("taskworker: unknown source")

// SourceLookup finds a source known to the debugger by id.
type SourceLookup func(id string) (Source, bool)

// Source ids: original sources derive their id from the generated source
// and the original url.
var (
	IsOriginalID          = core.IsOriginalID
	IsGeneratedID         = core.IsGeneratedID
	OriginalToGeneratedID = core.OriginalToGeneratedID
	GeneratedToOriginalID = core.GeneratedToOriginalID
)

// GetGeneratedLocation maps loc in the original source src to generated
// code. Generated locations are returned unchanged. A zero column in the
// result is dropped and the generated source's url filled in.
func GetGeneratedLocation(ctx context.Context, lookup SourceLookup, sm *SourceMapWorker, src Source, loc SourceLocation) (SourceLocation, error) {
	if !IsOriginalID(loc.SourceID) {
		return loc, nil
	}
	gen, err := sm.GetGeneratedLocation(ctx, loc, src)
	if err != nil {
		return SourceLocation{}, err
	}
	generated, ok := lookup(gen.SourceID)
	if !ok {
		return SourceLocation{}, fmt.Errorf("%w: could not find generated source %s", ErrUnknownSource, gen.SourceID)
	}
	out := SourceLocation{SourceID: gen.SourceID, Line: gen.Line, Column: gen.Column, SourceURL: generated.URL}
	if out.Column != nil && *out.Column == 0 {
		out.Column = nil
	}
	return out, nil
}

// GetOriginalLocation maps a generated location to its original source.
// Original locations are returned unchanged.
func GetOriginalLocation(ctx context.Context, sm *SourceMapWorker, loc SourceLocation) (SourceLocation, error) {
	if IsOriginalID(loc.SourceID) {
		return loc, nil
	}
	return sm.GetOriginalLocation(ctx, loc, "")
}

// GetMappedLocation pairs loc with its counterpart: for an original
// location the generated one, for a generated location the original.
func GetMappedLocation(ctx context.Context, lookup SourceLookup, sm *SourceMapWorker, loc SourceLocation) (MappedLocation, error) {
	src, ok := lookup(loc.SourceID)
	if !ok {
		return MappedLocation{}, fmt.Errorf("%w: %s", ErrUnknownSource, loc.SourceID)
	}
	if IsOriginalID(loc.SourceID) {
		gen, err := GetGeneratedLocation(ctx, lookup, sm, src, loc)
		if err != nil {
			return MappedLocation{}, err
		}
		return MappedLocation{Location: loc, GeneratedLocation: gen}, nil
	}
	orig, err := sm.GetOriginalLocation(ctx, loc, "")
	if err != nil {
		return MappedLocation{}, err
	}
	return MappedLocation{Location: orig, GeneratedLocation: loc}, nil
}

// MapLocation maps loc to the other side of its source map. Locations in
// unknown sources are returned unchanged.
func MapLocation(ctx context.Context, lookup SourceLookup, sm *SourceMapWorker, loc SourceLocation) (SourceLocation, error) {
	src, ok := lookup(loc.SourceID)
	if !ok {
		return loc, nil
	}
	if IsOriginalID(loc.SourceID) {
		return GetGeneratedLocation(ctx, lookup, sm, src, loc)
	}
	return sm.GetOriginalLocation(ctx, loc, "")
}

// IsOriginalSource reports whether src was reconstructed from a map.
func IsOriginalSource(src *Source) bool {
	return src != nil && IsOriginalID(src.ID)
}

// GetSelectedLocation picks the side of mapped that matches the source
// being viewed. An empty contextID selects the original location.
func GetSelectedLocation(mapped MappedLocation, contextID string) SourceLocation {
	if contextID == "" || IsOriginalID(contextID) {
		return mapped.Location
	}
	return mapped.GeneratedLocation
}

package taskworker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/services/search"
)

// SearchWorker is the client of the search worker.
type SearchWorker struct {
	*Client
}

// NewSearchWorker creates a search worker client on h.
func NewSearchWorker(cfg Config, h core.Host, opts ...ClientOption) *SearchWorker {
	return &SearchWorker{NewClient(cfg, h, search.WorkerFileName, nil, opts...)}
}

// GetMatches returns the matches of query in text.
func (s *SearchWorker) GetMatches(ctx context.Context, query, text string, mods Modifiers) ([]Match, error) {
	var out []Match
	err := s.Do(ctx, &out, "getMatches", query, text, mods)
	return out, err
}

// FindSourceMatches returns the lines of src containing queryText.
func (s *SearchWorker) FindSourceMatches(ctx context.Context, src Source, queryText string) ([]SourceMatch, error) {
	var out []SourceMatch
	err := s.Do(ctx, &out, "findSourceMatches", src, queryText)
	return out, err
}

// SearchSources searches many sources on the streaming handler. fn runs
// for each source's result as it arrives; a non-nil error from fn stops
// reading, though the worker finishes the search.
func (s *SearchWorker) SearchSources(ctx context.Context, req SearchRequest, fn func(SourceResult) error) error {
	st, err := s.Stream("searchSources", req)
	if err != nil {
		return err
	}
	for {
		status, err := st.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch status.Status {
		case core.StatusPending:
			for _, raw := range status.Data {
				var r SourceResult
				if err := json.Unmarshal(raw, &r); err != nil {
					return fmt.Errorf("decoding search result: %w", err)
				}
				if err := fn(r); err != nil {
					return err
				}
			}
		case core.StatusDone:
			return nil
		case core.StatusError:
			return core.ParseRemoteError(status.Error)
		}
	}
}

// Package search aggregates queries across several independent index
// searchers into one result set. It consumes committed state only and
// takes no part in the indexing pipeline's concurrency control.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/andrewmckaskill/Examine/pkg/engine"
)

// Result is the merged outcome of a fan-out search.
type Result struct {
	Hits []engine.Hit
	// Partial reports that at least one searcher failed while others
	// answered; the failing searchers' errors went to the logger.
	Partial bool
}

// Option configures a MultiSearcher.
type Option func(*MultiSearcher)

// WithCache enables an LRU cache of recent results, keyed by the
// normalized request. The caller invalidates it on commit notifications.
func WithCache(size int) Option {
	return func(m *MultiSearcher) {
		cache, err := lru.New[string, Result](size)
		if err == nil {
			m.cache = cache
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *MultiSearcher) {
		m.logger = logger
	}
}

// MultiSearcher fans a query out across N independent searchers and merges
// the results by descending score. It is safe for concurrent use.
type MultiSearcher struct {
	searchers []engine.Searcher
	logger    *slog.Logger

	mu    sync.Mutex
	cache *lru.Cache[string, Result]
}

// NewMultiSearcher creates an aggregator over the given searchers.
func NewMultiSearcher(searchers []engine.Searcher, opts ...Option) *MultiSearcher {
	m := &MultiSearcher{
		searchers: searchers,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Search queries every searcher concurrently and merges the hits. When
// some searchers fail and others succeed the merged result is returned
// with Partial set; an error is returned only when every searcher failed.
func (m *MultiSearcher) Search(ctx context.Context, req engine.SearchRequest) (Result, error) {
	if len(m.searchers) == 0 {
		return Result{}, nil
	}

	key := cacheKey(req)
	if m.cache != nil {
		if cached, ok := m.cache.Get(key); ok {
			return cached, nil
		}
	}

	perIndex := make([][]engine.Hit, len(m.searchers))
	errs := make([]error, len(m.searchers))

	g, gctx := errgroup.WithContext(ctx)
	for idx, s := range m.searchers {
		idx, s := idx, s
		g.Go(func() error {
			hits, err := s.Search(gctx, req)
			if err != nil {
				// One failing index must not sink the whole fan-out;
				// record and let the merge decide.
				errs[idx] = err
				return nil
			}
			perIndex[idx] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var (
		failed int
		merged []engine.Hit
	)
	for idx, err := range errs {
		if err != nil {
			failed++
			m.logger.Warn("searcher failed during fan-out",
				slog.Int("index", idx),
				slog.String("error", err.Error()))
			continue
		}
		merged = append(merged, perIndex[idx]...)
	}
	if failed == len(m.searchers) {
		return Result{}, fmt.Errorf("all %d searchers failed: %w", failed, errs[0])
	}

	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].Score > merged[b].Score
	})
	if req.Limit > 0 && len(merged) > req.Limit {
		merged = merged[:req.Limit]
	}

	result := Result{Hits: merged, Partial: failed > 0}
	if m.cache != nil && !result.Partial {
		m.cache.Add(key, result)
	}
	return result, nil
}

// Fields returns the union of the field lists of all searchers, sorted and
// deduplicated. Failing searchers are skipped.
func (m *MultiSearcher) Fields() ([]string, error) {
	seen := make(map[string]struct{})
	var firstErr error
	for idx, s := range m.searchers {
		fields, err := s.Fields()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			m.logger.Warn("failed to list fields",
				slog.Int("index", idx),
				slog.String("error", err.Error()))
			continue
		}
		for _, f := range fields {
			seen[f] = struct{}{}
		}
	}
	if len(seen) == 0 && firstErr != nil {
		return nil, firstErr
	}

	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

// Count sums the document counts across all searchers.
func (m *MultiSearcher) Count(ctx context.Context, category string) (uint64, error) {
	var total uint64
	for _, s := range m.searchers {
		n, err := s.Count(ctx, category)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// InvalidateCache drops every cached result. Callers hook this to the
// pipeline's commit notification so searches never serve pre-commit state
// from the cache.
func (m *MultiSearcher) InvalidateCache() {
	if m.cache != nil {
		m.cache.Purge()
	}
}

// Close closes every underlying searcher, returning the first failure.
func (m *MultiSearcher) Close() error {
	var firstErr error
	for _, s := range m.searchers {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func cacheKey(req engine.SearchRequest) string {
	return strings.Join([]string{req.Query, req.Category, fmt.Sprint(req.Limit)}, "\x00")
}

package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/quarrysearch/quarry/internal/cite"
	"github.com/quarrysearch/quarry/internal/embed"
	qerrors "github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/store"
	"github.com/quarrysearch/quarry/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// snippetRunes is the display snippet length limit.
const snippetRunes = 200

// Engine runs hybrid queries against the vector and lexical indexes,
// reading chunk data from the registry. It never mutates the index.
type Engine struct {
	vectors  store.VectorIndex
	lexical  store.LexicalIndex
	registry store.Registry
	embedder embed.Embedder
	config   EngineConfig
	logger   *slog.Logger
	metrics  *telemetry.QueryMetrics
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithMetrics sets an optional query metrics collector.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a hybrid search engine. All stores are required.
func NewEngine(
	vectors store.VectorIndex,
	lexical store.LexicalIndex,
	registry store.Registry,
	embedder embed.Embedder,
	config EngineConfig,
	opts ...EngineOption,
) (*Engine, error) {
	if vectors == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrNilDependency)
	}
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}

	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultEngineConfig().DefaultLimit
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = DefaultEngineConfig().MaxLimit
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = DefaultEngineConfig().QueryTimeout
	}
	zero := Weights{}
	if config.Weights == zero {
		config.Weights = DefaultWeights()
	}

	e := &Engine{
		vectors:  vectors,
		lexical:  lexical,
		registry: registry,
		embedder: embedder,
		config:   config,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search runs the full retrieval pipeline: embed the query, oversample
// nearest neighbors, fuse with lexical and recency signals, filter by the
// threshold, dedupe, and rank. Repeating a query against an unchanged
// index returns the same ordering. An empty index yields empty results,
// not an error.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}
	if limit > e.config.MaxLimit {
		limit = e.config.MaxLimit
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.QueryTimeout)
	defer cancel()

	results, err := e.search(ctx, query, limit, opts.Threshold)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, qerrors.QueryTimeoutError(
				fmt.Sprintf("query exceeded %s", e.config.QueryTimeout), err)
		}
		return nil, err
	}

	e.recordMetrics(query, len(results), time.Since(start))
	return results, nil
}

func (e *Engine) search(ctx context.Context, query string, limit int, threshold float64) ([]*Result, error) {
	if e.vectors.Count() == 0 {
		return []*Result{}, nil
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	// Oversample so threshold filtering and dedupe do not starve the
	// final result count.
	k := limit * 3
	if k < 20 {
		k = 20
	}

	vecResults, lexScores, err := e.parallelSearch(ctx, query, queryVec, k)
	if err != nil {
		return nil, err
	}
	if len(vecResults) == 0 {
		return []*Result{}, nil
	}

	ids := make([]string, len(vecResults))
	for i, vr := range vecResults {
		ids[i] = vr.ID
	}
	chunks, err := e.registry.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	chunkByID := make(map[string]*store.ChunkRecord, len(chunks))
	for _, ch := range chunks {
		chunkByID[ch.ID] = ch
	}

	lexNorm := normalizeLexical(lexScores)
	now := time.Now()

	cands := make([]candidate, 0, len(vecResults))
	for _, vr := range vecResults {
		ch, ok := chunkByID[vr.ID]
		if !ok {
			// Orphaned vector; the chunk was deleted. Skip.
			continue
		}

		sim := float64(vr.Score)
		final := Fuse(e.config.Weights, sim, lexNorm[vr.ID], recencyScore(ch.ModTime, now))
		if final < threshold {
			continue
		}

		cands = append(cands, candidate{
			result: Result{
				ChunkID:        ch.ID,
				Content:        ch.Content,
				Source:         ch.Path,
				FinalScore:     final,
				Similarity:     sim,
				DisplaySnippet: snippet(ch.Content),
				StartOffset:    ch.StartOffset,
			},
			docID: ch.DocID,
			start: ch.StartOffset,
			end:   ch.EndOffset,
		})
	}

	sortCandidates(cands)
	cands = dedupe(cands)
	if len(cands) > limit {
		cands = cands[:limit]
	}

	out := make([]*Result, len(cands))
	for i, c := range cands {
		r := c.result
		ch := chunkByID[r.ChunkID]
		r.Citation = cite.Format(cite.Location{
			Path:      ch.Path,
			Page:      ch.Page,
			Heading:   ch.Heading,
			Paragraph: ch.Paragraph,
		})
		out[i] = &r
	}
	return out, nil
}

// parallelSearch runs the vector and lexical legs concurrently. The
// lexical leg degrades gracefully: on failure its boost is simply absent.
func (e *Engine) parallelSearch(ctx context.Context, query string, queryVec []float32, k int) ([]*store.VectorResult, map[string]float64, error) {
	var (
		vecResults []*store.VectorResult
		lexScores  map[string]float64
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		vecResults, err = e.vectors.Search(gctx, queryVec, k)
		return err
	})

	g.Go(func() error {
		lexResults, err := e.lexical.Search(gctx, query, k)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			e.logger.Warn("lexical search failed, continuing without boost", "error", err)
			return nil
		}
		lexScores = make(map[string]float64, len(lexResults))
		for _, lr := range lexResults {
			lexScores[lr.ID] = lr.Score
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vecResults, lexScores, nil
}

func (e *Engine) recordMetrics(query string, resultCount int, latency time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(telemetry.QueryEvent{
		Query:       query,
		ResultCount: resultCount,
		Latency:     latency,
		Timestamp:   time.Now(),
	})
}

// snippet trims content to a short preview, cut at a word boundary.
func snippet(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= snippetRunes {
		return content
	}

	cut := snippetRunes
	for cut > 0 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut == 0 {
		cut = snippetRunes
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}

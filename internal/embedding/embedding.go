// Package embedding implements C4: batched embedding generation with an
// in-memory content-hash-keyed cache and inter-batch rate pacing. Cache
// grounded on the dgraph-io/ristretto dependency promoted from indirect;
// pacing grounded on internal/ratelimit/limiter.go's rate.NewLimiter usage.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/aurorafeed/broadcast-core/internal/jobkind"
)

// Options parameterizes the embedder per §6's EMBEDDING_* env vars.
type Options struct {
	Dim        int
	CacheSize  int64
	BatchSize  int
	BatchDelay time.Duration
	Model      string
}

// Embedder batches embedding requests through a genai client, caching
// results by content hash so repeated chunk text across re-runs never
// re-calls the model.
type Embedder struct {
	client  *genai.Client
	opts    Options
	cache   *ristretto.Cache
	limiter *rate.Limiter
}

func New(client *genai.Client, opts Options) (*Embedder, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Dim <= 0 {
		opts.Dim = 1024
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 10000
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.CacheSize * 10,
		MaxCost:     opts.CacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	// One permit per batch delay interval: pacing between batches, not
	// within a single call, so BatchDelay gates the loop in EmbedMany.
	limiter := rate.NewLimiter(rate.Every(opts.BatchDelay), 1)

	return &Embedder{client: client, opts: opts, cache: cache, limiter: limiter}, nil
}

// Item is one input to embed, identified by content hash for caching.
type Item struct {
	ContentHash string
	Text        string
}

// EmbedMany embeds every item, preserving input order in the returned
// slice. Cache hits never reach the model; misses are batched in groups of
// BatchSize with BatchDelay paced between successive batches.
func (e *Embedder) EmbedMany(ctx context.Context, items []Item) ([][]float32, error) {
	out := make([][]float32, len(items))
	var missIdx []int

	for i, it := range items {
		if v, ok := e.cache.Get(it.ContentHash); ok {
			out[i] = v.([]float32)
		} else {
			missIdx = append(missIdx, i)
		}
	}

	for start := 0; start < len(missIdx); start += e.opts.BatchSize {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding batch pacing: %w", err)
		}
		end := start + e.opts.BatchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := missIdx[start:end]

		vecs, err := e.embedBatch(ctx, items, batch)
		if err != nil {
			return nil, err
		}
		for j, idx := range batch {
			out[idx] = vecs[j]
			e.cache.Set(items[idx].ContentHash, vecs[j], 1)
		}
	}

	return out, nil
}

// EmbedQuery embeds a single retrieval query directly against the model,
// bypassing the content-hash cache entirely: per §4.5, a query's cache key
// would be "query-"+timestamp, i.e. never a repeat key, so caching it would
// only grow the cache without ever producing a hit.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedBatch(ctx, []Item{{Text: text}}, []int{0})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) embedBatch(ctx context.Context, items []Item, batch []int) ([][]float32, error) {
	contents := make([]*genai.Content, len(batch))
	for i, idx := range batch {
		contents[i] = genai.NewContentFromText(items[idx].Text, genai.RoleUser)
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.opts.Model, contents, nil)
	if err != nil {
		return nil, classifyEmbedError(err)
	}
	if len(resp.Embeddings) != len(batch) {
		return nil, jobkind.Semantic(jobkind.CodeEmbeddingDimMismatch,
			fmt.Sprintf("embedding API returned %d vectors for %d inputs", len(resp.Embeddings), len(batch)), nil)
	}

	vecs := make([][]float32, len(batch))
	for i, emb := range resp.Embeddings {
		if len(emb.Values) != e.opts.Dim {
			return nil, jobkind.Semantic(jobkind.CodeEmbeddingDimMismatch,
				fmt.Sprintf("embedding dimension %d != expected %d", len(emb.Values), e.opts.Dim), nil)
		}
		vecs[i] = emb.Values
	}
	return vecs, nil
}

// classifyEmbedError maps the two transient failure shapes the embedding
// API returns into the taxonomy's semantic codes, matching the error
// handling design's RATE_LIMITED/MODEL_LOADING codes.
func classifyEmbedError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"):
		return jobkind.Semantic(jobkind.CodeRateLimited, "embedding API rate limited", err)
	case strings.Contains(msg, "503"):
		return jobkind.Semantic(jobkind.CodeModelLoading, "embedding model still loading", err)
	default:
		return jobkind.Transient("embedding API call failed", err)
	}
}

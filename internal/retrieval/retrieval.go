// Package retrieval implements C5: hybrid vector + lexical retrieval over
// kb_chunks/kb_embeddings with a recency boost for event-sourced chunks.
// Vector search via pgvector/pgvector-go's distance operators; lexical
// search via Postgres full-text search to find candidates, scored client-side
// as a keyword-match fraction; fusion scoring is plain arithmetic, grounded
// on AIWisper's hand-rolled cosineDistance as the pack's own idiom for this
// kind of computation (no vector-math library is warranted for a single
// weighted sum).
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/aurorafeed/broadcast-core/internal/database"
	"github.com/aurorafeed/broadcast-core/internal/jobkind"
	"github.com/aurorafeed/broadcast-core/internal/models"
)

const (
	vectorWeight  = 0.7
	lexicalWeight = 0.3
	maxKeywords   = 10
	minKeywordLen = 4 // drop words of length <= 3
	recencyCap    = 0.3
	recencyWindow = 7 * 24 * time.Hour
)

// Options parameterizes a query per §6's RAG_* env vars.
type Options struct {
	TopK            int
	VectorThreshold float64
	Timeout         time.Duration
}

// Retriever runs hybrid queries against the database directly — this is a
// read path with no domain state of its own, so it wraps *database.DB
// rather than owning a repository struct.
type Retriever struct {
	db   *database.DB
	opts Options
}

func New(db *database.DB, opts Options) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 12
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &Retriever{db: db, opts: opts}
}

// legRow is one row as returned by either the vector or the lexical leg,
// before the two are merged by chunk_id.
type legRow struct {
	chunkID    uuid.UUID
	sourceID   uuid.UUID
	sourceType string
	chunkText  string
	eventDate  *time.Time
	score      float64
}

// Retrieve fuses vector similarity (cosine distance via pgvector's <=>
// operator) and a lexical keyword-match fraction into a single ranked list,
// applying a recency multiplier to event-sourced chunks when requested.
// referenceTime is the clock the recency boost measures event_date against —
// never wall-clock time, so retrieval relevance stays decoupled from when
// the request actually runs.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, queryVector []float32, filters *models.RAGFilters, recencyBoost bool, referenceTime time.Time) ([]models.RAGChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	legLimit := 2 * r.opts.TopK

	vectorRows, err := r.vectorLeg(ctx, queryVector, filters, legLimit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, jobkind.Semantic(jobkind.CodeRAGTimeout, "retrieval query timed out", err)
		}
		return nil, fmt.Errorf("vector leg: %w", err)
	}

	keywords := extractKeywords(queryText)
	lexicalRows, err := r.lexicalLeg(ctx, keywords, filters, legLimit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, jobkind.Semantic(jobkind.CodeRAGTimeout, "retrieval query timed out", err)
		}
		return nil, fmt.Errorf("lexical leg: %w", err)
	}

	merged := unionByChunkID(vectorRows, lexicalRows)

	var out []models.RAGChunk
	for _, m := range merged {
		c := models.RAGChunk{
			ChunkID:      m.chunkID,
			SourceID:     m.sourceID,
			SourceType:   m.sourceType,
			ChunkText:    m.chunkText,
			VectorScore:  m.vectorScore,
			LexicalScore: m.lexicalScore,
		}

		multiplier := 1.0
		if recencyBoost && c.SourceType == models.SourceTypeEvent && m.eventDate != nil {
			c.RecencyScore = recencyScore(referenceTime, *m.eventDate)
			multiplier = 1 + c.RecencyScore
		}
		c.FinalScore = (vectorWeight*c.VectorScore + lexicalWeight*c.LexicalScore) * multiplier
		out = append(out, c)
	}

	sortByFinalScoreDesc(out)
	if len(out) > r.opts.TopK {
		out = out[:r.opts.TopK]
	}
	return out, nil
}

// vectorLeg runs the similarity-threshold search: rows clearing
// VectorThreshold on the <=> cosine distance, ordered nearest-first.
func (r *Retriever) vectorLeg(ctx context.Context, queryVector []float32, filters *models.RAGFilters, limit int) ([]legRow, error) {
	sourceTypeClause := ""
	args := []any{pgvector.NewVector(queryVector), limit}
	if filters != nil && len(filters.SourceTypes) > 0 {
		sourceTypeClause = "AND c.source_type = ANY($3)"
		args = append(args, pq.Array(filters.SourceTypes))
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.source_id, c.source_type, c.chunk_text,
			1 - (e.vector <=> $1) AS vector_score,
			ev.event_date
		FROM kb_chunks c
		JOIN kb_embeddings e ON e.chunk_id = c.id
		LEFT JOIN events ev ON ev.id = c.source_id AND c.source_type = 'event'
		WHERE (1 - (e.vector <=> $1)) >= %f %s
		ORDER BY e.vector <=> $1
		LIMIT $2
	`, r.opts.VectorThreshold, sourceTypeClause)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []legRow
	for rows.Next() {
		var row legRow
		if err := rows.Scan(&row.chunkID, &row.sourceID, &row.sourceType, &row.chunkText, &row.score, &row.eventDate); err != nil {
			return nil, fmt.Errorf("scan vector leg row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// lexicalLeg finds candidates via Postgres full-text search (a conjunctive
// plainto_tsquery match, so a chunk must contain every extracted keyword)
// and scores each client-side as
// matched_keywords/total_keywords per §4.5(c) — ts_rank_cd is an unbounded
// relevance rank, not that fraction.
func (r *Retriever) lexicalLeg(ctx context.Context, keywords []string, filters *models.RAGFilters, limit int) ([]legRow, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	tsQuery := strings.Join(keywords, " ")
	sourceTypeClause := ""
	args := []any{tsQuery, limit}
	if filters != nil && len(filters.SourceTypes) > 0 {
		sourceTypeClause = "AND c.source_type = ANY($3)"
		args = append(args, pq.Array(filters.SourceTypes))
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.source_id, c.source_type, c.chunk_text, ev.event_date
		FROM kb_chunks c
		LEFT JOIN events ev ON ev.id = c.source_id AND c.source_type = 'event'
		WHERE to_tsvector('english', c.chunk_text) @@ plainto_tsquery('english', $1) %s
		LIMIT $2
	`, sourceTypeClause)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []legRow
	for rows.Next() {
		var row legRow
		if err := rows.Scan(&row.chunkID, &row.sourceID, &row.sourceType, &row.chunkText, &row.eventDate); err != nil {
			return nil, fmt.Errorf("scan lexical leg row: %w", err)
		}
		row.score = keywordFraction(row.chunkText, keywords)
		out = append(out, row)
	}
	return out, rows.Err()
}

// extractKeywords implements §4.5(c)'s keyword extraction: lowercase, drop
// words of length <= 3, take up to 10, in first-seen order.
func extractKeywords(queryText string) []string {
	seen := make(map[string]bool)
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(queryText)) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
		})
		if len(w) < minKeywordLen || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

// keywordFraction is matched_keywords/total_keywords: the count of extracted
// keywords literally present (case-insensitively) in chunkText, over the
// total number of keywords.
func keywordFraction(chunkText string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(chunkText)
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}

// mergedChunk accumulates both legs' scores for a chunk_id seen in either.
type mergedChunk struct {
	chunkID      uuid.UUID
	sourceID     uuid.UUID
	sourceType   string
	chunkText    string
	eventDate    *time.Time
	vectorScore  float64
	lexicalScore float64
}

// unionByChunkID merges the two legs by chunk_id per §4.5(b): a chunk
// present in only one leg keeps that leg's score and defaults the other to
// zero, rather than being dropped for failing the other leg's cut.
func unionByChunkID(vectorRows, lexicalRows []legRow) []mergedChunk {
	index := make(map[uuid.UUID]int)
	var merged []mergedChunk

	upsert := func(row legRow, isVector bool) {
		if i, ok := index[row.chunkID]; ok {
			if isVector {
				merged[i].vectorScore = row.score
			} else {
				merged[i].lexicalScore = row.score
			}
			if merged[i].eventDate == nil {
				merged[i].eventDate = row.eventDate
			}
			return
		}
		m := mergedChunk{
			chunkID:    row.chunkID,
			sourceID:   row.sourceID,
			sourceType: row.sourceType,
			chunkText:  row.chunkText,
			eventDate:  row.eventDate,
		}
		if isVector {
			m.vectorScore = row.score
		} else {
			m.lexicalScore = row.score
		}
		index[row.chunkID] = len(merged)
		merged = append(merged, m)
	}

	for _, row := range vectorRows {
		upsert(row, true)
	}
	for _, row := range lexicalRows {
		upsert(row, false)
	}
	return merged
}

// recencyScore implements §4.5(e): a decaying function of |event_date -
// reference_time|, clamped to [0, 0.3] so the multiplier (1 + recencyScore)
// never exceeds 1.3.
func recencyScore(referenceTime, eventDate time.Time) float64 {
	age := referenceTime.Sub(eventDate)
	if age < 0 {
		age = -age
	}
	if age >= recencyWindow {
		return 0
	}
	return recencyCap * (1 - float64(age)/float64(recencyWindow))
}

func sortByFinalScoreDesc(chunks []models.RAGChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].FinalScore > chunks[j].FinalScore
	})
}

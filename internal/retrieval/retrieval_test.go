package retrieval

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aurorafeed/broadcast-core/internal/models"
)

func TestRecencyScoreClampedToCap(t *testing.T) {
	ref := time.Now()
	if got := recencyScore(ref, ref); got != recencyCap {
		t.Errorf("same-instant recency score = %v, want %v", got, recencyCap)
	}
	if got := recencyScore(ref, ref.Add(-8*24*time.Hour)); got != 0 {
		t.Errorf("8-day-old recency score = %v, want 0", got)
	}
	// Symmetric: an event_date in the future of reference_time decays the
	// same way as one in the past.
	if got := recencyScore(ref, ref.Add(8*24*time.Hour)); got != 0 {
		t.Errorf("8-day-future recency score = %v, want 0", got)
	}
	mid := recencyScore(ref, ref.Add(-84*time.Hour)) // half the 7-day window
	if mid <= 0.1 || mid >= 0.2 {
		t.Errorf("half-window recency score = %v, want ~%v", mid, recencyCap/2)
	}
	if mid >= recencyCap {
		t.Errorf("recency score %v must stay below cap %v", mid, recencyCap)
	}
}

func TestSortByFinalScoreDesc(t *testing.T) {
	chunks := []models.RAGChunk{
		{FinalScore: 0.2},
		{FinalScore: 0.9},
		{FinalScore: 0.5},
	}
	sortByFinalScoreDesc(chunks)
	for i := 1; i < len(chunks); i++ {
		if chunks[i].FinalScore > chunks[i-1].FinalScore {
			t.Fatalf("not sorted descending: %v", chunks)
		}
	}
}

func TestExtractKeywords_DropsShortWordsAndCaps(t *testing.T) {
	text := "The Mars Colony celebrated a big parade at the dome today with food and music and dancing and singing and fireworks"
	got := extractKeywords(text)
	if len(got) > maxKeywords {
		t.Fatalf("expected at most %d keywords, got %d: %v", maxKeywords, len(got), got)
	}
	for _, kw := range got {
		if len(kw) < minKeywordLen {
			t.Errorf("keyword %q shorter than minKeywordLen %d", kw, minKeywordLen)
		}
	}
	for _, short := range []string{"the", "a", "at"} {
		for _, kw := range got {
			if kw == short {
				t.Errorf("short word %q should have been dropped", short)
			}
		}
	}
}

func TestKeywordFraction(t *testing.T) {
	keywords := []string{"dome", "parade", "fireworks", "asteroid"}
	text := "The parade wound through the dome as fireworks lit the sky."
	got := keywordFraction(text, keywords)
	want := 3.0 / 4.0
	if got != want {
		t.Errorf("keywordFraction = %v, want %v", got, want)
	}
}

func TestUnionByChunkID_KeepsUnmatchedLegScores(t *testing.T) {
	x := uuid.New()
	y := uuid.New()

	// chunk X: only on the vector leg.
	// chunk Y: only on the lexical leg, with a high lexical score — this is
	// the case an INNER JOIN on the vector threshold would have dropped.
	vectorRows := []legRow{{chunkID: x, score: 0.92}}
	lexicalRows := []legRow{{chunkID: y, score: 0.95}}

	merged := unionByChunkID(vectorRows, lexicalRows)
	if len(merged) != 2 {
		t.Fatalf("expected both chunks to survive the union, got %d", len(merged))
	}

	byID := make(map[uuid.UUID]mergedChunk)
	for _, m := range merged {
		byID[m.chunkID] = m
	}

	mx, ok := byID[x]
	if !ok {
		t.Fatalf("chunk X missing from merge")
	}
	if mx.vectorScore != 0.92 || mx.lexicalScore != 0 {
		t.Errorf("chunk X scores = vector %v lexical %v, want vector 0.92 lexical 0", mx.vectorScore, mx.lexicalScore)
	}

	my, ok := byID[y]
	if !ok {
		t.Fatalf("chunk Y (surfaced only by the lexical leg) missing from merge")
	}
	if my.lexicalScore != 0.95 || my.vectorScore != 0 {
		t.Errorf("chunk Y scores = vector %v lexical %v, want vector 0 lexical 0.95", my.vectorScore, my.lexicalScore)
	}
}

package tone

import "testing"

func TestTargetWordCountKnownSlot(t *testing.T) {
	if got := TargetWordCount("interview"); got != 400 {
		t.Errorf("expected 400, got %d", got)
	}
}

func TestTargetWordCountDefaultsUnknownSlot(t *testing.T) {
	if got := TargetWordCount("unknown_slot"); got != DefaultWordCountTarget {
		t.Errorf("expected default %d, got %d", DefaultWordCountTarget, got)
	}
}

func TestWithinToleranceBounds(t *testing.T) {
	// news target 200, ±20% => [160, 240]
	if !WithinTolerance("news", 160) {
		t.Error("expected 160 to be within tolerance")
	}
	if !WithinTolerance("news", 240) {
		t.Error("expected 240 to be within tolerance")
	}
	if WithinTolerance("news", 159) {
		t.Error("expected 159 to be out of tolerance")
	}
	if WithinTolerance("news", 241) {
		t.Error("expected 241 to be out of tolerance")
	}
}

func TestFindForbiddenAcrossSets(t *testing.T) {
	found := FindForbidden("The wizard cast a magic spell near the wasteland outpost.")
	if len(found) < 2 {
		t.Errorf("expected multiple forbidden terms, got %v", found)
	}
}

func TestFindForbiddenCleanText(t *testing.T) {
	found := FindForbidden("The colony council met today to discuss solar panel output.")
	if len(found) != 0 {
		t.Errorf("expected no forbidden terms, got %v", found)
	}
}

func TestScoreFloorsAtZero(t *testing.T) {
	if got := Score(10, false); got != 0 {
		t.Errorf("expected score floored at 0, got %d", got)
	}
}

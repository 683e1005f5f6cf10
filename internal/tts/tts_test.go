package tts

import "testing"

func TestParseTurnsSingleSpeaker(t *testing.T) {
	turns := ParseTurns("A quiet day on the colony today.")
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].Speaker != "" {
		t.Errorf("expected empty speaker, got %q", turns[0].Speaker)
	}
}

func TestParseTurnsMultiSpeaker(t *testing.T) {
	script := "Nova: Good morning, colony.\nRex: And good morning to you too, Nova."
	turns := ParseTurns(script)
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Speaker != "Nova" || turns[1].Speaker != "Rex" {
		t.Errorf("unexpected speakers: %+v", turns)
	}
}

func TestParseAudioMimeType(t *testing.T) {
	params := parseAudioMimeType("audio/L24;rate=48000")
	if params.bitsPerSample != 24 || params.rate != 48000 {
		t.Errorf("unexpected params: %+v", params)
	}
}

func TestParseAudioMimeTypeDefaults(t *testing.T) {
	params := parseAudioMimeType("")
	if params.bitsPerSample != 16 || params.rate != 24000 {
		t.Errorf("expected defaults, got %+v", params)
	}
}

func TestConcatPCMInsertsSilenceGap(t *testing.T) {
	a := []byte{1, 2, 3, 4}
	b := []byte{5, 6, 7, 8}
	out := concatPCM([][]byte{a, b}, 8000, 16, 100)
	gapBytes := 8000 * 100 / 1000 * 2
	if len(out) != len(a)+len(b)+gapBytes {
		t.Fatalf("expected length %d, got %d", len(a)+len(b)+gapBytes, len(out))
	}
}

func TestConcatPCMSingleClipUnchanged(t *testing.T) {
	a := []byte{9, 9, 9}
	out := concatPCM([][]byte{a}, 8000, 16, 100)
	if len(out) != len(a) {
		t.Fatalf("expected single clip passthrough, got len %d", len(out))
	}
}

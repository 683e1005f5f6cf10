package normalize

import (
	"encoding/json"
	"testing"
)

func TestParseFloat(t *testing.T) {
	f, err := parseFloat("-16.32")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != -16.32 {
		t.Errorf("expected -16.32, got %v", f)
	}
}

func TestLoudnormJSONRegexExtractsBlock(t *testing.T) {
	stderr := "some ffmpeg noise\n[Parsed_loudnorm_0 @ 0x0]\n{\n\"input_i\" : \"-23.00\",\n\"input_tp\" : \"-5.00\"\n}\nmore noise"
	match := loudnormJSONRe.FindString(stderr)
	if match == "" {
		t.Fatal("expected a JSON block match")
	}
	var m measurement
	if err := json.Unmarshal([]byte(match), &m); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if m.InputI != "-23.00" {
		t.Errorf("expected input_i -23.00, got %q", m.InputI)
	}
}

func TestDurationRegexParsesHMS(t *testing.T) {
	out := "Input #0, wav, from 'x.wav':\n  Duration: 00:02:15.50, bitrate: 705 kb/s"
	m := durationRe.FindStringSubmatch(out)
	if m == nil {
		t.Fatal("expected duration match")
	}
	if m[1] != "00" || m[2] != "02" || m[3] != "15.50" {
		t.Errorf("unexpected capture groups: %v", m)
	}
}

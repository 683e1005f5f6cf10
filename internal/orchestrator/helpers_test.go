package orchestrator

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/google/uuid"
)

func TestContentHashHex_Deterministic(t *testing.T) {
	a := contentHashHex([]byte("same bytes"))
	b := contentHashHex([]byte("same bytes"))
	if a != b {
		t.Errorf("contentHashHex not deterministic: %s != %s", a, b)
	}
	c := contentHashHex([]byte("different bytes"))
	if a == c {
		t.Errorf("contentHashHex collided for distinct inputs")
	}
	if len(a) != 64 {
		t.Errorf("contentHashHex length = %d, want 64 (sha256 hex)", len(a))
	}
}

func TestNewReader_RoundTrips(t *testing.T) {
	data := []byte("payload bytes")
	r := newReader(data)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("read back %q, want %q", got, data)
	}
}

func TestMarshalFinalizePayload(t *testing.T) {
	segmentID := uuid.New()
	assetID := uuid.New()
	data, err := marshalFinalizePayload(segmentID, assetID, "music")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded AudioFinalizePayload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.SegmentID != segmentID || decoded.AssetID != assetID || decoded.ContentType != "music" {
		t.Errorf("decoded payload = %+v, want segment=%s asset=%s content_type=music", decoded, segmentID, assetID)
	}
}

package orchestrator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"

	"github.com/google/uuid"
)

func newReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}

func contentHashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AudioFinalizePayload is the audio_finalize job's payload.
type AudioFinalizePayload struct {
	SegmentID   uuid.UUID `json:"segment_id"`
	AssetID     uuid.UUID `json:"asset_id"`
	ContentType string    `json:"content_type"`
}

func marshalFinalizePayload(segmentID, assetID uuid.UUID, contentType string) ([]byte, error) {
	return json.Marshal(AudioFinalizePayload{SegmentID: segmentID, AssetID: assetID, ContentType: contentType})
}

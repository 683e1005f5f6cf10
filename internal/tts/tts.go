// Package tts implements text-to-speech for scripts, streaming raw PCM from
// the unified genai SDK and converting it to WAV. Adapted from
// internal/llm/audio.go's generateAudioUnified/convertToWAV/
// parseAudioMimeType; extended with multi-turn concatenation for
// dialogue scripts (§4.7).
package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"google.golang.org/genai"
)

// Options parameterizes the synthesizer per §6's TTS_* env vars.
type Options struct {
	Model string
	Voice string
}

// Turn is one line of a (possibly multi-speaker) script.
type Turn struct {
	Speaker string // empty for single-speaker scripts
	Text    string
}

// Audio is the synthesized result: WAV bytes ready for blob storage.
type Audio struct {
	Data     []byte
	MimeType string
	Duration float64
}

type Synthesizer struct {
	client *genai.Client
	opts   Options
}

func New(client *genai.Client, opts Options) *Synthesizer {
	if opts.Voice == "" {
		opts.Voice = "Zephyr"
	}
	return &Synthesizer{client: client, opts: opts}
}

// turnRe splits a multi-speaker script into "Speaker: line" turns.
var turnRe = regexp.MustCompile(`(?m)^([A-Za-z][\w -]{0,40}):\s*(.+)$`)

// ParseTurns splits scriptMD into turns. A script with no "Speaker:"
// prefixes is treated as a single unattributed turn.
func ParseTurns(scriptMD string) []Turn {
	matches := turnRe.FindAllStringSubmatch(scriptMD, -1)
	if len(matches) == 0 {
		return []Turn{{Text: strings.TrimSpace(scriptMD)}}
	}
	turns := make([]Turn, 0, len(matches))
	for _, m := range matches {
		turns = append(turns, Turn{Speaker: strings.TrimSpace(m[1]), Text: strings.TrimSpace(m[2])})
	}
	return turns
}

// Synthesize generates audio for a script. Multi-turn scripts are
// synthesized turn by turn and concatenated with a short silence gap
// between speakers.
func (s *Synthesizer) Synthesize(ctx context.Context, scriptMD string, toneHint string) (*Audio, error) {
	turns := ParseTurns(scriptMD)

	var clips [][]byte
	var sampleRate, bitsPerSample int
	for _, turn := range turns {
		pcm, mime, err := s.synthesizeTurn(ctx, turn, toneHint)
		if err != nil {
			return nil, fmt.Errorf("synthesize turn for %q: %w", turn.Speaker, err)
		}
		params := parseAudioMimeType(mime)
		sampleRate, bitsPerSample = params.rate, params.bitsPerSample
		clips = append(clips, pcm)
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("no turns to synthesize")
	}

	pcm := concatPCM(clips, sampleRate, bitsPerSample, 800)
	wav := pcmToWAV(pcm, sampleRate, bitsPerSample)

	words := len(strings.Fields(scriptMD))
	duration := float64(words) / 150.0 * 60.0

	return &Audio{Data: wav, MimeType: "audio/wav", Duration: duration}, nil
}

func (s *Synthesizer) synthesizeTurn(ctx context.Context, turn Turn, toneHint string) ([]byte, string, error) {
	promptText := turn.Text
	if toneHint != "" {
		promptText = "[tone: " + toneHint + "] " + promptText
	}

	contents := []*genai.Content{genai.NewContentFromText(promptText, genai.RoleUser)}
	temp := float32(1.0)
	config := &genai.GenerateContentConfig{
		Temperature:        &temp,
		ResponseModalities: []string{"audio"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: s.opts.Voice},
			},
		},
	}

	var buf bytes.Buffer
	var mime string
	for resp, err := range s.client.Models.GenerateContentStream(ctx, s.opts.Model, contents, config) {
		if err != nil {
			return nil, "", fmt.Errorf("TTS stream error: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				buf.Write(part.InlineData.Data)
				if part.InlineData.MIMEType != "" {
					mime = part.InlineData.MIMEType
				}
			}
		}
	}
	if buf.Len() == 0 {
		return nil, "", fmt.Errorf("TTS returned no audio data")
	}
	if mime == "" {
		mime = "audio/L16;rate=24000"
	}
	return buf.Bytes(), mime, nil
}

type audioParams struct {
	bitsPerSample int
	rate          int
}

// parseAudioMimeType parses bits-per-sample and rate from a MIME string
// like "audio/L16;rate=24000". Verbatim from internal/llm/audio.go.
func parseAudioMimeType(mimeType string) audioParams {
	params := audioParams{bitsPerSample: 16, rate: 24000}

	parts := strings.Split(mimeType, ";")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "rate=") {
			if rate, err := strconv.Atoi(strings.Split(part, "=")[1]); err == nil {
				params.rate = rate
			}
		} else if strings.HasPrefix(part, "audio/L") {
			re := regexp.MustCompile(`audio/L(\d+)`)
			if matches := re.FindStringSubmatch(part); len(matches) > 1 {
				if bits, err := strconv.Atoi(matches[1]); err == nil {
					params.bitsPerSample = bits
				}
			}
		}
	}
	return params
}

// concatPCM joins raw PCM clips with a silenceMS gap of zero-samples
// between them, so multi-speaker dialogue doesn't run turns together.
func concatPCM(clips [][]byte, sampleRate, bitsPerSample, silenceMS int) []byte {
	if len(clips) == 1 {
		return clips[0]
	}
	bytesPerSample := bitsPerSample / 8
	gapSamples := sampleRate * silenceMS / 1000
	gap := make([]byte, gapSamples*bytesPerSample)

	var out bytes.Buffer
	for i, clip := range clips {
		out.Write(clip)
		if i < len(clips)-1 {
			out.Write(gap)
		}
	}
	return out.Bytes()
}

// pcmToWAV wraps raw PCM in a 44-byte RIFF/WAVE header. Verbatim from
// internal/llm/audio.go's convertToWAV, generalized to take rate/bits
// directly instead of re-parsing a MIME type.
func pcmToWAV(pcm []byte, sampleRate, bitsPerSample int) []byte {
	numChannels := 1
	dataSize := len(pcm)
	bytesPerSample := bitsPerSample / 8
	blockAlign := numChannels * bytesPerSample
	byteRate := sampleRate * blockAlign
	chunkSize := 36 + dataSize

	header := new(bytes.Buffer)
	binary.Write(header, binary.LittleEndian, []byte("RIFF"))
	binary.Write(header, binary.LittleEndian, uint32(chunkSize))
	binary.Write(header, binary.LittleEndian, []byte("WAVE"))
	binary.Write(header, binary.LittleEndian, []byte("fmt "))
	binary.Write(header, binary.LittleEndian, uint32(16))
	binary.Write(header, binary.LittleEndian, uint16(1))
	binary.Write(header, binary.LittleEndian, uint16(numChannels))
	binary.Write(header, binary.LittleEndian, uint32(sampleRate))
	binary.Write(header, binary.LittleEndian, uint32(byteRate))
	binary.Write(header, binary.LittleEndian, uint16(blockAlign))
	binary.Write(header, binary.LittleEndian, uint16(bitsPerSample))
	binary.Write(header, binary.LittleEndian, []byte("data"))
	binary.Write(header, binary.LittleEndian, uint32(dataSize))

	return append(header.Bytes(), pcm...)
}

// Package scriptgen implements C6: narration script generation grounded on
// retrieved knowledge-base chunks, with citation extraction and tone
// validation. Two-tier model call (primary/fallback) adapted from
// internal/llm/client.go's SegmentText tier loop; citation-bracket
// extraction adapted from internal/markup/markup.go's regexp idiom.
package scriptgen

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"google.golang.org/genai"

	"github.com/aurorafeed/broadcast-core/internal/jobkind"
	"github.com/aurorafeed/broadcast-core/internal/models"
	"github.com/aurorafeed/broadcast-core/internal/tone"
)

// citationRe matches [SOURCE: type:id] brackets the model is instructed to
// emit inline, e.g. [SOURCE: universe_doc:3fa85f64-...].
var citationRe = regexp.MustCompile(`\[SOURCE:\s*([a-z_]+):([a-zA-Z0-9-]+)\]`)

// segmentMarkerRe flags a leaked "segment N:" screenplay-style marker.
var segmentMarkerRe = regexp.MustCompile(`(?i)segment\s+\d+\s*:`)

const (
	maxRetries  = 3
	backoffBase = 2 * time.Second

	defaultTemperature = 0.7
	defaultMaxTokens   = 2000
)

// Request is everything needed to generate one segment's script.
type Request struct {
	SlotType         string
	Topic            string
	Chunks           []models.RAGChunk
	DJName           string
	DJBio            string
	DJTraits         []string
	ReferenceTime    time.Time
	FutureYear       int
	ProgramName      string
	PrevSegmentNote  string
	MultiSpeaker     bool
	ConversationSpec *ConversationSpec
}

// ConversationSpec describes a multi-speaker generateConversation request.
type ConversationSpec struct {
	Format       string // interview, panel, debate, dialogue
	Host         string
	Participants []string
	Duration     time.Duration
	Tone         string
}

// Result is the generated, validated script.
type Result struct {
	ScriptMD  string
	Citations []models.Citation
	WordCount int
	Turns     []Turn // populated only for multi-speaker results
}

// Turn is one speaker's line in a multi-speaker result.
type Turn struct {
	Speaker string
	Text    string
}

// Generator wraps a primary structured genai model and a langchaingo
// fallback, matching the teacher's two-tier tier loop.
type Generator struct {
	genaiClient   *genai.Client
	primaryModel  string
	fallbackModel string
	fallbackLLM   llms.Model
}

func New(genaiClient *genai.Client, primaryModel, fallbackModel string, fallbackLLM llms.Model) *Generator {
	return &Generator{
		genaiClient:   genaiClient,
		primaryModel:  primaryModel,
		fallbackModel: fallbackModel,
		fallbackLLM:   fallbackLLM,
	}
}

// Generate produces and validates a single-speaker script for req.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	systemPrompt := buildSystemPrompt(req)
	userPrompt := buildUserPrompt(req)

	raw, err := g.callWithRetry(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	script, citations := extractCitations(raw, req.Chunks)
	result := &Result{ScriptMD: script, Citations: citations, WordCount: wordCount(script)}

	if err := g.validate(req.SlotType, result); err != nil {
		return nil, err
	}
	return result, nil
}

// GenerateConversation produces a multi-speaker dialogue script per §4.6's
// generateConversation variant.
func (g *Generator) GenerateConversation(ctx context.Context, req Request) (*Result, error) {
	if req.ConversationSpec == nil {
		return nil, jobkind.Validation("multi-speaker request missing ConversationSpec", nil)
	}

	systemPrompt := buildConversationSystemPrompt(req)
	userPrompt := buildUserPrompt(req)

	raw, err := g.callWithRetry(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	script, citations := extractCitations(raw, req.Chunks)
	turns := parseTurns(script)
	result := &Result{ScriptMD: script, Citations: citations, WordCount: wordCount(script), Turns: turns}

	if err := g.validateConversation(req, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (g *Generator) callWithRetry(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var raw string
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		raw, err = g.callModel(ctx, systemPrompt, userPrompt)
		if err == nil {
			return raw, nil
		}
		if !isRetryableModelErr(err) || attempt == maxRetries {
			return "", jobkind.Transient("script generation model call failed", err)
		}
		delay := backoffBase * time.Duration(uint64(1)<<uint(attempt-1))
		log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("script generation retrying")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", jobkind.Transient("script generation exhausted retries", err)
}

func (g *Generator) callModel(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.genaiClient != nil && g.primaryModel != "" {
		temp := float32(defaultTemperature)
		maxTokens := int32(defaultMaxTokens)
		resp, err := g.genaiClient.Models.GenerateContent(ctx, g.primaryModel, []*genai.Content{
			genai.NewContentFromText(userPrompt, genai.RoleUser),
		}, &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			Temperature:       &temp,
			MaxOutputTokens:   maxTokens,
		})
		if err == nil {
			if text := resp.Text(); text != "" {
				return text, nil
			}
		} else {
			log.Warn().Err(err).Str("model", g.primaryModel).Msg("primary script model failed, trying fallback")
		}
	}

	if g.fallbackLLM != nil {
		messages := []llms.MessageContent{
			{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextContent{Text: systemPrompt}}},
			{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextContent{Text: userPrompt}}},
		}
		resp, err := g.fallbackLLM.GenerateContent(ctx, messages,
			llms.WithTemperature(defaultTemperature), llms.WithMaxTokens(defaultMaxTokens))
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
			return "", fmt.Errorf("fallback model returned empty response")
		}
		return resp.Choices[0].Content, nil
	}

	return "", fmt.Errorf("no script model available")
}

func isRetryableModelErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "529")
}

// buildSystemPrompt assembles the single-speaker instruction contract:
// character role, personality traits, in-universe time, tone balance,
// forbidden terms, and target word count per slot type.
func buildSystemPrompt(req Request) string {
	target := tone.TargetWordCount(req.SlotType)

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a radio station DJ.\n", orDefault(req.DJName, "the station narrator"))
	if req.DJBio != "" {
		fmt.Fprintf(&b, "Bio: %s\n", req.DJBio)
	}
	if len(req.DJTraits) > 0 {
		fmt.Fprintf(&b, "Personality traits: %s\n", strings.Join(req.DJTraits, ", "))
	}
	if req.FutureYear > 0 {
		fmt.Fprintf(&b, "The current in-universe year is %d.\n", req.FutureYear)
	}
	fmt.Fprintf(&b, "\nTask: %s\n", styleGuidanceFor(req.SlotType))
	b.WriteString(`
Rules:
1. Maintain a tone balance of roughly 60% primary persona, 30% secondary persona, 10% neutral delivery.
2. Ground every factual claim in the provided sources. After each claim, cite its source inline as [SOURCE: type:id].
3. Never invent facts, quotes, or events not present in the sources.
`)
	fmt.Fprintf(&b, "4. Target approximately %d words.\n", target)
	b.WriteString(`5. Write as a single narrator. Do not include scene directions, titles, or segment labels.
6. Avoid dystopian, fantasy, or anachronistic framing that breaks the station's in-universe setting.

Response format: plain narration text with inline [SOURCE: type:id] citations. No markdown headers, no explanations.`)
	return b.String()
}

func buildConversationSystemPrompt(req Request) string {
	spec := req.ConversationSpec
	var b strings.Builder
	fmt.Fprintf(&b, "You are writing a radio %s hosted by %s.\n", spec.Format, orDefault(spec.Host, "the station host"))
	if len(spec.Participants) > 0 {
		fmt.Fprintf(&b, "Participants: %s.\n", strings.Join(spec.Participants, ", "))
	}
	fmt.Fprintf(&b, "\n%s\n", conversationFormatFor(spec.Format))
	if spec.Tone != "" {
		fmt.Fprintf(&b, "Overall tone: %s.\n", spec.Tone)
	}
	if spec.Duration > 0 {
		fmt.Fprintf(&b, "Target runtime: approximately %s.\n", spec.Duration.Round(time.Second))
	}
	b.WriteString(`
Rules:
1. Ground every factual claim in the provided sources. After each claim, cite its source inline as [SOURCE: type:id].
2. Never invent facts, quotes, or events not present in the sources.
3. Format every line as "SPEAKER_NAME: utterance", with the speaker label in all caps followed by a colon.
4. Produce at least 4 turns, with every listed participant and the host speaking at least once.

Response format: plain dialogue lines only, no stage directions, no markdown.`)
	return b.String()
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	if req.PrevSegmentNote != "" {
		fmt.Fprintf(&b, "Previous segment recap: %s\n\n", req.PrevSegmentNote)
	}
	fmt.Fprintf(&b, "Topic: %s\n\nSources:\n", req.Topic)
	for _, c := range req.Chunks {
		fmt.Fprintf(&b, "[%s:%s] %s\n\n", c.SourceType, c.SourceID, c.ChunkText)
	}
	return b.String()
}

// extractCitations strips [SOURCE: type:id] brackets from raw, resolving
// each reference against chunks (exact "type:id" match, falling back to a
// bare source_id match) and returning the cleaned script plus citations,
// deduplicated by resolved chunk ID. Unresolved references are skipped.
func extractCitations(raw string, chunks []models.RAGChunk) (string, []models.Citation) {
	bySourceKey := make(map[string]models.RAGChunk, len(chunks))
	bySourceID := make(map[string]models.RAGChunk, len(chunks))
	for _, c := range chunks {
		bySourceKey[c.SourceType+":"+c.SourceID.String()] = c
		bySourceID[c.SourceID.String()] = c
	}

	seen := make(map[string]bool)
	var citations []models.Citation
	for _, m := range citationRe.FindAllStringSubmatch(raw, -1) {
		ref := m[1] + ":" + m[2]
		chunk, ok := bySourceKey[ref]
		if !ok {
			chunk, ok = bySourceID[m[2]]
		}
		if !ok {
			log.Warn().Str("ref", ref).Msg("script cited an unresolvable source reference")
			continue
		}
		key := chunk.ChunkID.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		citations = append(citations, models.Citation{
			DocID:          chunk.SourceType + ":" + chunk.SourceID.String(),
			ChunkID:        chunk.ChunkID,
			RelevanceScore: chunk.FinalScore,
		})
	}
	cleaned := citationRe.ReplaceAllString(raw, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return strings.TrimSpace(cleaned), citations
}

// parseTurns splits a multi-speaker script into SPEAKER: utterance turns.
var turnRe = regexp.MustCompile(`(?m)^([A-Z][A-Z0-9_ ]{0,40}):\s*(.+)$`)

func parseTurns(script string) []Turn {
	matches := turnRe.FindAllStringSubmatch(script, -1)
	turns := make([]Turn, 0, len(matches))
	for _, m := range matches {
		turns = append(turns, Turn{Speaker: strings.TrimSpace(m[1]), Text: strings.TrimSpace(m[2])})
	}
	return turns
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// validate applies the §4.6 single-speaker validation gate: grounding,
// structural markers, and ±20% word count tolerance.
func (g *Generator) validate(slotType string, result *Result) error {
	if len(result.Citations) == 0 {
		return jobkind.Semantic(jobkind.CodeScriptUngrounded, "script carries no citations", nil)
	}
	if marker := findStructuralMarker(result.ScriptMD); marker != "" {
		return jobkind.Semantic(jobkind.CodeScriptInvalid, fmt.Sprintf("script contains forbidden structural marker %q", marker), nil)
	}
	if !tone.WithinTolerance(slotType, result.WordCount) {
		return jobkind.Semantic(jobkind.CodeScriptInvalid,
			fmt.Sprintf("script word count %d outside ±20%% of target %d", result.WordCount, tone.TargetWordCount(slotType)), nil)
	}
	return nil
}

// validateConversation applies the §4.6 multi-speaker quality checks.
func (g *Generator) validateConversation(req Request, result *Result) error {
	if len(result.Citations) == 0 {
		return jobkind.Semantic(jobkind.CodeScriptUngrounded, "conversation script carries no citations", nil)
	}
	if len(result.Turns) < 4 {
		return jobkind.Semantic(jobkind.CodeScriptInvalid, fmt.Sprintf("conversation has %d turns, need >= 4", len(result.Turns)), nil)
	}

	speakers := make(map[string]int)
	var short, long int
	for _, turn := range result.Turns {
		speakers[turn.Speaker]++
		n := len(turn.Text)
		if n < 20 {
			short++
		}
		if n > 500 {
			long++
		}
	}
	if len(speakers) < 2 {
		return jobkind.Semantic(jobkind.CodeScriptInvalid, "conversation has fewer than 2 distinct speakers", nil)
	}
	if float64(short)/float64(len(result.Turns)) >= 0.3 {
		return jobkind.Semantic(jobkind.CodeScriptInvalid, "too many turns shorter than 20 characters", nil)
	}
	if float64(long)/float64(len(result.Turns)) >= 0.2 {
		return jobkind.Semantic(jobkind.CodeScriptInvalid, "too many turns longer than 500 characters", nil)
	}

	minCount, maxCount := -1, 0
	for _, n := range speakers {
		if minCount == -1 || n < minCount {
			minCount = n
		}
		if n > maxCount {
			maxCount = n
		}
	}
	if minCount > 0 && maxCount > 3*minCount {
		return jobkind.Semantic(jobkind.CodeScriptInvalid, "speaker participation too imbalanced", nil)
	}

	return nil
}

func findStructuralMarker(script string) string {
	lower := strings.ToLower(script)
	for _, marker := range structuralForbiddenMarkers {
		if strings.Contains(lower, marker) {
			return marker
		}
	}
	if loc := segmentMarkerRe.FindString(script); loc != "" {
		return loc
	}
	return ""
}

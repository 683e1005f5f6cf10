package scriptgen

import (
	"testing"

	"github.com/google/uuid"

	"github.com/aurorafeed/broadcast-core/internal/models"
)

func TestExtractCitationsDedupesAndStrips(t *testing.T) {
	chunkID := uuid.New()
	sourceID := uuid.New()
	eventID := uuid.New()
	chunks := []models.RAGChunk{
		{ChunkID: chunkID, SourceID: sourceID, SourceType: "universe_doc"},
		{ChunkID: uuid.New(), SourceID: eventID, SourceType: "event"},
	}

	raw := "Mars Colony marked its anniversary today [SOURCE: universe_doc:" + sourceID.String() + "]. " +
		"Residents gathered downtown [SOURCE: universe_doc:" + sourceID.String() + "] to celebrate " +
		"[SOURCE: event:" + eventID.String() + "]."

	script, citations := extractCitations(raw, chunks)
	if len(citations) != 2 {
		t.Fatalf("expected 2 deduplicated citations, got %d", len(citations))
	}
	if containsBracket(script) {
		t.Errorf("expected citation brackets stripped, got %q", script)
	}
}

func TestExtractCitationsSkipsUnresolvable(t *testing.T) {
	raw := "An update from the colony today [SOURCE: universe_doc:" + uuid.New().String() + "]."
	script, citations := extractCitations(raw, nil)
	if len(citations) != 0 {
		t.Fatalf("expected 0 citations for unresolvable reference, got %d", len(citations))
	}
	if containsBracket(script) {
		t.Errorf("expected brackets stripped even when unresolved, got %q", script)
	}
}

func TestValidateRejectsUngroundedScript(t *testing.T) {
	g := &Generator{}
	result := &Result{ScriptMD: "A fine day on the colony.", WordCount: 6}
	if err := g.validate("news", result); err == nil {
		t.Fatal("expected error for script with no citations")
	}
}

func TestValidateRejectsStructuralMarker(t *testing.T) {
	g := &Generator{}
	result := &Result{
		ScriptMD:  "[scene: colony square] The council met today downtown for a long while to talk.",
		WordCount: 200,
		Citations: []models.Citation{{ChunkID: uuid.New()}},
	}
	if err := g.validate("news", result); err == nil {
		t.Fatal("expected error for structural marker")
	}
}

func TestValidateRejectsOutOfToleranceWordCount(t *testing.T) {
	g := &Generator{}
	result := &Result{
		ScriptMD:  "Too short.",
		WordCount: 2,
		Citations: []models.Citation{{ChunkID: uuid.New()}},
	}
	if err := g.validate("news", result); err == nil {
		t.Fatal("expected error for word count outside tolerance")
	}
}

func TestValidateConversationRequiresMinimumTurns(t *testing.T) {
	g := &Generator{}
	result := &Result{
		Citations: []models.Citation{{ChunkID: uuid.New()}},
		Turns: []Turn{
			{Speaker: "HOST", Text: "Welcome to the show, everyone."},
			{Speaker: "GUEST", Text: "Thanks for having me on today."},
		},
	}
	req := Request{ConversationSpec: &ConversationSpec{Format: "interview"}}
	if err := g.validateConversation(req, result); err == nil {
		t.Fatal("expected error for fewer than 4 turns")
	}
}

func TestValidateConversationAcceptsBalancedDialogue(t *testing.T) {
	g := &Generator{}
	result := &Result{
		Citations: []models.Citation{{ChunkID: uuid.New()}},
		Turns: []Turn{
			{Speaker: "HOST", Text: "Welcome to the show today, it's great to have you here with us."},
			{Speaker: "GUEST", Text: "Thanks so much for having me, I'm excited to talk about this topic."},
			{Speaker: "HOST", Text: "Let's start with the basics of what's happening in the colony."},
			{Speaker: "GUEST", Text: "Sure, it all started a few months ago when the council convened."},
		},
	}
	req := Request{ConversationSpec: &ConversationSpec{Format: "interview"}}
	if err := g.validateConversation(req, result); err != nil {
		t.Fatalf("expected balanced dialogue to pass, got %v", err)
	}
}

func containsBracket(s string) bool {
	for _, r := range s {
		if r == '[' || r == ']' {
			return true
		}
	}
	return false
}

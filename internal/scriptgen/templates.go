package scriptgen

// styleGuidance holds per-slot-type stylistic direction for the system
// prompt, kept as a Go map literal rather than an external template file —
// matching the teacher's buildSegmentSystemPrompt, which keeps its own
// per-inputType style guidance in source rather than loading a config file.
var styleGuidance = map[string]string{
	"news":       "Report facts plainly and neutrally, attributing claims to their source.",
	"culture":    "Tell an engaging, well-paced story grounded entirely in the supplied sources.",
	"interview":  "Write a natural back-and-forth exchange that surfaces the guest's perspective.",
	"station_id": "Write a short, energetic station identification line.",
	"weather":    "Describe current and forecast conditions in plain, concise language.",
	"tech":       "Explain the technology clearly for a general audience, grounded in the sources.",
}

const defaultStyleGuidance = "Write clear, broadcast-ready narration grounded entirely in the supplied sources."

func styleGuidanceFor(slotType string) string {
	if g, ok := styleGuidance[slotType]; ok {
		return g
	}
	return defaultStyleGuidance
}

// conversationFormats maps a multi-speaker format to the shape of prompt
// instruction it should produce, per §4.6's generateConversation variant.
var conversationFormats = map[string]string{
	"interview": "Write this as an interview: the host asks questions and each participant answers in turn.",
	"panel":     "Write this as a panel discussion among all participants, with the host moderating.",
	"debate":    "Write this as a debate: participants present and contest opposing views, moderated by the host.",
	"dialogue":  "Write this as a natural conversation between the participants.",
}

func conversationFormatFor(format string) string {
	if f, ok := conversationFormats[format]; ok {
		return f
	}
	return conversationFormats["dialogue"]
}

// structuralForbiddenMarkers are screenplay/scene-direction leakage that
// breaks the audio-only narration format, independent of tone.ForbiddenTermSets.
// "segment N:" is matched separately via segmentMarkerRe since it carries a
// variable number.
var structuralForbiddenMarkers = []string{"[scene:", "[cut to:", "title:"}

// Package chunker implements C3: deterministic sentence-aware text chunking
// into token-bounded, overlapping windows ready for embedding. Sentence
// boundary detection is adapted from internal/llm/segmentation.go's
// grapheme-aware boundary search (originally used to validate LLM-proposed
// boundaries); here it drives chunking directly, with no model call.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"regexp"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/pkoukk/tiktoken-go"
	"github.com/rivo/uniseg"
)

// Options parameterizes chunking per §6's CHUNK_* env vars.
type Options struct {
	MinTokens     int
	MaxTokens     int
	OverlapTokens int
}

// Chunk is a single output window, ready to become a models.KBChunk.
type Chunk struct {
	Text        string
	Index       int
	TokenCount  int
	ContentHash string
	Lang        string
}

var allowedLangs = map[string]bool{"en": true, "es": true, "zh": true}

// tokenEncoder is package-level: tiktoken-go's cl100k_base encoding is
// stateless and safe for concurrent use, and construction is not free.
var tokenEncoder, tokenEncoderErr = tiktoken.GetEncoding("cl100k_base")

func countTokens(s string) int {
	if tokenEncoderErr == nil && tokenEncoder != nil {
		return len(tokenEncoder.Encode(s, nil, nil))
	}
	// Fallback grounded on the estimate the teacher's segmentation prompt
	// implicitly assumes (~1.3 tokens per word) when the encoder fails to load.
	words := len(strings.Fields(s))
	return int(math.Ceil(float64(words) * 1.3))
}

// Chunk splits text into sentence-respecting, token-bounded windows. Every
// window except the first carries a prefix overlap of up to OverlapTokens
// tokens' worth of trailing sentences from the previous window, so adjacent
// chunks share context across the boundary.
func Chunk(text string, opts Options) []Chunk {
	text = cleanMarkdown(text)
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	var cur []string
	curTokens := 0
	idx := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		body := strings.Join(cur, " ")
		chunks = append(chunks, Chunk{
			Text:        body,
			Index:       idx,
			TokenCount:  countTokens(body),
			ContentHash: contentHash(body),
			Lang:        detectLang(body),
		})
		idx++
	}

	overlapSentences := func(sentences []string) []string {
		if len(sentences) == 0 || opts.OverlapTokens <= 0 {
			return nil
		}
		var tail []string
		tokens := 0
		for i := len(sentences) - 1; i >= 0; i-- {
			t := countTokens(sentences[i])
			if tokens+t > opts.OverlapTokens {
				break
			}
			tail = append([]string{sentences[i]}, tail...)
			tokens += t
		}
		return tail
	}

	for _, sent := range sentences {
		t := countTokens(sent)
		if curTokens > 0 && curTokens+t > opts.MaxTokens {
			flush()
			cur = overlapSentences(cur)
			curTokens = countTokens(strings.Join(cur, " "))
		}
		cur = append(cur, sent)
		curTokens += t

		if curTokens >= opts.MinTokens && curTokens >= opts.MaxTokens {
			flush()
			cur = overlapSentences(cur)
			curTokens = countTokens(strings.Join(cur, " "))
		}
	}
	flush()

	// §4.3 step 6: an overlap-carried remainder can end up below min_tokens.
	// Discard it, unless it's the only window the document produced — in
	// that case a too-short document still emits its one chunk as-is.
	if len(chunks) > 1 && chunks[len(chunks)-1].TokenCount < opts.MinTokens {
		chunks = chunks[:len(chunks)-1]
	}

	return chunks
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// detectLang restricts detection to the supported set; anything else, or
// short input below the confidence floor, defaults to en.
func detectLang(s string) string {
	if len(s) < 100 {
		return "en"
	}
	info := whatlanggo.Detect(s)
	code := info.Lang.Iso6391()
	if !allowedLangs[code] {
		return "en"
	}
	return code
}

// Markdown cleaning regexes for §4.3 step 2. Fenced code is matched before
// inline code so a fenced block's interior backticks never get mistaken for
// an inline span; images are matched before links so `![alt](url)` collapses
// to [image] rather than leaking its "alt" text through the link rule.
var (
	fencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`\n]*`")
	imageRe      = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	linkRe       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	newlineRunRe = regexp.MustCompile(`\n{3,}`)
	boldReplacer = strings.NewReplacer("**", "", "__", "")
)

func cleanMarkdown(s string) string {
	s = fencedCodeRe.ReplaceAllString(s, "[code]")
	s = inlineCodeRe.ReplaceAllString(s, "[code]")
	s = imageRe.ReplaceAllString(s, "[image]")
	s = linkRe.ReplaceAllString(s, "$1")
	s = boldReplacer.Replace(s)

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		trimmed := strings.TrimSpace(l)
		trimmed = strings.TrimLeft(trimmed, "#")
		lines[i] = strings.TrimSpace(trimmed)
	}
	s = strings.Join(lines, "\n")
	return newlineRunRe.ReplaceAllString(s, "\n\n")
}

// splitSentences walks grapheme clusters and cuts at sentence-ending
// punctuation that is followed by whitespace or the end of the text,
// mirroring isSentenceBoundary/findPreviousSentenceBoundary from the
// segmentation boundary validator — but driving the split forward instead
// of validating LLM-proposed cut points.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	gr := uniseg.NewGraphemes(text)
	pos := 0
	for gr.Next() {
		cluster := gr.Str()
		clusterLen := len(gr.Bytes())
		end := pos + clusterLen
		followedBySpace := end == len(text) || strings.ContainsRune(" \t\r\n", rune(text[end]))
		if isSentenceEnder(cluster) && followedBySpace && isSentenceBoundary(text, end) {
			if s := strings.TrimSpace(text[start:end]); s != "" {
				sentences = append(sentences, s)
			}
			start = end
		}
		pos += clusterLen
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isSentenceEnder(cluster string) bool {
	return cluster == "." || cluster == "!" || cluster == "?"
}

// isSentenceBoundary mirrors internal/llm/segmentation.go's function of the
// same name: true iff the nearest non-whitespace/quote/paren byte before
// bytePos is sentence-ending punctuation.
func isSentenceBoundary(text string, bytePos int) bool {
	if bytePos <= 0 || bytePos > len(text) {
		return false
	}
	checkPos := bytePos - 1
	for checkPos >= 0 && (text[checkPos] == ' ' || text[checkPos] == '\n' || text[checkPos] == ')' || text[checkPos] == '"' || text[checkPos] == '*') {
		checkPos--
	}
	if checkPos < 0 {
		return false
	}
	return text[checkPos] == '.' || text[checkPos] == '!' || text[checkPos] == '?'
}

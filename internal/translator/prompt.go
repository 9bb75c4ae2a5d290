package translator

import (
	"fmt"
	"strings"

	"github.com/valpere/regiontran/internal"
)

// buildSystemPrompt returns the instruction sent to LLM-backed endpoints.
func buildSystemPrompt(req internal.TranslationRequest) string {
	var sb strings.Builder

	subject := "the following text"
	if req.Payload.Kind == internal.PayloadImage {
		subject = "all text visible in the attached image"
	}

	sb.WriteString(fmt.Sprintf("You are a professional translator. Translate %s into %s.\n", subject, req.TargetLanguage))

	if req.Mode == internal.ModeStructured {
		sb.WriteString(`Respond ONLY in JSON:
{
  "original_text": "the source text exactly as written",
  "transliteration": "romanised reading of the source, empty if not applicable",
  "full_translation": "the complete translation",
  "detected_language": "ISO 639-1 code of the source",
  "aligned_segments": [{"original": "...", "translation": "..."}]
}
`)
		return sb.String()
	}

	sb.WriteString("Only respond with the translation, nothing else. No explanations, no quotes, just the translation.")
	return sb.String()
}

// userText is the user turn for text payloads; image payloads carry only the
// image and a short cue.
func userText(req internal.TranslationRequest) string {
	if req.Payload.Kind == internal.PayloadImage {
		return "Translate the text in this image."
	}
	return req.Payload.Text
}

package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/valpere/regiontran/internal/postprocess"
)

type AlignedSegment struct {
	Original    string `json:"original"`
	Translation string `json:"translation"`
}

// StructuredTranslation is the decoded answer of a ModeStructured request.
type StructuredTranslation struct {
	OriginalText     string           `json:"original_text"`
	Transliteration  string           `json:"transliteration"`
	FullTranslation  string           `json:"full_translation"`
	DetectedLanguage string           `json:"detected_language,omitempty"`
	AlignedSegments  []AlignedSegment `json:"aligned_segments"`
}

// ParseStructured decodes a structured answer, tolerating markdown code fences
// and leading chatter before the JSON object.
func ParseStructured(response string) (*StructuredTranslation, error) {
	response = postprocess.StripCodeFence(response)

	if start := strings.Index(response, "{"); start > 0 {
		response = response[start:]
	}
	if end := strings.LastIndex(response, "}"); end >= 0 && end < len(response)-1 {
		response = response[:end+1]
	}

	var parsed StructuredTranslation
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse structured response as JSON: %w", err)
	}

	if strings.TrimSpace(parsed.FullTranslation) == "" {
		return nil, fmt.Errorf("structured response has no full_translation")
	}
	if parsed.AlignedSegments == nil {
		parsed.AlignedSegments = []AlignedSegment{}
	}

	return &parsed, nil
}

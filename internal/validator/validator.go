// Package validator checks that a translation result is in the expected target language.
package validator

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/valpere/regiontran/internal/detector"
)

// minValidationLength is the minimum rune count required to attempt language detection.
// Shorter texts produce unreliable results and are accepted without validation.
const minValidationLength = 20

// Validator checks that a translation result is written in the expected target language.
type Validator struct {
	det *detector.Detector
}

// New creates a Validator on top of a shared detector.
func New(det *detector.Detector) *Validator {
	if det == nil {
		det = detector.New()
	}
	return &Validator{det: det}
}

// IsValid returns true when translatedText appears to be written in targetLang.
// targetLang is a BCP 47 tag; only the base language is compared, so "pt-BR"
// accepts any Portuguese.
//
// Short texts and texts whose language cannot be determined pass without
// error. When the detected language differs the returned error names both.
func (v *Validator) IsValid(translatedText, targetLang string) (bool, error) {
	if targetLang == "" {
		return true, nil
	}

	text := strings.TrimSpace(translatedText)
	if text == "" {
		return false, fmt.Errorf("translation is empty")
	}

	if len([]rune(text)) < minValidationLength {
		return true, nil
	}

	want, err := language.Parse(targetLang)
	if err != nil {
		// Unknown tags cannot be validated.
		return true, nil
	}

	got, ok := v.det.DetectTag(text)
	if !ok {
		return true, nil
	}

	wantBase, _ := want.Base()
	gotBase, _ := got.Base()
	if wantBase != gotBase {
		return false, fmt.Errorf("expected %s but detected %s", wantBase, gotBase)
	}

	return true, nil
}

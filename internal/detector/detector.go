// Package detector identifies the language of a piece of text.
package detector

import (
	lingua "github.com/pemistahl/lingua-go"
	"golang.org/x/text/language"
)

// Detector wraps a lingua detector. Building one loads the language models,
// which is slow; construct it once and share it.
type Detector struct {
	detector lingua.LanguageDetector
}

// New builds a detector for the given languages, or for every language lingua
// knows when fewer than two are given.
func New(languages ...lingua.Language) *Detector {
	var builder lingua.LanguageDetectorBuilder
	if len(languages) < 2 {
		builder = lingua.NewLanguageDetectorBuilder().FromAllLanguages()
	} else {
		builder = lingua.NewLanguageDetectorBuilder().FromLanguages(languages...)
	}

	return &Detector{detector: builder.Build()}
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if text == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

// DetectISO returns the ISO 639-1 code of the detected language.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return lang.IsoCode639_1().String(), true
}

// DetectTag returns the detected language as a BCP 47 tag.
func (d *Detector) DetectTag(text string) (language.Tag, bool) {
	code, ok := d.DetectISO(text)
	if !ok {
		return language.Und, false
	}
	tag, err := language.Parse(code)
	if err != nil {
		return language.Und, false
	}
	return tag, true
}

package enrich

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

// minLetters is the shortest sample worth asking the detector about.
const minLetters = 12

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// procurementLanguages are the official languages notices are published in.
var procurementLanguages = []lingua.Language{
	lingua.Bulgarian,
	lingua.Croatian,
	lingua.Czech,
	lingua.Danish,
	lingua.Dutch,
	lingua.English,
	lingua.Estonian,
	lingua.Finnish,
	lingua.French,
	lingua.German,
	lingua.Greek,
	lingua.Hungarian,
	lingua.Irish,
	lingua.Italian,
	lingua.Latvian,
	lingua.Lithuanian,
	lingua.Polish,
	lingua.Portuguese,
	lingua.Romanian,
	lingua.Slovak,
	lingua.Slovene,
	lingua.Spanish,
	lingua.Swedish,
}

// DetectLanguage returns the ISO 639-1 code of text, or "" when the sample is
// too short or ambiguous.
func DetectLanguage(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letters := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < minLetters {
		return ""
	}

	language, ok := getDetector().DetectLanguageOf(sample)
	if !ok {
		return ""
	}
	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(procurementLanguages...).
			WithMinimumRelativeDistance(0.1).
			Build()
	})
	return detector
}

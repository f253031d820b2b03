package understand

import (
	"strings"
	"unicode"
)

// Supported response languages.
const (
	LanguageEnglish  = "english"
	LanguageHindi    = "hindi"
	LanguageHinglish = "hinglish"
	LanguageAuto     = "auto"
)

// Detection thresholds over the letter population of the input.
const (
	mixedMinRatio = 0.10
	hindiMinRatio = 0.30
)

// romanizedMarkers are common Hindi function words written in Latin script.
// Two or more distinct hits in otherwise-Latin text classify the input as
// Hinglish.
var romanizedMarkers = map[string]struct{}{
	"aap": {}, "hai": {}, "hain": {}, "kya": {}, "kaise": {},
	"kyu": {}, "kyun": {}, "nahi": {}, "nahin": {}, "kab": {},
	"kaun": {}, "karo": {}, "kar": {}, "mera": {}, "meri": {},
	"tum": {}, "aur": {}, "bhi": {}, "toh": {}, "raha": {},
	"rahe": {}, "rahi": {}, "batao": {}, "chahiye": {},
}

// DetectLanguage classifies text as english, hindi, or hinglish.
//
// Classification looks at the Devanagari share of the input's letters:
// a mix of Devanagari and Latin letters is hinglish, a Devanagari majority
// is hindi, and everything else is english unless the text carries enough
// romanized Hindi marker words to count as hinglish. Text with no letters
// at all defaults to english.
func DetectLanguage(text string) string {
	var devanagari, latin int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Devanagari, r) && unicode.IsLetter(r):
			devanagari++
		case unicode.IsLetter(r):
			latin++
		}
	}

	total := devanagari + latin
	if total == 0 {
		return LanguageEnglish
	}

	devRatio := float64(devanagari) / float64(total)
	latinRatio := float64(latin) / float64(total)

	switch {
	case devRatio > mixedMinRatio && latinRatio > mixedMinRatio:
		return LanguageHinglish
	case devRatio > hindiMinRatio:
		return LanguageHindi
	}

	if countRomanizedMarkers(text) >= 2 {
		return LanguageHinglish
	}
	return LanguageEnglish
}

// countRomanizedMarkers counts distinct romanized Hindi marker words.
func countRomanizedMarkers(text string) int {
	seen := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) })
		if _, ok := romanizedMarkers[word]; ok {
			seen[word] = struct{}{}
		}
	}
	return len(seen)
}

// containsDevanagari reports whether text holds at least one Devanagari rune.
func containsDevanagari(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Devanagari, r) {
			return true
		}
	}
	return false
}

// isMixedScript reports whether text holds both Devanagari and Latin letters,
// the shape expected of a Hinglish reply.
func isMixedScript(text string) bool {
	var devanagari, latin bool
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Devanagari, r) && unicode.IsLetter(r):
			devanagari = true
		case unicode.IsLetter(r):
			latin = true
		}
		if devanagari && latin {
			return true
		}
	}
	return false
}

package synth

import "unicode"

// Supported synthesis languages.
const (
	LanguageEnglish = "english"
	LanguageHindi   = "hindi"
)

// devanagariMinRatio is the fraction of Devanagari letters above which text
// is treated as Hindi.
const devanagariMinRatio = 0.25

// Default speakers per language.
const (
	DefaultEnglishSpeaker = "neerja"
	DefaultHindiSpeaker   = "madhur"
)

// voiceTable maps language → speaker → provider voice ID. Speaker keys are
// lowercase; the IDs are ElevenLabs voice identifiers.
var voiceTable = map[string]map[string]string{
	LanguageEnglish: {
		"neerja":  "H6QPv2pQZDcGqLwDTIJQ",
		"prabhat": "zT03pEAEi0VHKciJODfn",
		"jenny":   "EXAVITQu4vr4xnSDxMaL",
	},
	LanguageHindi: {
		"madhur": "1qEiC6qsybMkmnNdVMbK",
		"swara":  "mActWQg9kibLro6Z2ouY",
	},
}

// DetectLanguage classifies text by script content: Hindi when at least a
// quarter of its letters are Devanagari, fallback otherwise. Empty or
// letterless text returns the fallback.
func DetectLanguage(text, fallback string) string {
	var letters, devanagari int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Devanagari, r) {
			devanagari++
		}
	}
	if letters == 0 {
		return fallback
	}
	if float64(devanagari)/float64(letters) >= devanagariMinRatio {
		return LanguageHindi
	}
	return fallback
}

// ResolveVoice looks up the provider voice ID for a language and speaker.
// An empty or unknown speaker falls back to the language default; an unknown
// language falls back to the default English voice.
func ResolveVoice(language, speaker string) string {
	voices, ok := voiceTable[language]
	if !ok {
		return voiceTable[LanguageEnglish][DefaultEnglishSpeaker]
	}
	if id, ok := voices[speaker]; ok {
		return id
	}
	switch language {
	case LanguageHindi:
		return voices[DefaultHindiSpeaker]
	default:
		return voices[DefaultEnglishSpeaker]
	}
}

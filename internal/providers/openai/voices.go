package openai

import (
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

// English replies use a distinct voice; every other language shares one.
var voiceMap = map[string]goopenai.SpeechVoice{
	"en": goopenai.VoiceEcho,
}

const defaultVoice = goopenai.VoiceNova

func VoiceFor(language string) goopenai.SpeechVoice {
	if voice, ok := voiceMap[strings.ToLower(strings.TrimSpace(language))]; ok {
		return voice
	}
	return defaultVoice
}

// Whisper reports detected languages by English name.
var languageCodes = map[string]string{
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"dutch":      "nl",
	"italian":    "it",
	"portuguese": "pt",
	"hindi":      "hi",
	"chinese":    "zh",
	"japanese":   "ja",
	"korean":     "ko",
	"english":    "en",
}

// LanguageCode maps a Whisper language name (or code) to an ISO 639-1 code.
// Unknown names return "".
func LanguageCode(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	if code, ok := languageCodes[name]; ok {
		return code
	}
	for _, code := range languageCodes {
		if code == name {
			return code
		}
	}
	return ""
}

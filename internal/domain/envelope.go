package domain

// EnvelopeKind tags one unit of a streamed reply.
type EnvelopeKind string

const (
	EnvelopeTextDelta        EnvelopeKind = "text"
	EnvelopeTranslationHint  EnvelopeKind = "translation"
	EnvelopeTranslationClear EnvelopeKind = "translation_clear"
	EnvelopeIntentHint       EnvelopeKind = "intent"
	EnvelopeIntentClear      EnvelopeKind = "intent_clear"
	EnvelopeFiller           EnvelopeKind = "filler"
	EnvelopeError            EnvelopeKind = "error"
	EnvelopeDone             EnvelopeKind = "done"
)

// StreamEnvelope is a tagged union; only the fields relevant to Kind are set.
type StreamEnvelope struct {
	Kind EnvelopeKind

	// Text carries the delta, intent, filler or error message.
	Text string

	Translation TranslationHint

	// FinalText is the authoritative reply carried by Done.
	FinalText string
}

// TranslationHint pairs a phrase with its translation.
type TranslationHint struct {
	Source      string `json:"source"`
	Translation string `json:"translation"`
	Alt         string `json:"alt,omitempty"`
}

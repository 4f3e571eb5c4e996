package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"lingoa/internal/domain"
)

var ErrMalformedEnvelope = errors.New("malformed reply envelope")

type wireEnvelope struct {
	Type         string  `json:"type"`
	Text         *string `json:"text"`
	Done         bool    `json:"done"`
	FullResponse string  `json:"full_response"`
	FullText     string  `json:"full_text"`
	Error        string  `json:"error"`
	Source       string  `json:"source"`
	Translation  string  `json:"translation"`
	Alt          string  `json:"alt"`
	Intent       string  `json:"intent"`
}

// DecodeEnvelope accepts both the typed shape ({"type": ...}) and the
// untyped {text, done, full_response, error} shape. eventName is the SSE
// event field and stands in for a missing type.
func DecodeEnvelope(eventName string, data []byte) (domain.StreamEnvelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return domain.StreamEnvelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	kind := strings.ToLower(strings.TrimSpace(wire.Type))
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(eventName))
	}
	text := ""
	if wire.Text != nil {
		text = *wire.Text
	}

	switch kind {
	case "", "message":
		return decodeUntyped(wire, text)
	case "text", "delta", "text_delta", "response_chunk":
		if wire.Text == nil {
			return domain.StreamEnvelope{}, fmt.Errorf("%w: %s without text", ErrMalformedEnvelope, kind)
		}
		return domain.StreamEnvelope{Kind: domain.EnvelopeTextDelta, Text: text}, nil
	case "translation":
		hint := domain.TranslationHint{Source: wire.Source, Translation: wire.Translation, Alt: wire.Alt}
		if hint.Source == "" && hint.Translation == "" {
			return domain.StreamEnvelope{}, fmt.Errorf("%w: empty translation hint", ErrMalformedEnvelope)
		}
		return domain.StreamEnvelope{Kind: domain.EnvelopeTranslationHint, Translation: hint}, nil
	case "translation_clear":
		return domain.StreamEnvelope{Kind: domain.EnvelopeTranslationClear}, nil
	case "intent":
		intent := firstNonEmpty(wire.Intent, text)
		if intent == "" {
			return domain.StreamEnvelope{}, fmt.Errorf("%w: empty intent hint", ErrMalformedEnvelope)
		}
		return domain.StreamEnvelope{Kind: domain.EnvelopeIntentHint, Text: intent}, nil
	case "intent_clear":
		return domain.StreamEnvelope{Kind: domain.EnvelopeIntentClear}, nil
	case "filler":
		return domain.StreamEnvelope{Kind: domain.EnvelopeFiller, Text: text}, nil
	case "error":
		return domain.StreamEnvelope{Kind: domain.EnvelopeError, Text: firstNonEmpty(wire.Error, text, "reply failed")}, nil
	case "done", "response_complete":
		return domain.StreamEnvelope{Kind: domain.EnvelopeDone, FinalText: firstNonEmpty(wire.FullResponse, wire.FullText, text)}, nil
	default:
		return domain.StreamEnvelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, kind)
	}
}

func decodeUntyped(wire wireEnvelope, text string) (domain.StreamEnvelope, error) {
	switch {
	case wire.Error != "":
		return domain.StreamEnvelope{Kind: domain.EnvelopeError, Text: wire.Error}, nil
	case wire.Done:
		return domain.StreamEnvelope{Kind: domain.EnvelopeDone, FinalText: firstNonEmpty(wire.FullResponse, wire.FullText)}, nil
	case wire.Text != nil:
		return domain.StreamEnvelope{Kind: domain.EnvelopeTextDelta, Text: text}, nil
	default:
		return domain.StreamEnvelope{}, fmt.Errorf("%w: no recognizable fields", ErrMalformedEnvelope)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

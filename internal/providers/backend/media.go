package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"lingoa/internal/domain"
	"lingoa/internal/ports"
)

type transcribeResponse struct {
	Transcript       string `json:"transcript"`
	Text             string `json:"text"`
	DetectedLanguage string `json:"detected_language"`
	ValidForTarget   *bool  `json:"valid_for_target"`
}

type ttsRequest struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Speed    float64 `json:"speed"`
}

type ttsResponse struct {
	Audio  string `json:"audio"`
	Text   string `json:"text"`
	Format string `json:"format"`
}

type fillerRequest struct {
	Language string   `json:"language"`
	Speed    float64  `json:"speed"`
	Exclude  []string `json:"exclude"`
}

// Transcribe uploads the clip as multipart field "audio".
func (c *Client) Transcribe(ctx context.Context, req ports.TranscribeRequest) (domain.Transcription, error) {
	if req.Clip.Empty() {
		return domain.Transcription{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, clipFilename(req.Clip.MimeType)))
	header.Set("Content-Type", contentTypeOf(req.Clip.MimeType))
	part, err := writer.CreatePart(header)
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("build transcribe form: %w", err)
	}
	if _, err := part.Write(req.Clip.Bytes); err != nil {
		return domain.Transcription{}, fmt.Errorf("build transcribe form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return domain.Transcription{}, fmt.Errorf("build transcribe form: %w", err)
	}

	endpoint := "/api/transcribe"
	target := c.cfg.BaseURL + endpoint
	if req.Language != "" {
		target += "?" + url.Values{"language": []string{req.Language}}.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &body)
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("build transcribe request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")

	var resp transcribeResponse
	if err := c.do(httpReq, endpoint, &resp); err != nil {
		return domain.Transcription{}, err
	}
	text := strings.TrimSpace(firstNonEmpty(resp.Transcript, resp.Text))
	c.logger.Debug("transcription received", "chars", len(text), "bytes", len(req.Clip.Bytes), "mime_type", req.Clip.MimeType)
	return domain.Transcription{
		Text:             text,
		DetectedLanguage: resp.DetectedLanguage,
		ValidForTarget:   resp.ValidForTarget,
	}, nil
}

// Synthesize requests base64 encoded speech from /api/tts.
func (c *Client) Synthesize(ctx context.Context, req ports.SpeechRequest) (domain.SynthesizedAudio, error) {
	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}
	var resp ttsResponse
	if err := c.postJSON(ctx, "/api/tts", ttsRequest{Text: req.Text, Language: req.Language, Speed: speed}, &resp); err != nil {
		return domain.SynthesizedAudio{}, err
	}
	return resp.decode()
}

// Filler fetches a thinking phrase and its audio from /api/tts/filler.
func (c *Client) Filler(ctx context.Context, req ports.FillerRequest) (domain.FillerClip, error) {
	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}
	exclude := req.Exclude
	if exclude == nil {
		exclude = []string{}
	}
	var resp ttsResponse
	if err := c.postJSON(ctx, "/api/tts/filler", fillerRequest{Language: req.Language, Speed: speed, Exclude: exclude}, &resp); err != nil {
		return domain.FillerClip{}, err
	}
	audio, err := resp.decode()
	if err != nil {
		return domain.FillerClip{}, fmt.Errorf("filler: %w", err)
	}
	return domain.FillerClip{Text: strings.TrimSpace(resp.Text), Audio: audio}, nil
}

func (r ttsResponse) decode() (domain.SynthesizedAudio, error) {
	audio, err := base64.StdEncoding.DecodeString(r.Audio)
	if err != nil {
		return domain.SynthesizedAudio{}, fmt.Errorf("decode tts audio: %w", err)
	}
	if len(audio) == 0 {
		return domain.SynthesizedAudio{}, fmt.Errorf("backend returned empty audio")
	}
	format := r.Format
	if format == "" {
		format = "mp3"
	}
	return domain.SynthesizedAudio{Bytes: audio, Format: format}, nil
}

func contentTypeOf(mimeType string) string {
	base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	if base == "" {
		return "application/octet-stream"
	}
	return base
}

func clipFilename(mimeType string) string {
	switch contentTypeOf(mimeType) {
	case "audio/ogg":
		return "audio.ogg"
	case "audio/mp4":
		return "audio.m4a"
	case "audio/wav", "audio/x-wav":
		return "audio.wav"
	default:
		return "audio.webm"
	}
}

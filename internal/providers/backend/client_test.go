package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lingoa/internal/domain"
	"lingoa/internal/ports"
	"lingoa/internal/stream"
)

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{BaseURL: " http://example.test/ "}, nil)
	if c.BaseURL() != "http://example.test" {
		t.Fatalf("unexpected base url: %q", c.BaseURL())
	}
	if c.cfg.RequestTimeout != defaultRequestTimeout {
		t.Fatalf("unexpected timeout: %v", c.cfg.RequestTimeout)
	}
	if NewClient(Config{}, nil).BaseURL() != defaultBaseURL {
		t.Fatalf("expected default base url")
	}
}

func TestClientStartAndEndSession(t *testing.T) {
	t.Parallel()

	var gotStart startSessionRequest
	var gotEnd endSessionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/session/start":
			_ = json.NewDecoder(r.Body).Decode(&gotStart)
			_, _ = io.WriteString(w, `{"session_id":"s-1","greeting":"¡Hola! ¿Cómo estás?","target_language":"es","topic":"food"}`)
		case "/api/session/end":
			_ = json.NewDecoder(r.Body).Decode(&gotEnd)
			_, _ = io.WriteString(w, `{"session_id":"s-1","total_speaking_time":312.5,"completed":true,"feedback":{"summary":"great"},"streak":4}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL}, nil)
	info, err := c.StartSession(context.Background(), domain.ConversationOptions{UserID: "u-1", Language: "es", Topic: "food"})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if info.ID != "s-1" || info.Greeting != "¡Hola! ¿Cómo estás?" || info.Topic != "food" {
		t.Fatalf("unexpected session info: %+v", info)
	}
	if gotStart.UserID != "u-1" || gotStart.TargetLanguage != "es" || gotStart.Topic != "food" {
		t.Fatalf("unexpected start payload: %+v", gotStart)
	}

	summary, err := c.EndSession(context.Background(), "s-1", 312500*time.Millisecond)
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if gotEnd.SessionID != "s-1" || gotEnd.TotalSpeakingTime != 312.5 {
		t.Fatalf("unexpected end payload: %+v", gotEnd)
	}
	if !summary.Completed || summary.Streak != 4 || summary.SpeakingTime != 312500*time.Millisecond {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	feedback, ok := summary.Feedback.(map[string]any)
	if !ok || feedback["summary"] != "great" {
		t.Fatalf("unexpected feedback: %#v", summary.Feedback)
	}
}

func TestClientStartSessionRequiresID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"greeting":"hi"}`)
	}))
	defer server.Close()

	if _, err := NewClient(Config{BaseURL: server.URL}, nil).StartSession(context.Background(), domain.ConversationOptions{}); err == nil {
		t.Fatalf("expected missing session id error")
	}
}

func TestClientEndSessionNotFoundIsAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Session not found"}`)
	}))
	defer server.Close()

	_, err := NewClient(Config{BaseURL: server.URL}, nil).EndSession(context.Background(), "missing", time.Second)
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected api error, got %v", err)
	}
	if !apiErr.IsNotFound() || apiErr.Message != "Session not found" || apiErr.Endpoint != "/api/session/end" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestClientUserStats(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/user/u 1/stats" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"streak":2,"completed_today":true}`)
	}))
	defer server.Close()

	stats, err := NewClient(Config{BaseURL: server.URL}, nil).UserStats(context.Background(), "u 1")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Streak != 2 || !stats.CompletedToday {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestClientTranscribeUploadsMultipart(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("language") != "hi" {
			t.Errorf("missing language hint: %s", r.URL.RawQuery)
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("missing audio field: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "opus-bytes" || header.Filename != "audio.webm" {
			t.Errorf("unexpected upload: %q %q", data, header.Filename)
		}
		if got := header.Header.Get("Content-Type"); got != "audio/webm" {
			t.Errorf("unexpected part content type: %q", got)
		}
		_, _ = io.WriteString(w, `{"transcript":"  नमस्ते  ","valid_for_target":true}`)
	}))
	defer server.Close()

	result, err := NewClient(Config{BaseURL: server.URL}, nil).Transcribe(context.Background(), ports.TranscribeRequest{
		Clip:     &domain.RecordedClip{Bytes: []byte("opus-bytes"), MimeType: "audio/webm;codecs=opus"},
		Language: "hi",
	})
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if result.Text != "नमस्ते" {
		t.Fatalf("unexpected transcript: %q", result.Text)
	}
	if result.ValidForTarget == nil || !*result.ValidForTarget {
		t.Fatalf("expected validity flag")
	}
}

func TestClientTranscribeEmptyClipSkipsNetwork(t *testing.T) {
	t.Parallel()

	called := false
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer server.Close()

	result, err := NewClient(Config{BaseURL: server.URL}, nil).Transcribe(context.Background(), ports.TranscribeRequest{})
	if err != nil || result.Text != "" || called {
		t.Fatalf("expected no-op transcription, got %+v err=%v called=%v", result, err, called)
	}
}

func TestClientSynthesizeDecodesBase64(t *testing.T) {
	t.Parallel()

	var got ttsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprintf(w, `{"audio":%q,"format":"mp3"}`, base64.StdEncoding.EncodeToString([]byte("ID3audio")))
	}))
	defer server.Close()

	audio, err := NewClient(Config{BaseURL: server.URL}, nil).Synthesize(context.Background(), ports.SpeechRequest{Text: "hola", Language: "es", Speed: 0.85})
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if string(audio.Bytes) != "ID3audio" || audio.Format != "mp3" {
		t.Fatalf("unexpected audio: %+v", audio)
	}
	if got.Text != "hola" || got.Language != "es" || got.Speed != 0.85 {
		t.Fatalf("unexpected tts payload: %+v", got)
	}
}

func TestClientSynthesizeServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"detail":"TTS failed: quota"}`)
	}))
	defer server.Close()

	_, err := NewClient(Config{BaseURL: server.URL}, nil).Synthesize(context.Background(), ports.SpeechRequest{Text: "x"})
	apiErr, ok := AsAPIError(err)
	if !ok || !apiErr.IsServerError() || !strings.Contains(apiErr.Message, "quota") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientFillerPostsExcludeList(t *testing.T) {
	t.Parallel()

	var path string
	var got fillerRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprintf(w, `{"audio":%q,"text":" A ver... ","format":"mp3"}`, base64.StdEncoding.EncodeToString([]byte("ID3filler")))
	}))
	defer server.Close()

	clip, err := NewClient(Config{BaseURL: server.URL}, nil).Filler(context.Background(), ports.FillerRequest{Language: "es", Exclude: []string{"Hmm..."}})
	if err != nil {
		t.Fatalf("filler failed: %v", err)
	}
	if path != "/api/tts/filler" {
		t.Fatalf("unexpected path: %s", path)
	}
	if got.Language != "es" || got.Speed != 1 || len(got.Exclude) != 1 || got.Exclude[0] != "Hmm..." {
		t.Fatalf("unexpected filler payload: %+v", got)
	}
	if clip.Text != "A ver..." || string(clip.Audio.Bytes) != "ID3filler" || clip.Audio.Format != "mp3" {
		t.Fatalf("unexpected filler clip: %+v", clip)
	}
}

func TestClientFillerRejectsEmptyAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"audio":"","text":"Hmm..."}`)
	}))
	defer server.Close()

	if _, err := NewClient(Config{BaseURL: server.URL}, nil).Filler(context.Background(), ports.FillerRequest{Language: "es"}); err == nil {
		t.Fatalf("expected empty filler audio to fail")
	}
}

func TestClientRequestTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: server.URL, RequestTimeout: 50 * time.Millisecond}, nil)
	began := time.Now()
	_, err := c.StartSession(context.Background(), domain.ConversationOptions{})
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(began) > time.Second {
		t.Fatalf("request was not bounded")
	}
}

func TestClientStreamReplyAggregatesSSE(t *testing.T) {
	t.Parallel()

	var got respondRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range []string{
			`data: {"text": "Hel", "done": false}`,
			`data: {"text": "lo", "done": false}`,
			`data: {"text": "", "done": true, "full_response": "Hello!"}`,
		} {
			_, _ = io.WriteString(w, line+"\n\n")
			flusher.Flush()
		}
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL}, nil)
	replyStream, err := c.StreamReply(context.Background(), ports.ReplyRequest{SessionID: "s-1", Transcript: "Hola"})
	if err != nil {
		t.Fatalf("stream reply failed: %v", err)
	}
	result, err := stream.Aggregate(context.Background(), replyStream, nil, nil)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if result.Text != "Hello!" || !result.Completed {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got.SessionID != "s-1" || got.Transcript != "Hola" || got.IsPartial {
		t.Fatalf("unexpected respond payload: %+v", got)
	}
}

func TestClientStreamReplyRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Session not found"}`)
	}))
	defer server.Close()

	_, err := NewClient(Config{BaseURL: server.URL}, nil).StreamReply(context.Background(), ports.ReplyRequest{SessionID: "x"})
	if apiErr, ok := AsAPIError(err); !ok || !apiErr.IsNotFound() {
		t.Fatalf("expected not found api error, got %v", err)
	}
}

func TestClientStreamReplyInterruptedBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"text\": \"partial\", \"done\": false}\n\n")
	}))
	defer server.Close()

	replyStream, err := NewClient(Config{BaseURL: server.URL}, nil).StreamReply(context.Background(), ports.ReplyRequest{SessionID: "s"})
	if err != nil {
		t.Fatalf("stream reply failed: %v", err)
	}
	result, err := stream.Aggregate(context.Background(), replyStream, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Interrupted || result.Text != "partial" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

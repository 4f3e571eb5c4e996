package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"lingoa/internal/config"
	"lingoa/internal/domain"
	"lingoa/internal/providers/backend"
)

func TestBuildSuccess(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("LINGOA_CONFIG_FILE", "")
	t.Setenv("LINGOA_RULES_FILE", "")
	t.Setenv("LINGOA_BACKEND_URL", "http://backend.test:9000")

	services, err := Build(noopEventSink{}, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.Coordinator == nil || services.Playback == nil || services.Capture == nil {
		t.Fatalf("expected coordinator, playback and capture: %+v", services)
	}
	if services.Backend.BaseURL() != "http://backend.test:9000" {
		t.Fatalf("unexpected backend url: %q", services.Backend.BaseURL())
	}
	if services.Coordinator.Status().State != domain.TurnStateClosed {
		t.Fatalf("expected no conversation before start")
	}
}

func TestBuildFailsOnInvalidRules(t *testing.T) {
	home := t.TempDir()
	rules := filepath.Join(home, "bad.rules")
	if err := os.WriteFile(rules, []byte("not a valid rule\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("HOME", home)
	t.Setenv("LINGOA_RULES_FILE", rules)

	_, err := Build(noopEventSink{}, nil)
	if err == nil {
		t.Fatalf("expected build error due to invalid rules")
	}
}

func TestSpeechChainsAddOpenAIFallbackWithKey(t *testing.T) {
	t.Parallel()

	client := backend.NewClient(backend.Config{}, nil)

	cfg := config.Defaults()
	synth, stt, err := speechChains(cfg, client, nil)
	if err != nil {
		t.Fatalf("chains failed: %v", err)
	}
	if synth.Len() != 1 || stt.Len() != 1 {
		t.Fatalf("expected backend only without a key, got %d/%d", synth.Len(), stt.Len())
	}

	cfg.OpenAI.APIKey = "sk-test"
	synth, stt, err = speechChains(cfg, client, nil)
	if err != nil {
		t.Fatalf("chains failed: %v", err)
	}
	if synth.Len() != 2 || stt.Len() != 2 {
		t.Fatalf("expected openai fallback, got %d/%d", synth.Len(), stt.Len())
	}
}

func TestBuildWithConfigUsesTuning(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Backend.ReplyTransport = "websocket"
	cfg.Playback.SpeedPreset = "slow"

	services, err := BuildWithConfig(cfg, noopEventSink{}, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if rate := services.Tuning.PlaybackRate(); rate != 0.85 {
		t.Fatalf("expected slow preset rate, got %v", rate)
	}
	if names := services.Playback.Strategies(); len(names) != 2 || names[0].Name != "buffer" || names[1].Name != "element" {
		t.Fatalf("unexpected strategies: %+v", names)
	}
}

type noopEventSink struct{}

func (noopEventSink) TurnStateChanged(domain.TurnState, domain.TurnStateReason) {}
func (noopEventSink) VolumeChanged(domain.VolumeSample)                         {}
func (noopEventSink) UserSpeechChanged(domain.SpeechState)                      {}
func (noopEventSink) UserTranscript(string)                                     {}
func (noopEventSink) PartialReply(string)                                       {}
func (noopEventSink) FinalReply(string, string)                                 {}
func (noopEventSink) TranslationHint(domain.TranslationHint)                    {}
func (noopEventSink) TranslationCleared()                                       {}
func (noopEventSink) IntentHint(string)                                         {}
func (noopEventSink) IntentCleared()                                            {}
func (noopEventSink) FillerHint(string)                                         {}
func (noopEventSink) SilentModeSuspected()                                      {}
func (noopEventSink) SpeakingTimeChanged(time.Duration)                         {}
func (noopEventSink) SessionCompleted(time.Duration)                            {}
func (noopEventSink) SessionError(domain.ErrorCode, string)                     {}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the conversation pipeline.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Audio    AudioConfig    `yaml:"audio"`
	Playback PlaybackConfig `yaml:"playback"`
	VAD      VADConfig      `yaml:"vad"`
	Rules    RulesConfig    `yaml:"rules"`
	Session  SessionConfig  `yaml:"session"`

	// Source is the YAML file that seeded this config, if any.
	Source string `yaml:"-"`
}

type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	ReplyTransport string        `yaml:"reply_transport"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	StreamTimeout  time.Duration `yaml:"stream_timeout"`
}

type OpenAIConfig struct {
	APIKey             string `yaml:"-"`
	BaseURL            string `yaml:"base_url"`
	TTSModel           string `yaml:"tts_model"`
	TranscriptionModel string `yaml:"transcription_model"`
	DetectLanguage     bool   `yaml:"detect_language"`
}

type AudioConfig struct {
	RecorderCommand  string        `yaml:"recorder_command"`
	InputFormat      string        `yaml:"input_format"`
	InputDevice      string        `yaml:"input_device"`
	SampleRate       int           `yaml:"sample_rate"`
	Channels         int           `yaml:"channels"`
	MimeTypes        []string      `yaml:"mime_types"`
	EchoCancellation bool          `yaml:"echo_cancellation"`
	NoiseSuppression bool          `yaml:"noise_suppression"`
	AutoGain         bool          `yaml:"auto_gain"`
	AcquireTimeout   time.Duration `yaml:"acquire_timeout"`
}

type PlaybackConfig struct {
	Strategies       []string      `yaml:"strategies"`
	PlayerCommand    string        `yaml:"player_command"`
	SpeedPreset      string        `yaml:"speed_preset"`
	Rate             float64       `yaml:"rate"`
	RateMode         string        `yaml:"rate_mode"`
	Fillers          bool          `yaml:"fillers"`
	SynthesisTimeout time.Duration `yaml:"synthesis_timeout"`
	UnlockTimeout    time.Duration `yaml:"unlock_timeout"`
	AudibleGrace     time.Duration `yaml:"audible_grace"`
}

type VADConfig struct {
	SilenceThreshold float64       `yaml:"silence_threshold"`
	SilenceTimeout   time.Duration `yaml:"silence_timeout"`
	FrameInterval    time.Duration `yaml:"frame_interval"`
}

type RulesConfig struct {
	Path           string `yaml:"path"`
	IterationLimit int    `yaml:"iteration_limit"`
}

type SessionConfig struct {
	UserID           string        `yaml:"user_id"`
	Language         string        `yaml:"language"`
	Topic            string        `yaml:"topic"`
	ChunkInterval    time.Duration `yaml:"chunk_interval"`
	FlushTimeout     time.Duration `yaml:"flush_timeout"`
	PlaceholderDelay time.Duration `yaml:"placeholder_delay"`
	TargetDuration   time.Duration `yaml:"target_duration"`
	EndTimeout       time.Duration `yaml:"end_timeout"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8000",
			ReplyTransport: "sse",
			RequestTimeout: 15 * time.Second,
			StreamTimeout:  60 * time.Second,
		},
		OpenAI: OpenAIConfig{
			BaseURL:            "https://api.openai.com/v1",
			TTSModel:           "tts-1",
			TranscriptionModel: "whisper-1",
		},
		Audio: AudioConfig{
			RecorderCommand:  "ffmpeg",
			InputFormat:      "pulse",
			InputDevice:      "default",
			SampleRate:       16000,
			Channels:         1,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGain:         true,
			AcquireTimeout:   5 * time.Second,
		},
		Playback: PlaybackConfig{
			Strategies:       []string{"buffer", "element"},
			PlayerCommand:    "ffplay",
			SpeedPreset:      "normal",
			Rate:             1.0,
			RateMode:         "server",
			Fillers:          true,
			SynthesisTimeout: 15 * time.Second,
			UnlockTimeout:    1500 * time.Millisecond,
			AudibleGrace:     time.Second,
		},
		VAD: VADConfig{
			SilenceThreshold: -15,
			SilenceTimeout:   1500 * time.Millisecond,
			FrameInterval:    16 * time.Millisecond,
		},
		Rules: RulesConfig{IterationLimit: 30},
		Session: SessionConfig{
			Language:         "es",
			Topic:            "random",
			ChunkInterval:    500 * time.Millisecond,
			FlushTimeout:     2500 * time.Millisecond,
			PlaceholderDelay: 1200 * time.Millisecond,
			TargetDuration:   300 * time.Second,
			EndTimeout:       5 * time.Second,
		},
	}
}

// Load resolves configuration from .env, an optional YAML file, environment
// variables and sensible defaults, in increasing priority.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	configDir := filepath.Join(home, ".config", "lingoa")

	for _, envFile := range []string{".env", filepath.Join(configDir, ".env")} {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := Defaults()

	configPath := strings.TrimSpace(os.Getenv("LINGOA_CONFIG_FILE"))
	if configPath == "" {
		configPath = firstExisting(filepath.Join(configDir, "config.yaml"))
	}
	if err := loadFile(configPath, &cfg); err != nil {
		return Config{}, err
	}

	rulesPath := strings.TrimSpace(os.Getenv("LINGOA_RULES_FILE"))
	if rulesPath == "" && cfg.Rules.Path == "" {
		rulesPath = firstExisting(filepath.Join(configDir, "speech.rules"))
	}
	if rulesPath != "" {
		cfg.Rules.Path = rulesPath
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	cfg.Source = path
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Backend.BaseURL = envOrDefault("LINGOA_BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Backend.ReplyTransport = strings.ToLower(envOrDefault("LINGOA_REPLY_TRANSPORT", cfg.Backend.ReplyTransport))
	cfg.Backend.RequestTimeout = envOrDefaultMillis("LINGOA_REQUEST_TIMEOUT_MS", cfg.Backend.RequestTimeout)
	cfg.Backend.StreamTimeout = envOrDefaultMillis("LINGOA_STREAM_TIMEOUT_MS", cfg.Backend.StreamTimeout)

	cfg.OpenAI.APIKey = firstNonEmpty(os.Getenv("LINGOA_OPENAI_API_KEY"), os.Getenv("OPENAI_API_KEY"))
	cfg.OpenAI.BaseURL = envOrDefault("OPENAI_API_BASE", cfg.OpenAI.BaseURL)
	cfg.OpenAI.TTSModel = envOrDefault("LINGOA_OPENAI_TTS_MODEL", cfg.OpenAI.TTSModel)
	cfg.OpenAI.TranscriptionModel = envOrDefault("LINGOA_OPENAI_STT_MODEL", cfg.OpenAI.TranscriptionModel)
	cfg.OpenAI.DetectLanguage = envOrDefaultBool("LINGOA_OPENAI_DETECT_LANGUAGE", cfg.OpenAI.DetectLanguage)

	cfg.Audio.RecorderCommand = envOrDefault("LINGOA_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("LINGOA_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(os.Getenv("LINGOA_AUDIO_INPUT_DEVICE"), os.Getenv("PULSE_SOURCE"), cfg.Audio.InputDevice)
	cfg.Audio.SampleRate = envOrDefaultInt("LINGOA_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("LINGOA_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.MimeTypes = envOrDefaultList("LINGOA_RECORDER_MIME_TYPES", cfg.Audio.MimeTypes)
	cfg.Audio.EchoCancellation = envOrDefaultBool("LINGOA_ECHO_CANCELLATION", cfg.Audio.EchoCancellation)
	cfg.Audio.NoiseSuppression = envOrDefaultBool("LINGOA_NOISE_SUPPRESSION", cfg.Audio.NoiseSuppression)
	cfg.Audio.AutoGain = envOrDefaultBool("LINGOA_AUTO_GAIN", cfg.Audio.AutoGain)
	cfg.Audio.AcquireTimeout = envOrDefaultMillis("LINGOA_MIC_ACQUIRE_TIMEOUT_MS", cfg.Audio.AcquireTimeout)

	cfg.Playback.Strategies = envOrDefaultList("LINGOA_PLAYBACK_STRATEGIES", cfg.Playback.Strategies)
	cfg.Playback.PlayerCommand = envOrDefault("LINGOA_PLAYER_COMMAND", cfg.Playback.PlayerCommand)
	cfg.Playback.SpeedPreset = strings.ToLower(envOrDefault("LINGOA_SPEED", cfg.Playback.SpeedPreset))
	cfg.Playback.Rate = envOrDefaultFloat("LINGOA_PLAYBACK_RATE", cfg.Playback.Rate)
	cfg.Playback.RateMode = strings.ToLower(envOrDefault("LINGOA_RATE_MODE", cfg.Playback.RateMode))
	cfg.Playback.Fillers = envOrDefaultBool("LINGOA_FILLERS", cfg.Playback.Fillers)
	cfg.Playback.SynthesisTimeout = envOrDefaultMillis("LINGOA_SYNTHESIS_TIMEOUT_MS", cfg.Playback.SynthesisTimeout)
	cfg.Playback.UnlockTimeout = envOrDefaultMillis("LINGOA_UNLOCK_TIMEOUT_MS", cfg.Playback.UnlockTimeout)
	cfg.Playback.AudibleGrace = envOrDefaultMillis("LINGOA_AUDIBLE_GRACE_MS", cfg.Playback.AudibleGrace)

	cfg.VAD.SilenceThreshold = envOrDefaultFloat("LINGOA_SILENCE_THRESHOLD_DB", cfg.VAD.SilenceThreshold)
	cfg.VAD.SilenceTimeout = time.Duration(firstNonNegativeInt("LINGOA_SILENCE_TIMEOUT_MS", "VAD_SILENCE_TIMEOUT_MS", int(cfg.VAD.SilenceTimeout/time.Millisecond))) * time.Millisecond
	cfg.VAD.FrameInterval = envOrDefaultMillis("LINGOA_VAD_FRAME_MS", cfg.VAD.FrameInterval)

	cfg.Rules.IterationLimit = envOrDefaultInt("LINGOA_RULE_ITERATION_LIMIT", cfg.Rules.IterationLimit)

	cfg.Session.UserID = envOrDefault("LINGOA_USER_ID", cfg.Session.UserID)
	cfg.Session.Language = envOrDefault("LINGOA_LANGUAGE", cfg.Session.Language)
	cfg.Session.Topic = envOrDefault("LINGOA_TOPIC", cfg.Session.Topic)
	cfg.Session.ChunkInterval = envOrDefaultMillis("LINGOA_CHUNK_INTERVAL_MS", cfg.Session.ChunkInterval)
	cfg.Session.FlushTimeout = envOrDefaultMillis("LINGOA_FLUSH_TIMEOUT_MS", cfg.Session.FlushTimeout)
	cfg.Session.PlaceholderDelay = envOrDefaultMillis("LINGOA_PLACEHOLDER_DELAY_MS", cfg.Session.PlaceholderDelay)
	cfg.Session.TargetDuration = envOrDefaultMillis("LINGOA_TARGET_DURATION_MS", cfg.Session.TargetDuration)
	cfg.Session.EndTimeout = envOrDefaultMillis("LINGOA_SESSION_END_TIMEOUT_MS", cfg.Session.EndTimeout)
}

func normalize(cfg *Config) {
	defaults := Defaults()

	if cfg.Backend.ReplyTransport != "websocket" {
		cfg.Backend.ReplyTransport = "sse"
	}
	if cfg.Backend.RequestTimeout <= 0 {
		cfg.Backend.RequestTimeout = defaults.Backend.RequestTimeout
	}
	if cfg.Backend.StreamTimeout <= 0 {
		cfg.Backend.StreamTimeout = defaults.Backend.StreamTimeout
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.AcquireTimeout <= 0 {
		cfg.Audio.AcquireTimeout = defaults.Audio.AcquireTimeout
	}
	if len(cfg.Playback.Strategies) == 0 {
		cfg.Playback.Strategies = defaults.Playback.Strategies
	}
	if _, ok := SpeedPresets[cfg.Playback.SpeedPreset]; !ok {
		cfg.Playback.SpeedPreset = defaults.Playback.SpeedPreset
	}
	cfg.Playback.Rate = clampRate(cfg.Playback.Rate)
	if cfg.Playback.RateMode != "client" {
		cfg.Playback.RateMode = "server"
	}
	if cfg.Playback.SynthesisTimeout <= 0 {
		cfg.Playback.SynthesisTimeout = defaults.Playback.SynthesisTimeout
	}
	if cfg.Playback.UnlockTimeout <= 0 {
		cfg.Playback.UnlockTimeout = defaults.Playback.UnlockTimeout
	}
	if cfg.Playback.AudibleGrace <= 0 {
		cfg.Playback.AudibleGrace = defaults.Playback.AudibleGrace
	}
	if cfg.VAD.SilenceThreshold >= 0 {
		cfg.VAD.SilenceThreshold = defaults.VAD.SilenceThreshold
	}
	cfg.VAD.SilenceTimeout = clampSilenceTimeout(cfg.VAD.SilenceTimeout)
	if cfg.VAD.FrameInterval <= 0 {
		cfg.VAD.FrameInterval = defaults.VAD.FrameInterval
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = defaults.Session.Language
	}
	if cfg.Session.ChunkInterval < MinChunkInterval {
		cfg.Session.ChunkInterval = defaults.Session.ChunkInterval
	}
	if cfg.Session.FlushTimeout <= 0 || cfg.Session.FlushTimeout > 2500*time.Millisecond {
		cfg.Session.FlushTimeout = defaults.Session.FlushTimeout
	}
	if cfg.Session.PlaceholderDelay < 0 {
		cfg.Session.PlaceholderDelay = defaults.Session.PlaceholderDelay
	}
	if cfg.Session.TargetDuration <= 0 {
		cfg.Session.TargetDuration = defaults.Session.TargetDuration
	}
	if cfg.Session.EndTimeout <= 0 {
		cfg.Session.EndTimeout = defaults.Session.EndTimeout
	}
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDefaultList(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func firstNonNegativeInt(primary string, secondary string, fallback int) int {
	for _, key := range []string{primary, secondary} {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/udayansarma/voice-ai-chat/internal/apperr"
)

// Protocol selects how the realtime WebSocket handshake is performed.
type Protocol string

const (
	// ProtocolDirect builds the GA realtime URL by hand and authenticates with a header.
	ProtocolDirect Protocol = "direct"
	// ProtocolClient goes through the preview deployment endpoint with a library-negotiated handshake.
	ProtocolClient Protocol = "client"
)

// Config holds application configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Speech    SpeechConfig    `yaml:"speech"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type HTTPConfig struct {
	Address         string        `yaml:"address"`
	AuthPassword    string        `yaml:"auth_password"`
	AllowOrigins    []string      `yaml:"allow_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// RealtimeConfig addresses the realtime conversational audio provider.
type RealtimeConfig struct {
	Endpoint           string        `yaml:"endpoint"`
	APIKey             string        `yaml:"api_key"`
	Deployment         string        `yaml:"deployment"`
	APIVersion         string        `yaml:"api_version"`
	Protocol           Protocol      `yaml:"protocol"`
	ReadyTimeout       time.Duration `yaml:"ready_timeout"`
	SynthesisTimeout   time.Duration `yaml:"synthesis_timeout"`
	RecognitionTimeout time.Duration `yaml:"recognition_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	// SendVoiceConfig sends session.update with the voice before each response.
	// Some GA deployments reject it; nil means "decide by protocol".
	SendVoiceConfig    *bool  `yaml:"send_voice_config"`
	TranscriptionModel string `yaml:"transcription_model"`
}

// SpeechConfig addresses the REST neural speech provider.
type SpeechConfig struct {
	Key      string        `yaml:"key"`
	Region   string        `yaml:"region"`
	Endpoint string        `yaml:"endpoint"`
	Voice    string        `yaml:"voice"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TelemetryConfig controls trace export. Disabled leaves the global
// OpenTelemetry providers as no-ops.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Address:         ":8080",
			AllowOrigins:    []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Realtime: RealtimeConfig{
			APIVersion:         "2025-04-01-preview",
			ReadyTimeout:       10 * time.Second,
			SynthesisTimeout:   30 * time.Second,
			RecognitionTimeout: 10 * time.Second,
			PollInterval:       100 * time.Millisecond,
			TranscriptionModel: "whisper-1",
		},
		Speech: SpeechConfig{
			Voice:    "en-US-JennyNeural",
			Language: "en-US",
			Timeout:  30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "voice-ai-chat",
			SampleRate:   1,
		},
	}
}

// Load reads .env (if present), an optional YAML file named by CONFIG_FILE,
// then environment variables, in increasing precedence.
func Load() (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.Configuration("config", "config file %s not found", path)
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperr.Configuration("config", "parse %s: %v", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.HTTP.Address, "HTTP_ADDRESS")
	setString(&c.HTTP.AuthPassword, "AUTH_PASSWORD")
	if v := os.Getenv("CORS_ALLOW_ORIGINS"); v != "" {
		c.HTTP.AllowOrigins = splitList(v)
	}
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	setString(&c.Realtime.Endpoint, "AZURE_OPENAI_REALTIME_ENDPOINT")
	setString(&c.Realtime.APIKey, "AZURE_OPENAI_REALTIME_API_KEY")
	setString(&c.Realtime.Deployment, "AZURE_OPENAI_REALTIME_DEPLOYMENT")
	setString(&c.Realtime.APIVersion, "AZURE_OPENAI_REALTIME_API_VERSION")
	setString(&c.Realtime.TranscriptionModel, "REALTIME_TRANSCRIPTION_MODEL")
	if v := os.Getenv("REALTIME_PROTOCOL"); v != "" {
		c.Realtime.Protocol = Protocol(strings.ToLower(v))
	}
	if v := os.Getenv("REALTIME_SEND_VOICE_CONFIG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.Configuration("config", "REALTIME_SEND_VOICE_CONFIG: %v", err)
		}
		c.Realtime.SendVoiceConfig = &b
	}

	setString(&c.Speech.Key, "AZURE_SPEECH_KEY")
	setString(&c.Speech.Region, "AZURE_SPEECH_REGION")
	setString(&c.Speech.Endpoint, "AZURE_SPEECH_ENDPOINT")
	setString(&c.Speech.Voice, "AZURE_SPEECH_VOICE")
	setString(&c.Speech.Language, "AZURE_SPEECH_LANGUAGE")

	setString(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	if v := os.Getenv("TELEMETRY_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.Configuration("config", "TELEMETRY_ENABLED: %v", err)
		}
		c.Telemetry.Enabled = b
	}
	if v := os.Getenv("TELEMETRY_SAMPLE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return apperr.Configuration("config", "TELEMETRY_SAMPLE_RATE must be between 0 and 1")
		}
		c.Telemetry.SampleRate = f
	}

	durations := []struct {
		dst *time.Duration
		key string
	}{
		{&c.HTTP.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT"},
		{&c.Realtime.ReadyTimeout, "REALTIME_READY_TIMEOUT"},
		{&c.Realtime.SynthesisTimeout, "REALTIME_SYNTHESIS_TIMEOUT"},
		{&c.Realtime.RecognitionTimeout, "REALTIME_RECOGNITION_TIMEOUT"},
		{&c.Realtime.PollInterval, "REALTIME_POLL_INTERVAL"},
		{&c.Speech.Timeout, "AZURE_SPEECH_TIMEOUT"},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return apperr.Configuration("config", "%s: %v", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Warnings lists settings that leave a feature unusable.
func (c Config) Warnings() []string {
	var out []string
	if c.Realtime.Endpoint == "" || c.Realtime.APIKey == "" || c.Realtime.Deployment == "" {
		out = append(out, "realtime endpoint/api key/deployment not fully set - /synthesize and /recognize will fail")
	}
	if c.Speech.Key == "" || (c.Speech.Region == "" && c.Speech.Endpoint == "") {
		out = append(out, "AZURE_SPEECH_KEY or AZURE_SPEECH_REGION not set - /speech routes will fail")
	}
	return out
}

// Validate fails fast before any connection attempt.
func (r RealtimeConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	if strings.TrimSpace(r.APIKey) == "" {
		missing = append(missing, "api key")
	}
	if strings.TrimSpace(r.Deployment) == "" {
		missing = append(missing, "deployment")
	}
	if len(missing) > 0 {
		return apperr.Configuration("realtime", "missing %s", strings.Join(missing, ", "))
	}
	switch r.Protocol {
	case "", ProtocolDirect, ProtocolClient:
	default:
		return apperr.Configuration("realtime", "unknown protocol %q", r.Protocol)
	}
	return nil
}

// ResolvedProtocol returns the configured protocol, deriving it from the
// deployment name when unset: gpt-realtime deployments speak the GA protocol.
func (r RealtimeConfig) ResolvedProtocol() Protocol {
	if r.Protocol != "" {
		return r.Protocol
	}
	if strings.HasPrefix(strings.ToLower(r.Deployment), "gpt-realtime") {
		return ProtocolDirect
	}
	return ProtocolClient
}

// VoiceConfigEnabled reports whether session.update should carry the voice.
// GA deployments default to off; they have rejected the explicit session config.
func (r RealtimeConfig) VoiceConfigEnabled() bool {
	if r.SendVoiceConfig != nil {
		return *r.SendVoiceConfig
	}
	return r.ResolvedProtocol() == ProtocolClient
}

// Validate fails fast before any request to the REST speech provider.
func (s SpeechConfig) Validate() error {
	if strings.TrimSpace(s.Key) == "" {
		return apperr.Configuration("speech", "missing subscription key")
	}
	if strings.TrimSpace(s.Region) == "" && strings.TrimSpace(s.Endpoint) == "" {
		return apperr.Configuration("speech", "missing region")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

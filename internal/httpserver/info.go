package httpserver

import (
	"github.com/udayansarma/voice-ai-chat/internal/audio"
	"github.com/udayansarma/voice-ai-chat/internal/config"
	"github.com/udayansarma/voice-ai-chat/internal/voice"
)

// Info describes what the realtime integration can do. It is built once at
// startup and served as-is.
type Info struct {
	Provider     string            `json:"provider"`
	Protocol     config.Protocol   `json:"protocol"`
	Models       InfoModels        `json:"models"`
	Voices       []voice.Voice     `json:"voices"`
	VoiceMapping map[string]string `json:"voiceMapping"`
	AudioFormats []AudioFormat     `json:"audioFormats"`
	Features     []string          `json:"features"`
	Limitations  []string          `json:"limitations"`
}

type InfoModels struct {
	Realtime      string `json:"realtime"`
	Transcription string `json:"transcription"`
}

type AudioFormat struct {
	Name          string `json:"name"`
	ContentType   string `json:"contentType"`
	SampleRate    int    `json:"sampleRate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bitsPerSample"`
}

// NewInfo builds the descriptor for cfg. No secrets are included.
func NewInfo(cfg config.RealtimeConfig) Info {
	return Info{
		Provider: "azure-openai-realtime",
		Protocol: cfg.ResolvedProtocol(),
		Models: InfoModels{
			Realtime:      cfg.Deployment,
			Transcription: cfg.TranscriptionModel,
		},
		Voices:       voice.Catalogue(),
		VoiceMapping: voice.Mappings(),
		AudioFormats: []AudioFormat{
			{Name: "wav", ContentType: "audio/wav", SampleRate: audio.SampleRate, Channels: audio.Channels, BitsPerSample: audio.BitsPerSample},
			{Name: "pcm16", ContentType: "audio/pcm", SampleRate: audio.SampleRate, Channels: audio.Channels, BitsPerSample: audio.BitsPerSample},
		},
		Features: []string{
			"text-to-speech",
			"streaming text-to-speech",
			"speech-to-text",
			"neural voice name mapping",
		},
		Limitations: []string{
			"one realtime session per request",
			"recognition input must be 24 kHz mono 16-bit PCM",
			"no automatic retries",
			"streaming output is not buffered for slow clients",
		},
	}
}

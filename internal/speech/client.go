// Package speech is a client for the neural speech REST service: SSML
// synthesis and short-audio recognition.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/udayansarma/voice-ai-chat/internal/apperr"
	"github.com/udayansarma/voice-ai-chat/internal/audio"
	"github.com/udayansarma/voice-ai-chat/internal/config"
	"github.com/udayansarma/voice-ai-chat/internal/logging"
)

// OutputFormat is requested for every synthesis: the same 24 kHz mono PCM16
// the realtime provider produces, already RIFF framed.
const OutputFormat = "riff-24khz-16bit-mono-pcm"

const (
	userAgent    = "voice-ai-chat"
	maxErrorBody = 512
)

var tracer = otel.Tracer("github.com/udayansarma/voice-ai-chat/internal/speech")

// Client talks to one speech resource. The zero HTTPClient uses the
// configured timeout.
type Client struct {
	cfg        config.SpeechConfig
	HTTPClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg config.SpeechConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		HTTPClient: &http.Client{Timeout: timeout},
		logger:     logger.With(zap.String("component", "speech_client")),
	}
}

// Voice is the default voice used when a request names none.
func (c *Client) Voice() string { return c.cfg.Voice }

// RecognitionResult is the simple-format response of short-audio recognition.
type RecognitionResult struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	Offset            int64  `json:"Offset"`
	Duration          int64  `json:"Duration"`
}

// Synthesize renders text with voiceName (default from config) and returns
// a 24 kHz mono WAV file.
func (c *Client) Synthesize(ctx context.Context, text, voiceName string) (_ []byte, err error) {
	const op = "speech.synthesize"
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validation(op, "text is required")
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	if voiceName == "" {
		voiceName = c.cfg.Voice
	}

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("voice", voiceName),
		attribute.Int("text.chars", len(text)),
	))
	defer endSpan(span, &err)

	endpoint, err := c.serviceURL("tts", "/cognitiveservices/v1", nil)
	if err != nil {
		return nil, err
	}
	ssml := BuildSSML(text, voiceName, c.language(""))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", OutputFormat)

	c.logger.Debug("speech synthesis request",
		zap.String("url", endpoint),
		zap.String("voice", voiceName),
		zap.String("key", logging.KeyPreview(c.cfg.Key)))

	body, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	if len(body) <= audio.HeaderSize {
		return nil, apperr.Provider(op, "synthesis returned no audio")
	}
	return body, nil
}

// Recognize transcribes wav (or raw 24 kHz PCM16, which is framed first) in
// language (default from config) and returns the display text.
func (c *Client) Recognize(ctx context.Context, wav []byte, language string) (_ string, err error) {
	const op = "speech.recognize"
	if len(wav) == 0 {
		return "", apperr.Validation(op, "audio is required")
	}
	if err := c.cfg.Validate(); err != nil {
		return "", err
	}

	sampleRate := audio.SampleRate
	if _, format, ok := audio.ParseWAV(wav); ok {
		sampleRate = format.SampleRate
	} else {
		wav = audio.FramePCM16(wav)
	}
	lang := c.language(language)

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("language", lang),
		attribute.Int("audio.bytes", len(wav)),
	))
	defer endSpan(span, &err)

	q := url.Values{}
	q.Set("language", lang)
	q.Set("format", "simple")
	endpoint, err := c.serviceURL("stt", "/speech/recognition/conversation/cognitiveservices/v1", q)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(wav))
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", fmt.Sprintf("audio/wav; codecs=audio/pcm; samplerate=%d", sampleRate))
	req.Header.Set("Accept", "application/json")

	body, err := c.do(op, req)
	if err != nil {
		return "", err
	}
	var res RecognitionResult
	if err := json.Unmarshal(body, &res); err != nil {
		return "", apperr.Provider(op, "decode recognition response: %v", err)
	}
	if res.RecognitionStatus != "Success" {
		return "", apperr.Provider(op, "recognition status %s", res.RecognitionStatus)
	}
	span.SetAttributes(attribute.Int("transcript.chars", len(res.DisplayText)))
	return res.DisplayText, nil
}

func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.Key)
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return nil, apperr.Connection(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Connection(op, fmt.Errorf("read body: %w", err))
	}
	c.logger.Debug("speech response",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, apperr.Provider(op, "status=%d body=%s", resp.StatusCode, snippet)
	}
	return body, nil
}

// serviceURL resolves path against the configured endpoint override or the
// regional host <region>.<service>.speech.microsoft.com.
func (c *Client) serviceURL(service, path string, q url.Values) (string, error) {
	base := strings.TrimSpace(c.cfg.Endpoint)
	if base == "" {
		base = fmt.Sprintf("https://%s.%s.speech.microsoft.com", c.cfg.Region, service)
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "", apperr.Configuration("speech", "invalid endpoint %q", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) language(override string) string {
	switch {
	case override != "":
		return override
	case c.cfg.Language != "":
		return c.cfg.Language
	default:
		return "en-US"
	}
}

// BuildSSML wraps text in a single-voice SSML document. text, voice and lang
// are XML escaped.
func BuildSSML(text, voiceName, lang string) string {
	var b strings.Builder
	b.WriteString("<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='")
	escape(&b, lang)
	b.WriteString("'><voice name='")
	escape(&b, voiceName)
	b.WriteString("'>")
	escape(&b, text)
	b.WriteString("</voice></speak>")
	return b.String()
}

func escape(b *strings.Builder, s string) {
	// xml.EscapeText only fails on writer errors; strings.Builder never does.
	_ = xml.EscapeText(b, []byte(s))
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

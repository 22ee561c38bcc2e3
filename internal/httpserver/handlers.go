// Package httpserver exposes synthesis and recognition over HTTP.
package httpserver

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/udayansarma/voice-ai-chat/internal/audio"
	"github.com/udayansarma/voice-ai-chat/internal/voice"
)

const (
	headerVoiceToken    = "X-Voice-Token"
	headerAudioDuration = "X-Audio-Duration-Ms"
)

// Synthesizer is implemented by orchestrator.Synthesizer.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceToken string) ([]byte, error)
	SynthesizeStream(ctx context.Context, text, voiceToken string, sink io.Writer) error
}

// Recognizer is implemented by orchestrator.Recognizer.
type Recognizer interface {
	Recognize(ctx context.Context, audioBase64 string) (string, error)
}

// SpeechService is implemented by speech.Client.
type SpeechService interface {
	Synthesize(ctx context.Context, text, voiceName string) ([]byte, error)
	Recognize(ctx context.Context, wav []byte, language string) (string, error)
}

type Handlers struct {
	Synth    Synthesizer
	Recog    Recognizer
	Speech   SpeechService
	Info     Info
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type synthesizeRequest struct {
	Text        string `json:"text"`
	VoiceName   string `json:"voiceName"`
	VoiceGender string `json:"voiceGender"`
}

type recognizeRequest struct {
	AudioData string `json:"audioData"`
	Language  string `json:"language"`
}

type recognizeResponse struct {
	Text string `json:"text"`
}

func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if h.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
	}
	e.GET("/info", h.info)
	e.POST("/synthesize", h.synthesize)
	e.POST("/synthesize/stream", h.synthesizeStream)
	e.POST("/recognize", h.recognize)
	e.POST("/speech/synthesize", h.speechSynthesize)
	e.POST("/speech/recognize", h.speechRecognize)
}

func (h Handlers) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h Handlers) info(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Info)
}

func (h Handlers) synthesize(c echo.Context) error {
	var req synthesizeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "body must be JSON with a text field")
	}
	token := voice.Resolve(req.VoiceName, req.VoiceGender)

	wav, err := h.Synth.Synthesize(c.Request().Context(), req.Text, token)
	if err != nil {
		h.logger().Error("synthesis failed", zap.String("voice", token), zap.Error(err))
		return writeError(c, "synthesis failed", err)
	}

	pcmLen := len(wav) - audio.HeaderSize
	d := audio.Duration(pcmLen, audio.SampleRate, audio.Channels, audio.BitsPerSample)
	c.Response().Header().Set(headerVoiceToken, token)
	c.Response().Header().Set(headerAudioDuration, strconv.FormatInt(d.Milliseconds(), 10))
	return c.Blob(http.StatusOK, "audio/wav", wav)
}

func (h Handlers) synthesizeStream(c echo.Context) error {
	var req synthesizeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "body must be JSON with a text field")
	}
	token := voice.Resolve(req.VoiceName, req.VoiceGender)

	w := &streamWriter{resp: c.Response(), token: token}
	err := h.Synth.SynthesizeStream(c.Request().Context(), req.Text, token, w)
	if err == nil {
		if !w.started {
			w.start()
		}
		return nil
	}
	h.logger().Error("streaming synthesis failed",
		zap.String("voice", token),
		zap.Int("bytes_sent", w.written),
		zap.Error(err))
	if w.started {
		// Headers are gone; the client sees a truncated body.
		return nil
	}
	return writeError(c, "synthesis failed", err)
}

func (h Handlers) recognize(c echo.Context) error {
	var req recognizeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "body must be JSON with an audioData field")
	}
	text, err := h.Recog.Recognize(c.Request().Context(), req.AudioData)
	if err != nil {
		h.logger().Error("recognition failed", zap.Error(err))
		return writeError(c, "recognition failed", err)
	}
	return c.JSON(http.StatusOK, recognizeResponse{Text: text})
}

func (h Handlers) speechSynthesize(c echo.Context) error {
	var req synthesizeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "body must be JSON with a text field")
	}
	wav, err := h.Speech.Synthesize(c.Request().Context(), req.Text, req.VoiceName)
	if err != nil {
		h.logger().Error("speech synthesis failed", zap.String("voice", req.VoiceName), zap.Error(err))
		return writeError(c, "speech synthesis failed", err)
	}
	return c.Blob(http.StatusOK, "audio/wav", wav)
}

func (h Handlers) speechRecognize(c echo.Context) error {
	var req recognizeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "body must be JSON with an audioData field")
	}
	if strings.TrimSpace(req.AudioData) == "" {
		return badRequest(c, "audioData is required")
	}
	wav, err := audio.DecodeBase64(req.AudioData)
	if err != nil {
		return badRequest(c, "audioData is not valid base64")
	}
	text, err := h.Speech.Recognize(c.Request().Context(), wav, req.Language)
	if err != nil {
		h.logger().Error("speech recognition failed", zap.Error(err))
		return writeError(c, "speech recognition failed", err)
	}
	return c.JSON(http.StatusOK, recognizeResponse{Text: text})
}

// streamWriter commits the audio/pcm response on the first chunk so that a
// failure before any audio can still be reported as JSON.
type streamWriter struct {
	resp    *echo.Response
	token   string
	started bool
	written int
}

func (w *streamWriter) start() {
	w.started = true
	w.resp.Header().Set(echo.HeaderContentType, "audio/pcm")
	w.resp.Header().Set(headerVoiceToken, w.token)
	w.resp.WriteHeader(http.StatusOK)
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if !w.started {
		w.start()
	}
	n, err := w.resp.Write(p)
	w.written += n
	return n, err
}

func (w *streamWriter) Flush() { w.resp.Flush() }

// SetWriteDeadline lets the synthesizer unblock a write stuck on a slow client.
func (w *streamWriter) SetWriteDeadline(t time.Time) error {
	return http.NewResponseController(w.resp).SetWriteDeadline(t)
}

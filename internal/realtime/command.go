package realtime

// Command is one outbound client event. Only the fields relevant to Type are set.
type Command struct {
	Type     string           `json:"type"`
	EventID  string           `json:"event_id,omitempty"`
	Item     *Item            `json:"item,omitempty"`
	Response *ResponseOptions `json:"response,omitempty"`
	Audio    string           `json:"audio,omitempty"`
	Session  *SessionConfig   `json:"session,omitempty"`
}

type Item struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ResponseOptions overrides session defaults for a single response.
type ResponseOptions struct {
	Modalities        []string `json:"modalities,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
	Voice             string   `json:"voice,omitempty"`
	OutputAudioFormat string   `json:"output_audio_format,omitempty"`
}

// SessionConfig is the payload of session.update.
type SessionConfig struct {
	Voice                   string                   `json:"voice,omitempty"`
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	// TurnDetection is always serialized; null disables server VAD.
	TurnDetection *TurnDetection `json:"turn_detection"`
}

type InputAudioTranscription struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type string `json:"type"`
}

// AudioFormatPCM16 is the only audio format the bridge speaks.
const AudioFormatPCM16 = "pcm16"

// UserText creates a user message carrying text.
func UserText(text string) Command {
	return Command{
		Type: "conversation.item.create",
		Item: &Item{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// CreateResponse asks the provider to respond; opts may be nil.
func CreateResponse(opts *ResponseOptions) Command {
	return Command{Type: "response.create", Response: opts}
}

// AppendAudio appends base64-encoded PCM16 to the input buffer.
func AppendAudio(b64 string) Command {
	return Command{Type: "input_audio_buffer.append", Audio: b64}
}

// CommitAudio commits the input buffer as a user item.
func CommitAudio() Command {
	return Command{Type: "input_audio_buffer.commit"}
}

// UpdateSession replaces session settings.
func UpdateSession(cfg SessionConfig) Command {
	return Command{Type: "session.update", Session: &cfg}
}

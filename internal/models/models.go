package models

// ---------------------------------------------------------------------------
// Audio formats
// The backend always synthesizes MP3; any other requested format is produced
// by transcoding that MP3 locally. One table drives both the encoder
// invocation (codec/container/bitrate) and the HTTP response MIME type.
// ---------------------------------------------------------------------------

// Format is a caller-requested audio container/codec.
type Format string

const (
	FormatMP3  Format = "mp3"
	FormatAAC  Format = "aac"
	FormatWAV  Format = "wav"
	FormatOpus Format = "opus"
	FormatFLAC Format = "flac"
)

// DefaultFormat is what the synthesis backend delivers.
const DefaultFormat = FormatMP3

// EncoderSpec describes how to encode into a target format.
// Bitrate is empty for uncompressed PCM output.
type EncoderSpec struct {
	Codec     string
	Container string
	Bitrate   string
}

var encoderSpecs = map[Format]EncoderSpec{
	FormatAAC:  {Codec: "aac", Container: "mp4", Bitrate: "192k"},
	FormatMP3:  {Codec: "libmp3lame", Container: "mp3", Bitrate: "192k"},
	FormatWAV:  {Codec: "pcm_s16le", Container: "wav"},
	FormatOpus: {Codec: "libopus", Container: "ogg", Bitrate: "192k"},
	FormatFLAC: {Codec: "flac", Container: "flac", Bitrate: "192k"},
}

var mimeTypes = map[Format]string{
	FormatMP3:  "audio/mpeg",
	FormatAAC:  "audio/aac",
	FormatWAV:  "audio/wav",
	FormatOpus: "audio/ogg",
	FormatFLAC: "audio/flac",
}

// ParseFormat validates a response_format value from a request.
func ParseFormat(s string) (Format, bool) {
	f := Format(s)
	_, ok := encoderSpecs[f]
	return f, ok
}

// Encoder returns the codec/container/bitrate triple for the format.
func (f Format) Encoder() (EncoderSpec, bool) {
	spec, ok := encoderSpecs[f]
	return spec, ok
}

// MIMEType returns the content type served for the format.
// Unknown formats fall back to audio/mpeg.
func (f Format) MIMEType() string {
	if mt, ok := mimeTypes[f]; ok {
		return mt
	}
	return "audio/mpeg"
}

// Ext returns the file extension for the format (no leading dot).
func (f Format) Ext() string {
	return string(f)
}

// ---------------------------------------------------------------------------
// Artifacts
// ---------------------------------------------------------------------------

// Artifact is a file on local storage produced by the pipeline.
// Ephemeral artifacts are owned by the temp registry and eventually deleted;
// a persisted copy is an independent file outside that guarantee.
type Artifact struct {
	Path      string
	Format    Format
	Ephemeral bool
}

// ---------------------------------------------------------------------------
// API request/response types (OpenAI-compatible surface)
// ---------------------------------------------------------------------------

// SpeechRequest is the body of POST /v1/audio/speech.
// Model is accepted for OpenAI client compatibility but has no effect.
type SpeechRequest struct {
	Input          string   `json:"input"`
	Model          string   `json:"model,omitempty"`
	Voice          string   `json:"voice"`
	ResponseFormat string   `json:"response_format"`
	Speed          *float64 `json:"speed,omitempty"`
}

// ModelInfo is one entry in the /v1/models listing.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListModelsResponse is the body of GET /v1/models.
type ListModelsResponse struct {
	Data []ModelInfo `json:"data"`
}

// ListVoicesResponse is the body of GET /v1/voices.
type ListVoicesResponse struct {
	Voices []string `json:"voices"`
}

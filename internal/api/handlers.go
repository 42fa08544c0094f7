package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/lizhe2004/openai-xunjie-tts/internal/models"
	"github.com/lizhe2004/openai-xunjie-tts/internal/pipeline"
	"github.com/lizhe2004/openai-xunjie-tts/internal/voice"
)

// SpeechGenerator is the pipeline as the handlers see it.
type SpeechGenerator interface {
	Generate(ctx context.Context, req pipeline.Request) (string, error)
}

// HandlerConfig holds the per-deployment defaults the handlers apply to
// requests that omit voice, format, or speed.
type HandlerConfig struct {
	DefaultVoice  string
	DefaultFormat models.Format
	DefaultSpeed  float64

	// Normalize preprocesses input text before synthesis; nil disables
	// preprocessing. Owned by the caller — the handlers only invoke it.
	Normalize func(string) string
}

type Handler struct {
	speech  SpeechGenerator
	aliases voice.Aliases
	cfg     HandlerConfig
}

func NewHandler(speech SpeechGenerator, aliases voice.Aliases, cfg HandlerConfig) *Handler {
	return &Handler{
		speech:  speech,
		aliases: aliases,
		cfg:     cfg,
	}
}

// CreateSpeech handles POST /v1/audio/speech (and the /audio/speech alias).
// The response body is the audio file itself, served with the MIME type of
// the format actually requested.
func (h *Handler) CreateSpeech(w http.ResponseWriter, r *http.Request) {
	var req models.SpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Input == "" {
		respondError(w, http.StatusBadRequest, "Missing 'input' in request body")
		return
	}

	credential := CredentialFrom(r.Context())
	if credential == "" {
		respondError(w, http.StatusUnauthorized, "Missing API key in Authorization header")
		return
	}

	voiceString := req.Voice
	if voiceString == "" {
		voiceString = h.cfg.DefaultVoice
	}

	format := h.cfg.DefaultFormat
	if req.ResponseFormat != "" {
		parsed, ok := models.ParseFormat(req.ResponseFormat)
		if !ok {
			respondError(w, http.StatusBadRequest, "Invalid response_format. Allowed: mp3, aac, wav, opus, flac")
			return
		}
		format = parsed
	}

	speed := h.cfg.DefaultSpeed
	if req.Speed != nil {
		speed = *req.Speed
	}

	text := req.Input
	if h.cfg.Normalize != nil {
		text = h.cfg.Normalize(text)
	}

	path, err := h.speech.Generate(r.Context(), pipeline.Request{
		Text:        text,
		Voice:       voiceString,
		Credential:  credential,
		Format:      format,
		DefaultRate: int(speed),
	})
	if err != nil {
		log.Printf("[API] Speech generation failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Speech generation failed")
		return
	}

	w.Header().Set("Content-Type", format.MIMEType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=speech.%s", format.Ext()))
	http.ServeFile(w, r, path)
}

// ListModels handles GET /v1/models.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.ListModelsResponse{
		Data: []models.ModelInfo{
			{ID: "tts-1", Name: "Text-to-speech v1"},
			{ID: "tts-1-hd", Name: "Text-to-speech v1 HD"},
		},
	})
}

// ListVoices handles GET /v1/voices — the configured alias names.
func (h *Handler) ListVoices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.ListVoicesResponse{
		Voices: h.aliases.Names(),
	})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/lizhe2004/openai-xunjie-tts/internal/models"
	"github.com/lizhe2004/openai-xunjie-tts/internal/services"
	"github.com/lizhe2004/openai-xunjie-tts/internal/tempfiles"
	"github.com/lizhe2004/openai-xunjie-tts/internal/voice"
)

// ---------------------------------------------------------------------------
// Speech generation pipeline
// The single entry point the HTTP layer talks to. One call runs
// parse voice -> synthesize -> transcode (if a different format was asked
// for) -> persist (if the voice string asked for it), and schedules cleanup
// of every intermediate file no matter how the call ends.
// ---------------------------------------------------------------------------

// ErrorKind classifies a failed generation for the caller's error mapping.
type ErrorKind string

const (
	KindRemote    ErrorKind = "remote"
	KindTimeout   ErrorKind = "timeout"
	KindTranscode ErrorKind = "transcode"
)

// Error is the single failure type the pipeline returns: a kind for
// observability plus the root cause for logging.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("speech generation failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Synthesizer produces audio for a request at a destination path.
// Implemented by services.XunjieClient.
type Synthesizer interface {
	Synthesize(ctx context.Context, req services.SynthesisRequest, destPath string) error
}

// Transcoder converts audio between formats, reporting whether a conversion
// actually happened. Implemented by services.Transcoder.
type Transcoder interface {
	Transcode(ctx context.Context, srcPath string, srcFormat, dstFormat models.Format, dstPath string) (bool, error)
}

// Persister copies a finished artifact into durable storage.
// Implemented by services.OutputWriter.
type Persister interface {
	Persist(artifact models.Artifact, text, voiceID string, converted bool) (string, error)
}

// Defaults are the voice adjustments used when the voice string doesn't
// override them.
type Defaults struct {
	Pitch   int
	Volume  int
	Emotion string
}

// Request is one speech generation call.
type Request struct {
	Text       string
	Voice      string // compact voice string, possibly an alias
	Credential string // bearer token passed through as the backend credential
	Format     models.Format
	// DefaultRate is the rate used when the voice string has no rate
	// adjustment; it comes from the request's speed field.
	DefaultRate int
}

// Result is the outcome delivered on a GenerateDetached channel.
type Result struct {
	Path string
	Err  error
}

// Pipeline wires the synthesis stages together.
type Pipeline struct {
	synth      Synthesizer
	transcoder Transcoder
	output     Persister
	temps      *tempfiles.Registry
	aliases    voice.Aliases
	defaults   Defaults
}

// New creates a pipeline from its stages.
func New(synth Synthesizer, transcoder Transcoder, output Persister, temps *tempfiles.Registry, aliases voice.Aliases, defaults Defaults) *Pipeline {
	return &Pipeline{
		synth:      synth,
		transcoder: transcoder,
		output:     output,
		temps:      temps,
		aliases:    aliases,
		defaults:   defaults,
	}
}

// Generate runs the whole pipeline on the calling goroutine and blocks until
// the audio file is ready. On success the returned path is either the final
// ephemeral artifact or, when the voice string asked for it, the durable
// copy. On failure no path is returned and every file produced along the way
// is already scheduled for cleanup.
func (p *Pipeline) Generate(ctx context.Context, req Request) (string, error) {
	name, persist := voice.StripPersist(req.Voice)
	name = p.aliases.Resolve(name)
	spec := voice.Parse(name)
	if persist {
		spec.Persist = true
	}

	rate := req.DefaultRate
	if spec.Rate != nil {
		rate = *spec.Rate
	}
	pitch := p.defaults.Pitch
	if spec.Pitch != nil {
		pitch = *spec.Pitch
	}
	volume := p.defaults.Volume
	if spec.Volume != nil {
		volume = *spec.Volume
	}

	// Every ephemeral file produced below is scheduled for cleanup when the
	// call ends — success and failure alike. The cleanup tasks are detached
	// and never delay the response.
	var ephemerals []string
	defer func() {
		for _, path := range ephemerals {
			p.temps.ScheduleCleanup(path)
		}
	}()

	raw := models.Artifact{
		Path:      p.temps.NewTemp(models.DefaultFormat.Ext()),
		Format:    models.DefaultFormat,
		Ephemeral: true,
	}
	ephemerals = append(ephemerals, raw.Path)

	sreq := services.SynthesisRequest{
		Text:       req.Text,
		Voice:      spec.BaseVoice,
		Rate:       rate,
		Pitch:      pitch,
		Volume:     volume,
		Credential: req.Credential,
		Emotion:    p.defaults.Emotion,
	}
	if err := p.synth.Synthesize(ctx, sreq, raw.Path); err != nil {
		return "", classifyRemote(err)
	}

	final := raw
	converted := false
	if req.Format != raw.Format {
		dst := models.Artifact{
			Path:      p.temps.NewTemp(req.Format.Ext()),
			Format:    req.Format,
			Ephemeral: true,
		}
		ephemerals = append(ephemerals, dst.Path)

		ok, err := p.transcoder.Transcode(ctx, raw.Path, raw.Format, req.Format, dst.Path)
		if err != nil {
			return "", &Error{Kind: KindTranscode, Err: err}
		}
		if ok {
			final = dst
			converted = true
		}
		// !ok: encoder unavailable, degraded to the untranscoded source.
	}

	if spec.Persist {
		outputPath, err := p.output.Persist(final, req.Text, spec.BaseVoice, converted)
		if err != nil {
			// Persistence never fails the request; the ephemeral artifact
			// is still a valid result.
			log.Printf("[Pipeline] Error saving output copy: %v", err)
		} else {
			return outputPath, nil
		}
	}

	return final.Path, nil
}

// GenerateDetached runs the pipeline on its own goroutine and delivers the
// outcome on a one-shot channel. For call sites that cannot block — e.g.
// code already running inside another request's processing loop — as opposed
// to Generate, which runs inline on the caller.
func (p *Pipeline) GenerateDetached(ctx context.Context, req Request) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		path, err := p.Generate(ctx, req)
		ch <- Result{Path: path, Err: err}
		close(ch)
	}()
	return ch
}

func classifyRemote(err error) error {
	if errors.Is(err, services.ErrSynthesisTimeout) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindRemote, Err: err}
}

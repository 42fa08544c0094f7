package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/lizhe2004/openai-xunjie-tts/internal/models"
	"github.com/lizhe2004/openai-xunjie-tts/internal/services"
	"github.com/lizhe2004/openai-xunjie-tts/internal/tempfiles"
	"github.com/lizhe2004/openai-xunjie-tts/internal/voice"
)

// ---------------------------------------------------------------------------
// Stage fakes
// ---------------------------------------------------------------------------

type fakeSynth struct {
	err  error
	last services.SynthesisRequest
}

func (f *fakeSynth) Synthesize(_ context.Context, req services.SynthesisRequest, destPath string) error {
	f.last = req
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(destPath, []byte("mp3-bytes"), 0644)
}

type fakeTranscoder struct {
	err       error
	unavail   bool
	calls     int
	dstFormat models.Format
}

func (f *fakeTranscoder) Transcode(_ context.Context, srcPath string, srcFormat, dstFormat models.Format, dstPath string) (bool, error) {
	f.calls++
	f.dstFormat = dstFormat
	if f.err != nil {
		return false, f.err
	}
	if f.unavail {
		return false, nil
	}
	return true, os.WriteFile(dstPath, []byte("converted-bytes"), 0644)
}

type fakePersister struct {
	err       error
	calls     int
	converted bool
	voiceID   string
	path      string
}

func (f *fakePersister) Persist(artifact models.Artifact, text, voiceID string, converted bool) (string, error) {
	f.calls++
	f.converted = converted
	f.voiceID = voiceID
	if f.err != nil {
		return "", f.err
	}
	f.path = "/out/" + voiceID + ".saved"
	return f.path, nil
}

type env struct {
	synth      *fakeSynth
	transcoder *fakeTranscoder
	persister  *fakePersister
	temps      *tempfiles.Registry
	tempDir    string
	pipeline   *Pipeline
}

func newEnv(t *testing.T, aliases voice.Aliases) *env {
	t.Helper()
	tempDir := t.TempDir()
	temps, err := tempfiles.NewRegistry(tempDir, 1, time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	e := &env{
		synth:      &fakeSynth{},
		transcoder: &fakeTranscoder{},
		persister:  &fakePersister{},
		temps:      temps,
		tempDir:    tempDir,
	}
	e.pipeline = New(e.synth, e.transcoder, e.persister, temps, aliases, Defaults{Pitch: 5, Volume: 5})
	return e
}

func baseRequest() Request {
	return Request{
		Text:        "你好",
		Voice:       "aiting",
		Credential:  "tok-123",
		Format:      models.FormatMP3,
		DefaultRate: 4,
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestGenerateDefaultFormatSkipsTranscode(t *testing.T) {
	e := newEnv(t, nil)

	path, err := e.pipeline.Generate(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !strings.HasSuffix(path, ".mp3") {
		t.Errorf("expected mp3 artifact, got %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("result file missing: %v", err)
	}
	if e.transcoder.calls != 0 {
		t.Errorf("no transcode expected for the native format, got %d calls", e.transcoder.calls)
	}
	if e.persister.calls != 0 {
		t.Errorf("no persist expected without the save marker, got %d calls", e.persister.calls)
	}
}

func TestGenerateAppliesVoiceAdjustmentsAndDefaults(t *testing.T) {
	e := newEnv(t, nil)

	req := baseRequest()
	req.Voice = "aiting-7"
	if _, err := e.pipeline.Generate(context.Background(), req); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	got := e.synth.last
	if got.Voice != "aiting" {
		t.Errorf("voice = %q, want aiting", got.Voice)
	}
	if got.Rate != 7 {
		t.Errorf("rate = %d, want 7 from the voice string", got.Rate)
	}
	if got.Pitch != 5 || got.Volume != 5 {
		t.Errorf("pitch/volume = %d/%d, want defaults 5/5", got.Pitch, got.Volume)
	}
	if got.Credential != "tok-123" {
		t.Errorf("credential = %q, want tok-123", got.Credential)
	}
}

func TestGenerateSpeedFillsUnsetRate(t *testing.T) {
	e := newEnv(t, nil)

	req := baseRequest()
	req.DefaultRate = 8
	if _, err := e.pipeline.Generate(context.Background(), req); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if e.synth.last.Rate != 8 {
		t.Errorf("rate = %d, want the request default 8", e.synth.last.Rate)
	}
}

func TestGenerateTranscodesNonDefaultFormat(t *testing.T) {
	e := newEnv(t, nil)

	req := baseRequest()
	req.Format = models.FormatWAV
	path, err := e.pipeline.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if e.transcoder.calls != 1 || e.transcoder.dstFormat != models.FormatWAV {
		t.Errorf("expected one wav transcode, got %d calls for %q", e.transcoder.calls, e.transcoder.dstFormat)
	}
	if !strings.HasSuffix(path, ".wav") {
		t.Errorf("expected wav artifact, got %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("result file missing: %v", err)
	}
	if string(data) != "converted-bytes" {
		t.Errorf("result must be the transcoded file")
	}
}

func TestGenerateDegradesWhenEncoderUnavailable(t *testing.T) {
	e := newEnv(t, nil)
	e.transcoder.unavail = true

	req := baseRequest()
	req.Format = models.FormatWAV
	path, err := e.pipeline.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !strings.HasSuffix(path, ".mp3") {
		t.Errorf("expected untranscoded mp3 fallback, got %q", path)
	}
}

func TestGenerateRemoteFailure(t *testing.T) {
	e := newEnv(t, nil)
	e.synth.err = &services.RemoteError{Op: "texttoaudio", Code: "500", Message: "text too long"}

	_, err := e.pipeline.Generate(context.Background(), baseRequest())
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindRemote {
		t.Fatalf("expected remote-kind error, got %v", err)
	}
	var rerr *services.RemoteError
	if !errors.As(err, &rerr) {
		t.Errorf("root cause must stay reachable, got %v", err)
	}
}

func TestGenerateTimeoutFailure(t *testing.T) {
	e := newEnv(t, nil)
	e.synth.err = fmt.Errorf("task abc: %w", services.ErrSynthesisTimeout)

	_, err := e.pipeline.Generate(context.Background(), baseRequest())
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindTimeout {
		t.Fatalf("expected timeout-kind error, got %v", err)
	}
}

func TestGenerateTranscodeFailure(t *testing.T) {
	e := newEnv(t, nil)
	e.transcoder.err = errors.New("ffmpeg exploded")

	req := baseRequest()
	req.Format = models.FormatAAC
	_, err := e.pipeline.Generate(context.Background(), req)
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindTranscode {
		t.Fatalf("expected transcode-kind error, got %v", err)
	}
}

func TestGeneratePersistReturnsDurablePath(t *testing.T) {
	e := newEnv(t, nil)

	req := baseRequest()
	req.Voice = "aiting+s"
	path, err := e.pipeline.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if e.persister.calls != 1 {
		t.Fatalf("expected one persist call, got %d", e.persister.calls)
	}
	if path != e.persister.path {
		t.Errorf("path = %q, want the durable copy %q", path, e.persister.path)
	}
	if e.persister.converted {
		t.Error("native-format output must be flagged as unconverted")
	}
	if e.persister.voiceID != "aiting" {
		t.Errorf("persist voice = %q, want the base voice", e.persister.voiceID)
	}
}

func TestGeneratePersistFailureKeepsEphemeralResult(t *testing.T) {
	e := newEnv(t, nil)
	e.persister.err = errors.New("disk full")

	req := baseRequest()
	req.Voice = "aiting+s"
	path, err := e.pipeline.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("persist failure must not fail the request: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("ephemeral result must still be served: %v", err)
	}
}

func TestGenerateResolvesAliasBeforeParsing(t *testing.T) {
	aliases := voice.Aliases{"nova": "aiting-3-7-2"}
	e := newEnv(t, aliases)

	req := baseRequest()
	req.Voice = "nova+s"
	if _, err := e.pipeline.Generate(context.Background(), req); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	got := e.synth.last
	if got.Voice != "aiting" || got.Rate != 3 || got.Pitch != 7 || got.Volume != 2 {
		t.Errorf("alias expansion not applied: %+v", got)
	}
	// the save marker is stripped before alias lookup, so the bare alias
	// matches and the persist intent survives
	if e.persister.calls != 1 {
		t.Errorf("expected persist from the save marker on the alias, got %d calls", e.persister.calls)
	}
}

func TestGenerateSchedulesCleanupOnFailure(t *testing.T) {
	e := newEnv(t, nil)
	e.transcoder.err = errors.New("ffmpeg exploded")

	req := baseRequest()
	req.Format = models.FormatWAV
	if _, err := e.pipeline.Generate(context.Background(), req); err == nil {
		t.Fatal("expected failure")
	}

	// The raw synthesis file was written before the transcode failed; the
	// deferred cleanup must remove it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := os.ReadDir(e.tempDir)
		if err != nil {
			t.Fatalf("failed to scan temp dir: %v", err)
		}
		if len(entries) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("intermediate files were not cleaned up after failure")
}

func TestGenerateDetachedDeliversResult(t *testing.T) {
	e := newEnv(t, nil)

	ch := e.pipeline.GenerateDetached(context.Background(), baseRequest())
	select {
	case res := <-ch:
		if res.Err != nil {
			t.Fatalf("detached generate failed: %v", res.Err)
		}
		if res.Path == "" {
			t.Error("detached result missing path")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("detached result never delivered")
	}
}

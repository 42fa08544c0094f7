package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"sync"

	"github.com/lizhe2004/openai-xunjie-tts/internal/models"
	"golang.org/x/sync/semaphore"
)

// ---------------------------------------------------------------------------
// FFmpeg transcoder
// Converts the backend's MP3 into the caller-requested format by spawning
// ffmpeg. The encoder is probed once; when it's missing the source audio is
// passed through unchanged rather than failing the request — the caller then
// receives MP3 regardless of the format it asked for (logged, not hidden).
// ---------------------------------------------------------------------------

const defaultMaxTranscodes = 2

// TranscodeError is a non-zero ffmpeg exit with its captured diagnostics.
type TranscodeError struct {
	Output string
	Err    error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("ffmpeg error during audio conversion: %v: %s", e.Err, truncate(e.Output, 500))
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

// Transcoder invokes ffmpeg to convert audio between formats.
// A weighted semaphore caps how many ffmpeg processes run at once across
// concurrent requests.
type Transcoder struct {
	sem *semaphore.Weighted

	probeOnce sync.Once
	available bool
}

// NewTranscoder creates a transcoder allowing at most maxConcurrent ffmpeg
// processes (<=0 uses the default of 2).
func NewTranscoder(maxConcurrent int64) *Transcoder {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxTranscodes
	}
	return &Transcoder{sem: semaphore.NewWeighted(maxConcurrent)}
}

// Available reports whether ffmpeg can be invoked. Probed once per process.
func (t *Transcoder) Available() bool {
	t.probeOnce.Do(func() {
		t.available = exec.Command("ffmpeg", "-version").Run() == nil
	})
	return t.available
}

// Transcode converts srcPath (in srcFormat) into dstFormat at dstPath.
// It reports converted=false in the two passthrough cases: the formats
// already match, or ffmpeg is unavailable (degradation, logged). A non-zero
// ffmpeg exit returns a TranscodeError carrying the captured output.
func (t *Transcoder) Transcode(ctx context.Context, srcPath string, srcFormat, dstFormat models.Format, dstPath string) (bool, error) {
	if srcFormat == dstFormat {
		return false, nil
	}

	if !t.Available() {
		log.Printf("[FFmpeg] FFmpeg is not available, returning unconverted %s audio instead of %s", srcFormat, dstFormat)
		return false, nil
	}

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("transcode cancelled while waiting for slot: %w", err)
	}
	defer t.sem.Release(1)

	args := transcodeArgs(srcPath, dstFormat, dstPath)
	log.Printf("[FFmpeg] Converting %s -> %s: ffmpeg %v", srcFormat, dstFormat, args)

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return false, &TranscodeError{Output: output.String(), Err: err}
	}

	log.Printf("[FFmpeg] Successfully converted audio to %s", dstFormat)
	return true, nil
}

// transcodeArgs builds the ffmpeg invocation for a target format from the
// unified encoder table. Formats without a table entry encode as AAC.
func transcodeArgs(srcPath string, dstFormat models.Format, dstPath string) []string {
	spec, ok := dstFormat.Encoder()
	if !ok {
		spec = models.EncoderSpec{Codec: "aac", Container: string(dstFormat), Bitrate: "192k"}
	}

	args := []string{"-i", srcPath, "-c:a", spec.Codec}
	if spec.Bitrate != "" {
		args = append(args, "-b:a", spec.Bitrate)
	}
	return append(args, "-f", spec.Container, "-y", dstPath)
}

package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/lizhe2004/openai-xunjie-tts/internal/models"
)

func TestTranscodeSameFormatIsNoop(t *testing.T) {
	tr := NewTranscoder(1)

	src := filepath.Join(t.TempDir(), "in.mp3")
	dst := filepath.Join(t.TempDir(), "out.mp3")

	converted, err := tr.Transcode(context.Background(), src, models.FormatMP3, models.FormatMP3, dst)
	if err != nil {
		t.Fatalf("no-op transcode failed: %v", err)
	}
	if converted {
		t.Error("matching formats must not convert")
	}
	// no subprocess ran, so no destination file appeared
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("no-op transcode must not create a destination file")
	}
}

func TestTranscodeArgs(t *testing.T) {
	tests := []struct {
		format models.Format
		want   []string
	}{
		{models.FormatAAC, []string{"-i", "in.mp3", "-c:a", "aac", "-b:a", "192k", "-f", "mp4", "-y", "out.aac"}},
		{models.FormatWAV, []string{"-i", "in.mp3", "-c:a", "pcm_s16le", "-f", "wav", "-y", "out.wav"}},
		{models.FormatOpus, []string{"-i", "in.mp3", "-c:a", "libopus", "-b:a", "192k", "-f", "ogg", "-y", "out.opus"}},
		{models.FormatFLAC, []string{"-i", "in.mp3", "-c:a", "flac", "-b:a", "192k", "-f", "flac", "-y", "out.flac"}},
	}

	for _, tt := range tests {
		got := transcodeArgs("in.mp3", tt.format, "out."+tt.format.Ext())
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.format, tt.want, got)
		}
	}
}

func TestTranscodeArgsUnknownFormatDefaultsToAAC(t *testing.T) {
	got := transcodeArgs("in.mp3", models.Format("weird"), "out.weird")
	want := []string{"-i", "in.mp3", "-c:a", "aac", "-b:a", "192k", "-f", "weird", "-y", "out.weird"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestTranscodeErrorCarriesOutput(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &TranscodeError{Output: "in.mp3: Invalid data found", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("TranscodeError must unwrap to the exec error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "Invalid data found") || !strings.Contains(msg, "exit status 1") {
		t.Errorf("diagnostic output missing from error: %q", msg)
	}
}

package services

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/lizhe2004/openai-xunjie-tts/internal/models"
)

// ---------------------------------------------------------------------------
// Durable output writer
// When a voice string carries the save marker, the finished audio is copied
// into the output directory under a deterministic name. The copy is
// independent of the source artifact: the source stays ephemeral and gets
// cleaned up on its usual schedule whether or not the copy succeeded.
// ---------------------------------------------------------------------------

// OutputWriter copies finished artifacts into durable storage.
type OutputWriter struct {
	dir string
}

// NewOutputWriter creates a writer targeting dir, creating it if needed.
func NewOutputWriter(dir string) (*OutputWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &OutputWriter{dir: dir}, nil
}

// Persist copies artifact into the output directory as
// <voice>_<timestamp>.<ext> and returns the durable path. The source file is
// copied, never moved. When the copy is the backend's own MP3 (not a local
// transcode), the request text is embedded as the ID3 title tag; a tagging
// failure is logged and does not fail the persist.
func (w *OutputWriter) Persist(artifact models.Artifact, text, voiceID string, converted bool) (string, error) {
	timestamp := time.Now().Format("20060102_150405")
	name := fmt.Sprintf("%s_%s.%s", sanitizeVoice(voiceID), timestamp, artifact.Format.Ext())
	outputPath := filepath.Join(w.dir, name)

	if err := copyFile(artifact.Path, outputPath); err != nil {
		return "", fmt.Errorf("failed to copy output file: %w", err)
	}

	if artifact.Format == models.FormatMP3 && !converted {
		if err := embedTitle(outputPath, text); err != nil {
			log.Printf("[Output] Error embedding metadata in %s: %v", outputPath, err)
		} else {
			log.Printf("[Output] Embedded text as title metadata in %s", outputPath)
		}
	}

	log.Printf("[Output] Saved audio file to %s", outputPath)
	return outputPath, nil
}

// sanitizeVoice makes a voice ID safe for the deterministic filename:
// hyphens would collide with the adjustment grammar, so they become
// underscores.
func sanitizeVoice(voiceID string) string {
	return strings.ReplaceAll(voiceID, "-", "_")
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// embedTitle writes the text as the ID3v2 title tag of an MP3 file.
func embedTitle(path, text string) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	defer tag.Close()

	tag.SetTitle(text)
	return tag.Save()
}

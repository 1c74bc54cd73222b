package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pavelanni/autograde/internal/model"
)

// Tesseract runs the local tesseract binary on image documents.
type Tesseract struct {
	Lang    string
	Timeout time.Duration
}

// NewTesseract returns an English OCR extractor with a 20 second timeout.
func NewTesseract(lang string) *Tesseract {
	if lang == "" {
		lang = "eng"
	}
	return &Tesseract{Lang: lang, Timeout: 20 * time.Second}
}

// Extract writes the image to a temporary file and returns tesseract's text.
func (t *Tesseract) Extract(ctx context.Context, doc Document) (model.Extraction, error) {
	if doc.Format != FormatImage {
		return model.Extraction{}, fmt.Errorf("%w: tesseract reads images, got %s", ErrUnsupportedFormat, doc.MIME)
	}
	f, err := os.CreateTemp("", "sheet-*.img")
	if err != nil {
		return model.Extraction{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { f.Close(); os.Remove(f.Name()) }()
	if _, err := f.Write(doc.Data); err != nil {
		return model.Extraction{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return model.Extraction{}, fmt.Errorf("close temp file: %w", err)
	}
	text, err := t.exec(ctx, f.Name())
	if err != nil {
		return model.Extraction{}, err
	}
	return model.TextExtraction(text), nil
}

func (t *Tesseract) exec(ctx context.Context, inPath string) (string, error) {
	if _, err := exec.LookPath("tesseract"); err != nil {
		return "", fmt.Errorf("%w: tesseract not found in PATH", ErrNotConfigured)
	}
	args := []string{inPath, "stdout"}
	if t.Lang != "" {
		args = append(args, "-l", t.Lang)
	}
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, "tesseract", args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", errors.New("tesseract: " + msg)
	}
	return out.String(), nil
}

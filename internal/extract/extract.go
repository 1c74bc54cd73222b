// Package extract turns uploaded answer sheets into text or structured answers.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pavelanni/autograde/internal/model"
)

var (
	// ErrUnsupportedFormat is returned for documents no extractor can read.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrNotConfigured is returned when no extraction provider is configured.
	ErrNotConfigured = errors.New("extraction provider not configured")
)

// Format classifies a document for routing to an extractor.
type Format string

const (
	FormatImage   Format = "image"
	FormatPDF     Format = "pdf"
	FormatText    Format = "text"
	FormatAnswers Format = "answers"
)

var imageTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif", "image/tiff", "image/bmp"}

// Document is one uploaded file.
type Document struct {
	Name   string
	Data   []byte
	MIME   string
	Format Format
}

// Extractor reads student answers out of a document.
type Extractor interface {
	Extract(ctx context.Context, doc Document) (model.Extraction, error)
}

// NewDocument detects the content type of data and classifies it.
func NewDocument(name string, data []byte) (Document, error) {
	mt := mimetype.Detect(data)
	doc := Document{Name: name, Data: data, MIME: mt.String()}
	switch {
	case mimetype.EqualsAny(mt.String(), imageTypes...):
		doc.Format = FormatImage
	case mt.Is("application/pdf"):
		doc.Format = FormatPDF
	case mt.Is("application/json"):
		doc.Format = FormatAnswers
	case strings.HasPrefix(mt.String(), "text/plain") && utf8.Valid(data):
		doc.Format = FormatText
	default:
		return doc, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt.String())
	}
	return doc, nil
}

// Passthrough handles documents that already contain answers as text or JSON
// and delegates everything else to Next.
type Passthrough struct {
	Next Extractor
}

// Extract parses text and JSON documents directly.
func (p Passthrough) Extract(ctx context.Context, doc Document) (model.Extraction, error) {
	switch doc.Format {
	case FormatText:
		return model.TextExtraction(string(doc.Data)), nil
	case FormatAnswers:
		var ex model.Extraction
		if err := json.Unmarshal(doc.Data, &ex); err != nil {
			return model.Extraction{}, fmt.Errorf("parse %s: %w", doc.Name, err)
		}
		if ex.Kind != model.ExtractionAnswers {
			return model.Extraction{}, fmt.Errorf("parse %s: expected an object of answers", doc.Name)
		}
		return ex, nil
	}
	if p.Next == nil {
		return model.Extraction{}, ErrNotConfigured
	}
	return p.Next.Extract(ctx, doc)
}

// Disabled is the extractor used when no provider is configured.
type Disabled struct{}

// Extract always fails with ErrNotConfigured.
func (Disabled) Extract(context.Context, Document) (model.Extraction, error) {
	return model.Extraction{}, ErrNotConfigured
}

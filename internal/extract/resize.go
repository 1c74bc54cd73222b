package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/pavelanni/autograde/internal/model"
)

// Downscaler shrinks large images before handing them to Next. Phone photos
// of answer sheets are often far larger than vision models or OCR need.
type Downscaler struct {
	Next    Extractor
	MaxSide int // longest side in pixels; 0 disables resizing
}

// Extract resizes doc if needed and delegates to Next.
func (d Downscaler) Extract(ctx context.Context, doc Document) (model.Extraction, error) {
	if d.Next == nil {
		return model.Extraction{}, ErrNotConfigured
	}
	resized, err := Downscale(doc, d.MaxSide)
	if err != nil {
		return model.Extraction{}, err
	}
	return d.Next.Extract(ctx, resized)
}

// Downscale fits an image document inside maxSide x maxSide, honouring EXIF
// orientation, and re-encodes it as JPEG. Documents that are not images,
// already fit, or cannot be decoded are returned unchanged.
func Downscale(doc Document, maxSide int) (Document, error) {
	if doc.Format != FormatImage || maxSide <= 0 {
		return doc, nil
	}
	img, err := imaging.Decode(bytes.NewReader(doc.Data), imaging.AutoOrientation(true))
	if err != nil {
		slog.Debug("image not decodable for resizing, passing through", "document", doc.Name, "mime", doc.MIME, "error", err)
		return doc, nil
	}
	b := img.Bounds()
	if b.Dx() <= maxSide && b.Dy() <= maxSide {
		return doc, nil
	}

	fitted := imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return doc, fmt.Errorf("encode resized %s: %w", doc.Name, err)
	}
	slog.Debug("downscaled image", "document", doc.Name,
		"from", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
		"to", fmt.Sprintf("%dx%d", fitted.Bounds().Dx(), fitted.Bounds().Dy()))

	doc.Data = buf.Bytes()
	doc.MIME = "image/jpeg"
	return doc, nil
}

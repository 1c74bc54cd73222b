// Package semantic scores a free-text answer by the cosine similarity of its
// embedding to the embedding of a reference answer.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/pavelanni/autograde/internal/model"
)

const (
	reasonUnavailable = "AI model failed to load. Cannot grade semantically."
	reasonEmpty       = "Student answer was empty or only whitespace."
)

var (
	// ErrProviderUnavailable is recorded when the embedding provider could not be loaded.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	// ErrEmbedding wraps failures reported by the embedding provider.
	ErrEmbedding = errors.New("embedding failed")
)

// Embedder turns texts into fixed-length vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Scorer converts embedding similarity into a bounded mark.
// It is immutable after construction and safe for concurrent use.
type Scorer struct {
	embedder Embedder
	loadErr  error
}

// New creates a Scorer backed by e. A nil embedder yields an unavailable Scorer.
func New(e Embedder) *Scorer {
	if e == nil {
		return Unavailable(ErrProviderUnavailable)
	}
	return &Scorer{embedder: e}
}

// Unavailable creates a Scorer that soft-fails every call. err records why
// the provider could not be loaded.
func Unavailable(err error) *Scorer {
	if err == nil {
		err = ErrProviderUnavailable
	}
	if !errors.Is(err, ErrProviderUnavailable) {
		err = fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return &Scorer{loadErr: err}
}

// Available reports whether an embedding provider is present.
func (s *Scorer) Available() bool {
	return s != nil && s.embedder != nil
}

// LoadErr returns the reason the provider is unavailable, or nil.
func (s *Scorer) LoadErr() error {
	if s == nil {
		return ErrProviderUnavailable
	}
	return s.loadErr
}

// Score compares candidate to reference and scales the similarity to maxMarks.
// It never returns an error: failures are reported through the reason.
func (s *Scorer) Score(ctx context.Context, reference, candidate string, maxMarks float64) model.SimilarityResult {
	if !s.Available() {
		return model.SimilarityResult{Reason: reasonUnavailable}
	}
	if strings.TrimSpace(candidate) == "" {
		return model.SimilarityResult{Reason: reasonEmpty}
	}

	sim, err := s.similarity(ctx, reference, candidate)
	if err != nil {
		slog.Warn("semantic scoring failed", "error", err)
		return model.SimilarityResult{Reason: fmt.Sprintf("Error during AI grading: %v", err)}
	}

	score := round2(sim * maxMarks)
	score = math.Max(0, math.Min(score, math.Max(maxMarks, 0)))
	return model.SimilarityResult{
		Score:      score,
		Similarity: sim,
		Reason:     fmt.Sprintf("Scored based on %.1f%% semantic similarity.", sim*100),
	}
}

func (s *Scorer) similarity(ctx context.Context, reference, candidate string) (float64, error) {
	vecs, err := s.embedder.Embed(ctx, []string{reference, candidate})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vecs) != 2 {
		return 0, fmt.Errorf("%w: expected 2 embeddings, got %d", ErrEmbedding, len(vecs))
	}
	return Cosine(vecs[0], vecs[1])
}

// Cosine returns the cosine similarity of a and b clamped to [-1, 1].
// A zero vector has similarity 0 with anything.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimensions differ: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, errors.New("empty embedding")
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(sim) {
		return 0, errors.New("similarity is not a number")
	}
	return math.Max(-1, math.Min(1, sim)), nil
}

// round2 rounds to two decimals, halves to even.
func round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

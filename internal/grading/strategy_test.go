package grading

import (
	"math"
	"strings"
	"testing"

	"github.com/pavelanni/autograde/internal/model"
)

func strPtr(s string) *string { return &s }

func TestScoreQuestion(t *testing.T) {
	tests := []struct {
		name         string
		student      *string
		spec         model.QuestionSpec
		wantAwarded  float64
		wantFeedback string
	}{
		{"exact match ignores case", strPtr("Paris"),
			model.QuestionSpec{Type: model.TypeExact, Answer: "paris", Points: 1.0}, 1, "exact match"},
		{"exact trims", strPtr("  paris "),
			model.QuestionSpec{Type: model.TypeExact, Answer: " Paris"}, 1, "exact match"},
		{"exact mismatch", strPtr("London"),
			model.QuestionSpec{Type: model.TypeExact, Answer: "Paris"}, 0, "no match"},
		{"exact numeric answer", strPtr("42"),
			model.QuestionSpec{Type: model.TypeExact, Answer: 42.0}, 1, "exact match"},
		{"no answer", nil,
			model.QuestionSpec{Type: model.TypeExact, Answer: "Paris", Points: 3.0}, 0, "no answer"},

		{"numeric within tolerance", strPtr("41.5"),
			model.QuestionSpec{Type: model.TypeNumeric, Answer: "42", Tolerance: 1.0, Points: 2.0}, 2, "within tolerance"},
		{"numeric strips units", strPtr("about 42 kg"),
			model.QuestionSpec{Type: model.TypeNumeric, Answer: "42"}, 1, "within tolerance"},
		{"numeric tolerance as string", strPtr("3.2"),
			model.QuestionSpec{Type: model.TypeNumeric, Answer: 3.14, Tolerance: "0.1"}, 1, "within tolerance"},
		{"numeric mismatch", strPtr("50"),
			model.QuestionSpec{Type: model.TypeNumeric, Answer: "42", Tolerance: 1.0, Points: 2.0}, 0, "numeric mismatch (got 50.0)"},
		{"numeric negative", strPtr("-7"),
			model.QuestionSpec{Type: model.TypeNumeric, Answer: "-7"}, 1, "within tolerance"},
		{"numeric unparseable", strPtr("forty two"),
			model.QuestionSpec{Type: model.TypeNumeric, Answer: "42"}, 0, "could not parse numeric answer"},
		{"numeric two dots", strPtr("4.2.1"),
			model.QuestionSpec{Type: model.TypeNumeric, Answer: "42"}, 0, "could not parse numeric answer"},

		{"regex search", strPtr("I think it was Mitochondria"),
			model.QuestionSpec{Type: model.TypeRegex, Pattern: `MITO\w+`}, 1, "pattern matched"},
		{"regex no match", strPtr("nucleus"),
			model.QuestionSpec{Type: model.TypeRegex, Pattern: `^mito`}, 0, "pattern not matched"},

		{"keywords partial", strPtr("the Treaty of something"),
			model.QuestionSpec{Type: model.TypeKeywords, Keywords: []string{"treaty", "versailles"}, Points: 2.0}, 1, "1/2 keywords"},
		{"keywords all", strPtr("Treaty of Versailles"),
			model.QuestionSpec{Type: model.TypeKeywords, Keywords: []string{"Treaty", "VERSAILLES"}, Points: 2.0}, 2, "2/2 keywords"},
		{"keywords none", strPtr("no idea"),
			model.QuestionSpec{Type: model.TypeKeywords, Keywords: []string{"treaty"}}, 0, "0/1 keywords"},
		{"keywords thirds rounded", strPtr("alpha"),
			model.QuestionSpec{Type: model.TypeKeywords, Keywords: []string{"alpha", "beta", "gamma"}}, 0.33, "1/3 keywords"},
		{"keywords half rounds to even", strPtr("a1"),
			model.QuestionSpec{Type: model.TypeKeywords, Keywords: []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8"}}, 0.12, "1/8 keywords"},
		{"keywords half rounds up to even", strPtr("a1 a2 a3"),
			model.QuestionSpec{Type: model.TypeKeywords, Keywords: []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8"}}, 0.38, "3/8 keywords"},

		{"fuzzy above threshold", strPtr("color"),
			model.QuestionSpec{Type: model.TypeFuzzy, Answer: "colour"}, 1, "fuzzy ratio 0.91"},
		{"fuzzy below threshold", strPtr("abcd"),
			model.QuestionSpec{Type: model.TypeFuzzy, Answer: "bcde", Threshold: 0.8}, 0, "fuzzy ratio 0.75"},
		{"fuzzy custom threshold", strPtr("abcd"),
			model.QuestionSpec{Type: model.TypeFuzzy, Answer: "bcde", Threshold: 0.7}, 1, "fuzzy ratio 0.75"},
	}

	g := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			awarded, feedback, err := g.ScoreQuestion(tt.student, tt.spec)
			if err != nil {
				t.Fatalf("ScoreQuestion: %v", err)
			}
			if math.Abs(awarded-tt.wantAwarded) > 1e-9 {
				t.Errorf("awarded = %v, want %v", awarded, tt.wantAwarded)
			}
			if feedback != tt.wantFeedback {
				t.Errorf("feedback = %q, want %q", feedback, tt.wantFeedback)
			}
		})
	}
}

func TestScoreQuestionLenient(t *testing.T) {
	g := New(WithLenientKeys(true))

	t.Run("unknown type falls back to exact", func(t *testing.T) {
		awarded, feedback, err := g.ScoreQuestion(strPtr("Paris"), model.QuestionSpec{Type: "essay", Answer: "paris"})
		if err != nil {
			t.Fatalf("ScoreQuestion: %v", err)
		}
		if awarded != 1 || feedback != "exact match" {
			t.Errorf("got (%v, %q), want (1, exact match)", awarded, feedback)
		}
	})

	t.Run("fallback without answer never matches", func(t *testing.T) {
		awarded, _, err := g.ScoreQuestion(strPtr(""), model.QuestionSpec{Type: "essay"})
		if err != nil {
			t.Fatalf("ScoreQuestion: %v", err)
		}
		if awarded != 0 {
			t.Errorf("awarded = %v, want 0", awarded)
		}
	})

	t.Run("empty keyword list", func(t *testing.T) {
		awarded, feedback, err := g.ScoreQuestion(strPtr("anything"), model.QuestionSpec{Type: model.TypeKeywords})
		if err != nil {
			t.Fatalf("ScoreQuestion: %v", err)
		}
		if awarded != 0 || feedback != "0/0 keywords" {
			t.Errorf("got (%v, %q), want (0, 0/0 keywords)", awarded, feedback)
		}
	})

	t.Run("unparseable numeric target", func(t *testing.T) {
		awarded, feedback, err := g.ScoreQuestion(strPtr("42"), model.QuestionSpec{Type: model.TypeNumeric, Answer: "forty-two"})
		if err != nil {
			t.Fatalf("ScoreQuestion: %v", err)
		}
		if awarded != 0 || feedback != "could not parse numeric answer" {
			t.Errorf("got (%v, %q)", awarded, feedback)
		}
	})
}

func TestAwardNeverExceedsPoints(t *testing.T) {
	g := New()
	spec := model.QuestionSpec{Type: model.TypeKeywords, Keywords: []string{"a", "b", "c"}, Points: 1.006}
	for _, answer := range []string{"", "a", "a b", "a b c"} {
		awarded, _, err := g.ScoreQuestion(strPtr(answer), spec)
		if err != nil {
			t.Fatalf("ScoreQuestion: %v", err)
		}
		if awarded > 1.006 {
			t.Errorf("answer %q: awarded %v exceeds points", answer, awarded)
		}
	}
}

func TestSimilarityRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"abc", "", 0},
		{"abcd", "bcde", 0.75},
		{"paris", "paris", 1},
		{"привет", "привет", 1},
	}
	for _, tt := range tests {
		got := similarityRatio(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("similarityRatio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFormatFloat(t *testing.T) {
	for in, want := range map[float64]string{50: "50.0", 41.5: "41.5", -3: "-3.0", 0.125: "0.125"} {
		if got := formatFloat(in); got != want {
			t.Errorf("formatFloat(%v) = %q, want %q", in, got, want)
		}
	}
	if !strings.HasPrefix(formatFloat(1e20), "1") {
		t.Errorf("formatFloat(1e20) = %q", formatFloat(1e20))
	}
}

package grading

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	feedbackNoAnswer       = "no answer"
	feedbackUnparseable    = "could not parse numeric answer"
	feedbackExactMatch     = "exact match"
	feedbackNoMatch        = "no match"
	feedbackWithinTol      = "within tolerance"
	feedbackPatternMatch   = "pattern matched"
	feedbackPatternNoMatch = "pattern not matched"
)

var nonNumericRegex = regexp.MustCompile(`[^0-9.\-]`)

// strategy scores one normalized student answer. The returned fraction is
// in [0, 1] and is scaled by the question's points.
type strategy interface {
	score(student string) (fraction float64, feedback string)
}

// scoreQuestion applies q's strategy to a raw student answer.
func scoreQuestion(student *string, q question) (float64, string) {
	if student == nil {
		return 0, feedbackNoAnswer
	}
	fraction, feedback := q.strategy.score(normalize(*student))
	switch {
	case fraction >= 1:
		return q.points, feedback
	case fraction <= 0:
		return 0, feedback
	default:
		return math.Min(round2(q.points*fraction), q.points), feedback
	}
}

type exactStrategy struct {
	answer    string
	hasAnswer bool
}

func (s exactStrategy) score(student string) (float64, string) {
	if s.hasAnswer && student == s.answer {
		return 1, feedbackExactMatch
	}
	return 0, feedbackNoMatch
}

type numericStrategy struct {
	target    float64
	targetOK  bool
	tolerance float64
}

func (s numericStrategy) score(student string) (float64, string) {
	if !s.targetOK {
		return 0, feedbackUnparseable
	}
	val, err := strconv.ParseFloat(nonNumericRegex.ReplaceAllString(student, ""), 64)
	if err != nil {
		return 0, feedbackUnparseable
	}
	if math.Abs(val-s.target) <= s.tolerance {
		return 1, feedbackWithinTol
	}
	return 0, fmt.Sprintf("numeric mismatch (got %s)", formatFloat(val))
}

type regexStrategy struct {
	re *regexp.Regexp
}

func (s regexStrategy) score(student string) (float64, string) {
	if s.re.MatchString(student) {
		return 1, feedbackPatternMatch
	}
	return 0, feedbackPatternNoMatch
}

type keywordsStrategy struct {
	keywords []string
}

func (s keywordsStrategy) score(student string) (float64, string) {
	matched := 0
	for _, kw := range s.keywords {
		if strings.Contains(student, kw) {
			matched++
		}
	}
	feedback := fmt.Sprintf("%d/%d keywords", matched, len(s.keywords))
	if len(s.keywords) == 0 {
		return 0, feedback
	}
	return float64(matched) / float64(len(s.keywords)), feedback
}

type fuzzyStrategy struct {
	answer    string
	threshold float64
}

func (s fuzzyStrategy) score(student string) (float64, string) {
	ratio := similarityRatio(student, s.answer)
	feedback := fmt.Sprintf("fuzzy ratio %.2f", ratio)
	if ratio >= s.threshold {
		return 1, feedback
	}
	return 0, feedback
}

// similarityRatio is the longest-matching-blocks ratio over characters.
func similarityRatio(a, b string) float64 {
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).Ratio()
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// round2 rounds to two decimals, halves to even.
func round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

// formatFloat prints integral values with a trailing ".0".
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") && math.Abs(v) < 1e16 {
		s += ".0"
	}
	return s
}

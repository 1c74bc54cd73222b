package grading

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/autograde/internal/model"
)

const (
	defaultPoints    = 1.0
	defaultThreshold = 0.8
)

// question is one compiled entry of an answer key.
type question struct {
	id       string
	points   float64
	strategy strategy
}

// CompiledKey is a validated answer key ready for scoring.
// It is immutable and safe for concurrent use.
type CompiledKey struct {
	questions []question
}

// Len returns the number of questions.
func (k *CompiledKey) Len() int {
	return len(k.questions)
}

// MaxScore returns the sum of question points.
func (k *CompiledKey) MaxScore() float64 {
	total := 0.0
	for _, q := range k.questions {
		total += q.points
	}
	return total
}

// Compile validates an answer key and prepares its strategies.
// The first malformed question aborts compilation with a *KeyError.
func (g *Grader) Compile(key *model.AnswerKey) (*CompiledKey, error) {
	if key == nil || key.Len() == 0 {
		return nil, fmt.Errorf("%w: answer key is empty", ErrInvalidInput)
	}
	ck := &CompiledKey{questions: make([]question, 0, key.Len())}
	for _, id := range key.IDs() {
		spec, _ := key.Spec(id)
		q, err := g.compileQuestion(id, spec)
		if err != nil {
			return nil, err
		}
		ck.questions = append(ck.questions, q)
	}
	return ck, nil
}

func (g *Grader) compileQuestion(id string, spec model.QuestionSpec) (question, error) {
	keyErr := func(field, format string, args ...any) error {
		return &KeyError{Question: id, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	points := defaultPoints
	if spec.Points != nil {
		p, err := toFloat(spec.Points)
		if err != nil {
			return question{}, keyErr("points", "not a number: %v", spec.Points)
		}
		if p < 0 || (p == 0 && !g.lenient) || math.IsInf(p, 0) || math.IsNaN(p) {
			return question{}, keyErr("points", "must be positive, got %v", p)
		}
		points = p
	}

	kind := spec.Type
	if !kind.IsKnown() {
		if !g.lenient {
			if kind == "" {
				return question{}, keyErr("type", "is required")
			}
			return question{}, keyErr("type", "unknown question type %q", kind)
		}
		kind = model.TypeExact
	}

	answer, hasAnswer := toText(spec.Answer)
	requireAnswer := func() error {
		if !hasAnswer && !g.lenient {
			return keyErr("answer", "is required for %s questions", kind)
		}
		return nil
	}

	q := question{id: id, points: points}
	switch kind {
	case model.TypeExact:
		if spec.Type.IsKnown() {
			if err := requireAnswer(); err != nil {
				return question{}, err
			}
		}
		q.strategy = exactStrategy{answer: normalize(answer), hasAnswer: hasAnswer}

	case model.TypeNumeric:
		if err := requireAnswer(); err != nil {
			return question{}, err
		}
		s := numericStrategy{}
		if target, err := toFloat(spec.Answer); err == nil {
			s.target, s.targetOK = target, true
		} else if !g.lenient {
			return question{}, keyErr("answer", "not a number: %v", spec.Answer)
		}
		if spec.Tolerance != nil {
			tol, err := toFloat(spec.Tolerance)
			if err != nil {
				return question{}, keyErr("tolerance", "not a number: %v", spec.Tolerance)
			}
			if tol < 0 || math.IsNaN(tol) {
				return question{}, keyErr("tolerance", "must not be negative, got %v", tol)
			}
			s.tolerance = tol
		}
		q.strategy = s

	case model.TypeRegex:
		if spec.Pattern == "" && !g.lenient {
			return question{}, keyErr("pattern", "is required for regex questions")
		}
		re, err := regexp.Compile("(?i)" + spec.Pattern)
		if err != nil {
			return question{}, keyErr("pattern", "does not compile: %v", err)
		}
		q.strategy = regexStrategy{re: re}

	case model.TypeKeywords:
		if len(spec.Keywords) == 0 && !g.lenient {
			return question{}, keyErr("keywords", "must list at least one keyword")
		}
		kws := make([]string, 0, len(spec.Keywords))
		for i, kw := range spec.Keywords {
			if kw == "" && !g.lenient {
				return question{}, keyErr("keywords", "keyword %d is empty", i+1)
			}
			kws = append(kws, strings.ToLower(kw))
		}
		q.strategy = keywordsStrategy{keywords: kws}

	case model.TypeFuzzy:
		if err := requireAnswer(); err != nil {
			return question{}, err
		}
		threshold := defaultThreshold
		if spec.Threshold != nil {
			t, err := toFloat(spec.Threshold)
			if err != nil {
				return question{}, keyErr("threshold", "not a number: %v", spec.Threshold)
			}
			if t < 0 || t > 1 || math.IsNaN(t) {
				return question{}, keyErr("threshold", "must be between 0 and 1, got %v", t)
			}
			threshold = t
		}
		q.strategy = fuzzyStrategy{answer: normalize(answer), threshold: threshold}
	}
	return q, nil
}

// toFloat accepts JSON numbers and numeric strings.
func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

// toText renders a reference answer as text. The boolean is false when absent.
func toText(v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	default:
		return fmt.Sprint(v), true
	}
}

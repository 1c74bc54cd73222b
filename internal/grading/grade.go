package grading

import (
	"fmt"
	"log/slog"

	"github.com/pavelanni/autograde/internal/model"
)

// Grader scores submissions against answer keys. A Grader holds no
// per-request state and is safe for concurrent use.
type Grader struct {
	lenient bool
}

// Option configures a Grader.
type Option func(*Grader)

// WithLenientKeys enables permissive key handling:
// unknown types fall back to exact matching and empty keyword lists are allowed.
func WithLenientKeys(b bool) Option { return func(g *Grader) { g.lenient = b } }

// New creates a Grader.
func New(opts ...Option) *Grader {
	g := &Grader{}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Grade validates the key, turns the extraction into student answers and
// scores every question of the key.
func (g *Grader) Grade(ex model.Extraction, key *model.AnswerKey) (model.GradeReport, error) {
	if key == nil || key.Len() == 0 {
		return model.GradeReport{}, fmt.Errorf("%w: answer key is required", ErrInvalidInput)
	}
	answers, err := AnswersFrom(ex)
	if err != nil {
		return model.GradeReport{}, err
	}
	ck, err := g.Compile(key)
	if err != nil {
		return model.GradeReport{}, err
	}
	return ck.Grade(answers), nil
}

// ScoreQuestion scores a single answer against a single spec.
func (g *Grader) ScoreQuestion(student *string, spec model.QuestionSpec) (float64, string, error) {
	q, err := g.compileQuestion("", spec)
	if err != nil {
		return 0, "", err
	}
	awarded, feedback := scoreQuestion(student, q)
	return awarded, feedback, nil
}

// AnswersFrom resolves an extraction into student answers. Structured
// answers are used as-is; text is parsed with ParseAnswers.
func AnswersFrom(ex model.Extraction) (model.StudentAnswers, error) {
	switch ex.Kind {
	case model.ExtractionText:
		return ParseAnswers(ex.Text), nil
	case model.ExtractionAnswers:
		if ex.Answers == nil {
			return model.StudentAnswers{}, nil
		}
		return ex.Answers, nil
	case model.ExtractionFailed:
		return nil, &ExtractionError{Cause: ex.Err}
	default:
		return nil, fmt.Errorf("%w: extracted content must be text or an answer mapping", ErrInvalidInput)
	}
}

// Grade scores answers against the compiled key.
func (k *CompiledKey) Grade(answers model.StudentAnswers) model.GradeReport {
	report := model.GradeReport{
		Details: make(map[string]model.QuestionResult, len(k.questions)),
	}
	for _, q := range k.questions {
		var student *string
		if a, ok := answers[q.id]; ok {
			student = &a
		}
		awarded, feedback := scoreQuestion(student, q)
		slog.Debug("scored question", "question", q.id, "awarded", awarded, "max", q.points, "feedback", feedback)

		report.Details[q.id] = model.QuestionResult{
			Student:  student,
			Awarded:  awarded,
			Max:      q.points,
			Feedback: feedback,
		}
		report.Score += awarded
		report.MaxScore += q.points
	}
	if report.MaxScore > 0 {
		report.Percentage = round2(100 * report.Score / report.MaxScore)
	}
	return report
}

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// QuestionType names a scoring strategy.
type QuestionType string

const (
	TypeExact    QuestionType = "exact"
	TypeNumeric  QuestionType = "numeric"
	TypeRegex    QuestionType = "regex"
	TypeKeywords QuestionType = "keywords"
	TypeFuzzy    QuestionType = "fuzzy"
)

// KnownTypes lists every strategy understood by the grader.
var KnownTypes = []QuestionType{TypeExact, TypeNumeric, TypeRegex, TypeKeywords, TypeFuzzy}

// IsKnown reports whether t is one of KnownTypes.
func (t QuestionType) IsKnown() bool {
	for _, k := range KnownTypes {
		if t == k {
			return true
		}
	}
	return false
}

// QuestionSpec is one question of an answer key as authored in JSON.
// Scalar fields are kept as decoded JSON values (string, float64 or nil)
// so that key validation can report authoring mistakes precisely.
type QuestionSpec struct {
	Type      QuestionType `json:"type"`
	Points    any          `json:"points,omitempty"`
	Answer    any          `json:"answer,omitempty"`
	Tolerance any          `json:"tolerance,omitempty"`
	Pattern   string       `json:"pattern,omitempty"`
	Keywords  []string     `json:"keywords,omitempty"`
	Threshold any          `json:"threshold,omitempty"`
}

// AnswerKey maps question identifiers to their specs, remembering the
// order in which questions were added or decoded.
type AnswerKey struct {
	order []string
	specs map[string]QuestionSpec
}

// NewAnswerKey returns an empty key.
func NewAnswerKey() *AnswerKey {
	return &AnswerKey{specs: make(map[string]QuestionSpec)}
}

// Set adds or replaces a question. Replacing keeps the original position.
func (k *AnswerKey) Set(id string, spec QuestionSpec) {
	if k.specs == nil {
		k.specs = make(map[string]QuestionSpec)
	}
	if _, ok := k.specs[id]; !ok {
		k.order = append(k.order, id)
	}
	k.specs[id] = spec
}

// IDs returns question identifiers in key order.
func (k *AnswerKey) IDs() []string {
	if k == nil {
		return nil
	}
	out := make([]string, len(k.order))
	copy(out, k.order)
	return out
}

// Spec returns the spec for id.
func (k *AnswerKey) Spec(id string) (QuestionSpec, bool) {
	if k == nil {
		return QuestionSpec{}, false
	}
	s, ok := k.specs[id]
	return s, ok
}

// Len returns the number of questions.
func (k *AnswerKey) Len() int {
	if k == nil {
		return 0
	}
	return len(k.order)
}

// UnmarshalJSON decodes a JSON object while preserving member order.
func (k *AnswerKey) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("answer key must be a JSON object")
	}
	key := NewAnswerKey()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, _ := tok.(string)
		var spec QuestionSpec
		if err := dec.Decode(&spec); err != nil {
			return fmt.Errorf("question %q: %w", id, err)
		}
		key.Set(id, spec)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*k = *key
	return nil
}

// MarshalJSON encodes the key as an object in key order.
func (k AnswerKey) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range k.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(k.specs[id])
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// StudentAnswers maps question identifier to the raw answer string.
// A missing entry means the question was not answered.
type StudentAnswers map[string]string

// QuestionResult is the graded outcome of one question.
type QuestionResult struct {
	Student  *string `json:"student"`
	Awarded  float64 `json:"awarded"`
	Max      float64 `json:"max"`
	Feedback string  `json:"feedback"`
}

// GradeReport is the aggregated outcome of grading one submission.
type GradeReport struct {
	Score      float64                   `json:"score"`
	MaxScore   float64                   `json:"max_score"`
	Percentage float64                   `json:"percentage"`
	Details    map[string]QuestionResult `json:"details"`
}

// SimilarityResult is the outcome of semantic scoring.
type SimilarityResult struct {
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
	Reason     string  `json:"reason"`
}

// ServiceConfig holds runtime parameters set via CLI flags.
type ServiceConfig struct {
	LenientKeys  bool     // fall back to exact for unknown types and allow empty keyword lists
	MaxUploadMB  int      // multipart upload ceiling
	CORSOrigins  []string // empty means same-origin only
	EmbedModel   string
	DefaultLang  string
	ExtractorTag string // llm, tesseract or none
}

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ExtractionKind tells which shape an extraction collaborator produced.
type ExtractionKind int

const (
	// ExtractionNone is the zero value: nothing usable was produced.
	ExtractionNone ExtractionKind = iota
	// ExtractionText is a free-form text blob to be parsed line by line.
	ExtractionText
	// ExtractionAnswers is an already-structured question id to answer mapping.
	ExtractionAnswers
	// ExtractionFailed carries a collaborator-reported error message.
	ExtractionFailed
)

// Extraction is the output of a text-extraction collaborator for one document.
type Extraction struct {
	Kind    ExtractionKind
	Text    string
	Answers StudentAnswers
	Err     string
}

// TextExtraction wraps a text blob.
func TextExtraction(text string) Extraction {
	return Extraction{Kind: ExtractionText, Text: text}
}

// AnswersExtraction wraps a structured mapping.
func AnswersExtraction(answers StudentAnswers) Extraction {
	if answers == nil {
		answers = StudentAnswers{}
	}
	return Extraction{Kind: ExtractionAnswers, Answers: answers}
}

// FailedExtraction records a collaborator failure.
func FailedExtraction(msg string) Extraction {
	return Extraction{Kind: ExtractionFailed, Err: msg}
}

// IsZero reports whether nothing was set.
func (e Extraction) IsZero() bool {
	return e.Kind == ExtractionNone
}

// UnmarshalJSON accepts a string (text), an object of string or null values
// (structured answers, null meaning unanswered) or {"error": "..."}.
// Any other JSON value decodes to ExtractionNone.
func (e *Extraction) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*e = Extraction{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = TextExtraction(s)
	case '{':
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if msg, ok := raw["error"]; ok && len(raw) == 1 {
			*e = FailedExtraction(fmt.Sprint(msg))
			return nil
		}
		answers := make(StudentAnswers, len(raw))
		for id, v := range raw {
			switch val := v.(type) {
			case nil:
			case string:
				answers[id] = val
			default:
				return nil
			}
		}
		*e = AnswersExtraction(answers)
	}
	return nil
}

// MarshalJSON mirrors UnmarshalJSON.
func (e Extraction) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case ExtractionText:
		return json.Marshal(e.Text)
	case ExtractionAnswers:
		return json.Marshal(map[string]string(e.Answers))
	case ExtractionFailed:
		return json.Marshal(map[string]string{"error": e.Err})
	default:
		return []byte("null"), nil
	}
}

package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	referenceAnswerRegex    = regexp.MustCompile(`(?i)</?\s*reference-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// Templates holds the built-in prompt templates.
//
//go:embed templates/*.txt
var Templates embed.FS

// PromptVariant represents a feedback tone.
type PromptVariant string

const (
	// PromptStrict points out every gap in the answer.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default feedback tone.
	PromptStandard PromptVariant = "standard"
	// PromptLenient encourages and keeps criticism brief.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce          sync.Once
	loadErr           error
	feedbackTemplates map[PromptVariant]*template.Template
	extractTemplates  map[bool]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// FeedbackData holds template data for feedback prompts.
type FeedbackData struct {
	QuestionText      string
	ReferenceAnswer   string
	Answer            string
	Score             float64
	MaxMarks          float64
	SimilarityPercent float64
}

// Load loads prompt templates from fsys. Templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		feedbackTemplates = make(map[PromptVariant]*template.Template)
		extractTemplates = make(map[bool]*template.Template)

		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			tmpl, err := parseFile(fsys, "templates/feedback_"+string(v)+".txt")
			if err != nil {
				loadErr = err
				return
			}
			feedbackTemplates[v] = tmpl
		}

		for structured, name := range map[bool]string{false: "extract_text", true: "extract_structured"} {
			tmpl, err := parseFile(fsys, "templates/"+name+".txt")
			if err != nil {
				loadErr = err
				return
			}
			extractTemplates[structured] = tmpl
		}
	})
	return loadErr
}

func parseFile(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.New("failed to read prompt file " + name + ": " + err.Error())
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, errors.New("failed to parse prompt template " + name + ": " + err.Error())
	}
	return tmpl, nil
}

// BuildFeedbackPrompt builds the system prompt asking for feedback on a
// semantically scored answer.
func BuildFeedbackPrompt(variant PromptVariant, data FeedbackData) (string, error) {
	if feedbackTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := feedbackTemplates[variant]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data.Answer = sanitizeAnswer(data.Answer)
	data.ReferenceAnswer = strings.TrimSpace(referenceAnswerRegex.ReplaceAllString(data.ReferenceAnswer, ""))

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildExtractPrompt builds the system prompt for transcribing an answer sheet.
func BuildExtractPrompt(structured bool) (string, error) {
	if extractTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := extractTemplates[structured]
	if !ok {
		return "", fmt.Errorf("templates load failed: %w", loadErr)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > 10000 {
		runes := []rune(answer)
		runes = runes[:10000]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}

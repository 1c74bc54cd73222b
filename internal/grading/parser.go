package grading

import (
	"regexp"
	"strings"

	"github.com/pavelanni/autograde/internal/model"
)

var answerLineRegex = regexp.MustCompile(`(?i)^\s*(q|question)\s*(\d+)\s*[:)\.\-]\s*(.*)$`)

// ParseAnswers extracts "q<N>: answer" lines from free-form text.
// Lines that do not look like an answer are ignored and a later line for
// the same question replaces an earlier one.
func ParseAnswers(text string) model.StudentAnswers {
	answers := make(model.StudentAnswers)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	for _, line := range strings.Split(text, "\n") {
		m := answerLineRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		answers["q"+normalizeNumber(m[2])] = strings.TrimSpace(m[3])
	}
	return answers
}

// normalizeNumber strips leading zeros, keeping a lone "0".
func normalizeNumber(digits string) string {
	n := strings.TrimLeft(digits, "0")
	if n == "" {
		return "0"
	}
	return n
}

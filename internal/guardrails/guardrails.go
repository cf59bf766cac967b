// Package guardrails screens incoming queries before any task is created.
// A rejected query surfaces to the client as a single error event.
//
// Checks, in order:
//   - empty: blank or whitespace-only text
//   - encoding: invalid UTF-8
//   - max_length: rune count above the limit
//   - prompt_injection: heuristic patterns aimed at the language model
package guardrails

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrRejected wraps every guardrail rejection.
var ErrRejected = errors.New("query rejected")

// DefaultMaxRunes is the longest accepted query.
const DefaultMaxRunes = 2000

// Check names a guardrail check.
type Check string

const (
	CheckEmpty           Check = "empty"
	CheckEncoding        Check = "encoding"
	CheckMaxLength       Check = "max_length"
	CheckPromptInjection Check = "prompt_injection"
)

// Rejection is the detail carried by a rejected query.
type Rejection struct {
	Check   Check
	Message string
}

func (r *Rejection) Error() string { return fmt.Sprintf("%s: %s", ErrRejected, r.Message) }

func (r *Rejection) Unwrap() error { return ErrRejected }

// ── Prompt Injection ────────────────────────────────────────

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|context)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`),
	regexp.MustCompile(`(?i)new\s+instructions?:\s*`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)(pretend|act\s+as\s+if)\s+you\s+(are|have)\s+no\s+(restrictions?|rules?|guidelines?|filters?)`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
}

// Validator runs the query checks.
type Validator struct {
	MaxRunes int
}

// New creates a validator with the default length limit.
func New() *Validator { return &Validator{MaxRunes: DefaultMaxRunes} }

// Validate returns nil for an acceptable query or a *Rejection wrapping
// ErrRejected.
func (v *Validator) Validate(query string) error {
	if strings.TrimSpace(query) == "" {
		return &Rejection{Check: CheckEmpty, Message: "query is empty"}
	}
	if !utf8.ValidString(query) {
		return &Rejection{Check: CheckEncoding, Message: "query is not valid UTF-8"}
	}
	limit := v.MaxRunes
	if limit <= 0 {
		limit = DefaultMaxRunes
	}
	if n := utf8.RuneCountInString(query); n > limit {
		return &Rejection{Check: CheckMaxLength, Message: fmt.Sprintf("query is %d characters; the limit is %d", n, limit)}
	}
	for _, re := range injectionPatterns {
		if re.MatchString(query) {
			return &Rejection{Check: CheckPromptInjection, Message: "query looks like a prompt injection attempt"}
		}
	}
	return nil
}

// Validate runs the default validator.
func Validate(query string) error { return New().Validate(query) }

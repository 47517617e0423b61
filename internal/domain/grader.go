package domain

import "strings"

// Verdict is the grader's judgement of one submission.
type Verdict string

const (
	VerdictCorrect   Verdict = "correct"
	VerdictIncorrect Verdict = "incorrect"
	// VerdictMalformed means the payload shape does not match the question
	// type, e.g. an optionId sent for an open question.
	VerdictMalformed Verdict = "malformed"
)

// Grade checks a submitted answer against the question's key. Pure and
// deterministic; no partial credit, no fuzzy matching beyond the open-text
// normalisation below.
func Grade(q Question, sub SubmittedAnswer) Verdict {
	switch q.Type {
	case QuestionOpen:
		if sub.Kind != AnswerText {
			return VerdictMalformed
		}
		if strings.EqualFold(normalizeOpenText(sub.Text), normalizeOpenText(q.Answer.Text)) {
			return VerdictCorrect
		}
		return VerdictIncorrect

	case QuestionSingle:
		if sub.Kind != AnswerOption {
			return VerdictMalformed
		}
		// Unknown option ids are wrong answers, not protocol violations.
		if sub.OptionID == q.Answer.OptionID {
			return VerdictCorrect
		}
		return VerdictIncorrect

	case QuestionMulti:
		if sub.Kind != AnswerOptions {
			return VerdictMalformed
		}
		if len(sub.OptionIDs) == 0 {
			return VerdictIncorrect
		}
		submitted := make(map[string]struct{}, len(sub.OptionIDs))
		for _, id := range sub.OptionIDs {
			submitted[id] = struct{}{}
		}
		if len(submitted) != len(q.Answer.OptionIDs) {
			return VerdictIncorrect
		}
		for _, id := range q.Answer.OptionIDs {
			if _, ok := submitted[id]; !ok {
				return VerdictIncorrect
			}
		}
		return VerdictCorrect
	}
	return VerdictMalformed
}

const strippedPunctuation = `.,!?;:"'`

// normalizeOpenText trims, collapses internal whitespace to single spaces and
// strips the fixed punctuation set. Case is folded at compare time.
func normalizeOpenText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, field := range strings.Fields(s) {
		cleaned := strings.Map(func(r rune) rune {
			if strings.ContainsRune(strippedPunctuation, r) {
				return -1
			}
			return r
		}, field)
		if cleaned == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(cleaned)
	}
	return b.String()
}

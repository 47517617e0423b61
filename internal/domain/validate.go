package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var errBadNickname = errors.New("nickname must be 2-64 characters without control characters")

// ValidateNickname enforces the participant nickname constraints: 2-64
// characters after trimming, no control characters.
func ValidateNickname(raw string) (string, error) {
	nickname := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(nickname)
	if n < 2 || n > 64 {
		return "", errBadNickname
	}
	for _, r := range nickname {
		if unicode.IsControl(r) {
			return "", errBadNickname
		}
	}
	return nickname, nil
}

// ValidationIssue points at one invalid quiz field.
type ValidationIssue struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// ValidateQuiz checks quiz content before it is served to a room: non-empty
// prompts, unique question and option ids, at least two options for choice
// questions, and an answer key matching the question type and referencing
// existing options.
func ValidateQuiz(quiz Quiz) []ValidationIssue {
	var issues []ValidationIssue
	add := func(field, issue string) {
		issues = append(issues, ValidationIssue{Field: field, Issue: issue})
	}

	if strings.TrimSpace(quiz.Title) == "" {
		add("title", "must not be empty")
	}
	if len(quiz.Questions) == 0 {
		add("questions", "must contain at least one question")
	}

	seen := make(map[string]struct{}, len(quiz.Questions))
	for i, q := range quiz.Questions {
		prefix := fmt.Sprintf("questions[%d]", i)
		if q.ID == "" {
			add(prefix+".id", "must not be empty")
		}
		if _, dup := seen[q.ID]; dup {
			add(prefix+".id", "must be unique")
		}
		seen[q.ID] = struct{}{}
		if q.Prompt == "" {
			add(prefix+".prompt", "must not be empty")
		}

		switch q.Type {
		case QuestionOpen:
			if len(q.Options) > 0 {
				add(prefix+".options", "must be absent for open question")
			}
			if q.Answer.Text == "" || q.Answer.OptionID != "" || len(q.Answer.OptionIDs) > 0 {
				add(prefix+".answer", "must be {text} for open question")
			}

		case QuestionSingle, QuestionMulti:
			if len(q.Options) < 2 {
				add(prefix+".options", "must contain at least 2 options")
			}
			optIDs := make(map[string]struct{}, len(q.Options))
			for j, opt := range q.Options {
				if opt.ID == "" || opt.Text == "" {
					add(fmt.Sprintf("%s.options[%d]", prefix, j), "id/text must not be empty")
				}
				if _, dup := optIDs[opt.ID]; dup {
					add(fmt.Sprintf("%s.options[%d].id", prefix, j), "must be unique")
				}
				optIDs[opt.ID] = struct{}{}
			}

			if q.Type == QuestionSingle {
				if q.Answer.OptionID == "" || q.Answer.Text != "" || len(q.Answer.OptionIDs) > 0 {
					add(prefix+".answer", "must be {optionId} for single question")
				} else if _, ok := optIDs[q.Answer.OptionID]; !ok {
					add(prefix+".answer.optionId", "must reference existing option id")
				}
			} else {
				if len(q.Answer.OptionIDs) == 0 || q.Answer.Text != "" || q.Answer.OptionID != "" {
					add(prefix+".answer", "must be {optionIds} for multi question")
				}
				keySeen := make(map[string]struct{}, len(q.Answer.OptionIDs))
				for k, id := range q.Answer.OptionIDs {
					field := fmt.Sprintf("%s.answer.optionIds[%d]", prefix, k)
					if _, dup := keySeen[id]; dup {
						add(field, "must be unique")
					}
					keySeen[id] = struct{}{}
					if _, ok := optIDs[id]; !ok {
						add(field, "must reference existing option id")
					}
				}
			}

		default:
			add(prefix+".type", "must be open, single or multi")
		}
	}
	return issues
}

package domain

import (
	"encoding/json"
	"testing"
)

func openQuestion() Question {
	return Question{
		ID:     "q1",
		Type:   QuestionOpen,
		Prompt: "Capital of France?",
		Answer: AnswerKey{Text: "Paris"},
	}
}

func singleQuestion() Question {
	return Question{
		ID:     "q2",
		Type:   QuestionSingle,
		Prompt: "2 + 2?",
		Options: []Option{
			{ID: "o1", Text: "3"},
			{ID: "o2", Text: "4"},
		},
		Answer: AnswerKey{OptionID: "o2"},
	}
}

func multiQuestion() Question {
	return Question{
		ID:     "q3",
		Type:   QuestionMulti,
		Prompt: "Even numbers?",
		Options: []Option{
			{ID: "o1", Text: "1"},
			{ID: "o2", Text: "2"},
			{ID: "o3", Text: "3"},
			{ID: "o4", Text: "4"},
		},
		Answer: AnswerKey{OptionIDs: []string{"o2", "o4"}},
	}
}

func TestGradeOpenNormalisation(t *testing.T) {
	q := openQuestion()
	cases := []struct {
		text string
		want Verdict
	}{
		{"Paris", VerdictCorrect},
		{"  paris  ", VerdictCorrect},
		{"PARIS!", VerdictCorrect},
		{"pa ris", VerdictIncorrect},
		{"'paris'", VerdictCorrect},
		{"par  is", VerdictIncorrect},
		{"London", VerdictIncorrect},
		{"", VerdictIncorrect},
	}
	for _, tc := range cases {
		got := Grade(q, SubmittedAnswer{Kind: AnswerText, Text: tc.text})
		if got != tc.want {
			t.Errorf("Grade(open, %q) = %s, want %s", tc.text, got, tc.want)
		}
	}

	// Internal whitespace collapses on both sides.
	q.Answer.Text = "New   York"
	if got := Grade(q, SubmittedAnswer{Kind: AnswerText, Text: " new york "}); got != VerdictCorrect {
		t.Fatalf("expected collapsed whitespace to match, got %s", got)
	}
}

func TestGradeSingle(t *testing.T) {
	q := singleQuestion()
	if got := Grade(q, SubmittedAnswer{Kind: AnswerOption, OptionID: "o2"}); got != VerdictCorrect {
		t.Fatalf("correct option graded %s", got)
	}
	if got := Grade(q, SubmittedAnswer{Kind: AnswerOption, OptionID: "o1"}); got != VerdictIncorrect {
		t.Fatalf("wrong option graded %s", got)
	}
	// Unknown option id is a wrong answer, not a protocol violation.
	if got := Grade(q, SubmittedAnswer{Kind: AnswerOption, OptionID: "o99"}); got != VerdictIncorrect {
		t.Fatalf("unknown option graded %s", got)
	}
}

func TestGradeMultiSetEquality(t *testing.T) {
	q := multiQuestion()
	cases := []struct {
		ids  []string
		want Verdict
	}{
		{[]string{"o4", "o2"}, VerdictCorrect},
		{[]string{"o2", "o4"}, VerdictCorrect},
		{[]string{"o2"}, VerdictIncorrect},
		{[]string{"o2", "o4", "o2"}, VerdictCorrect}, // duplicates ignored
		{[]string{"o2", "o4", "o1"}, VerdictIncorrect},
		{nil, VerdictIncorrect},
		{[]string{}, VerdictIncorrect},
	}
	for _, tc := range cases {
		got := Grade(q, SubmittedAnswer{Kind: AnswerOptions, OptionIDs: tc.ids})
		if got != tc.want {
			t.Errorf("Grade(multi, %v) = %s, want %s", tc.ids, got, tc.want)
		}
	}
}

func TestGradeShapeMismatchIsMalformed(t *testing.T) {
	if got := Grade(openQuestion(), SubmittedAnswer{Kind: AnswerOption, OptionID: "o1"}); got != VerdictMalformed {
		t.Fatalf("optionId for open question graded %s", got)
	}
	if got := Grade(singleQuestion(), SubmittedAnswer{Kind: AnswerText, Text: "4"}); got != VerdictMalformed {
		t.Fatalf("text for single question graded %s", got)
	}
	if got := Grade(multiQuestion(), SubmittedAnswer{Kind: AnswerOption, OptionID: "o2"}); got != VerdictMalformed {
		t.Fatalf("optionId for multi question graded %s", got)
	}
}

// Grading any question against its own key yields Correct.
func TestGradeRoundTrip(t *testing.T) {
	open := openQuestion()
	if got := Grade(open, SubmittedAnswer{Kind: AnswerText, Text: " " + open.Answer.Text + " "}); got != VerdictCorrect {
		t.Fatalf("open round trip graded %s", got)
	}
	single := singleQuestion()
	if got := Grade(single, SubmittedAnswer{Kind: AnswerOption, OptionID: single.Answer.OptionID}); got != VerdictCorrect {
		t.Fatalf("single round trip graded %s", got)
	}
	multi := multiQuestion()
	reversed := []string{multi.Answer.OptionIDs[1], multi.Answer.OptionIDs[0]}
	if got := Grade(multi, SubmittedAnswer{Kind: AnswerOptions, OptionIDs: reversed}); got != VerdictCorrect {
		t.Fatalf("multi reverse-order round trip graded %s", got)
	}
}

func TestParseAnswerShapes(t *testing.T) {
	sub, err := ParseAnswer(json.RawMessage(`{"text":"Paris"}`))
	if err != nil || sub.Kind != AnswerText || sub.Text != "Paris" {
		t.Fatalf("text parse: %+v err=%v", sub, err)
	}
	sub, err = ParseAnswer(json.RawMessage(`{"optionId":"o2"}`))
	if err != nil || sub.Kind != AnswerOption || sub.OptionID != "o2" {
		t.Fatalf("optionId parse: %+v err=%v", sub, err)
	}
	sub, err = ParseAnswer(json.RawMessage(`{"optionIds":["o1","o2"]}`))
	if err != nil || sub.Kind != AnswerOptions || len(sub.OptionIDs) != 2 {
		t.Fatalf("optionIds parse: %+v err=%v", sub, err)
	}

	for _, raw := range []string{`{}`, `{"text":"a","optionId":"o"}`, `[1]`, `"x"`} {
		if _, err := ParseAnswer(json.RawMessage(raw)); err == nil {
			t.Errorf("expected parse error for %s", raw)
		}
	}
}

func TestSubmittedAnswerMarshalRoundTrip(t *testing.T) {
	for _, raw := range []string{`{"text":"Paris"}`, `{"optionId":"o2"}`, `{"optionIds":["o1","o2"]}`} {
		sub, err := ParseAnswer(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		out, err := json.Marshal(sub)
		if err != nil {
			t.Fatalf("marshal %s: %v", raw, err)
		}
		again, err := ParseAnswer(out)
		if err != nil {
			t.Fatalf("reparse %s: %v", out, err)
		}
		if again.Kind != sub.Kind {
			t.Fatalf("round trip changed kind: %v -> %v", sub.Kind, again.Kind)
		}
	}
}

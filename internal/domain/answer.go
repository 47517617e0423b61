package domain

import (
	"encoding/json"
	"errors"
)

// AnswerKind tags the shape of a submitted answer payload.
type AnswerKind int

const (
	AnswerText AnswerKind = iota + 1
	AnswerOption
	AnswerOptions
)

// SubmittedAnswer is the tagged sum of the three inbound answer shapes:
// {text}, {optionId} or {optionIds}. It is produced only by ParseAnswer so
// handlers downstream never re-check field presence.
type SubmittedAnswer struct {
	Kind      AnswerKind
	Text      string
	OptionID  string
	OptionIDs []string
}

var errAnswerShape = errors.New("answer must be exactly one of {text}, {optionId}, {optionIds}")

// ParseAnswer validates raw JSON against the three disjoint answer shapes.
func ParseAnswer(raw json.RawMessage) (SubmittedAnswer, error) {
	var probe struct {
		Text      *string   `json:"text"`
		OptionID  *string   `json:"optionId"`
		OptionIDs *[]string `json:"optionIds"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return SubmittedAnswer{}, err
	}

	set := 0
	if probe.Text != nil {
		set++
	}
	if probe.OptionID != nil {
		set++
	}
	if probe.OptionIDs != nil {
		set++
	}
	if set != 1 {
		return SubmittedAnswer{}, errAnswerShape
	}

	switch {
	case probe.Text != nil:
		return SubmittedAnswer{Kind: AnswerText, Text: *probe.Text}, nil
	case probe.OptionID != nil:
		return SubmittedAnswer{Kind: AnswerOption, OptionID: *probe.OptionID}, nil
	default:
		return SubmittedAnswer{Kind: AnswerOptions, OptionIDs: *probe.OptionIDs}, nil
	}
}

// MarshalJSON renders the answer back in its wire shape, used when the
// submitted payload is persisted verbatim.
func (a SubmittedAnswer) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AnswerText:
		return json.Marshal(struct {
			Text string `json:"text"`
		}{a.Text})
	case AnswerOption:
		return json.Marshal(struct {
			OptionID string `json:"optionId"`
		}{a.OptionID})
	case AnswerOptions:
		ids := a.OptionIDs
		if ids == nil {
			ids = []string{}
		}
		return json.Marshal(struct {
			OptionIDs []string `json:"optionIds"`
		}{ids})
	}
	return nil, errAnswerShape
}

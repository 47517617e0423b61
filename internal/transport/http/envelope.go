package http

import (
	"encoding/json"

	"horoquiz/internal/app"
)

// Envelope is the wire shape of every frame in both directions:
// {event, payload, requestId?, ts?}. ts is stamped on outbound frames only,
// RFC 3339 with millisecond precision.
type Envelope struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId,omitempty"`
	TS        string          `json:"ts,omitempty"`
}

// joinPayload covers both roles; the room validates per role.
type joinPayload struct {
	Role     string `json:"role"`
	Nickname string `json:"nickname"`
	CSRF     string `json:"csrf"`
}

type answerSubmitPayload struct {
	QuestionID string          `json:"questionId"`
	Answer     json.RawMessage `json:"answer"`
}

type requestQuestionPayload struct {
	Reason string `json:"reason"`
}

func validReason(reason string) bool {
	switch reason {
	case "death", "level_up", "retry":
		return true
	}
	return false
}

// encodeFrame wraps an actor frame into a wire envelope.
func encodeFrame(f app.Frame, ts string) ([]byte, error) {
	payload, err := json.Marshal(f.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Event:     f.Event,
		Payload:   payload,
		RequestID: f.RequestID,
		TS:        ts,
	})
}

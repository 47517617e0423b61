package app

import (
	"time"

	"horoquiz/internal/domain"
)

// Inbound event names accepted over the websocket. start_quiz and end_quiz
// double as the outbound broadcasts announcing those transitions.
const (
	EvtJoinRoom        = "join_room"
	EvtAnswerSubmit    = "answer_submit"
	EvtRequestQuestion = "request_question"
	EvtRequestStats    = "request_stats"
	EvtStartQuiz       = "start_quiz"
	EvtEndQuiz         = "end_quiz"
)

// Outbound event names.
const (
	EvtJoinAck           = "join_ack"
	EvtWaitingRoomUpdate = "waiting_room_update"
	EvtQuestionPush      = "question_push"
	EvtAnswerResult      = "answer_result"
	EvtStatsUpdate       = "stats_update"
	EvtNoMoreQuestions   = "no_more_questions"
	EvtQuestionExpired   = "question_expired"
	EvtBadRequest        = "bad_request"
	EvtInternalError     = "internal_error"
)

// Error codes surfaced to clients.
const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeNicknameTaken     = "NICKNAME_TAKEN"
	CodeNicknameInUse     = "NICKNAME_IN_USE"
	CodeRoomClosed        = "ROOM_CLOSED"
	CodeRoomNotFound      = "ROOM_NOT_FOUND"
	CodeInternalError     = "INTERNAL_ERROR"
	CodeSupersededByNewer = "SUPERSEDED_BY_NEWER"
)

// Frame is one outbound message produced by the room actor, before the
// transport wraps it into a wire envelope. Critical frames carry causal
// meaning to a specific client and must never be dropped by backpressure
// handling.
type Frame struct {
	Event     string
	Payload   any
	RequestID string
	Critical  bool
}

// Conn is the actor's handle to one websocket connection. Send enqueues a
// frame without blocking and reports whether the connection still accepts
// frames. Kick asks the transport to drain and close the connection.
type Conn interface {
	Send(f Frame) bool
	Kick(reason string)
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type JoinAckPayload struct {
	SessionID int64                `json:"sessionId"`
	Role      string               `json:"role"`
	Nickname  string               `json:"nickname,omitempty"`
	Status    domain.SessionStatus `json:"status"`
	GameMode  domain.GameMode      `json:"gameMode"`
}

type WaitingParticipant struct {
	Nickname string `json:"nickname"`
	State    string `json:"state"`
}

type WaitingRoomPayload struct {
	SessionID    int64                `json:"sessionId"`
	Participants []WaitingParticipant `json:"participants"`
}

type StartQuizPayload struct {
	SessionID int64           `json:"sessionId"`
	GameMode  domain.GameMode `json:"gameMode"`
	StartedAt string          `json:"startedAt"`
}

type QuestionPushPayload struct {
	Question domain.QuestionPublic `json:"question"`
	Reason   string                `json:"reason"`
}

type AnswerResultPayload struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
	NextAction string `json:"nextAction"`
}

type ClassStat struct {
	CorrectPct float64 `json:"correctPct"`
	WrongPct   float64 `json:"wrongPct"`
}

type StudentStat struct {
	Nickname   string  `json:"nickname"`
	Correct    int     `json:"correct"`
	Wrong      int     `json:"wrong"`
	CorrectPct float64 `json:"correctPct"`
}

type StatsPayload struct {
	Class    ClassStat     `json:"class"`
	Students []StudentStat `json:"students"`
}

type EndQuizPayload struct {
	SessionID    int64  `json:"sessionId"`
	EndedAt      string `json:"endedAt"`
	ResultsReady bool   `json:"resultsReady"`
}

type QuestionExpiredPayload struct {
	QuestionID string `json:"questionId"`
}

type EmptyPayload struct{}

// WireTime formats timestamps for the wire: RFC 3339 with millisecond
// precision in UTC.
func WireTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

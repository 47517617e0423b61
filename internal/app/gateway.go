package app

import (
	"context"
	"time"

	"horoquiz/internal/domain"
)

// SessionSnapshot is everything a room needs to materialise: session
// metadata plus any already-persisted participants, question states and
// aggregates. Quiz content is loaded separately through QuizRepository.
type SessionSnapshot = domain.SessionSnapshot

// SessionGateway is the narrow persistence surface the room actor depends
// on. Implementations must classify failures as domain.TransientStoreError
// or domain.PermanentStoreError; anything transient is retried on the
// actor's own goroutine. All writes for one room are issued from that
// room's serialized context, so implementations need no intra-room
// transactional isolation, only safety against concurrent rooms.
type SessionGateway interface {
	LoadSession(ctx context.Context, roomCode string) (SessionSnapshot, error)
	// CreateParticipant returns domain.ErrNicknameTaken when the
	// (session, nickname) unique constraint fires.
	CreateParticipant(ctx context.Context, sessionID int64, nickname string, connectedAt time.Time) (int64, error)
	// RecordAnswer is idempotent on (session, participant, question, attemptNo).
	RecordAnswer(ctx context.Context, rec domain.AnswerRecord) error
	UpsertQuestionState(ctx context.Context, qs domain.QuestionState) error
	UpsertAggregate(ctx context.Context, agg domain.Aggregate) error
	SetSessionStatus(ctx context.Context, sessionID int64, status domain.SessionStatus, startedAt, endedAt *time.Time) error
	MarkParticipantLeft(ctx context.Context, participantID int64, leftAt time.Time) error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// RoomPresence marks rooms live in a shared store so other instances and
// operators can see them. Best-effort; errors are swallowed by callers.
type RoomPresence interface {
	MarkLive(ctx context.Context, roomCode string)
	Clear(ctx context.Context, roomCode string)
}

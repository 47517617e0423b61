package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"horoquiz/internal/app"
	"horoquiz/internal/domain"
)

// Gateway is the durable app.SessionGateway on Postgres via bun. The class
// aggregate row is stored with participant_id = 0 so the (session,
// participant) key stays non-null and upsertable.
type Gateway struct {
	db *bun.DB
}

func NewGateway(db *bun.DB) *Gateway {
	return &Gateway{db: db}
}

type sessionRow struct {
	bun.BaseModel `bun:"table:sessions"`

	ID        int64      `bun:"id,pk,autoincrement"`
	RoomCode  string     `bun:"room_code,notnull"`
	JoinToken string     `bun:"join_token,notnull"`
	CSRFToken string     `bun:"csrf_token,notnull"`
	QuizID    string     `bun:"quiz_id,notnull"`
	TeacherID int64      `bun:"teacher_id,notnull"`
	GameMode  string     `bun:"game_mode,notnull"`
	Status    string     `bun:"status,notnull"`
	StartedAt *time.Time `bun:"started_at"`
	EndedAt   *time.Time `bun:"ended_at"`
}

type participantRow struct {
	bun.BaseModel `bun:"table:session_participants"`

	ID          int64      `bun:"id,pk,autoincrement"`
	SessionID   int64      `bun:"session_id,notnull"`
	Nickname    string     `bun:"nickname,notnull"`
	JoinState   string     `bun:"join_state,notnull"`
	ConnectedAt time.Time  `bun:"connected_at,notnull"`
	LeftAt      *time.Time `bun:"left_at"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:session_answers"`

	SessionID     int64     `bun:"session_id,pk"`
	ParticipantID int64     `bun:"participant_id,pk"`
	QuestionID    string    `bun:"question_id,pk"`
	AttemptNo     int       `bun:"attempt_no,pk"`
	Payload       []byte    `bun:"payload,type:jsonb"`
	Verdict       string    `bun:"verdict,notnull"`
	AnsweredAt    time.Time `bun:"answered_at,notnull"`
}

type questionStateRow struct {
	bun.BaseModel `bun:"table:session_question_states"`

	SessionID      int64     `bun:"session_id,pk"`
	ParticipantID  int64     `bun:"participant_id,pk"`
	QuestionID     string    `bun:"question_id,pk"`
	Attempts       int       `bun:"attempts,notnull"`
	IsCorrect      bool      `bun:"is_correct,notnull"`
	FirstAttemptAt time.Time `bun:"first_attempt_at,notnull"`
	LastAttemptAt  time.Time `bun:"last_attempt_at,notnull"`
}

type aggregateRow struct {
	bun.BaseModel `bun:"table:session_stats_aggregate"`

	SessionID     int64     `bun:"session_id,pk"`
	ParticipantID int64     `bun:"participant_id,pk"` // 0 is the class row
	Correct       int       `bun:"correct,notnull"`
	Wrong         int       `bun:"wrong,notnull"`
	CorrectPct    float64   `bun:"correct_pct,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

// CreateSession seeds a session row the way the external HTTP layer would;
// exported for the integration suite.
func (g *Gateway) CreateSession(ctx context.Context, quizID string, teacherID int64, gameMode domain.GameMode) (domain.Session, error) {
	row := &sessionRow{
		RoomCode:  domain.NewRoomCode(),
		JoinToken: domain.NewJoinToken(),
		CSRFToken: domain.NewJoinToken(),
		QuizID:    quizID,
		TeacherID: teacherID,
		GameMode:  string(gameMode),
		Status:    string(domain.StatusWaiting),
	}
	if _, err := g.db.NewInsert().Model(row).Returning("id").Exec(ctx); err != nil {
		return domain.Session{}, classify(err)
	}
	return domain.Session{
		ID:        row.ID,
		RoomCode:  row.RoomCode,
		JoinToken: row.JoinToken,
		CSRFToken: row.CSRFToken,
		QuizID:    row.QuizID,
		TeacherID: row.TeacherID,
		GameMode:  gameMode,
		Status:    domain.StatusWaiting,
	}, nil
}

func (g *Gateway) LoadSession(ctx context.Context, roomCode string) (app.SessionSnapshot, error) {
	var session sessionRow
	err := g.db.NewSelect().Model(&session).Where("room_code = ?", roomCode).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return app.SessionSnapshot{}, domain.ErrRoomNotFound
		}
		return app.SessionSnapshot{}, classify(err)
	}

	snap := app.SessionSnapshot{Session: domain.Session{
		ID:        session.ID,
		RoomCode:  session.RoomCode,
		JoinToken: session.JoinToken,
		CSRFToken: session.CSRFToken,
		QuizID:    session.QuizID,
		TeacherID: session.TeacherID,
		GameMode:  domain.GameMode(session.GameMode),
		Status:    domain.SessionStatus(session.Status),
		StartedAt: session.StartedAt,
		EndedAt:   session.EndedAt,
	}}

	var participants []participantRow
	if err := g.db.NewSelect().Model(&participants).Where("session_id = ?", session.ID).Order("id").Scan(ctx); err != nil {
		return app.SessionSnapshot{}, classify(err)
	}
	for _, p := range participants {
		snap.Participants = append(snap.Participants, domain.Participant{
			ID:          p.ID,
			SessionID:   p.SessionID,
			Nickname:    p.Nickname,
			JoinState:   p.JoinState,
			ConnectedAt: p.ConnectedAt,
			LeftAt:      p.LeftAt,
		})
	}

	var states []questionStateRow
	if err := g.db.NewSelect().Model(&states).Where("session_id = ?", session.ID).Scan(ctx); err != nil {
		return app.SessionSnapshot{}, classify(err)
	}
	for _, qs := range states {
		snap.QuestionStates = append(snap.QuestionStates, domain.QuestionState{
			SessionID:      qs.SessionID,
			ParticipantID:  qs.ParticipantID,
			QuestionID:     qs.QuestionID,
			Attempts:       qs.Attempts,
			IsCorrect:      qs.IsCorrect,
			FirstAttemptAt: qs.FirstAttemptAt,
			LastAttemptAt:  qs.LastAttemptAt,
		})
	}

	var aggregates []aggregateRow
	if err := g.db.NewSelect().Model(&aggregates).Where("session_id = ?", session.ID).Scan(ctx); err != nil {
		return app.SessionSnapshot{}, classify(err)
	}
	for _, agg := range aggregates {
		out := domain.Aggregate{
			SessionID:  agg.SessionID,
			Correct:    agg.Correct,
			Wrong:      agg.Wrong,
			CorrectPct: agg.CorrectPct,
			UpdatedAt:  agg.UpdatedAt,
		}
		if agg.ParticipantID != 0 {
			pid := agg.ParticipantID
			out.ParticipantID = &pid
		}
		snap.Aggregates = append(snap.Aggregates, out)
	}
	return snap, nil
}

func (g *Gateway) CreateParticipant(ctx context.Context, sessionID int64, nickname string, connectedAt time.Time) (int64, error) {
	row := &participantRow{
		SessionID:   sessionID,
		Nickname:    nickname,
		JoinState:   domain.JoinWaiting,
		ConnectedAt: connectedAt,
	}
	if _, err := g.db.NewInsert().Model(row).Returning("id").Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return 0, domain.ErrNicknameTaken
		}
		return 0, classify(err)
	}
	return row.ID, nil
}

func (g *Gateway) RecordAnswer(ctx context.Context, rec domain.AnswerRecord) error {
	row := &answerRow{
		SessionID:     rec.SessionID,
		ParticipantID: rec.ParticipantID,
		QuestionID:    rec.QuestionID,
		AttemptNo:     rec.AttemptNo,
		Payload:       rec.Payload,
		Verdict:       string(rec.Verdict),
		AnsweredAt:    rec.AnsweredAt,
	}
	// Retries may replay the same attempt; the key makes that a no-op.
	_, err := g.db.NewInsert().Model(row).
		On("CONFLICT (session_id, participant_id, question_id, attempt_no) DO NOTHING").
		Exec(ctx)
	return classify(err)
}

func (g *Gateway) UpsertQuestionState(ctx context.Context, qs domain.QuestionState) error {
	row := &questionStateRow{
		SessionID:      qs.SessionID,
		ParticipantID:  qs.ParticipantID,
		QuestionID:     qs.QuestionID,
		Attempts:       qs.Attempts,
		IsCorrect:      qs.IsCorrect,
		FirstAttemptAt: qs.FirstAttemptAt,
		LastAttemptAt:  qs.LastAttemptAt,
	}
	_, err := g.db.NewInsert().Model(row).
		On("CONFLICT (session_id, participant_id, question_id) DO UPDATE").
		Set("attempts = EXCLUDED.attempts").
		Set("is_correct = session_question_states.is_correct OR EXCLUDED.is_correct").
		Set("last_attempt_at = EXCLUDED.last_attempt_at").
		Exec(ctx)
	return classify(err)
}

func (g *Gateway) UpsertAggregate(ctx context.Context, agg domain.Aggregate) error {
	row := &aggregateRow{
		SessionID:  agg.SessionID,
		Correct:    agg.Correct,
		Wrong:      agg.Wrong,
		CorrectPct: agg.CorrectPct,
		UpdatedAt:  agg.UpdatedAt,
	}
	if agg.ParticipantID != nil {
		row.ParticipantID = *agg.ParticipantID
	}
	_, err := g.db.NewInsert().Model(row).
		On("CONFLICT (session_id, participant_id) DO UPDATE").
		Set("correct = EXCLUDED.correct").
		Set("wrong = EXCLUDED.wrong").
		Set("correct_pct = EXCLUDED.correct_pct").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return classify(err)
}

func (g *Gateway) SetSessionStatus(ctx context.Context, sessionID int64, status domain.SessionStatus, startedAt, endedAt *time.Time) error {
	q := g.db.NewUpdate().Model((*sessionRow)(nil)).
		Set("status = ?", string(status)).
		Where("id = ?", sessionID)
	if startedAt != nil {
		q = q.Set("started_at = ?", *startedAt)
	}
	if endedAt != nil {
		q = q.Set("ended_at = ?", *endedAt)
	}
	_, err := q.Exec(ctx)
	return classify(err)
}

func (g *Gateway) MarkParticipantLeft(ctx context.Context, participantID int64, leftAt time.Time) error {
	_, err := g.db.NewUpdate().Model((*participantRow)(nil)).
		Set("join_state = ?", domain.JoinLeft).
		Set("left_at = ?", leftAt).
		Where("id = ?", participantID).
		Exec(ctx)
	return classify(err)
}

// classify buckets driver failures into the orchestrator's retry taxonomy:
// connection-level trouble and timeouts are transient, anything the SQL
// layer rejects outright is permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Transient(err)
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		code := pgErr.Field('C')
		// Class 08: connection exceptions; 57P01/57P02/57P03: shutdown and
		// cannot-connect-now; 40001/40P01: serialization/deadlock.
		if strings.HasPrefix(code, "08") || strings.HasPrefix(code, "57P") ||
			code == "40001" || code == "40P01" {
			return domain.Transient(err)
		}
		return domain.Permanent(err)
	}
	// Anything else (dial errors, resets, driver bad state) is worth a retry.
	return domain.Transient(err)
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}

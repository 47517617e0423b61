package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"horoquiz/internal/domain"
)

// Gateway is an in-memory implementation of app.SessionGateway, used by the
// test suites and by demo mode when no Postgres is configured.
type Gateway struct {
	mu sync.Mutex

	nextSessionID     int64
	nextParticipantID int64

	sessions     map[int64]*domain.Session
	byRoomCode   map[string]int64
	participants map[int64]*domain.Participant
	answers      map[string]domain.AnswerRecord
	states       map[string]domain.QuestionState
	aggregates   map[string]domain.Aggregate
}

func NewGateway() *Gateway {
	return &Gateway{
		nextSessionID:     1,
		nextParticipantID: 1,
		sessions:          make(map[int64]*domain.Session),
		byRoomCode:        make(map[string]int64),
		participants:      make(map[int64]*domain.Participant),
		answers:           make(map[string]domain.AnswerRecord),
		states:            make(map[string]domain.QuestionState),
		aggregates:        make(map[string]domain.Aggregate),
	}
}

// CreateSession seeds a session row the way the external HTTP layer would.
func (g *Gateway) CreateSession(quizID string, teacherID int64, gameMode domain.GameMode) domain.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextSessionID
	g.nextSessionID++
	session := domain.Session{
		ID:        id,
		RoomCode:  domain.NewRoomCode(),
		JoinToken: domain.NewJoinToken(),
		CSRFToken: domain.NewJoinToken(),
		QuizID:    quizID,
		TeacherID: teacherID,
		GameMode:  gameMode,
		Status:    domain.StatusWaiting,
	}
	g.sessions[id] = &session
	g.byRoomCode[session.RoomCode] = id
	return session
}

func (g *Gateway) LoadSession(_ context.Context, roomCode string) (domain.SessionSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.byRoomCode[roomCode]
	if !ok {
		return domain.SessionSnapshot{}, domain.ErrRoomNotFound
	}
	snap := domain.SessionSnapshot{Session: *g.sessions[id]}
	for _, p := range g.participants {
		if p.SessionID == id {
			snap.Participants = append(snap.Participants, *p)
		}
	}
	for _, qs := range g.states {
		if qs.SessionID == id {
			snap.QuestionStates = append(snap.QuestionStates, qs)
		}
	}
	for _, agg := range g.aggregates {
		if agg.SessionID == id {
			snap.Aggregates = append(snap.Aggregates, agg)
		}
	}
	return snap, nil
}

func (g *Gateway) CreateParticipant(_ context.Context, sessionID int64, nickname string, connectedAt time.Time) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.participants {
		if p.SessionID == sessionID && p.Nickname == nickname {
			return 0, domain.ErrNicknameTaken
		}
	}
	id := g.nextParticipantID
	g.nextParticipantID++
	g.participants[id] = &domain.Participant{
		ID:          id,
		SessionID:   sessionID,
		Nickname:    nickname,
		JoinState:   domain.JoinWaiting,
		ConnectedAt: connectedAt,
	}
	return id, nil
}

func (g *Gateway) RecordAnswer(_ context.Context, rec domain.AnswerRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := fmt.Sprintf("%d/%d/%s/%d", rec.SessionID, rec.ParticipantID, rec.QuestionID, rec.AttemptNo)
	if _, dup := g.answers[key]; dup {
		// Idempotent on the attempt key.
		return nil
	}
	g.answers[key] = rec
	return nil
}

func (g *Gateway) UpsertQuestionState(_ context.Context, qs domain.QuestionState) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := fmt.Sprintf("%d/%d/%s", qs.SessionID, qs.ParticipantID, qs.QuestionID)
	g.states[key] = qs
	return nil
}

func (g *Gateway) UpsertAggregate(_ context.Context, agg domain.Aggregate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := fmt.Sprintf("%d/class", agg.SessionID)
	if agg.ParticipantID != nil {
		key = fmt.Sprintf("%d/%d", agg.SessionID, *agg.ParticipantID)
	}
	g.aggregates[key] = agg
	return nil
}

func (g *Gateway) SetSessionStatus(_ context.Context, sessionID int64, status domain.SessionStatus, startedAt, endedAt *time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	session, ok := g.sessions[sessionID]
	if !ok {
		return domain.Permanent(fmt.Errorf("session %d not found", sessionID))
	}
	session.Status = status
	if startedAt != nil {
		session.StartedAt = startedAt
	}
	if endedAt != nil {
		session.EndedAt = endedAt
	}
	return nil
}

func (g *Gateway) MarkParticipantLeft(_ context.Context, participantID int64, leftAt time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.participants[participantID]
	if !ok {
		return domain.Permanent(fmt.Errorf("participant %d not found", participantID))
	}
	p.JoinState = domain.JoinLeft
	p.LeftAt = &leftAt
	return nil
}

// Answers returns the recorded answers for one (participant, question),
// ordered by attempt number. Test helper.
func (g *Gateway) Answers(participantID int64, questionID string) []domain.AnswerRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.AnswerRecord
	for attempt := 1; ; attempt++ {
		found := false
		for _, rec := range g.answers {
			if rec.ParticipantID == participantID && rec.QuestionID == questionID && rec.AttemptNo == attempt {
				out = append(out, rec)
				found = true
				break
			}
		}
		if !found {
			return out
		}
	}
}

// Aggregate returns the stored aggregate row; nil participantID selects the
// class row. Test helper.
func (g *Gateway) Aggregate(sessionID int64, participantID *int64) (domain.Aggregate, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := fmt.Sprintf("%d/class", sessionID)
	if participantID != nil {
		key = fmt.Sprintf("%d/%d", sessionID, *participantID)
	}
	agg, ok := g.aggregates[key]
	return agg, ok
}

// Participant returns the stored participant row. Test helper.
func (g *Gateway) Participant(participantID int64) (domain.Participant, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.participants[participantID]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

package memory

import (
	"context"
	"testing"
	"time"

	"horoquiz/internal/domain"
)

func TestGatewayLifecycle(t *testing.T) {
	ctx := context.Background()
	gw := NewGateway()

	session := gw.CreateSession("quiz-1", 1, domain.ModePlatformer)
	if !domain.ValidRoomCode(session.RoomCode) {
		t.Fatalf("bad room code %q", session.RoomCode)
	}

	snap, err := gw.LoadSession(ctx, session.RoomCode)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Session.Status != domain.StatusWaiting || snap.Session.QuizID != "quiz-1" {
		t.Fatalf("snapshot %+v", snap.Session)
	}

	if _, err := gw.LoadSession(ctx, "ZZZZZZ"); err != domain.ErrRoomNotFound {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	now := time.Now()
	pid, err := gw.CreateParticipant(ctx, session.ID, "alice", now)
	if err != nil {
		t.Fatalf("create participant: %v", err)
	}
	if _, err := gw.CreateParticipant(ctx, session.ID, "alice", now); err != domain.ErrNicknameTaken {
		t.Fatalf("expected ErrNicknameTaken, got %v", err)
	}

	// Recording the same attempt twice is a no-op.
	rec := domain.AnswerRecord{
		SessionID: session.ID, ParticipantID: pid, QuestionID: "q1",
		AttemptNo: 1, Payload: []byte(`{"optionId":"o1"}`),
		Verdict: domain.VerdictCorrect, AnsweredAt: now,
	}
	if err := gw.RecordAnswer(ctx, rec); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := gw.RecordAnswer(ctx, rec); err != nil {
		t.Fatalf("record twice: %v", err)
	}
	if recs := gw.Answers(pid, "q1"); len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}

	if err := gw.MarkParticipantLeft(ctx, pid, now); err != nil {
		t.Fatalf("mark left: %v", err)
	}
	p, ok := gw.Participant(pid)
	if !ok || p.JoinState != domain.JoinLeft || p.LeftAt == nil {
		t.Fatalf("participant %+v", p)
	}

	ended := time.Now()
	if err := gw.SetSessionStatus(ctx, session.ID, domain.StatusFinished, nil, &ended); err != nil {
		t.Fatalf("set status: %v", err)
	}
	snap, _ = gw.LoadSession(ctx, session.RoomCode)
	if snap.Session.Status != domain.StatusFinished || snap.Session.EndedAt == nil {
		t.Fatalf("session %+v", snap.Session)
	}
}

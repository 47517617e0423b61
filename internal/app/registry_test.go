package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"horoquiz/internal/domain"
	"horoquiz/internal/infra/memory"
)

func newRegistryFixture(t *testing.T) (*Registry, *memory.Gateway, domain.Session) {
	t.Helper()
	gw := memory.NewGateway()
	quiz := twoQuestionQuiz()
	repo := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{quiz.ID: quiz}), time.Minute)
	session := gw.CreateSession(quiz.ID, 1, domain.ModeClassic)
	return NewRegistry(gw, repo, nil, RoomConfig{}, nil), gw, session
}

func TestRegistryAcquireMaterialises(t *testing.T) {
	reg, _, session := newRegistryFixture(t)
	ctx := context.Background()

	room, err := reg.Acquire(ctx, session.RoomCode)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer room.Release()
	if room.Code() != session.RoomCode {
		t.Fatalf("room code %q", room.Code())
	}

	again, err := reg.Acquire(ctx, session.RoomCode)
	if err != nil {
		t.Fatalf("acquire again: %v", err)
	}
	defer again.Release()
	if again != room {
		t.Fatal("expected the same live room instance")
	}
}

func TestRegistryUnknownRoom(t *testing.T) {
	reg, _, _ := newRegistryFixture(t)
	if _, err := reg.Acquire(context.Background(), "ZZZZZZ"); err != domain.ErrRoomNotFound {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRegistryRefusesFinishedSession(t *testing.T) {
	reg, gw, session := newRegistryFixture(t)
	ended := time.Now()
	if err := gw.SetSessionStatus(context.Background(), session.ID, domain.StatusFinished, nil, &ended); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := reg.Acquire(context.Background(), session.RoomCode); err != domain.ErrRoomClosed {
		t.Fatalf("expected ErrRoomClosed, got %v", err)
	}
}

// Concurrent acquirers share one materialisation.
func TestRegistryConcurrentAcquire(t *testing.T) {
	reg, _, session := newRegistryFixture(t)
	ctx := context.Background()

	const n = 16
	rooms := make([]*Room, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := reg.Acquire(ctx, session.RoomCode)
			if err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			rooms[i] = room
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if rooms[i] != rooms[0] {
			t.Fatalf("acquirer %d got a different room", i)
		}
	}
	for _, room := range rooms {
		room.Release()
	}
}

// A finished room leaves the registry once its last socket detaches, and a
// later acquire is refused from storage.
func TestRegistryDisposal(t *testing.T) {
	reg, _, session := newRegistryFixture(t)
	ctx := context.Background()

	room, err := reg.Acquire(ctx, session.RoomCode)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	teacher := &fakeConn{}
	room.Join(teacher, "teacher", "", session.CSRFToken, "")
	teacher.waitFor(t, EvtJoinAck)
	room.StartQuiz(teacher, "")
	teacher.waitFor(t, EvtStartQuiz)
	room.EndQuiz(teacher, "")
	teacher.waitFor(t, EvtEndQuiz)

	room.ConnClosed(teacher)
	room.Release()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Lookup(session.RoomCode); !ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := reg.Lookup(session.RoomCode); ok {
		t.Fatal("room should be disposed after finish + release")
	}
	select {
	case <-room.Done():
	default:
		t.Fatal("room done channel should be closed")
	}

	if _, err := reg.Acquire(ctx, session.RoomCode); err != domain.ErrRoomClosed {
		t.Fatalf("expected ErrRoomClosed after disposal, got %v", err)
	}
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"horoquiz/internal/domain"
)

// Registry is the process-wide map from room code to live room. Rooms
// materialise lazily from storage on first acquire and are removed once
// they finish and their last socket detaches.
type Registry struct {
	gw       SessionGateway
	quizzes  QuizRepository
	presence RoomPresence
	cfg      RoomConfig
	log      *slog.Logger
	sf       singleflight.Group

	// mu guards the map only and is never held across I/O.
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry wires the registry. presence may be nil.
func NewRegistry(gw SessionGateway, quizzes QuizRepository, presence RoomPresence, cfg RoomConfig, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		gw:       gw,
		quizzes:  quizzes,
		presence: presence,
		cfg:      cfg,
		log:      log,
		rooms:    make(map[string]*Room),
	}
}

// Acquire returns the live room for roomCode, materialising it from storage
// if needed, with a socket reference already taken. Callers must Release.
// Concurrent acquirers of the same code share one materialisation.
func (reg *Registry) Acquire(ctx context.Context, roomCode string) (*Room, error) {
	for {
		reg.mu.Lock()
		room, ok := reg.rooms[roomCode]
		reg.mu.Unlock()
		if ok {
			if room.Retain() {
				return room, nil
			}
			// Raced with disposal; materialise a fresh room.
		}

		v, err, _ := reg.sf.Do(roomCode, func() (interface{}, error) {
			return reg.materialize(ctx, roomCode)
		})
		if err != nil {
			return nil, err
		}
		room = v.(*Room)
		if room.Retain() {
			return room, nil
		}
		// The shared room died between materialisation and retain; loop.
	}
}

func (reg *Registry) materialize(ctx context.Context, roomCode string) (*Room, error) {
	reg.mu.Lock()
	if room, ok := reg.rooms[roomCode]; ok {
		reg.mu.Unlock()
		return room, nil
	}
	reg.mu.Unlock()

	snap, err := reg.gw.LoadSession(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	if snap.Session.Status == domain.StatusFinished {
		return nil, domain.ErrRoomClosed
	}
	quiz, err := reg.quizzes.GetQuiz(ctx, snap.Session.QuizID)
	if err != nil {
		return nil, err
	}
	if issues := domain.ValidateQuiz(quiz); len(issues) > 0 {
		return nil, fmt.Errorf("quiz %s failed validation: %+v", quiz.ID, issues)
	}

	room := NewRoom(snap, quiz, reg.gw, reg.cfg, reg.log)
	room.onDispose = reg.remove

	reg.mu.Lock()
	if existing, ok := reg.rooms[roomCode]; ok {
		// A concurrent materialisation won; use it.
		reg.mu.Unlock()
		return existing, nil
	}
	reg.rooms[roomCode] = room
	reg.mu.Unlock()

	room.start()
	if reg.presence != nil {
		reg.presence.MarkLive(ctx, roomCode)
	}
	reg.log.Info("room materialised", "room", roomCode, "quiz", quiz.ID)
	return room, nil
}

func (reg *Registry) remove(room *Room) {
	code := room.Code()
	reg.mu.Lock()
	if reg.rooms[code] == room {
		delete(reg.rooms, code)
	}
	reg.mu.Unlock()
	if reg.presence != nil {
		reg.presence.Clear(context.Background(), code)
	}
	reg.log.Info("room disposed", "room", code)
}

// Lookup returns a live room without materialising, mainly for tests and
// introspection handlers. No reference is taken.
func (reg *Registry) Lookup(roomCode string) (*Room, bool) {
	reg.mu.Lock()
	room, ok := reg.rooms[roomCode]
	reg.mu.Unlock()
	return room, ok
}

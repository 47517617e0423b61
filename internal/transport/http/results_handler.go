package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"horoquiz/internal/app"
	"horoquiz/internal/domain"
)

// ResultsHandler serves the post-hoc results projection for a session:
// class stats, per-student stats and the questions each student missed.
// Works for live and finished sessions since it reads the gateway snapshot.
type ResultsHandler struct {
	gw  app.SessionGateway
	log *slog.Logger
}

func NewResultsHandler(gw app.SessionGateway, log *slog.Logger) *ResultsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ResultsHandler{gw: gw, log: log}
}

type sessionResults struct {
	Session      sessionMeta      `json:"session"`
	ClassStats   classResults     `json:"classStats"`
	StudentStats []studentResults `json:"studentStats"`
	Mistakes     []studentMissed  `json:"mistakesByStudent"`
}

type sessionMeta struct {
	ID       int64                `json:"id"`
	RoomCode string               `json:"roomCode"`
	Status   domain.SessionStatus `json:"status"`
	GameMode domain.GameMode      `json:"gameMode"`
}

type classResults struct {
	Correct    int     `json:"correct"`
	Wrong      int     `json:"wrong"`
	CorrectPct float64 `json:"correctPct"`
}

type studentResults struct {
	Nickname   string  `json:"nickname"`
	Correct    int     `json:"correct"`
	Wrong      int     `json:"wrong"`
	CorrectPct float64 `json:"correctPct"`
}

type studentMissed struct {
	Nickname  string   `json:"nickname"`
	Questions []string `json:"questions"`
}

func (h *ResultsHandler) ServeResults(w http.ResponseWriter, r *http.Request) {
	roomCode := r.PathValue("roomCode")
	if !domain.ValidRoomCode(roomCode) {
		http.Error(w, "invalid room code", http.StatusBadRequest)
		return
	}
	snap, err := h.gw.LoadSession(r.Context(), roomCode)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		h.log.Error("load session for results", "room", roomCode, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(buildResults(snap))
}

func buildResults(snap app.SessionSnapshot) sessionResults {
	nicknames := make(map[int64]string, len(snap.Participants))
	for _, p := range snap.Participants {
		nicknames[p.ID] = p.Nickname
	}

	type tally struct {
		correct, attempts int
		missed            []string
	}
	tallies := make(map[int64]*tally, len(snap.Participants))
	for _, p := range snap.Participants {
		tallies[p.ID] = &tally{}
	}
	for _, qs := range snap.QuestionStates {
		tl, ok := tallies[qs.ParticipantID]
		if !ok {
			continue
		}
		tl.attempts += qs.Attempts
		wrongAttempts := qs.Attempts
		if qs.IsCorrect {
			tl.correct++
			wrongAttempts--
		}
		if wrongAttempts > 0 {
			tl.missed = append(tl.missed, qs.QuestionID)
		}
	}

	results := sessionResults{
		Session: sessionMeta{
			ID:       snap.Session.ID,
			RoomCode: snap.Session.RoomCode,
			Status:   snap.Session.Status,
			GameMode: snap.Session.GameMode,
		},
		StudentStats: []studentResults{},
		Mistakes:     []studentMissed{},
	}

	ids := make([]int64, 0, len(tallies))
	for id := range tallies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return nicknames[ids[i]] < nicknames[ids[j]] })

	var classCorrect, classWrong int
	for _, id := range ids {
		tl := tallies[id]
		wrong := tl.attempts - tl.correct
		classCorrect += tl.correct
		classWrong += wrong
		results.StudentStats = append(results.StudentStats, studentResults{
			Nickname:   nicknames[id],
			Correct:    tl.correct,
			Wrong:      wrong,
			CorrectPct: domain.Round2(domain.Pct(tl.correct, wrong)),
		})
		if len(tl.missed) > 0 {
			sort.Strings(tl.missed)
			results.Mistakes = append(results.Mistakes, studentMissed{
				Nickname:  nicknames[id],
				Questions: tl.missed,
			})
		}
	}
	results.ClassStats = classResults{
		Correct:    classCorrect,
		Wrong:      classWrong,
		CorrectPct: domain.Round2(domain.Pct(classCorrect, classWrong)),
	}
	return results
}

package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"horoquiz/internal/app"
	"horoquiz/internal/domain"
	"horoquiz/internal/infra/memory"
)

type wsFixture struct {
	server  *httptest.Server
	gw      *memory.Gateway
	session domain.Session
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gw := memory.NewGateway()
	quiz := domain.Quiz{
		ID:    "quiz-1",
		Title: "Basics",
		Questions: []domain.Question{
			{
				ID: "q1", Type: domain.QuestionSingle, Prompt: "What is 2 + 2?",
				Options: []domain.Option{{ID: "o1", Text: "3"}, {ID: "o2", Text: "4"}},
				Answer:  domain.AnswerKey{OptionID: "o2"},
			},
			{
				ID: "q2", Type: domain.QuestionOpen, Prompt: "Capital of France?",
				Answer: domain.AnswerKey{Text: "Paris"},
			},
		},
	}
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": quiz}), time.Minute)
	session := gw.CreateSession("quiz-1", 1, domain.ModePlatformer)
	registry := app.NewRegistry(gw, quizRepo, nil, app.RoomConfig{}, nil)

	mux := http.NewServeMux()
	wsHandler := NewWSHandler(registry, WSConfig{}, nil)
	resultsHandler := NewResultsHandler(gw, nil)
	mux.HandleFunc("GET /ws/sessions/{roomCode}", wsHandler.ServeWS)
	mux.HandleFunc("GET /sessions/{roomCode}/results", resultsHandler.ServeResults)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &wsFixture{server: server, gw: gw, session: session}
}

func (fx *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	u := "ws" + fx.server.URL[len("http"):] + "/ws/sessions/" + fx.session.RoomCode
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(Envelope{Event: event, Payload: raw}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// readUntil skips frames until it sees event, failing on timeout.
func readUntil(t *testing.T, conn *websocket.Conn, event string) Envelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read waiting for %s: %v", event, err)
		}
		if env.TS == "" {
			t.Fatalf("outbound frame %s missing ts", env.Event)
		}
		if env.Event == event {
			return env
		}
	}
}

func TestWebSocketAnswerFlow(t *testing.T) {
	fx := newWSFixture(t)

	teacher := fx.dial(t)
	send(t, teacher, app.EvtJoinRoom, map[string]any{"role": "teacher", "csrf": fx.session.CSRFToken})
	readUntil(t, teacher, app.EvtJoinAck)

	student := fx.dial(t)
	send(t, student, app.EvtJoinRoom, map[string]any{"role": "student", "nickname": "alice"})
	ack := readUntil(t, student, app.EvtJoinAck)
	var ackPayload app.JoinAckPayload
	if err := json.Unmarshal(ack.Payload, &ackPayload); err != nil {
		t.Fatalf("ack payload: %v", err)
	}
	if ackPayload.GameMode != domain.ModePlatformer || ackPayload.Nickname != "alice" {
		t.Fatalf("ack %+v", ackPayload)
	}

	send(t, teacher, app.EvtStartQuiz, map[string]any{})
	readUntil(t, student, app.EvtStartQuiz)

	send(t, student, app.EvtRequestQuestion, map[string]any{"reason": "death"})
	push := readUntil(t, student, app.EvtQuestionPush)
	var pushPayload app.QuestionPushPayload
	if err := json.Unmarshal(push.Payload, &pushPayload); err != nil {
		t.Fatalf("push payload: %v", err)
	}
	if pushPayload.Question.ID != "q1" || pushPayload.Reason != "death" {
		t.Fatalf("push %+v", pushPayload)
	}
	// The public projection must not leak the answer key.
	var leak map[string]any
	_ = json.Unmarshal(push.Payload, &leak)
	if question, ok := leak["question"].(map[string]any); ok {
		if _, has := question["answer"]; has {
			t.Fatal("question_push leaked the answer key")
		}
	}

	send(t, student, app.EvtAnswerSubmit, map[string]any{
		"questionId": "q1",
		"answer":     map[string]any{"optionId": "o2"},
	})
	res := readUntil(t, student, app.EvtAnswerResult)
	var resPayload app.AnswerResultPayload
	_ = json.Unmarshal(res.Payload, &resPayload)
	if !resPayload.Correct || resPayload.NextAction != "continue" {
		t.Fatalf("answer result %+v", resPayload)
	}

	// The teacher sees a stats broadcast caused by the answer.
	stats := readUntil(t, teacher, app.EvtStatsUpdate)
	var statsPayload app.StatsPayload
	_ = json.Unmarshal(stats.Payload, &statsPayload)
	if len(statsPayload.Students) != 1 || statsPayload.Students[0].Correct != 1 {
		t.Fatalf("stats %+v", statsPayload)
	}

	// Open question graded with normalisation over the wire.
	send(t, student, app.EvtRequestQuestion, map[string]any{"reason": "level_up"})
	readUntil(t, student, app.EvtQuestionPush)
	send(t, student, app.EvtAnswerSubmit, map[string]any{
		"questionId": "q2",
		"answer":     map[string]any{"text": "  paris! "},
	})
	res = readUntil(t, student, app.EvtAnswerResult)
	_ = json.Unmarshal(res.Payload, &resPayload)
	if !resPayload.Correct {
		t.Fatalf("open answer result %+v", resPayload)
	}

	send(t, teacher, app.EvtEndQuiz, map[string]any{})
	readUntil(t, student, app.EvtEndQuiz)
	readUntil(t, teacher, app.EvtEndQuiz)
}

func TestWebSocketRejectsMalformedEnvelope(t *testing.T) {
	fx := newWSFixture(t)
	conn := fx.dial(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, app.EvtBadRequest)

	send(t, conn, "made_up_event", map[string]any{})
	readUntil(t, conn, app.EvtBadRequest)

	send(t, conn, app.EvtRequestQuestion, map[string]any{"reason": "sneeze"})
	readUntil(t, conn, app.EvtBadRequest)
}

func TestWebSocketRoomNotFound(t *testing.T) {
	fx := newWSFixture(t)
	u := "ws" + fx.server.URL[len("http"):] + "/ws/sessions/ZZZZZZ"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", resp)
	}
}

func TestWebSocketFinishedRoomRejected(t *testing.T) {
	fx := newWSFixture(t)

	teacher := fx.dial(t)
	send(t, teacher, app.EvtJoinRoom, map[string]any{"role": "teacher", "csrf": fx.session.CSRFToken})
	readUntil(t, teacher, app.EvtJoinAck)
	send(t, teacher, app.EvtStartQuiz, map[string]any{})
	readUntil(t, teacher, app.EvtStartQuiz)
	send(t, teacher, app.EvtEndQuiz, map[string]any{})
	readUntil(t, teacher, app.EvtEndQuiz)

	// Wait for the room to quiesce out of the registry, then reconnect.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		u := "ws" + fx.server.URL[len("http"):] + "/ws/sessions/" + fx.session.RoomCode
		conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusGone {
				return
			}
			t.Fatalf("unexpected dial failure: %v (%+v)", err, resp)
		}
		// The room was still draining; a late join gets a terminal frame.
		raw, _ := json.Marshal(map[string]any{"role": "student", "nickname": "late"})
		_ = conn.WriteJSON(Envelope{Event: app.EvtJoinRoom, Payload: raw})
		env := readUntil(t, conn, app.EvtBadRequest)
		var p app.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		if p.Code == app.CodeRoomClosed {
			return
		}
		_ = conn.Close()
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("finished room never rejected new connections")
}

func TestResultsEndpoint(t *testing.T) {
	fx := newWSFixture(t)

	teacher := fx.dial(t)
	send(t, teacher, app.EvtJoinRoom, map[string]any{"role": "teacher", "csrf": fx.session.CSRFToken})
	readUntil(t, teacher, app.EvtJoinAck)

	student := fx.dial(t)
	send(t, student, app.EvtJoinRoom, map[string]any{"role": "student", "nickname": "alice"})
	readUntil(t, student, app.EvtJoinAck)
	send(t, teacher, app.EvtStartQuiz, map[string]any{})
	readUntil(t, student, app.EvtStartQuiz)

	send(t, student, app.EvtRequestQuestion, map[string]any{"reason": "death"})
	readUntil(t, student, app.EvtQuestionPush)
	send(t, student, app.EvtAnswerSubmit, map[string]any{
		"questionId": "q1",
		"answer":     map[string]any{"optionId": "o1"}, // wrong
	})
	readUntil(t, student, app.EvtAnswerResult)
	send(t, student, app.EvtRequestQuestion, map[string]any{"reason": "retry"})
	readUntil(t, student, app.EvtQuestionPush)
	send(t, student, app.EvtAnswerSubmit, map[string]any{
		"questionId": "q1",
		"answer":     map[string]any{"optionId": "o2"}, // right
	})
	readUntil(t, student, app.EvtAnswerResult)

	resp, err := http.Get(fx.server.URL + "/sessions/" + fx.session.RoomCode + "/results")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("results status %d", resp.StatusCode)
	}
	var results struct {
		ClassStats struct {
			Correct    int     `json:"correct"`
			Wrong      int     `json:"wrong"`
			CorrectPct float64 `json:"correctPct"`
		} `json:"classStats"`
		StudentStats []struct {
			Nickname string `json:"nickname"`
			Correct  int    `json:"correct"`
			Wrong    int    `json:"wrong"`
		} `json:"studentStats"`
		Mistakes []struct {
			Nickname  string   `json:"nickname"`
			Questions []string `json:"questions"`
		} `json:"mistakesByStudent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if results.ClassStats.Correct != 1 || results.ClassStats.Wrong != 1 || results.ClassStats.CorrectPct != 50 {
		t.Fatalf("class stats %+v", results.ClassStats)
	}
	if len(results.StudentStats) != 1 || results.StudentStats[0].Nickname != "alice" {
		t.Fatalf("student stats %+v", results.StudentStats)
	}
	if len(results.Mistakes) != 1 || len(results.Mistakes[0].Questions) != 1 || results.Mistakes[0].Questions[0] != "q1" {
		t.Fatalf("mistakes %+v", results.Mistakes)
	}
}

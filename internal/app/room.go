package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"horoquiz/internal/domain"
)

// RoomConfig bundles the orchestrator's tunables. Zero values are replaced
// by the defaults from DefaultRoomConfig.
type RoomConfig struct {
	// StudentGrace is how long a dropped student socket may reconnect
	// before the participant is marked left.
	StudentGrace time.Duration
	// TeacherGrace is how long a dropped teacher socket may reconnect
	// before the session is considered stalled. The session stays active
	// either way; only an explicit end_quiz finishes it.
	TeacherGrace time.Duration
	// ReservationTTL expires a pushed question that never got an answer.
	ReservationTTL time.Duration
	// StatsWindow coalesces stats_update broadcasts.
	StatsWindow time.Duration
	// WaitingWindow coalesces waiting_room_update broadcasts.
	WaitingWindow time.Duration
	// StoreDeadline bounds each gateway call.
	StoreDeadline time.Duration
	// MailboxSize bounds the actor's event queue.
	MailboxSize int
}

// DefaultRoomConfig returns the production tunables.
func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		StudentGrace:   30 * time.Second,
		TeacherGrace:   60 * time.Second,
		ReservationTTL: 10 * time.Minute,
		StatsWindow:    200 * time.Millisecond,
		WaitingWindow:  150 * time.Millisecond,
		StoreDeadline:  5 * time.Second,
		MailboxSize:    256,
	}
}

func (c RoomConfig) withDefaults() RoomConfig {
	def := DefaultRoomConfig()
	if c.StudentGrace == 0 {
		c.StudentGrace = def.StudentGrace
	}
	if c.TeacherGrace == 0 {
		c.TeacherGrace = def.TeacherGrace
	}
	if c.ReservationTTL == 0 {
		c.ReservationTTL = def.ReservationTTL
	}
	if c.StatsWindow == 0 {
		c.StatsWindow = def.StatsWindow
	}
	if c.WaitingWindow == 0 {
		c.WaitingWindow = def.WaitingWindow
	}
	if c.StoreDeadline == 0 {
		c.StoreDeadline = def.StoreDeadline
	}
	if c.MailboxSize == 0 {
		c.MailboxSize = def.MailboxSize
	}
	return c
}

// storeBackoffs paces the in-actor retries for transient gateway failures.
var storeBackoffs = []time.Duration{50 * time.Millisecond, 150 * time.Millisecond, 400 * time.Millisecond}

// participant is the in-room mutable state of one student.
type participant struct {
	rec      domain.Participant
	conn     Conn
	states   map[string]*domain.QuestionState
	attempts int
	correct  int

	reservedQuestion string
	reservationSeq   uint64
	reservationTimer *time.Timer

	leftTimer *time.Timer
}

func (p *participant) wrong() int { return p.attempts - p.correct }

// Room is the live, single-writer representation of one session. All state
// below the mailbox is owned by the actor goroutine; the only fields
// touched from outside are guarded by refMu.
type Room struct {
	session domain.Session
	quiz    domain.Quiz
	gw      SessionGateway
	cfg     RoomConfig
	log     *slog.Logger
	now     func() time.Time
	sleep   func(time.Duration)

	mailbox chan func()
	done    chan struct{}

	order     []string
	questions map[string]domain.Question

	participants map[string]*participant
	conns        map[Conn]*participant
	teacherConn  Conn
	teacherTimer *time.Timer

	statsCooling bool
	statsDirty   bool
	waitCooling  bool
	waitDirty    bool

	refMu     sync.Mutex
	refs      int
	disposed  bool
	onDispose func(*Room)
}

// NewRoom builds a room from a session snapshot and its quiz content. The
// actor is not running yet; call start.
func NewRoom(snap SessionSnapshot, quiz domain.Quiz, gw SessionGateway, cfg RoomConfig, log *slog.Logger) *Room {
	return NewRoomWithClock(snap, quiz, gw, cfg, log, time.Now)
}

// NewRoomWithClock is NewRoom with an injectable clock, for deterministic
// timestamps.
func NewRoomWithClock(snap SessionSnapshot, quiz domain.Quiz, gw SessionGateway, cfg RoomConfig, log *slog.Logger, now func() time.Time) *Room {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	r := &Room{
		session:      snap.Session,
		quiz:         quiz,
		gw:           gw,
		cfg:          cfg,
		log:          log.With("room", snap.Session.RoomCode),
		now:          now,
		sleep:        time.Sleep,
		mailbox:      make(chan func(), cfg.MailboxSize),
		done:         make(chan struct{}),
		order:        make([]string, 0, len(quiz.Questions)),
		questions:    make(map[string]domain.Question, len(quiz.Questions)),
		participants: make(map[string]*participant),
		conns:        make(map[Conn]*participant),
	}
	for _, q := range quiz.Questions {
		r.order = append(r.order, q.ID)
		r.questions[q.ID] = q
	}
	for _, rec := range snap.Participants {
		p := &participant{rec: rec, states: make(map[string]*domain.QuestionState)}
		r.participants[rec.Nickname] = p
	}
	byID := make(map[int64]*participant, len(r.participants))
	for _, p := range r.participants {
		byID[p.rec.ID] = p
	}
	for _, qs := range snap.QuestionStates {
		p, ok := byID[qs.ParticipantID]
		if !ok {
			continue
		}
		st := qs
		p.states[qs.QuestionID] = &st
		p.attempts += qs.Attempts
		if qs.IsCorrect {
			p.correct++
		}
	}
	return r
}

// Code returns the room code.
func (r *Room) Code() string { return r.session.RoomCode }

// Done is closed when the room has been disposed.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) start() {
	go r.run()
}

func (r *Room) run() {
	for {
		select {
		case fn := <-r.mailbox:
			fn()
		case <-r.done:
			return
		}
	}
}

// post enqueues fn into the actor's mailbox; false once the room is gone.
func (r *Room) post(fn func()) bool {
	select {
	case r.mailbox <- fn:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) afterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { r.post(fn) })
}

// Retain takes a socket reference; false when the room is already disposed
// and the caller must re-acquire through the registry.
func (r *Room) Retain() bool {
	r.refMu.Lock()
	defer r.refMu.Unlock()
	if r.disposed {
		return false
	}
	r.refs++
	return true
}

// Release drops a socket reference. The last release of a finished room
// triggers disposal.
func (r *Room) Release() {
	r.refMu.Lock()
	r.refs--
	idle := r.refs == 0
	r.refMu.Unlock()
	if idle {
		r.post(r.maybeDispose)
	}
}

func (r *Room) maybeDispose() {
	if r.session.Status != domain.StatusFinished {
		return
	}
	r.refMu.Lock()
	if r.refs > 0 || r.disposed {
		r.refMu.Unlock()
		return
	}
	r.disposed = true
	r.refMu.Unlock()
	close(r.done)
	if r.onDispose != nil {
		r.onDispose(r)
	}
}

// External event entry points; each serializes into the mailbox.

func (r *Room) Join(conn Conn, role, nickname, csrf, requestID string) {
	r.post(func() { r.handleJoin(conn, role, nickname, csrf, requestID) })
}

func (r *Room) StartQuiz(conn Conn, requestID string) {
	r.post(func() { r.handleStart(conn, requestID) })
}

func (r *Room) SubmitAnswer(conn Conn, questionID string, answer domain.SubmittedAnswer, requestID string) {
	r.post(func() { r.handleAnswer(conn, questionID, answer, requestID) })
}

func (r *Room) RequestQuestion(conn Conn, reason, requestID string) {
	r.post(func() { r.handleRequestQuestion(conn, reason, requestID) })
}

func (r *Room) RequestStats(conn Conn, requestID string) {
	r.post(func() { r.handleRequestStats(conn, requestID) })
}

func (r *Room) EndQuiz(conn Conn, requestID string) {
	r.post(func() { r.handleEnd(conn, requestID) })
}

func (r *Room) ConnClosed(conn Conn) {
	r.post(func() { r.handleConnClosed(conn) })
}

// Event handlers; actor goroutine only.

func (r *Room) handleJoin(conn Conn, role, nickname, csrf, requestID string) {
	if r.session.Status == domain.StatusFinished {
		r.sendError(conn, EvtBadRequest, CodeRoomClosed, "session already finished", requestID)
		conn.Kick(CodeRoomClosed)
		return
	}

	switch role {
	case "teacher":
		if csrf == "" || csrf != r.session.CSRFToken {
			r.sendError(conn, EvtBadRequest, CodeUnauthorized, "csrf token invalid", requestID)
			conn.Kick(CodeUnauthorized)
			return
		}
		if prev := r.teacherConn; prev != nil && prev != conn {
			r.sendError(prev, EvtBadRequest, CodeSupersededByNewer, "a newer teacher connection took over", "")
			prev.Kick(CodeSupersededByNewer)
		}
		r.teacherConn = conn
		r.stopTimer(&r.teacherTimer)
		conn.Send(Frame{Event: EvtJoinAck, RequestID: requestID, Critical: true, Payload: JoinAckPayload{
			SessionID: r.session.ID,
			Role:      "teacher",
			Status:    r.session.Status,
			GameMode:  r.session.GameMode,
		}})
		// Fresh teacher gets an immediate roster snapshot.
		conn.Send(Frame{Event: EvtWaitingRoomUpdate, Payload: r.waitingPayload()})
		r.log.Info("teacher joined")

	case "student":
		name, err := domain.ValidateNickname(nickname)
		if err != nil {
			r.sendError(conn, EvtBadRequest, CodeBadRequest, err.Error(), requestID)
			return
		}
		p, exists := r.participants[name]
		if exists && p.conn != nil {
			r.sendError(conn, EvtBadRequest, CodeNicknameInUse, "nickname bound to a live connection", requestID)
			conn.Kick(CodeNicknameInUse)
			return
		}
		if !exists {
			var id int64
			err := r.storeCall("create_participant", func(ctx context.Context) error {
				var err error
				id, err = r.gw.CreateParticipant(ctx, r.session.ID, name, r.now())
				return err
			})
			if err != nil {
				r.failStoreEvent(conn, err, requestID)
				return
			}
			p = &participant{
				rec: domain.Participant{
					ID:          id,
					SessionID:   r.session.ID,
					Nickname:    name,
					ConnectedAt: r.now(),
				},
				states: make(map[string]*domain.QuestionState),
			}
			r.participants[name] = p
		}
		r.stopTimer(&p.leftTimer)
		p.conn = conn
		r.conns[conn] = p
		if r.session.Status == domain.StatusActive {
			p.rec.JoinState = domain.JoinPlaying
		} else {
			p.rec.JoinState = domain.JoinWaiting
		}
		conn.Send(Frame{Event: EvtJoinAck, RequestID: requestID, Critical: true, Payload: JoinAckPayload{
			SessionID: r.session.ID,
			Role:      "student",
			Nickname:  name,
			Status:    r.session.Status,
			GameMode:  r.session.GameMode,
		}})
		r.markWaitingDirty()
		r.log.Info("student joined", "nickname", name)

	default:
		r.sendError(conn, EvtBadRequest, CodeBadRequest, "role must be teacher or student", requestID)
	}
}

func (r *Room) handleStart(conn Conn, requestID string) {
	if conn != r.teacherConn {
		r.sendError(conn, EvtBadRequest, CodeBadRequest, "only the teacher may start the quiz", requestID)
		return
	}
	if r.session.Status != domain.StatusWaiting {
		r.sendError(conn, EvtBadRequest, CodeBadRequest, "session is not waiting", requestID)
		return
	}
	startedAt := r.now()
	err := r.storeCall("set_status_active", func(ctx context.Context) error {
		return r.gw.SetSessionStatus(ctx, r.session.ID, domain.StatusActive, &startedAt, nil)
	})
	if err != nil {
		r.failStoreEvent(conn, err, requestID)
		return
	}

	r.session.Status = domain.StatusActive
	r.session.StartedAt = &startedAt
	for _, p := range r.participants {
		if p.rec.JoinState == domain.JoinWaiting {
			p.rec.JoinState = domain.JoinPlaying
		}
	}
	r.broadcast(Frame{Event: EvtStartQuiz, Critical: true, Payload: StartQuizPayload{
		SessionID: r.session.ID,
		GameMode:  r.session.GameMode,
		StartedAt: WireTime(startedAt),
	}})
	r.markWaitingDirty()
	r.log.Info("quiz started", "gameMode", r.session.GameMode)
}

func (r *Room) handleRequestQuestion(conn Conn, reason, requestID string) {
	p, ok := r.conns[conn]
	if !ok {
		r.sendError(conn, EvtBadRequest, CodeBadRequest, "join the room first", requestID)
		return
	}
	if r.session.Status == domain.StatusFinished {
		r.sendError(conn, EvtBadRequest, CodeRoomClosed, "session already finished", requestID)
		return
	}
	if r.session.Status != domain.StatusActive {
		r.sendError(conn, EvtBadRequest, CodeBadRequest, "quiz has not started", requestID)
		return
	}
	if p.reservedQuestion != "" {
		r.sendError(conn, EvtBadRequest, CodeBadRequest, "a question is already pending", requestID)
		return
	}

	questionID := r.nextQuestionFor(p)
	if questionID == "" {
		conn.Send(Frame{Event: EvtNoMoreQuestions, RequestID: requestID, Critical: true, Payload: EmptyPayload{}})
		return
	}

	p.reservedQuestion = questionID
	p.reservationSeq++
	seq := p.reservationSeq
	pid := p.rec.ID
	p.reservationTimer = r.afterFunc(r.cfg.ReservationTTL, func() {
		r.expireReservation(pid, questionID, seq)
	})
	conn.Send(Frame{Event: EvtQuestionPush, RequestID: requestID, Critical: true, Payload: QuestionPushPayload{
		Question: r.questions[questionID].Public(),
		Reason:   reason,
	}})
}

// nextQuestionFor picks the first question in stored order the participant
// has not yet answered correctly; empty when none remain.
func (r *Room) nextQuestionFor(p *participant) string {
	for _, qid := range r.order {
		qs := p.states[qid]
		if qs == nil || !qs.IsCorrect {
			return qid
		}
	}
	return ""
}

func (r *Room) handleAnswer(conn Conn, questionID string, answer domain.SubmittedAnswer, requestID string) {
	p, ok := r.conns[conn]
	if !ok {
		r.sendError(conn, EvtBadRequest, CodeBadRequest, "join the room first", requestID)
		return
	}
	if r.session.Status == domain.StatusFinished {
		r.sendError(conn, EvtBadRequest, CodeRoomClosed, "session already finished", requestID)
		return
	}
	if p.reservedQuestion != questionID {
		r.sendError(conn, EvtBadRequest, CodeBadRequest, "no pending reservation for this question", requestID)
		return
	}
	question := r.questions[questionID]

	verdict := domain.Grade(question, answer)
	if verdict == domain.VerdictMalformed {
		// The reservation survives so the client can resend a well-formed
		// payload for the same question.
		r.sendError(conn, EvtBadRequest, CodeBadRequest, "answer does not match question type", requestID)
		return
	}

	now := r.now()
	prev := p.states[questionID]
	next := domain.QuestionState{
		SessionID:      r.session.ID,
		ParticipantID:  p.rec.ID,
		QuestionID:     questionID,
		Attempts:       1,
		IsCorrect:      verdict == domain.VerdictCorrect,
		FirstAttemptAt: now,
		LastAttemptAt:  now,
	}
	if prev != nil {
		next.Attempts = prev.Attempts + 1
		next.IsCorrect = prev.IsCorrect || next.IsCorrect
		next.FirstAttemptAt = prev.FirstAttemptAt
	}

	payload, err := json.Marshal(answer)
	if err != nil {
		r.sendError(conn, EvtBadRequest, CodeBadRequest, "answer not serializable", requestID)
		return
	}
	record := domain.AnswerRecord{
		SessionID:     r.session.ID,
		ParticipantID: p.rec.ID,
		QuestionID:    questionID,
		AttemptNo:     next.Attempts,
		Payload:       payload,
		Verdict:       verdict,
		AnsweredAt:    now,
	}

	// Tallies the commit below would produce; persisted first so a store
	// failure leaves memory untouched and the client can retry coherently.
	pCorrect := p.correct
	if next.IsCorrect && (prev == nil || !prev.IsCorrect) {
		pCorrect++
	}
	pAttempts := p.attempts + 1
	pWrong := pAttempts - pCorrect
	classCorrect, classWrong := r.classTally()
	classCorrect += pCorrect - p.correct
	classWrong += pWrong - p.wrong()

	pid := p.rec.ID
	err = r.storeCall("record_answer", func(ctx context.Context) error {
		if err := r.gw.RecordAnswer(ctx, record); err != nil {
			return err
		}
		if err := r.gw.UpsertQuestionState(ctx, next); err != nil {
			return err
		}
		if err := r.gw.UpsertAggregate(ctx, domain.Aggregate{
			SessionID:     r.session.ID,
			ParticipantID: &pid,
			Correct:       pCorrect,
			Wrong:         pWrong,
			CorrectPct:    domain.Pct(pCorrect, pWrong),
			UpdatedAt:     now,
		}); err != nil {
			return err
		}
		return r.gw.UpsertAggregate(ctx, domain.Aggregate{
			SessionID:  r.session.ID,
			Correct:    classCorrect,
			Wrong:      classWrong,
			CorrectPct: domain.Pct(classCorrect, classWrong),
			UpdatedAt:  now,
		})
	})
	if err != nil {
		r.failStoreEvent(conn, err, requestID)
		return
	}

	// Commit.
	st := next
	p.states[questionID] = &st
	p.attempts = pAttempts
	p.correct = pCorrect
	r.clearReservation(p)

	nextAction := "retry"
	if st.IsCorrect {
		nextAction = "continue"
	}
	conn.Send(Frame{Event: EvtAnswerResult, RequestID: requestID, Critical: true, Payload: AnswerResultPayload{
		QuestionID: questionID,
		Correct:    verdict == domain.VerdictCorrect,
		NextAction: nextAction,
	}})
	// answer_result always precedes the stats broadcast this answer causes.
	r.markStatsDirty()
}

func (r *Room) handleRequestStats(conn Conn, requestID string) {
	if conn != r.teacherConn {
		r.sendError(conn, EvtBadRequest, CodeBadRequest, "stats are teacher-only", requestID)
		return
	}
	conn.Send(Frame{Event: EvtStatsUpdate, RequestID: requestID, Payload: r.statsPayload()})
}

func (r *Room) handleEnd(conn Conn, requestID string) {
	if conn != r.teacherConn {
		r.sendError(conn, EvtBadRequest, CodeBadRequest, "only the teacher may end the quiz", requestID)
		return
	}
	if r.session.Status != domain.StatusActive {
		r.sendError(conn, EvtBadRequest, CodeBadRequest, "session is not active", requestID)
		return
	}
	endedAt := r.now()
	err := r.storeCall("set_status_finished", func(ctx context.Context) error {
		return r.gw.SetSessionStatus(ctx, r.session.ID, domain.StatusFinished, nil, &endedAt)
	})
	if err != nil {
		r.failStoreEvent(conn, err, requestID)
		return
	}
	r.finish(endedAt)
	r.log.Info("quiz ended")
}

// finish flips the room to finished, tells everyone, and kicks all sockets.
// Persistence has already happened (or failed permanently) by the time this
// runs.
func (r *Room) finish(endedAt time.Time) {
	r.session.Status = domain.StatusFinished
	r.session.EndedAt = &endedAt

	for _, p := range r.participants {
		r.clearReservation(p)
		r.stopTimer(&p.leftTimer)
	}
	r.stopTimer(&r.teacherTimer)
	r.statsDirty = false
	r.waitDirty = false

	r.broadcast(Frame{Event: EvtEndQuiz, Critical: true, Payload: EndQuizPayload{
		SessionID:    r.session.ID,
		EndedAt:      WireTime(endedAt),
		ResultsReady: true,
	}})
	for conn := range r.conns {
		conn.Kick("session_finished")
	}
	if r.teacherConn != nil {
		r.teacherConn.Kick("session_finished")
	}
	r.maybeDispose()
}

func (r *Room) handleConnClosed(conn Conn) {
	if conn == r.teacherConn {
		r.teacherConn = nil
		if r.session.Status == domain.StatusFinished {
			return
		}
		r.teacherTimer = r.afterFunc(r.cfg.TeacherGrace, func() {
			if r.teacherConn == nil && r.session.Status == domain.StatusActive {
				r.log.Warn("teacher absent past grace, session stalled")
			}
		})
		return
	}

	p, ok := r.conns[conn]
	if !ok {
		return
	}
	delete(r.conns, conn)
	p.conn = nil
	r.clearReservation(p)
	if r.session.Status == domain.StatusFinished {
		return
	}
	pid := p.rec.ID
	nickname := p.rec.Nickname
	p.leftTimer = r.afterFunc(r.cfg.StudentGrace, func() {
		r.studentLeft(pid, nickname)
	})
}

func (r *Room) studentLeft(participantID int64, nickname string) {
	p, ok := r.participants[nickname]
	if !ok || p.rec.ID != participantID || p.conn != nil {
		return
	}
	if r.session.Status == domain.StatusFinished {
		return
	}
	leftAt := r.now()
	p.rec.JoinState = domain.JoinLeft
	p.rec.LeftAt = &leftAt
	if err := r.storeCall("mark_left", func(ctx context.Context) error {
		return r.gw.MarkParticipantLeft(ctx, participantID, leftAt)
	}); err != nil {
		r.log.Error("persist participant left", "nickname", nickname, "err", err)
	}
	r.markWaitingDirty()
	r.log.Info("student left", "nickname", nickname)
}

func (r *Room) expireReservation(participantID int64, questionID string, seq uint64) {
	for _, p := range r.participants {
		if p.rec.ID != participantID {
			continue
		}
		if p.reservedQuestion != questionID || p.reservationSeq != seq {
			return
		}
		r.clearReservation(p)
		if p.conn != nil {
			p.conn.Send(Frame{Event: EvtQuestionExpired, Critical: true, Payload: QuestionExpiredPayload{QuestionID: questionID}})
		}
		return
	}
}

func (r *Room) clearReservation(p *participant) {
	p.reservedQuestion = ""
	r.stopTimer(&p.reservationTimer)
}

func (r *Room) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// Broadcast coalescing: the first change dispatches immediately, further
// changes inside the window collapse into at most one trailing dispatch.

func (r *Room) markStatsDirty() {
	if r.session.Status == domain.StatusFinished {
		return
	}
	if r.statsCooling {
		r.statsDirty = true
		return
	}
	r.sendStats()
	r.statsCooling = true
	r.afterFunc(r.cfg.StatsWindow, r.statsWindowElapsed)
}

func (r *Room) statsWindowElapsed() {
	r.statsCooling = false
	if r.statsDirty && r.session.Status != domain.StatusFinished {
		r.statsDirty = false
		r.markStatsDirty()
	}
}

func (r *Room) markWaitingDirty() {
	if r.session.Status == domain.StatusFinished {
		return
	}
	if r.waitCooling {
		r.waitDirty = true
		return
	}
	r.sendWaiting()
	r.waitCooling = true
	r.afterFunc(r.cfg.WaitingWindow, r.waitingWindowElapsed)
}

func (r *Room) waitingWindowElapsed() {
	r.waitCooling = false
	if r.waitDirty && r.session.Status != domain.StatusFinished {
		r.waitDirty = false
		r.markWaitingDirty()
	}
}

func (r *Room) sendStats() {
	if r.teacherConn != nil {
		r.teacherConn.Send(Frame{Event: EvtStatsUpdate, Payload: r.statsPayload()})
	}
}

func (r *Room) sendWaiting() {
	if r.teacherConn != nil {
		r.teacherConn.Send(Frame{Event: EvtWaitingRoomUpdate, Payload: r.waitingPayload()})
	}
}

func (r *Room) broadcast(f Frame) {
	if r.teacherConn != nil {
		r.teacherConn.Send(f)
	}
	for conn := range r.conns {
		conn.Send(f)
	}
}

func (r *Room) classTally() (correct, wrong int) {
	for _, p := range r.participants {
		correct += p.correct
		wrong += p.wrong()
	}
	return correct, wrong
}

func (r *Room) statsPayload() StatsPayload {
	classCorrect, classWrong := r.classTally()
	classPct := domain.Round2(domain.Pct(classCorrect, classWrong))
	students := make([]StudentStat, 0, len(r.participants))
	for _, nick := range r.sortedNicknames() {
		p := r.participants[nick]
		students = append(students, StudentStat{
			Nickname:   p.rec.Nickname,
			Correct:    p.correct,
			Wrong:      p.wrong(),
			CorrectPct: domain.Round2(domain.Pct(p.correct, p.wrong())),
		})
	}
	return StatsPayload{
		Class:    ClassStat{CorrectPct: classPct, WrongPct: domain.Round2(100 - classPct)},
		Students: students,
	}
}

func (r *Room) waitingPayload() WaitingRoomPayload {
	participants := make([]WaitingParticipant, 0, len(r.participants))
	for _, nick := range r.sortedNicknames() {
		p := r.participants[nick]
		participants = append(participants, WaitingParticipant{Nickname: p.rec.Nickname, State: p.rec.JoinState})
	}
	return WaitingRoomPayload{SessionID: r.session.ID, Participants: participants}
}

func (r *Room) sortedNicknames() []string {
	nicks := make([]string, 0, len(r.participants))
	for nick := range r.participants {
		nicks = append(nicks, nick)
	}
	sort.Strings(nicks)
	return nicks
}

func (r *Room) sendError(conn Conn, event, code, message, requestID string) {
	conn.Send(Frame{Event: event, RequestID: requestID, Critical: true, Payload: ErrorPayload{Code: code, Message: message}})
}

// storeCall runs one gateway operation with the retry/backoff policy for
// transient failures. The actor is blocked while it runs; a live session
// requires a healthy store.
func (r *Room) storeCall(op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= len(storeBackoffs); attempt++ {
		if attempt > 0 {
			r.sleep(storeBackoffs[attempt-1])
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StoreDeadline)
		err = fn(ctx)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.Transient(err)
		}
		if !domain.IsTransient(err) {
			return err
		}
		r.log.Warn("store call retrying", "op", op, "attempt", attempt+1, "err", err)
	}
	return err
}

// failStoreEvent maps a failed gateway call to the client-facing outcome:
// domain errors answer the originator, exhausted transients answer with
// internal_error leaving state untouched, permanent failures tear the
// session down.
func (r *Room) failStoreEvent(conn Conn, err error, requestID string) {
	switch {
	case errors.Is(err, domain.ErrNicknameTaken):
		r.sendError(conn, EvtBadRequest, CodeNicknameTaken, "nickname already taken in this session", requestID)
	case domain.IsPermanent(err):
		r.log.Error("permanent store failure, finishing session", "err", err)
		r.sendError(conn, EvtInternalError, CodeInternalError, "storage failure", requestID)
		endedAt := r.now()
		r.session.Crashed = true
		// Best effort; the store already demonstrated it is broken.
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StoreDeadline)
		_ = r.gw.SetSessionStatus(ctx, r.session.ID, domain.StatusFinished, nil, &endedAt)
		cancel()
		r.finish(endedAt)
	default:
		r.sendError(conn, EvtInternalError, CodeInternalError, "storage temporarily unavailable", requestID)
	}
}

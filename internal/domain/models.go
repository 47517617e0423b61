package domain

import "time"

// QuestionType discriminates how a question is answered and graded.
type QuestionType string

const (
	QuestionOpen   QuestionType = "open"
	QuestionSingle QuestionType = "single"
	QuestionMulti  QuestionType = "multi"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	StatusWaiting  SessionStatus = "waiting"
	StatusActive   SessionStatus = "active"
	StatusFinished SessionStatus = "finished"
)

// GameMode selects the client experience; the orchestrator treats all game
// modes uniformly and "classic" disables the game gate.
type GameMode string

const (
	ModePlatformer GameMode = "platformer"
	ModeShooter    GameMode = "shooter"
	ModeTycoon     GameMode = "tycoon"
	ModeClassic    GameMode = "classic"
)

// ValidGameMode reports whether m is one of the supported modes.
func ValidGameMode(m GameMode) bool {
	switch m {
	case ModePlatformer, ModeShooter, ModeTycoon, ModeClassic:
		return true
	}
	return false
}

// Option is a selectable answer for single/multi questions.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// AnswerKey is the canonical correct answer stored with a question.
// Exactly one field is populated, matching the question type. It is never
// serialized to clients; see Question.Public.
type AnswerKey struct {
	Text      string   `json:"text,omitempty"`
	OptionID  string   `json:"optionId,omitempty"`
	OptionIDs []string `json:"optionIds,omitempty"`
}

// Question models one quiz question with its grading key.
type Question struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Prompt  string       `json:"prompt"`
	Options []Option     `json:"options,omitempty"`
	Answer  AnswerKey    `json:"answer"`
}

// QuestionPublic is the client-visible projection of a question: the answer
// key and every correctness-bearing field are omitted. Options keep their
// stored order.
type QuestionPublic struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Prompt  string       `json:"prompt"`
	Options []Option     `json:"options,omitempty"`
}

// Public strips the question down to what a student may see.
func (q Question) Public() QuestionPublic {
	return QuestionPublic{ID: q.ID, Type: q.Type, Prompt: q.Prompt, Options: q.Options}
}

// Quiz is an ordered collection of questions; immutable during a session.
type Quiz struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
}

// Session carries the durable metadata of one live room.
type Session struct {
	ID        int64
	RoomCode  string
	JoinToken string
	// CSRFToken authenticates the owning teacher's websocket join.
	CSRFToken string
	QuizID    string
	TeacherID int64
	GameMode  GameMode
	Status    SessionStatus
	// Crashed marks a session force-finished by a permanent storage failure.
	Crashed   bool
	StartedAt *time.Time
	EndedAt   *time.Time
}

// Participant join states.
const (
	JoinWaiting = "waiting"
	JoinPlaying = "playing"
	JoinLeft    = "left"
)

// Participant is a student bound by nickname within a session.
type Participant struct {
	ID          int64
	SessionID   int64
	Nickname    string
	JoinState   string
	ConnectedAt time.Time
	LeftAt      *time.Time
}

// QuestionState tracks one participant's progress on one question.
// IsCorrect only ever transitions false to true.
type QuestionState struct {
	SessionID      int64
	ParticipantID  int64
	QuestionID     string
	Attempts       int
	IsCorrect      bool
	FirstAttemptAt time.Time
	LastAttemptAt  time.Time
}

// AnswerRecord is the append-only log of one graded attempt. AttemptNo starts
// at 1 and is contiguous per (participant, question).
type AnswerRecord struct {
	SessionID     int64
	ParticipantID int64
	QuestionID    string
	AttemptNo     int
	Payload       []byte
	Verdict       Verdict
	AnsweredAt    time.Time
}

// SessionSnapshot is everything a room needs to materialise: session
// metadata plus any already-persisted participants, question states and
// aggregates. Quiz content is loaded separately through QuizRepository.
type SessionSnapshot struct {
	Session        Session
	Participants   []Participant
	QuestionStates []QuestionState
	Aggregates     []Aggregate
}

// Aggregate is the running tally for one participant, or for the whole class
// when ParticipantID is nil.
type Aggregate struct {
	SessionID     int64
	ParticipantID *int64
	Correct       int
	Wrong         int
	CorrectPct    float64
	UpdatedAt     time.Time
}

// Pct computes correct/max(1, correct+wrong) as a percentage.
func Pct(correct, wrong int) float64 {
	total := correct + wrong
	if total < 1 {
		total = 1
	}
	return float64(correct) * 100.0 / float64(total)
}

// Round2 rounds a percentage to two decimals for the wire.
func Round2(v float64) float64 {
	if v < 0 {
		return float64(int64(v*100-0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}

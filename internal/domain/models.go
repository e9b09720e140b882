package domain

import (
	"strings"
	"time"
)

// Choice is an option letter. The empty choice means the player did not answer in time.
type Choice string

const (
	ChoiceNone Choice = ""
	ChoiceA    Choice = "A"
	ChoiceB    Choice = "B"
	ChoiceC    Choice = "C"
	ChoiceD    Choice = "D"
)

// ParseChoice normalises user input into an option letter.
func ParseChoice(raw string) (Choice, error) {
	c := Choice(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.Valid() {
		return ChoiceNone, ErrInvalidChoice
	}
	return c, nil
}

// Valid reports whether c is one of A-D.
func (c Choice) Valid() bool {
	switch c {
	case ChoiceA, ChoiceB, ChoiceC, ChoiceD:
		return true
	}
	return false
}

// Admin is an authenticated quiz author.
type Admin struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Identity is the session context of a caller. The zero value is an anonymous player.
type Identity struct {
	AdminID   string    `json:"adminId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Authenticated reports whether the identity belongs to a logged-in admin.
func (i Identity) Authenticated() bool {
	return i.AdminID != ""
}

// Category groups questions in the bank.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Question is a bank entry with four alternatives and one correct letter.
type Question struct {
	ID           string    `json:"id"`
	Prompt       string    `json:"prompt"`
	Options      [4]string `json:"options"`
	Correct      Choice    `json:"correct"`
	CategoryID   string    `json:"categoryId,omitempty"`
	CategoryName string    `json:"categoryName,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// IsCorrect reports whether choice matches the correct letter.
func (q Question) IsCorrect(choice Choice) bool {
	return choice.Valid() && choice == q.Correct
}

// PublicQuestion is the player-facing view of a question, without the answer.
type PublicQuestion struct {
	ID      string    `json:"id"`
	Prompt  string    `json:"prompt"`
	Options [4]string `json:"options"`
}

func (q Question) Public() PublicQuestion {
	return PublicQuestion{ID: q.ID, Prompt: q.Prompt, Options: q.Options}
}

// QuizConfig holds the admin-chosen parameters of a quiz.
type QuizConfig struct {
	TimeLimitMinutes int  `json:"timeLimitMinutes" validate:"gte=0,lte=600"`
	QuestionCount    int  `json:"questionCount" validate:"gte=1,lte=500"`
	PointsPerCorrect int  `json:"pointsPerCorrect" validate:"gte=0,lte=10000"`
	MaxParticipants  int  `json:"maxParticipants" validate:"gte=0,lte=100000"`
	ShuffleQuestions bool `json:"shuffleQuestions"`
}

// Points returns the score for a correct answer; zero means one point.
func (c QuizConfig) Points() int {
	if c.PointsPerCorrect <= 0 {
		return 1
	}
	return c.PointsPerCorrect
}

// QuestionBudget splits the time limit evenly across questions, or returns fallback.
func (c QuizConfig) QuestionBudget(questions int, fallback time.Duration) time.Duration {
	if c.TimeLimitMinutes <= 0 || questions <= 0 {
		return fallback
	}
	return time.Duration(c.TimeLimitMinutes) * time.Minute / time.Duration(questions)
}

// Quiz is an authored quiz with its selected questions.
type Quiz struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	OwnerID     string      `json:"ownerId"`
	Active      bool        `json:"active"`
	Config      *QuizConfig `json:"config,omitempty"`
	QuestionIDs []string    `json:"questionIds"`
	Questions   []Question  `json:"questions,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Configured reports whether the quiz can leave the draft state.
func (q Quiz) Configured() bool {
	return q.Config != nil && q.Config.QuestionCount >= 1 && len(q.QuestionIDs) > 0
}

// OwnedBy reports whether the identity owns the quiz.
func (q Quiz) OwnedBy(id Identity) bool {
	return id.Authenticated() && q.OwnerID == id.AdminID
}

// Question finds a selected question by id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomWaiting    RoomStatus = "waiting"
	RoomInProgress RoomStatus = "in_progress"
	RoomFinished   RoomStatus = "finished"
)

// Room is one play session of a quiz.
type Room struct {
	ID                string        `json:"id"`
	QuizID            string        `json:"quizId"`
	Code              string        `json:"code"`
	Status            RoomStatus    `json:"status"`
	Config            QuizConfig    `json:"config"`
	QuestionIDs       []string      `json:"questionIds,omitempty"`
	CurrentIndex      int           `json:"currentIndex"`
	QuestionStartedAt time.Time     `json:"questionStartedAt"`
	QuestionBudget    time.Duration `json:"questionBudget"`
	Version           int           `json:"version"`
	CreatedAt         time.Time     `json:"createdAt"`
	StartedAt         *time.Time    `json:"startedAt,omitempty"`
	FinishedAt        *time.Time    `json:"finishedAt,omitempty"`
}

// Active is true while questions are being played.
func (r Room) Active() bool {
	return r.Status == RoomInProgress
}

// CurrentQuestionID returns the id under the question pointer.
func (r Room) CurrentQuestionID() (string, bool) {
	if r.Status != RoomInProgress || r.CurrentIndex < 0 || r.CurrentIndex >= len(r.QuestionIDs) {
		return "", false
	}
	return r.QuestionIDs[r.CurrentIndex], true
}

// Deadline is when the current question stops accepting answers.
func (r Room) Deadline() time.Time {
	return r.QuestionStartedAt.Add(r.QuestionBudget)
}

// Remaining is the time left on the current question, never negative.
func (r Room) Remaining(now time.Time) time.Duration {
	if r.Status != RoomInProgress {
		return 0
	}
	left := r.Deadline().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// LastQuestion reports whether the pointer is on the final question.
func (r Room) LastQuestion() bool {
	return r.CurrentIndex >= len(r.QuestionIDs)-1
}

// Player is a participant who joined a room by name.
type Player struct {
	ID       string    `json:"id"`
	RoomID   string    `json:"roomId"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// NormalizeName is the form used to compare display names within a room.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Answer is the single recorded response of a player to a question.
type Answer struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	PlayerID   string    `json:"playerId"`
	QuestionID string    `json:"questionId"`
	Choice     Choice    `json:"choice"`
	Correct    bool      `json:"correct"`
	Points     int       `json:"points"`
	TimedOut   bool      `json:"timedOut"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// Result is the final score of a player in a finished room.
type Result struct {
	RoomID       string    `json:"roomId"`
	PlayerID     string    `json:"playerId"`
	PlayerName   string    `json:"playerName"`
	TotalPoints  int       `json:"totalPoints"`
	CorrectCount int       `json:"correctCount"`
	CompletedAt  time.Time `json:"completedAt"`
}

// AnswerOutcome is returned to the player after a submission.
type AnswerOutcome struct {
	QuestionID  string `json:"questionId"`
	Choice      Choice `json:"choice"`
	Correct     bool   `json:"correct"`
	Awarded     int    `json:"awarded"`
	TotalPoints int    `json:"totalPoints"`
}

// PlayerView is a player with presence information.
type PlayerView struct {
	Player
	Online bool `json:"online"`
}

// RoomView is the full state snapshot a client needs to render a room.
type RoomView struct {
	Room             Room            `json:"room"`
	QuizTitle        string          `json:"quizTitle"`
	Players          []PlayerView    `json:"players"`
	Question         *PublicQuestion `json:"question,omitempty"`
	Position         int             `json:"position"`
	Total            int             `json:"total"`
	RemainingSeconds int             `json:"remainingSeconds"`
	Answered         int             `json:"answered"`
}

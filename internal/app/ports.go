package app

import (
	"context"
	"time"

	"quizzana/internal/domain"
)

// QuizStore persists quizzes with their configuration and question selection.
type QuizStore interface {
	CreateQuiz(ctx context.Context, quiz domain.Quiz) error
	UpdateQuiz(ctx context.Context, quiz domain.Quiz) error
	DeleteQuiz(ctx context.Context, quizID string) error
	// GetQuiz returns the quiz with its selected questions in selection order.
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	// ListQuizzes returns an owner's quizzes, newest first, and the total count.
	// A non-positive limit returns every quiz.
	ListQuizzes(ctx context.Context, ownerID string, offset, limit int) ([]domain.Quiz, int, error)
	SetQuizActive(ctx context.Context, quizID string, active bool) error
}

// QuestionStore persists the shared question bank.
type QuestionStore interface {
	CreateQuestion(ctx context.Context, question domain.Question) error
	UpdateQuestion(ctx context.Context, question domain.Question) error
	DeleteQuestion(ctx context.Context, questionID string) error
	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
	// ListQuestions filters by category when categoryID is not empty.
	ListQuestions(ctx context.Context, categoryID string) ([]domain.Question, error)
	CountQuestions(ctx context.Context) (int, error)
	QuizzesWithQuestion(ctx context.Context, questionID string) ([]string, error)
}

// CategoryStore persists question categories.
type CategoryStore interface {
	CreateCategory(ctx context.Context, category domain.Category) error
	GetCategory(ctx context.Context, categoryID string) (domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
}

// RoomStore persists rooms. Updates are compare-and-set on Room.Version.
type RoomStore interface {
	// CreateRoom fails with domain.ErrRoomCodeTaken when a non-finished room holds the code.
	CreateRoom(ctx context.Context, room domain.Room) error
	GetRoom(ctx context.Context, roomID string) (domain.Room, error)
	// FindOpenRoomByCode looks only at rooms that are not finished.
	FindOpenRoomByCode(ctx context.Context, code string) (domain.Room, error)
	FindWaitingRoomForQuiz(ctx context.Context, quizID string) (domain.Room, error)
	LatestRoomForQuiz(ctx context.Context, quizID string) (domain.Room, error)
	HasRoomInProgress(ctx context.Context, quizID string) (bool, error)
	ListRoomsInProgress(ctx context.Context) ([]domain.Room, error)
	// UpdateRoom writes room if the stored version equals expectedVersion,
	// otherwise it returns domain.ErrStaleRoom.
	UpdateRoom(ctx context.Context, room domain.Room, expectedVersion int) error
}

// PlayerStore persists players of a room.
type PlayerStore interface {
	// JoinRoom inserts player unless the room already has one with the same
	// normalised name, in which case the existing player is returned with true.
	// It fails with ErrRoomNotFound, ErrRoomAlreadyActive or ErrRoomFull.
	JoinRoom(ctx context.Context, player domain.Player, maxPlayers int) (domain.Player, bool, error)
	GetPlayer(ctx context.Context, roomID, playerID string) (domain.Player, error)
	ListPlayers(ctx context.Context, roomID string) ([]domain.Player, error)
	RemovePlayer(ctx context.Context, roomID, playerID string) error
}

// AnswerStore persists answers, at most one per (room, player, question).
type AnswerStore interface {
	// InsertAnswer fails with domain.ErrDuplicateAnswer on a second answer.
	InsertAnswer(ctx context.Context, answer domain.Answer) error
	ListAnswers(ctx context.Context, roomID string) ([]domain.Answer, error)
}

// ResultStore persists final results, at most one per (room, player).
type ResultStore interface {
	// SaveResults ignores rows that already exist.
	SaveResults(ctx context.Context, results []domain.Result) error
	ListResults(ctx context.Context, roomID string) ([]domain.Result, error)
}

// AdminStore persists admin accounts.
type AdminStore interface {
	CreateAdmin(ctx context.Context, admin domain.Admin) error
	GetAdmin(ctx context.Context, adminID string) (domain.Admin, error)
	GetAdminByEmail(ctx context.Context, email string) (domain.Admin, error)
}

// Store bundles every repository a backend provides.
type Store interface {
	QuizStore
	QuestionStore
	CategoryStore
	RoomStore
	PlayerStore
	AnswerStore
	ResultStore
	AdminStore
}

// QuizRepository serves quiz content on the hot path (cache in front of QuizStore).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	Invalidate(ctx context.Context, quizID string)
}

// Broker fans room events out to subscribers.
// The caller must invoke the returned cancel function to avoid leaks.
type Broker interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string) (<-chan domain.Event, func(), error)
}

// Presence tracks which players currently hold a connection to a room.
type Presence interface {
	Connect(ctx context.Context, roomID, playerID string) error
	Disconnect(ctx context.Context, roomID, playerID string) error
	Online(ctx context.Context, roomID string) (map[string]bool, error)
}

// TokenDenylist remembers revoked tokens until they would have expired anyway.
type TokenDenylist interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	Revoked(ctx context.Context, tokenID string) (bool, error)
}

// PasswordHasher hashes and checks admin passwords.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	ComparePassword(hash, password string) error
}

// TokenIssuer signs and parses admin session tokens.
type TokenIssuer interface {
	Issue(admin domain.Admin) (string, domain.Identity, error)
	Parse(token string) (domain.Identity, error)
}

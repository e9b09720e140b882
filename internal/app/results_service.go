package app

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"quizzana/internal/domain"
)

// ResultsDeps groups the read-side collaborators of ResultsService.
type ResultsDeps struct {
	Rooms   RoomStore
	Players PlayerStore
	Answers AnswerStore
	Results ResultStore
	Quizzes QuizRepository
	Log     logrus.FieldLogger
}

// ResultsService builds rankings and statistics for rooms.
type ResultsService struct {
	rooms   RoomStore
	players PlayerStore
	answers AnswerStore
	results ResultStore
	quizzes QuizRepository
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewResultsService(deps ResultsDeps) *ResultsService {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ResultsService{
		rooms:   deps.Rooms,
		players: deps.Players,
		answers: deps.Answers,
		results: deps.Results,
		quizzes: deps.Quizzes,
		log:     log,
		now:     time.Now,
	}
}

// ComputeRanking ranks the room's players. A finished room is ranked from its
// stored results, so repeated calls return the same order.
func (s *ResultsService) ComputeRanking(ctx context.Context, roomID string) ([]domain.RankingEntry, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	results, err := s.resultsFor(ctx, room)
	if err != nil {
		return nil, err
	}
	return RankResults(results), nil
}

// ComputeQuestionStats is the owner-only per-question breakdown.
func (s *ResultsService) ComputeQuestionStats(ctx context.Context, ident domain.Identity, roomID string) ([]domain.QuestionStat, error) {
	room, quiz, err := s.ownedRoom(ctx, ident, roomID)
	if err != nil {
		return nil, err
	}
	answers, err := s.answers.ListAnswers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	return QuestionStats(room, quiz, answers), nil
}

// Results is the results page. The ranking and general stats are public; detail
// is only filled for the owner. A non-owner asking for detail gets the public
// part together with domain.ErrNotQuizOwner.
func (s *ResultsService) Results(ctx context.Context, ident domain.Identity, roomID string, detail bool) (domain.RoomResults, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return domain.RoomResults{}, err
	}
	results, err := s.resultsFor(ctx, room)
	if err != nil {
		return domain.RoomResults{}, err
	}

	out := domain.RoomResults{
		RoomID:  room.ID,
		Status:  room.Status,
		Ranking: RankResults(results),
		General: General(results),
	}

	quiz, err := s.quizzes.GetQuiz(ctx, room.QuizID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.RoomResults{}, err
	}
	out.IsOwner = err == nil && quiz.OwnedBy(ident)
	if !detail {
		return out, nil
	}
	if !out.IsOwner {
		return out, domain.ErrNotQuizOwner
	}

	answers, err := s.answers.ListAnswers(ctx, room.ID)
	if err != nil {
		return domain.RoomResults{}, err
	}
	d := Detail(QuestionStats(room, quiz, answers))
	out.Detail = &d
	return out, nil
}

// LastRoomForQuiz returns the most recent room of an owned quiz.
func (s *ResultsService) LastRoomForQuiz(ctx context.Context, ident domain.Identity, quizID string) (domain.Room, error) {
	if !ident.Authenticated() {
		return domain.Room{}, domain.ErrUnauthenticated
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Room{}, err
	}
	if !quiz.OwnedBy(ident) {
		return domain.Room{}, domain.ErrNotQuizOwner
	}
	return s.rooms.LatestRoomForQuiz(ctx, quizID)
}

func (s *ResultsService) resultsFor(ctx context.Context, room domain.Room) ([]domain.Result, error) {
	if room.Status == domain.RoomFinished {
		return s.results.ListResults(ctx, room.ID)
	}
	players, err := s.players.ListPlayers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	answers, err := s.answers.ListAnswers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	return TallyResults(room.ID, players, answers, s.now()), nil
}

func (s *ResultsService) ownedRoom(ctx context.Context, ident domain.Identity, roomID string) (domain.Room, domain.Quiz, error) {
	if !ident.Authenticated() {
		return domain.Room{}, domain.Quiz{}, domain.ErrUnauthenticated
	}
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Room{}, domain.Quiz{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, room.QuizID)
	if err != nil {
		return domain.Room{}, domain.Quiz{}, err
	}
	if !quiz.OwnedBy(ident) {
		return domain.Room{}, domain.Quiz{}, domain.ErrNotQuizOwner
	}
	return room, quiz, nil
}

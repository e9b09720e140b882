package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quizzana/internal/domain"
)

func waitingRoom(id, code string) domain.Room {
	return domain.Room{
		ID:           id,
		QuizID:       "quiz-1",
		Code:         code,
		Status:       domain.RoomWaiting,
		CurrentIndex: -1,
		Version:      1,
		CreatedAt:    time.Now(),
	}
}

func TestStoreRoomCodeUniqueAmongOpenRooms(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateRoom(ctx, waitingRoom("r1", "ABC123")))
	assert.ErrorIs(t, s.CreateRoom(ctx, waitingRoom("r2", "ABC123")), domain.ErrRoomCodeTaken)

	finished := waitingRoom("r1", "ABC123")
	finished.Status = domain.RoomFinished
	finished.Version = 2
	require.NoError(t, s.UpdateRoom(ctx, finished, 1))
	assert.NoError(t, s.CreateRoom(ctx, waitingRoom("r2", "ABC123")), "finished rooms release their code")
}

func TestStoreUpdateRoomCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	room := waitingRoom("r1", "ABC123")
	require.NoError(t, s.CreateRoom(ctx, room))

	next := room
	next.Version = 2
	require.NoError(t, s.UpdateRoom(ctx, next, 1))
	assert.ErrorIs(t, s.UpdateRoom(ctx, next, 1), domain.ErrStaleRoom)
}

func TestStoreJoinRoomRules(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateRoom(ctx, waitingRoom("r1", "ABC123")))

	ana, existing, err := s.JoinRoom(ctx, domain.Player{ID: "p1", RoomID: "r1", Name: "Ana"}, 1)
	require.NoError(t, err)
	assert.False(t, existing)

	again, existing, err := s.JoinRoom(ctx, domain.Player{ID: "p2", RoomID: "r1", Name: " ana "}, 1)
	require.NoError(t, err, "rejoin is checked before capacity")
	assert.True(t, existing)
	assert.Equal(t, ana.ID, again.ID)

	_, _, err = s.JoinRoom(ctx, domain.Player{ID: "p3", RoomID: "r1", Name: "Bia"}, 1)
	assert.ErrorIs(t, err, domain.ErrRoomFull)

	_, _, err = s.JoinRoom(ctx, domain.Player{ID: "p4", RoomID: "missing", Name: "Caio"}, 0)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestStoreAnswerUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	a := domain.Answer{ID: "a1", RoomID: "r1", PlayerID: "p1", QuestionID: "q1", Choice: domain.ChoiceA}
	require.NoError(t, s.InsertAnswer(ctx, a))
	a.ID = "a2"
	assert.True(t, errors.Is(s.InsertAnswer(ctx, a), domain.ErrDuplicateAnswer))

	answers, err := s.ListAnswers(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, answers, 1)
}

func TestStoreSaveResultsIgnoresExisting(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.SaveResults(ctx, []domain.Result{{RoomID: "r1", PlayerID: "p1", TotalPoints: 10}}))
	require.NoError(t, s.SaveResults(ctx, []domain.Result{{RoomID: "r1", PlayerID: "p1", TotalPoints: 99}}))

	results, err := s.ListResults(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 10, results[0].TotalPoints)
}

func TestStoreQuizAssemblesQuestionsAndCascades(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateCategory(ctx, domain.Category{ID: "c1", Name: "Math"}))
	assert.ErrorIs(t, s.CreateCategory(ctx, domain.Category{ID: "c2", Name: "math"}), domain.ErrCategoryExists)
	require.NoError(t, s.CreateQuestion(ctx, domain.Question{ID: "q1", Prompt: "1+1", Correct: domain.ChoiceA, CategoryID: "c1"}))
	require.NoError(t, s.CreateQuestion(ctx, domain.Question{ID: "q2", Prompt: "2+2", Correct: domain.ChoiceB}))
	require.NoError(t, s.CreateQuiz(ctx, domain.Quiz{ID: "quiz-1", OwnerID: "admin", QuestionIDs: []string{"q2", "q1"}}))

	quiz, err := s.GetQuiz(ctx, "quiz-1")
	require.NoError(t, err)
	require.Len(t, quiz.Questions, 2)
	assert.Equal(t, "q2", quiz.Questions[0].ID)
	assert.Equal(t, "Math", quiz.Questions[1].CategoryName)

	require.NoError(t, s.DeleteQuestion(ctx, "q2"))
	quiz, err = s.GetQuiz(ctx, "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"q1"}, quiz.QuestionIDs)

	require.NoError(t, s.CreateRoom(ctx, waitingRoom("r1", "ABC123")))
	require.NoError(t, s.DeleteQuiz(ctx, "quiz-1"))
	_, err = s.GetRoom(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestStoreListQuizzesPages(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateQuiz(ctx, domain.Quiz{ID: id, OwnerID: "admin", CreatedAt: base.Add(time.Duration(i) * time.Hour)}))
	}
	require.NoError(t, s.CreateQuiz(ctx, domain.Quiz{ID: "other", OwnerID: "someone-else"}))

	page, total, err := s.ListQuizzes(ctx, "admin", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)

	page, _, err = s.ListQuizzes(ctx, "admin", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)
}

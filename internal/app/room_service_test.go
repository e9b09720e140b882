package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quizzana/internal/app"
	"quizzana/internal/domain"
	"quizzana/internal/logging"
)

var oneQuestion = domain.QuizConfig{QuestionCount: 1, PointsPerCorrect: 10}

func TestJoinWhileWaitingThenRejectedAfterStart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, room := h.openRoom(t, oneQuestion, 1)
	h.join(t, room, "Ana")

	_, err := h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)

	_, err = h.rooms.Join(ctx, room.Code, "Bia")
	assert.ErrorIs(t, err, domain.ErrRoomAlreadyActive)
	_, err = h.rooms.Join(ctx, room.Code, "Ana")
	assert.ErrorIs(t, err, domain.ErrRoomAlreadyActive)
}

func TestJoinRejoinReturnsExistingPlayer(t *testing.T) {
	h := newHarness(t)
	cfg := oneQuestion
	cfg.MaxParticipants = 2
	_, room := h.openRoom(t, cfg, 1)

	ana := h.join(t, room, "Ana")
	h.join(t, room, "Bia")

	res, err := h.rooms.Join(context.Background(), room.Code, "  ANA ")
	require.NoError(t, err)
	assert.True(t, res.Rejoined)
	assert.Equal(t, ana.ID, res.Player.ID)

	_, err = h.rooms.Join(context.Background(), room.Code, "Caio")
	assert.ErrorIs(t, err, domain.ErrRoomFull)

	players, err := h.store.ListPlayers(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Len(t, players, 2)
}

func TestJoinValidatesInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, room := h.openRoom(t, oneQuestion, 1)

	_, err := h.rooms.Join(ctx, room.Code, "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyName)
	_, err = h.rooms.Join(ctx, room.Code, "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopq")
	assert.ErrorIs(t, err, domain.ErrNameTooLong)
	_, err = h.rooms.Join(ctx, "12", "Ana")
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
	_, err = h.rooms.Join(ctx, "ZZZZZZ", "Ana")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	res, err := h.rooms.Join(ctx, " "+strings.ToLower(room.Code)+" ", "Ana")
	require.NoError(t, err)
	assert.Equal(t, room.ID, res.Room.ID)
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	h := newHarness(t)
	cfg := oneQuestion
	cfg.MaxParticipants = 5
	_, room := h.openRoom(t, cfg, 1)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.rooms.Join(context.Background(), room.Code, "player-"+string(rune('a'+i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	joined, full := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			joined++
		case errors.Is(err, domain.ErrRoomFull):
			full++
		default:
			t.Errorf("unexpected join error: %v", err)
		}
	}
	assert.Equal(t, 5, joined)
	assert.Equal(t, 15, full)
}

func TestCreateRoomRequiresActiveConfiguredOwnedQuiz(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	quiz := h.seedQuiz(t, oneQuestion, 1)

	_, err := h.rooms.CreateRoom(ctx, stranger, quiz.ID)
	assert.ErrorIs(t, err, domain.ErrNotQuizOwner)
	_, err = h.rooms.CreateRoom(ctx, domain.Identity{}, quiz.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	inactive := h.seedQuiz(t, oneQuestion, 1)
	require.NoError(t, h.store.SetQuizActive(ctx, inactive.ID, false))
	_, err = h.rooms.CreateRoom(ctx, owner, inactive.ID)
	assert.ErrorIs(t, err, domain.ErrQuizInactive)

	room, err := h.rooms.CreateRoom(ctx, owner, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomWaiting, room.Status)
	assert.Len(t, room.Code, 6)
}

func TestCreateRoomRetriesTakenCodes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	rooms := h.newRoomServiceWithCodes(codes)
	quiz := h.seedQuiz(t, oneQuestion, 1)

	first, err := rooms.CreateRoom(ctx, owner, quiz.ID)
	require.NoError(t, err)
	second, err := rooms.CreateRoom(ctx, owner, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", first.Code)
	assert.Equal(t, "BBBBBB", second.Code)
}

func (h *harness) newRoomServiceWithCodes(codes []string) *app.RoomService {
	var mu sync.Mutex
	next := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[0]
		if len(codes) > 1 {
			codes = codes[1:]
		}
		return code, nil
	}
	return app.NewRoomService(app.RoomDeps{
		Rooms: h.store, Players: h.store, Answers: h.store, Results: h.store,
		Quizzes: h.cache, Broker: h.broker, Presence: h.presence, Log: logging.Discard(),
	}, app.RoomSettings{CodeAttempts: 3}, app.WithCodeGenerator(next), app.WithClock(h.clock.Now),
		app.WithTimerFunc(h.scheduler.After))
}

func TestAnswerRecordedOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	quiz, room := h.openRoom(t, oneQuestion, 1)
	ana := h.join(t, room, "Ana")
	_, err := h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)

	out := h.answer(t, room, ana, "b")
	assert.True(t, out.Correct)
	assert.Equal(t, 10, out.Awarded)

	_, err = h.rooms.SubmitAnswer(ctx, room.ID, ana.ID, quiz.QuestionIDs[0], "A")
	assert.ErrorIs(t, err, domain.ErrDuplicateAnswer)

	answers, err := h.store.ListAnswers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.ChoiceB, answers[0].Choice)
}

func TestSubmitAnswerRejectsWrongQuestionAndBadChoice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	quiz, room := h.openRoom(t, domain.QuizConfig{QuestionCount: 2}, 2)
	ana := h.join(t, room, "Ana")

	_, err := h.rooms.SubmitAnswer(ctx, room.ID, ana.ID, quiz.QuestionIDs[0], "B")
	assert.ErrorIs(t, err, domain.ErrRoomNotInProgress)

	_, err = h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)
	_, err = h.rooms.SubmitAnswer(ctx, room.ID, ana.ID, quiz.QuestionIDs[1], "B")
	assert.ErrorIs(t, err, domain.ErrQuestionNotCurrent)
	_, err = h.rooms.SubmitAnswer(ctx, room.ID, ana.ID, quiz.QuestionIDs[0], "E")
	assert.ErrorIs(t, err, domain.ErrInvalidChoice)
	_, err = h.rooms.SubmitAnswer(ctx, room.ID, "ghost", quiz.QuestionIDs[0], "B")
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestLateAnswerRejectedAfterGrace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withAnswerGrace(time.Second))
	quiz, room := h.openRoom(t, domain.QuizConfig{QuestionCount: 1, TimeLimitMinutes: 1}, 1)
	ana := h.join(t, room, "Ana")
	bia := h.join(t, room, "Bia")
	_, err := h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)

	h.clock.Advance(60*time.Second + 500*time.Millisecond)
	_, err = h.rooms.SubmitAnswer(ctx, room.ID, ana.ID, quiz.QuestionIDs[0], "B")
	require.NoError(t, err, "inside the grace window")

	h.clock.Advance(time.Second)
	_, err = h.rooms.SubmitAnswer(ctx, room.ID, bia.ID, quiz.QuestionIDs[0], "B")
	assert.ErrorIs(t, err, domain.ErrAnswerTooLate)
}

func TestScenarioTimeoutCountsAsIncorrect(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, room := h.openRoom(t, domain.QuizConfig{QuestionCount: 3, TimeLimitMinutes: 1, PointsPerCorrect: 10}, 3)
	ana := h.join(t, room, "Ana")

	started, err := h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, started.QuestionBudget)

	h.answer(t, room, ana, "B")
	_, err = h.rooms.Advance(ctx, owner, room.ID, 0)
	require.NoError(t, err)
	h.answer(t, room, ana, "C")
	_, err = h.rooms.Advance(ctx, owner, room.ID, 1)
	require.NoError(t, err)

	h.clock.Advance(20 * time.Second)
	timer := h.scheduler.fireLatest(t)
	assert.Equal(t, 20*time.Second, timer.d)

	assert.Equal(t, domain.RoomFinished, h.room(t, room.ID).Status)
	ranking, err := h.results.ComputeRanking(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, ranking, 1)
	assert.Equal(t, 1, ranking[0].CorrectCount)
	assert.Equal(t, 10, ranking[0].TotalPoints)

	answers, err := h.store.ListAnswers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, answers, 3)
	assert.True(t, answers[2].TimedOut)
	assert.Equal(t, domain.ChoiceNone, answers[2].Choice)
}

func TestScenarioTieBrokenByEarlierCompletion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, room := h.openRoom(t, oneQuestion, 1)
	ana := h.join(t, room, "Ana")
	bia := h.join(t, room, "Bia")
	_, err := h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)

	h.clock.Advance(3 * time.Second)
	h.answer(t, room, bia, "B")
	h.clock.Advance(2 * time.Second)
	h.answer(t, room, ana, "B")
	_, err = h.rooms.Finish(ctx, owner, room.ID)
	require.NoError(t, err)

	ranking, err := h.results.ComputeRanking(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, ranking, 2)
	assert.Equal(t, "Bia", ranking[0].PlayerName)
	assert.Equal(t, 1, ranking[0].Rank)
	assert.Equal(t, "Ana", ranking[1].PlayerName)
	assert.Equal(t, ranking[0].TotalPoints, ranking[1].TotalPoints)
}

func TestScenarioNonOwnerGetsRankingButNoStats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, room := h.openRoom(t, oneQuestion, 1)
	ana := h.join(t, room, "Ana")
	_, err := h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)
	h.answer(t, room, ana, "B")
	_, err = h.rooms.Finish(ctx, owner, room.ID)
	require.NoError(t, err)

	_, err = h.results.ComputeQuestionStats(ctx, stranger, room.ID)
	assert.ErrorIs(t, err, domain.ErrNotQuizOwner)

	res, err := h.results.Results(ctx, stranger, room.ID, true)
	assert.ErrorIs(t, err, domain.ErrNotQuizOwner)
	assert.Len(t, res.Ranking, 1)
	assert.Nil(t, res.Detail)
	assert.False(t, res.IsOwner)

	res, err = h.results.Results(ctx, owner, room.ID, true)
	require.NoError(t, err)
	require.NotNil(t, res.Detail)
	assert.True(t, res.IsOwner)
}

func TestScenarioUnansweredQuestionHasZeroPercent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, room := h.openRoom(t, domain.QuizConfig{QuestionCount: 2}, 2)
	h.join(t, room, "Ana")
	_, err := h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)
	_, err = h.rooms.Finish(ctx, owner, room.ID)
	require.NoError(t, err)

	stats, err := h.results.ComputeQuestionStats(ctx, owner, room.ID)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 0.0, stats[0].PercentCorrect)
	assert.Equal(t, 1, stats[0].IncorrectCount, "the open question is closed as a timeout")
	assert.Equal(t, 0, stats[1].Total())
	assert.Equal(t, 0.0, stats[1].PercentCorrect)
}

func TestRankingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, room := h.openRoom(t, oneQuestion, 1)
	for _, name := range []string{"Ana", "Bia", "Caio"} {
		h.join(t, room, name)
	}
	_, err := h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)
	_, err = h.rooms.Finish(ctx, owner, room.ID)
	require.NoError(t, err)

	first, err := h.results.ComputeRanking(ctx, room.ID)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	again, err := h.rooms.Finish(ctx, owner, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomFinished, again.Status)
	second, err := h.results.ComputeRanking(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	results, err := h.store.ListResults(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestStaleTimerIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, room := h.openRoom(t, domain.QuizConfig{QuestionCount: 3}, 3)
	h.join(t, room, "Ana")
	_, err := h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)
	first := h.scheduler.pending()
	require.Len(t, first, 1)

	_, err = h.rooms.Advance(ctx, owner, room.ID, 0)
	require.NoError(t, err)
	assert.True(t, first[0].stopped)

	// A callback that races with Stop must not move the room again.
	first[0].f()
	assert.Equal(t, 1, h.room(t, room.ID).CurrentIndex)

	h.scheduler.fireLatest(t)
	assert.Equal(t, 2, h.room(t, room.ID).CurrentIndex)
}

func TestAdvanceFromStaleIndexIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, room := h.openRoom(t, domain.QuizConfig{QuestionCount: 3}, 3)
	_, err := h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)

	_, err = h.rooms.Advance(ctx, owner, room.ID, 0)
	require.NoError(t, err)
	got, err := h.rooms.Advance(ctx, owner, room.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentIndex)

	_, err = h.rooms.Advance(ctx, stranger, room.ID, 1)
	assert.ErrorIs(t, err, domain.ErrNotQuizOwner)
}

func TestAutoAdvanceWhenEveryoneAnswered(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withAutoAdvance())
	_, room := h.openRoom(t, domain.QuizConfig{QuestionCount: 2}, 2)
	ana := h.join(t, room, "Ana")
	bia := h.join(t, room, "Bia")
	_, err := h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)

	h.answer(t, room, ana, "B")
	assert.Equal(t, 0, h.room(t, room.ID).CurrentIndex)
	h.answer(t, room, bia, "A")
	assert.Equal(t, 1, h.room(t, room.ID).CurrentIndex)

	h.answer(t, room, ana, "B")
	h.answer(t, room, bia, "B")
	assert.Equal(t, domain.RoomFinished, h.room(t, room.ID).Status)
}

func TestSelectionBecomesAnswerOnTimeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	quiz, room := h.openRoom(t, oneQuestion, 1)
	ana := h.join(t, room, "Ana")
	_, err := h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)

	require.NoError(t, h.rooms.Select(ctx, room.ID, ana.ID, quiz.QuestionIDs[0], "B"))
	h.clock.Advance(30 * time.Second)
	h.scheduler.fireLatest(t)

	answers, err := h.store.ListAnswers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.True(t, answers[0].TimedOut)
	assert.True(t, answers[0].Correct)
	assert.Equal(t, 10, answers[0].Points)
	assert.Equal(t, domain.RoomFinished, h.room(t, room.ID).Status)
}

func TestLeaveOnlyRemovesWhileWaiting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, room := h.openRoom(t, oneQuestion, 1)
	ana := h.join(t, room, "Ana")
	bia := h.join(t, room, "Bia")

	require.NoError(t, h.rooms.Leave(ctx, room.ID, ana.ID))
	_, err := h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)
	require.NoError(t, h.rooms.Leave(ctx, room.ID, bia.ID))

	players, err := h.store.ListPlayers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Equal(t, bia.ID, players[0].ID)
}

func TestEventsPublishedToRoomTopic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t)
	_, room := h.openRoom(t, oneQuestion, 1)

	events, unsubscribe, err := h.rooms.Subscribe(ctx, room.ID)
	require.NoError(t, err)
	defer unsubscribe()

	h.join(t, room, "Ana")
	_, err = h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)

	want := []domain.EventType{domain.EventPlayerJoined, domain.EventRoomStarted, domain.EventQuestionStarted}
	for _, typ := range want {
		select {
		case ev := <-events:
			assert.Equal(t, typ, ev.Type)
			assert.Equal(t, room.ID, ev.RoomID)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestRestoreRearmsRunningRooms(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, room := h.openRoom(t, domain.QuizConfig{QuestionCount: 2}, 2)
	_, err := h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)
	h.rooms.Close()

	h.clock.Advance(10 * time.Second)
	restarted := h.newRoomService()
	defer restarted.Close()
	require.NoError(t, restarted.Restore(ctx))

	pending := h.scheduler.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 20*time.Second, pending[0].d)
	h.scheduler.fireLatest(t)
	assert.Equal(t, 1, h.room(t, room.ID).CurrentIndex)
}

func TestStateSnapshot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, room := h.openRoom(t, domain.QuizConfig{QuestionCount: 2, TimeLimitMinutes: 1}, 3)
	ana := h.join(t, room, "Ana")
	_, err := h.rooms.Connect(ctx, room.ID, ana.ID)
	require.NoError(t, err)

	view, err := h.rooms.State(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Total)
	assert.Nil(t, view.Question)
	require.Len(t, view.Players, 1)
	assert.True(t, view.Players[0].Online)

	_, err = h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)
	h.clock.Advance(10 * time.Second)
	view, err = h.rooms.State(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Question)
	assert.Equal(t, 1, view.Position)
	assert.Equal(t, 20, view.RemainingSeconds)

	h.rooms.Disconnect(ctx, room.ID, ana.ID)
	view, err = h.rooms.State(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, view.Players[0].Online)
}

// flakyRooms fails the first lookups by code with a transient error.
type flakyRooms struct {
	app.RoomStore
	mu       sync.Mutex
	failures int
}

func (f *flakyRooms) FindOpenRoomByCode(ctx context.Context, code string) (domain.Room, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return domain.Room{}, domain.Transient("find room", context.DeadlineExceeded)
	}
	f.mu.Unlock()
	return f.RoomStore.FindOpenRoomByCode(ctx, code)
}

func TestJoinRetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	flaky := &flakyRooms{RoomStore: h.store, failures: 2}
	rooms := h.newRoomService(withRoomStore(flaky))
	_, room := h.openRoom(t, oneQuestion, 1)

	res, err := rooms.Join(context.Background(), room.Code, "Ana")
	require.NoError(t, err)
	assert.Equal(t, room.ID, res.Room.ID)

	flaky.failures = 10
	_, err = rooms.Join(context.Background(), room.Code, "Bia")
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestRoomKeepsConfigFrozenAtCreation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	quiz, room := h.openRoom(t, domain.QuizConfig{QuestionCount: 2, PointsPerCorrect: 10, MaxParticipants: 3}, 3)

	authoring := app.NewAuthoringService(app.AuthoringDeps{
		Quizzes: h.store, Questions: h.store, Categories: h.store, Rooms: h.store,
		Cache: h.cache, Log: logging.Discard(),
	})
	_, err := authoring.UpdateQuiz(ctx, owner, quiz.ID, app.QuizInput{
		Title:       quiz.Title,
		Config:      &domain.QuizConfig{QuestionCount: 1, PointsPerCorrect: 999, MaxParticipants: 1},
		QuestionIDs: quiz.QuestionIDs,
		Active:      true,
	})
	require.NoError(t, err)

	ana := h.join(t, room, "Ana")
	h.join(t, room, "Bia")
	h.join(t, room, "Caio")
	_, err = h.rooms.Join(ctx, room.Code, "Dani")
	assert.ErrorIs(t, err, domain.ErrRoomFull)

	started, err := h.rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, started.Config.PointsPerCorrect)
	assert.Equal(t, 3, started.Config.MaxParticipants)
	assert.Len(t, started.QuestionIDs, 2)

	out := h.answer(t, room, ana, "B")
	assert.True(t, out.Correct)
	assert.Equal(t, 10, out.Awarded)
	assert.Equal(t, 10, h.room(t, room.ID).Config.PointsPerCorrect)
}

// racingRooms lets another writer move the room on right before the first
// finish commit lands.
type racingRooms struct {
	app.RoomStore
	armed atomic.Bool
}

func (r *racingRooms) UpdateRoom(ctx context.Context, room domain.Room, expectedVersion int) error {
	if room.Status == domain.RoomFinished && r.armed.CompareAndSwap(true, false) {
		current, err := r.RoomStore.GetRoom(ctx, room.ID)
		if err != nil {
			return err
		}
		moved := current
		moved.CurrentIndex++
		moved.Version = current.Version + 1
		if err := r.RoomStore.UpdateRoom(ctx, moved, current.Version); err != nil {
			return err
		}
	}
	return r.RoomStore.UpdateRoom(ctx, room, expectedVersion)
}

func TestFinishLosingVersionRaceWritesNoResults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	racer := &racingRooms{RoomStore: h.store}
	rooms := h.newRoomService(withRoomStore(racer))
	t.Cleanup(rooms.Close)

	_, room := h.openRoom(t, domain.QuizConfig{QuestionCount: 2, PointsPerCorrect: 10}, 2)
	ana := h.join(t, room, "Ana")
	_, err := rooms.Start(ctx, owner, room.ID)
	require.NoError(t, err)

	answer := func() {
		current, ok := h.room(t, room.ID).CurrentQuestionID()
		require.True(t, ok)
		out, err := rooms.SubmitAnswer(ctx, room.ID, ana.ID, current, "B")
		require.NoError(t, err)
		require.True(t, out.Correct)
	}
	answer()

	racer.armed.Store(true)
	_, err = rooms.Finish(ctx, owner, room.ID)
	require.ErrorIs(t, err, domain.ErrStaleRoom)

	stored, err := h.store.ListResults(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
	after := h.room(t, room.ID)
	assert.Equal(t, domain.RoomInProgress, after.Status)
	assert.Equal(t, 1, after.CurrentIndex)
	assert.Len(t, h.scheduler.pending(), 1, "current question keeps its timer")

	answer()
	finished, err := rooms.Finish(ctx, owner, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomFinished, finished.Status)
	assert.Empty(t, h.scheduler.pending())

	ranking, err := h.results.ComputeRanking(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, ranking, 1)
	assert.Equal(t, 20, ranking[0].TotalPoints)
	assert.Equal(t, 2, ranking[0].CorrectCount)
}

// gatedRooms runs onGet once, after the next room lookup.
type gatedRooms struct {
	app.RoomStore
	armed atomic.Bool
	onGet func()
}

func (r *gatedRooms) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	room, err := r.RoomStore.GetRoom(ctx, roomID)
	if r.armed.CompareAndSwap(true, false) {
		r.onGet()
	}
	return room, err
}

func TestLeaveAndStartDoNotInterleave(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	gated := &gatedRooms{RoomStore: h.store}
	rooms := h.newRoomService(withRoomStore(gated))
	t.Cleanup(rooms.Close)

	_, room := h.openRoom(t, oneQuestion, 1)
	ana := h.join(t, room, "Ana")
	bia := h.join(t, room, "Bia")

	started := make(chan error, 1)
	startedDuringLeave := false
	gated.onGet = func() {
		go func() {
			_, err := rooms.Start(ctx, owner, room.ID)
			started <- err
		}()
		select {
		case err := <-started:
			startedDuringLeave = true
			started <- err
		case <-time.After(50 * time.Millisecond):
		}
	}
	gated.armed.Store(true)

	require.NoError(t, rooms.Leave(ctx, room.ID, bia.ID))
	require.NoError(t, <-started)
	assert.False(t, startedDuringLeave, "start ran while leave held the room")

	players, err := h.store.ListPlayers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Equal(t, ana.ID, players[0].ID)
	assert.Equal(t, domain.RoomInProgress, h.room(t, room.ID).Status)
}

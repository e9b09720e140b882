package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"quizzana/internal/app"
	"quizzana/internal/domain"
	"quizzana/internal/infra/memory"
	"quizzana/internal/logging"
)

var (
	owner    = domain.Identity{AdminID: "owner-1", Email: "owner@example.com", Name: "Owner"}
	stranger = domain.Identity{AdminID: "admin-2", Email: "other@example.com", Name: "Other"}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTimer struct {
	s       *scheduler
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// scheduler records timers instead of running them; tests fire them by hand.
type scheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *scheduler) After(d time.Duration, f func()) app.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *scheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// fireLatest runs the newest pending timer outside the scheduler lock.
func (s *scheduler) fireLatest(t *testing.T) *fakeTimer {
	t.Helper()
	pending := s.pending()
	require.NotEmpty(t, pending, "no pending timer")
	timer := pending[len(pending)-1]
	s.mu.Lock()
	timer.stopped = true
	s.mu.Unlock()
	timer.f()
	return timer
}

type harness struct {
	store     *memory.Store
	cache     *memory.QuizRepository
	broker    *memory.Broker
	presence  *memory.Presence
	clock     *clock
	scheduler *scheduler
	rooms     *app.RoomService
	results   *app.ResultsService
	seq       int
}

type harnessOption func(*app.RoomDeps, *app.RoomSettings)

func withAutoAdvance() harnessOption {
	return func(_ *app.RoomDeps, s *app.RoomSettings) { s.AutoAdvance = true }
}

func withRoomStore(rooms app.RoomStore) harnessOption {
	return func(d *app.RoomDeps, _ *app.RoomSettings) { d.Rooms = rooms }
}

func withAnswerGrace(d time.Duration) harnessOption {
	return func(_ *app.RoomDeps, s *app.RoomSettings) { s.AnswerGrace = d }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		broker:    memory.NewBroker(),
		presence:  memory.NewPresence(),
		clock:     newClock(),
		scheduler: &scheduler{},
	}
	h.cache = memory.NewQuizRepository(h.store, time.Minute)
	h.rooms = h.newRoomService(opts...)
	h.results = app.NewResultsService(app.ResultsDeps{
		Rooms: h.store, Players: h.store, Answers: h.store, Results: h.store,
		Quizzes: h.cache, Log: logging.Discard(),
	})
	t.Cleanup(h.rooms.Close)
	return h
}

func (h *harness) newRoomService(opts ...harnessOption) *app.RoomService {
	deps := app.RoomDeps{
		Rooms: h.store, Players: h.store, Answers: h.store, Results: h.store,
		Quizzes: h.cache, Broker: h.broker, Presence: h.presence, Log: logging.Discard(),
	}
	settings := app.RoomSettings{DefaultQuestionBudget: 30 * time.Second}
	for _, opt := range opts {
		opt(&deps, &settings)
	}
	return app.NewRoomService(deps, settings,
		app.WithClock(h.clock.Now),
		app.WithTimerFunc(h.scheduler.After),
	)
}

// seedQuiz stores an active quiz owned by owner whose questions all have B as
// the correct answer.
func (h *harness) seedQuiz(t *testing.T, cfg domain.QuizConfig, questions int) domain.Quiz {
	t.Helper()
	ctx := context.Background()
	h.seq++
	quiz := domain.Quiz{
		ID:        fmt.Sprintf("quiz-%d", h.seq),
		Title:     "General knowledge",
		OwnerID:   owner.AdminID,
		Active:    true,
		Config:    &cfg,
		CreatedAt: h.clock.Now(),
	}
	for i := 1; i <= questions; i++ {
		q := domain.Question{
			ID:        fmt.Sprintf("%s-q%d", quiz.ID, i),
			Prompt:    fmt.Sprintf("Question %d", i),
			Options:   [4]string{"a", "b", "c", "d"},
			Correct:   domain.ChoiceB,
			CreatedAt: h.clock.Now(),
		}
		require.NoError(t, h.store.CreateQuestion(ctx, q))
		quiz.QuestionIDs = append(quiz.QuestionIDs, q.ID)
	}
	require.NoError(t, h.store.CreateQuiz(ctx, quiz))
	stored, err := h.store.GetQuiz(ctx, quiz.ID)
	require.NoError(t, err)
	return stored
}

func (h *harness) openRoom(t *testing.T, cfg domain.QuizConfig, questions int) (domain.Quiz, domain.Room) {
	t.Helper()
	quiz := h.seedQuiz(t, cfg, questions)
	room, err := h.rooms.CreateRoom(context.Background(), owner, quiz.ID)
	require.NoError(t, err)
	return quiz, room
}

func (h *harness) join(t *testing.T, room domain.Room, name string) domain.Player {
	t.Helper()
	res, err := h.rooms.Join(context.Background(), room.Code, name)
	require.NoError(t, err)
	return res.Player
}

func (h *harness) room(t *testing.T, id string) domain.Room {
	t.Helper()
	room, err := h.store.GetRoom(context.Background(), id)
	require.NoError(t, err)
	return room
}

func (h *harness) answer(t *testing.T, room domain.Room, player domain.Player, choice string) domain.AnswerOutcome {
	t.Helper()
	current, ok := h.room(t, room.ID).CurrentQuestionID()
	require.True(t, ok, "no open question")
	out, err := h.rooms.SubmitAnswer(context.Background(), room.ID, player.ID, current, choice)
	require.NoError(t, err)
	return out
}

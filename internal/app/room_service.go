package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"quizzana/internal/domain"
	"quizzana/internal/metrics"
)

const maxNameLength = 40

// RoomSettings are the runtime knobs of the room lifecycle.
type RoomSettings struct {
	DefaultQuestionBudget time.Duration
	AnswerGrace           time.Duration
	OpTimeout             time.Duration
	CodeAttempts          int
	AutoAdvance           bool
	Tick                  time.Duration
}

// RoomDeps groups the collaborators of RoomService.
type RoomDeps struct {
	Rooms    RoomStore
	Players  PlayerStore
	Answers  AnswerStore
	Results  ResultStore
	Quizzes  QuizRepository
	Broker   Broker
	Presence Presence
	Log      logrus.FieldLogger
	Metrics  *metrics.Metrics
}

// RoomOption customises a RoomService, mostly for tests.
type RoomOption func(*RoomService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RoomOption {
	return func(s *RoomService) { s.now = now }
}

// WithTimerFunc replaces time.AfterFunc for question deadlines and ticks.
func WithTimerFunc(after TimerFunc) RoomOption {
	return func(s *RoomService) { s.after = after }
}

// WithCodeGenerator replaces RandomCode.
func WithCodeGenerator(gen CodeGenerator) RoomOption {
	return func(s *RoomService) { s.codes = gen }
}

// WithShuffle replaces the question shuffler.
func WithShuffle(shuffle func(n int, swap func(i, j int))) RoomOption {
	return func(s *RoomService) { s.shuffle = shuffle }
}

// JoinResult is returned to a player entering a room.
type JoinResult struct {
	Player   domain.Player `json:"player"`
	Room     domain.Room   `json:"room"`
	Rejoined bool          `json:"rejoined"`
}

type selection struct {
	questionID string
	choice     domain.Choice
	at         time.Time
}

// RoomService owns the room lifecycle: creation, joining, the question pointer,
// answers and the final results. Transitions of one room are serialised by a
// per-room lock and written with compare-and-set on Room.Version.
type RoomService struct {
	rooms    RoomStore
	players  PlayerStore
	answers  AnswerStore
	results  ResultStore
	quizzes  QuizRepository
	broker   Broker
	presence Presence
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	settings RoomSettings

	now     func() time.Time
	after   TimerFunc
	codes   CodeGenerator
	shuffle func(n int, swap func(i, j int))
	timers  *questionTimers

	locks sync.Map

	selMu      sync.Mutex
	selections map[string]map[string]selection
}

func NewRoomService(deps RoomDeps, settings RoomSettings, opts ...RoomOption) *RoomService {
	if settings.DefaultQuestionBudget <= 0 {
		settings.DefaultQuestionBudget = 30 * time.Second
	}
	if settings.OpTimeout <= 0 {
		settings.OpTimeout = 5 * time.Second
	}
	if settings.CodeAttempts <= 0 {
		settings.CodeAttempts = 8
	}
	s := &RoomService{
		rooms:      deps.Rooms,
		players:    deps.Players,
		answers:    deps.Answers,
		results:    deps.Results,
		quizzes:    deps.Quizzes,
		broker:     deps.Broker,
		presence:   deps.Presence,
		log:        deps.Log,
		metrics:    deps.Metrics,
		settings:   settings,
		now:        time.Now,
		after:      afterFunc,
		codes:      RandomCode,
		shuffle:    rand.Shuffle,
		selections: make(map[string]map[string]selection),
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	for _, opt := range opts {
		opt(s)
	}
	s.timers = newQuestionTimers(s.after, settings.Tick)
	return s
}

// CreateRoom opens a waiting room for an active, configured quiz owned by the caller.
func (s *RoomService) CreateRoom(ctx context.Context, ident domain.Identity, quizID string) (domain.Room, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	quiz, err := s.ownedQuiz(ctx, ident, quizID)
	if err != nil {
		return domain.Room{}, err
	}
	if !quiz.Configured() {
		return domain.Room{}, domain.ErrQuizNotConfigured
	}
	if !quiz.Active {
		return domain.Room{}, domain.ErrQuizInactive
	}

	now := s.now()
	for attempt := 0; attempt < s.settings.CodeAttempts; attempt++ {
		code, err := s.codes()
		if err != nil {
			return domain.Room{}, fmt.Errorf("generate room code: %w", err)
		}
		room := domain.Room{
			ID:           uuid.NewString(),
			QuizID:       quiz.ID,
			Code:         code,
			Status:       domain.RoomWaiting,
			Config:       *quiz.Config,
			CurrentIndex: -1,
			Version:      1,
			CreatedAt:    now,
		}
		err = withRetry(ctx, func() error { return s.rooms.CreateRoom(ctx, room) })
		if errors.Is(err, domain.ErrRoomCodeTaken) {
			continue
		}
		if err != nil {
			return domain.Room{}, fmt.Errorf("create room: %w", err)
		}
		s.transition(room)
		return room, nil
	}
	return domain.Room{}, domain.Transient("create room", errors.New("no free room code"))
}

// ResolveJoinLink finds the waiting room behind a quiz join link.
func (s *RoomService) ResolveJoinLink(ctx context.Context, quizID string) (domain.Room, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.rooms.FindWaitingRoomForQuiz(ctx, quizID)
}

// Join enters a waiting room by code. A name already present in the room returns
// that player instead of creating a second one.
func (s *RoomService) Join(ctx context.Context, code, name string) (JoinResult, error) {
	res, err := s.join(ctx, code, name)
	s.metrics.Joins.WithLabelValues(metrics.Outcome(err)).Inc()
	return res, err
}

func (s *RoomService) join(ctx context.Context, rawCode, rawName string) (JoinResult, error) {
	name, err := validateName(rawName)
	if err != nil {
		return JoinResult{}, err
	}
	code, err := NormalizeCode(rawCode)
	if err != nil {
		return JoinResult{}, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var room domain.Room
	err = withRetry(ctx, func() error {
		var findErr error
		room, findErr = s.rooms.FindOpenRoomByCode(ctx, code)
		return findErr
	})
	if err != nil {
		return JoinResult{}, err
	}
	if room.Status != domain.RoomWaiting {
		return JoinResult{}, domain.ErrRoomAlreadyActive
	}

	candidate := domain.Player{
		ID:       uuid.NewString(),
		RoomID:   room.ID,
		Name:     name,
		JoinedAt: s.now(),
	}
	var (
		player   domain.Player
		existing bool
	)
	err = withRetry(ctx, func() error {
		var joinErr error
		player, existing, joinErr = s.players.JoinRoom(ctx, candidate, room.Config.MaxParticipants)
		return joinErr
	})
	if err != nil {
		return JoinResult{}, err
	}

	if !existing {
		s.publish(ctx, domain.NewEvent(domain.EventPlayerJoined, room, player, s.now()))
	}
	s.log.WithFields(logrus.Fields{
		"room_id":   room.ID,
		"player_id": player.ID,
		"rejoined":  existing,
	}).Info("player joined")
	return JoinResult{Player: player, Room: room, Rejoined: existing}, nil
}

// Leave removes a player from a waiting room. Once the room started the player
// keeps their answers and only their presence is dropped.
func (s *RoomService) Leave(ctx context.Context, roomID, playerID string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	unlock := s.lock(roomID)
	defer unlock()

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status == domain.RoomFinished {
		s.forget(roomID)
	}
	player, err := s.players.GetPlayer(ctx, roomID, playerID)
	if err != nil {
		return err
	}
	if err := s.presence.Disconnect(ctx, roomID, playerID); err != nil {
		s.log.WithError(err).WithField("room_id", roomID).Warn("presence disconnect")
	}
	if room.Status != domain.RoomWaiting {
		return nil
	}
	if err := s.players.RemovePlayer(ctx, roomID, playerID); err != nil {
		return err
	}
	s.publish(ctx, domain.NewEvent(domain.EventPlayerLeft, room, player, s.now()))
	return nil
}

// Start fixes the question order and opens the first question.
func (s *RoomService) Start(ctx context.Context, ident domain.Identity, roomID string) (domain.Room, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	unlock := s.lock(roomID)
	defer unlock()

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Room{}, err
	}
	quiz, err := s.ownedQuiz(ctx, ident, room.QuizID)
	if err != nil {
		return domain.Room{}, err
	}
	switch room.Status {
	case domain.RoomInProgress:
		return domain.Room{}, domain.ErrRoomAlreadyActive
	case domain.RoomFinished:
		s.forget(roomID)
		return domain.Room{}, domain.ErrRoomFinished
	}
	order := s.questionOrder(quiz, room.Config)
	if len(order) == 0 {
		return domain.Room{}, domain.ErrQuizNotConfigured
	}

	// room.Config stays as frozen by CreateRoom.
	now := s.now()
	next := room
	next.Status = domain.RoomInProgress
	next.QuestionIDs = order
	next.CurrentIndex = 0
	next.QuestionStartedAt = now
	next.QuestionBudget = next.Config.QuestionBudget(len(order), s.settings.DefaultQuestionBudget)
	next.StartedAt = &now
	next.Version = room.Version + 1
	if err := s.rooms.UpdateRoom(ctx, next, room.Version); err != nil {
		return domain.Room{}, err
	}

	s.transition(next)
	s.armQuestion(next)
	s.publish(ctx, domain.NewEvent(domain.EventRoomStarted, next, nil, now))
	s.publishQuestion(ctx, next, quiz, now)
	return next, nil
}

// Advance moves past the current question. When fromIndex is not negative and no
// longer matches the pointer, the call is a no-op so repeated clicks advance once.
func (s *RoomService) Advance(ctx context.Context, ident domain.Identity, roomID string, fromIndex int) (domain.Room, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	unlock := s.lock(roomID)
	defer unlock()

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Room{}, err
	}
	if _, err := s.ownedQuiz(ctx, ident, room.QuizID); err != nil {
		return domain.Room{}, err
	}
	switch room.Status {
	case domain.RoomWaiting:
		return domain.Room{}, domain.ErrRoomNotInProgress
	case domain.RoomFinished:
		s.forget(roomID)
		return domain.Room{}, domain.ErrRoomFinished
	}
	if fromIndex >= 0 && fromIndex != room.CurrentIndex {
		return room, nil
	}
	if err := s.recordTimeouts(ctx, room); err != nil {
		return domain.Room{}, err
	}
	return s.advanceLocked(ctx, room)
}

// Finish closes the room and writes one result row per player. Finishing a
// finished room returns it unchanged after writing any missing result rows.
func (s *RoomService) Finish(ctx context.Context, ident domain.Identity, roomID string) (domain.Room, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	unlock := s.lock(roomID)
	defer unlock()

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Room{}, err
	}
	if _, err := s.ownedQuiz(ctx, ident, room.QuizID); err != nil {
		return domain.Room{}, err
	}
	if room.Status == domain.RoomFinished {
		s.forget(roomID)
		if _, err := s.persistResults(ctx, room); err != nil {
			return domain.Room{}, err
		}
		return room, nil
	}
	if room.Status == domain.RoomInProgress {
		if err := s.recordTimeouts(ctx, room); err != nil {
			return domain.Room{}, err
		}
	}
	return s.finishLocked(ctx, room)
}

// Select records a tentative choice. It becomes the player's answer if the
// question times out before they submit.
func (s *RoomService) Select(ctx context.Context, roomID, playerID, questionID, rawChoice string) error {
	choice, err := domain.ParseChoice(rawChoice)
	if err != nil {
		return err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if _, err := s.openQuestion(room, questionID); err != nil {
		return err
	}
	if _, err := s.players.GetPlayer(ctx, roomID, playerID); err != nil {
		return err
	}

	s.selMu.Lock()
	defer s.selMu.Unlock()
	byPlayer, ok := s.selections[roomID]
	if !ok {
		byPlayer = make(map[string]selection)
		s.selections[roomID] = byPlayer
	}
	byPlayer[playerID] = selection{questionID: questionID, choice: choice, at: s.now()}
	return nil
}

// SubmitAnswer records the player's answer to the current question.
func (s *RoomService) SubmitAnswer(ctx context.Context, roomID, playerID, questionID, rawChoice string) (domain.AnswerOutcome, error) {
	out, err := s.submit(ctx, roomID, playerID, questionID, rawChoice)
	s.metrics.Answers.WithLabelValues(metrics.Outcome(err)).Inc()
	return out, err
}

func (s *RoomService) submit(ctx context.Context, roomID, playerID, questionID, rawChoice string) (domain.AnswerOutcome, error) {
	choice, err := domain.ParseChoice(rawChoice)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()
	unlock := s.lock(roomID)
	defer unlock()

	var room domain.Room
	err = withRetry(ctx, func() error {
		var getErr error
		room, getErr = s.rooms.GetRoom(ctx, roomID)
		return getErr
	})
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	current, err := s.openQuestion(room, questionID)
	if errors.Is(err, domain.ErrRoomFinished) {
		s.forget(roomID)
	}
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	now := s.now()
	if now.After(room.Deadline().Add(s.settings.AnswerGrace)) {
		return domain.AnswerOutcome{}, domain.ErrAnswerTooLate
	}
	if _, err := s.players.GetPlayer(ctx, roomID, playerID); err != nil {
		return domain.AnswerOutcome{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, room.QuizID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	question, ok := quiz.Question(current)
	if !ok {
		return domain.AnswerOutcome{}, domain.ErrQuestionNotFound
	}

	correct, points := scoreAnswer(question, choice, room.Config)
	answer := domain.Answer{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		PlayerID:   playerID,
		QuestionID: current,
		Choice:     choice,
		Correct:    correct,
		Points:     points,
		AnsweredAt: now,
	}
	if err := withRetry(ctx, func() error { return s.answers.InsertAnswer(ctx, answer) }); err != nil {
		return domain.AnswerOutcome{}, err
	}
	s.takeSelection(roomID, playerID, current)

	answers, err := s.answers.ListAnswers(ctx, roomID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	players, err := s.players.ListPlayers(ctx, roomID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	total, answered := 0, 0
	for _, a := range answers {
		if a.PlayerID == playerID {
			total += a.Points
		}
		if a.QuestionID == current {
			answered++
		}
	}

	s.publish(ctx, domain.NewEvent(domain.EventAnswerRecorded, room, domain.AnswerRecordedPayload{
		QuestionID: current,
		Answered:   answered,
		Players:    len(players),
	}, now))

	if s.settings.AutoAdvance && answered >= len(players) {
		if _, err := s.advanceLocked(ctx, room); err != nil {
			s.log.WithError(err).WithField("room_id", roomID).Warn("auto advance")
		}
	}

	return domain.AnswerOutcome{
		QuestionID:  current,
		Choice:      choice,
		Correct:     correct,
		Awarded:     points,
		TotalPoints: total,
	}, nil
}

// State is the snapshot a client renders after (re)connecting.
func (s *RoomService) State(ctx context.Context, roomID string) (domain.RoomView, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return domain.RoomView{}, err
	}
	players, err := s.players.ListPlayers(ctx, roomID)
	if err != nil {
		return domain.RoomView{}, err
	}
	online, err := s.presence.Online(ctx, roomID)
	if err != nil {
		s.log.WithError(err).WithField("room_id", roomID).Warn("presence lookup")
		online = map[string]bool{}
	}

	view := domain.RoomView{Room: room, Players: make([]domain.PlayerView, 0, len(players))}
	for _, p := range players {
		view.Players = append(view.Players, domain.PlayerView{Player: p, Online: online[p.ID]})
	}

	quiz, err := s.quizzes.GetQuiz(ctx, room.QuizID)
	switch {
	case err == nil:
		view.QuizTitle = quiz.Title
	case errors.Is(err, domain.ErrNotFound):
	default:
		return domain.RoomView{}, err
	}

	view.Total = len(room.QuestionIDs)
	if room.Status == domain.RoomWaiting && err == nil {
		view.Total = min(room.Config.QuestionCount, len(quiz.QuestionIDs))
	}
	if current, ok := room.CurrentQuestionID(); ok {
		if q, found := quiz.Question(current); found {
			pub := q.Public()
			view.Question = &pub
		}
		view.Position = room.CurrentIndex + 1
		view.RemainingSeconds = seconds(room.Remaining(s.now()))
		answers, err := s.answers.ListAnswers(ctx, roomID)
		if err != nil {
			return domain.RoomView{}, err
		}
		for _, a := range answers {
			if a.QuestionID == current {
				view.Answered++
			}
		}
	}
	return view, nil
}

// Subscribe streams the room's events.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *RoomService) Subscribe(ctx context.Context, roomID string) (<-chan domain.Event, func(), error) {
	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		return nil, nil, err
	}
	return s.broker.Subscribe(ctx, domain.RoomTopic(roomID))
}

// Connect marks a player online after checking they belong to the room.
func (s *RoomService) Connect(ctx context.Context, roomID, playerID string) (domain.Player, error) {
	player, err := s.players.GetPlayer(ctx, roomID, playerID)
	if err != nil {
		return domain.Player{}, err
	}
	if err := s.presence.Connect(ctx, roomID, playerID); err != nil {
		return domain.Player{}, err
	}
	return player, nil
}

// Disconnect marks a player offline.
func (s *RoomService) Disconnect(ctx context.Context, roomID, playerID string) {
	if err := s.presence.Disconnect(ctx, roomID, playerID); err != nil {
		s.log.WithError(err).WithField("room_id", roomID).Warn("presence disconnect")
	}
}

// Restore re-arms question timers for rooms left in progress by a previous process.
func (s *RoomService) Restore(ctx context.Context) error {
	rooms, err := s.rooms.ListRoomsInProgress(ctx)
	if err != nil {
		return fmt.Errorf("list rooms in progress: %w", err)
	}
	for _, room := range rooms {
		s.armQuestion(room)
	}
	if len(rooms) > 0 {
		s.log.WithField("rooms", len(rooms)).Info("restored question timers")
	}
	return nil
}

// Close stops every pending timer.
func (s *RoomService) Close() {
	s.timers.stopAll()
}

func (s *RoomService) advanceLocked(ctx context.Context, room domain.Room) (domain.Room, error) {
	if room.LastQuestion() {
		return s.finishLocked(ctx, room)
	}

	now := s.now()
	next := room
	next.CurrentIndex++
	next.QuestionStartedAt = now
	next.Version = room.Version + 1
	if err := s.rooms.UpdateRoom(ctx, next, room.Version); err != nil {
		if errors.Is(err, domain.ErrStaleRoom) {
			if current, getErr := s.rooms.GetRoom(ctx, room.ID); getErr == nil && current.Active() {
				s.armQuestion(current)
			}
		}
		return domain.Room{}, err
	}
	s.armQuestion(next)

	quiz, err := s.quizzes.GetQuiz(ctx, next.QuizID)
	if err != nil {
		s.log.WithError(err).WithField("room_id", next.ID).Warn("load quiz for question event")
		return next, nil
	}
	s.publishQuestion(ctx, next, quiz, now)
	return next, nil
}

func (s *RoomService) finishLocked(ctx context.Context, room domain.Room) (domain.Room, error) {
	now := s.now()
	next := room
	next.Status = domain.RoomFinished
	next.FinishedAt = &now
	next.Version = room.Version + 1
	if err := s.rooms.UpdateRoom(ctx, next, room.Version); err != nil {
		return s.finishConflict(ctx, room, err)
	}
	s.timers.cancel(room.ID)
	s.dropSelections(room.ID)
	s.forget(room.ID)
	s.transition(next)

	stored, err := s.persistResults(ctx, next)
	if err != nil {
		return domain.Room{}, err
	}
	s.publish(ctx, domain.NewEvent(domain.EventRoomFinished, next, RankResults(stored), now))
	return next, nil
}

// finishConflict handles a finish whose commit failed. A room finished
// elsewhere is returned with its results; a room still in progress keeps a
// question timer.
func (s *RoomService) finishConflict(ctx context.Context, room domain.Room, err error) (domain.Room, error) {
	current, getErr := s.rooms.GetRoom(ctx, room.ID)
	if getErr != nil {
		if room.Active() {
			s.armQuestion(room)
		}
		return domain.Room{}, err
	}
	switch {
	case current.Status == domain.RoomFinished:
		s.timers.cancel(room.ID)
		s.dropSelections(room.ID)
		s.forget(room.ID)
		if _, saveErr := s.persistResults(ctx, current); saveErr != nil {
			return domain.Room{}, saveErr
		}
		return current, nil
	case current.Active():
		s.armQuestion(current)
	}
	return domain.Room{}, err
}

// persistResults writes one result row per player of a finished room. Rows
// already stored are kept, so calling it again is harmless.
func (s *RoomService) persistResults(ctx context.Context, room domain.Room) ([]domain.Result, error) {
	finishedAt := s.now()
	if room.FinishedAt != nil {
		finishedAt = *room.FinishedAt
	}
	players, err := s.players.ListPlayers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	answers, err := s.answers.ListAnswers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	tallied := TallyResults(room.ID, players, answers, finishedAt)
	if err := withRetry(ctx, func() error { return s.results.SaveResults(ctx, tallied) }); err != nil {
		return nil, fmt.Errorf("save results: %w", err)
	}
	stored, err := s.results.ListResults(ctx, room.ID)
	if err != nil {
		s.log.WithError(err).WithField("room_id", room.ID).Warn("load results for finish event")
		return tallied, nil
	}
	return stored, nil
}

// recordTimeouts writes an answer for every player who has none on the current
// question: their tentative choice if they made one, otherwise no choice.
func (s *RoomService) recordTimeouts(ctx context.Context, room domain.Room) error {
	current, ok := room.CurrentQuestionID()
	if !ok {
		return nil
	}
	quiz, err := s.quizzes.GetQuiz(ctx, room.QuizID)
	if err != nil {
		return err
	}
	question, _ := quiz.Question(current)
	players, err := s.players.ListPlayers(ctx, room.ID)
	if err != nil {
		return err
	}
	answers, err := s.answers.ListAnswers(ctx, room.ID)
	if err != nil {
		return err
	}
	answered := make(map[string]bool, len(answers))
	for _, a := range answers {
		if a.QuestionID == current {
			answered[a.PlayerID] = true
		}
	}

	now := s.now()
	for _, p := range players {
		if answered[p.ID] {
			continue
		}
		choice, at := domain.ChoiceNone, now
		if sel, ok := s.takeSelection(room.ID, p.ID, current); ok {
			choice, at = sel.choice, sel.at
		}
		correct, points := scoreAnswer(question, choice, room.Config)
		err := s.answers.InsertAnswer(ctx, domain.Answer{
			ID:         uuid.NewString(),
			RoomID:     room.ID,
			PlayerID:   p.ID,
			QuestionID: current,
			Choice:     choice,
			Correct:    correct,
			Points:     points,
			TimedOut:   true,
			AnsweredAt: at,
		})
		if errors.Is(err, domain.ErrDuplicateAnswer) {
			continue
		}
		if err != nil {
			return fmt.Errorf("record timeout: %w", err)
		}
		s.metrics.Answers.WithLabelValues("timeout").Inc()
	}
	return nil
}

func (s *RoomService) expireQuestion(roomID string, index int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.OpTimeout)
	defer cancel()
	unlock := s.lock(roomID)
	defer unlock()

	log := s.log.WithFields(logrus.Fields{"room_id": roomID, "index": index})
	var room domain.Room
	err := withRetry(ctx, func() error {
		var getErr error
		room, getErr = s.rooms.GetRoom(ctx, roomID)
		return getErr
	})
	if err != nil {
		log.WithError(err).Error("load room on question expiry")
		return
	}
	if room.Status == domain.RoomFinished {
		s.forget(roomID)
	}
	if room.Status != domain.RoomInProgress || room.CurrentIndex != index {
		return
	}
	if err := s.recordTimeouts(ctx, room); err != nil {
		log.WithError(err).Warn("record timeouts")
	}
	if _, err := s.advanceLocked(ctx, room); err != nil {
		log.WithError(err).Error("advance on question expiry")
		if !errors.Is(err, domain.ErrStaleRoom) {
			s.timers.arm(roomID, index, time.Second, s.onExpire(roomID), nil)
		}
	}
}

func (s *RoomService) tick(roomID string, index int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.OpTimeout)
	defer cancel()

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil || room.Status != domain.RoomInProgress || room.CurrentIndex != index {
		return
	}
	now := s.now()
	s.publish(ctx, domain.NewEvent(domain.EventTick, room, domain.TickPayload{
		RemainingSeconds: seconds(room.Remaining(now)),
	}, now))
}

func (s *RoomService) armQuestion(room domain.Room) {
	budget := room.Remaining(s.now()) + s.settings.AnswerGrace
	s.timers.arm(room.ID, room.CurrentIndex, budget, s.onExpire(room.ID), func(index int) {
		s.tick(room.ID, index)
	})
}

func (s *RoomService) onExpire(roomID string) func(int) {
	return func(index int) { s.expireQuestion(roomID, index) }
}

func (s *RoomService) publishQuestion(ctx context.Context, room domain.Room, quiz domain.Quiz, now time.Time) {
	current, ok := room.CurrentQuestionID()
	if !ok {
		return
	}
	question, ok := quiz.Question(current)
	if !ok {
		return
	}
	s.publish(ctx, domain.NewEvent(domain.EventQuestionStarted, room, domain.QuestionStartedPayload{
		Question:         question.Public(),
		Position:         room.CurrentIndex + 1,
		Total:            len(room.QuestionIDs),
		RemainingSeconds: seconds(room.Remaining(now)),
	}, now))
}

func (s *RoomService) publish(ctx context.Context, ev domain.Event) {
	if err := s.broker.Publish(ctx, domain.RoomTopic(ev.RoomID), ev); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"room_id": ev.RoomID,
			"event":   ev.Type,
		}).Warn("publish event")
	}
}

func (s *RoomService) transition(room domain.Room) {
	s.metrics.RoomTransitions.WithLabelValues(string(room.Status)).Inc()
	s.log.WithFields(logrus.Fields{
		"room_id": room.ID,
		"status":  room.Status,
		"version": room.Version,
		"index":   room.CurrentIndex,
	}).Info("room transition")
}

// openQuestion checks that the room accepts input for questionID.
func (s *RoomService) openQuestion(room domain.Room, questionID string) (string, error) {
	switch room.Status {
	case domain.RoomWaiting:
		return "", domain.ErrRoomNotInProgress
	case domain.RoomFinished:
		return "", domain.ErrRoomFinished
	}
	current, ok := room.CurrentQuestionID()
	if !ok || current != questionID {
		return "", domain.ErrQuestionNotCurrent
	}
	return current, nil
}

func (s *RoomService) questionOrder(quiz domain.Quiz, cfg domain.QuizConfig) []string {
	order := make([]string, 0, len(quiz.QuestionIDs))
	for _, id := range quiz.QuestionIDs {
		if _, ok := quiz.Question(id); ok {
			order = append(order, id)
		}
	}
	if cfg.ShuffleQuestions {
		s.shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	if n := cfg.QuestionCount; n > 0 && len(order) > n {
		order = order[:n]
	}
	return order
}

func (s *RoomService) ownedQuiz(ctx context.Context, ident domain.Identity, quizID string) (domain.Quiz, error) {
	if !ident.Authenticated() {
		return domain.Quiz{}, domain.ErrUnauthenticated
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if !quiz.OwnedBy(ident) {
		return domain.Quiz{}, domain.ErrNotQuizOwner
	}
	return quiz, nil
}

func (s *RoomService) takeSelection(roomID, playerID, questionID string) (selection, bool) {
	s.selMu.Lock()
	defer s.selMu.Unlock()
	sel, ok := s.selections[roomID][playerID]
	if !ok {
		return selection{}, false
	}
	delete(s.selections[roomID], playerID)
	return sel, sel.questionID == questionID
}

func (s *RoomService) dropSelections(roomID string) {
	s.selMu.Lock()
	delete(s.selections, roomID)
	s.selMu.Unlock()
}

func (s *RoomService) lock(roomID string) func() {
	v, _ := s.locks.LoadOrStore(roomID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// forget drops the room's mutex once the room is finished. A holder keeps its
// own reference until it unlocks.
func (s *RoomService) forget(roomID string) {
	s.locks.Delete(roomID)
}

func (s *RoomService) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.settings.OpTimeout)
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", domain.ErrEmptyName
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", domain.ErrNameTooLong
	}
	return name, nil
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"quizzana/internal/domain"
)

// Store is an in-memory implementation of app.Store. It keeps the same
// uniqueness and compare-and-set rules as the Postgres store and is meant for
// tests and single-process demos.
type Store struct {
	mu sync.RWMutex

	admins       map[string]domain.Admin
	adminByEmail map[string]string
	categories   map[string]domain.Category
	questions    map[string]domain.Question
	quizzes      map[string]domain.Quiz
	rooms        map[string]domain.Room
	players      map[string][]domain.Player
	answers      map[string][]domain.Answer
	answerKeys   map[string]struct{}
	results      map[string][]domain.Result
}

func NewStore() *Store {
	return &Store{
		admins:       make(map[string]domain.Admin),
		adminByEmail: make(map[string]string),
		categories:   make(map[string]domain.Category),
		questions:    make(map[string]domain.Question),
		quizzes:      make(map[string]domain.Quiz),
		rooms:        make(map[string]domain.Room),
		players:      make(map[string][]domain.Player),
		answers:      make(map[string][]domain.Answer),
		answerKeys:   make(map[string]struct{}),
		results:      make(map[string][]domain.Result),
	}
}

// Admins

func (s *Store) CreateAdmin(_ context.Context, admin domain.Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(admin.Email)
	if _, ok := s.adminByEmail[key]; ok {
		return domain.ErrEmailTaken
	}
	s.admins[admin.ID] = admin
	s.adminByEmail[key] = admin.ID
	return nil
}

func (s *Store) GetAdmin(_ context.Context, adminID string) (domain.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	admin, ok := s.admins[adminID]
	if !ok {
		return domain.Admin{}, domain.ErrAdminNotFound
	}
	return admin, nil
}

func (s *Store) GetAdminByEmail(_ context.Context, email string) (domain.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.adminByEmail[strings.ToLower(email)]
	if !ok {
		return domain.Admin{}, domain.ErrAdminNotFound
	}
	return s.admins[id], nil
}

// Categories

func (s *Store) CreateCategory(_ context.Context, category domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.categories {
		if strings.EqualFold(c.Name, category.Name) {
			return domain.ErrCategoryExists
		}
	}
	s.categories[category.ID] = category
	return nil
}

func (s *Store) GetCategory(_ context.Context, categoryID string) (domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[categoryID]
	if !ok {
		return domain.Category{}, domain.ErrCategoryNotFound
	}
	return c, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Questions

func (s *Store) CreateQuestion(_ context.Context, question domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if question.CategoryID != "" {
		if _, ok := s.categories[question.CategoryID]; !ok {
			return domain.ErrCategoryNotFound
		}
	}
	question.CategoryName = ""
	s.questions[question.ID] = question
	return nil
}

func (s *Store) UpdateQuestion(_ context.Context, question domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.questions[question.ID]
	if !ok {
		return domain.ErrQuestionNotFound
	}
	question.CreatedAt = existing.CreatedAt
	question.CategoryName = ""
	s.questions[question.ID] = question
	return nil
}

func (s *Store) DeleteQuestion(_ context.Context, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[questionID]; !ok {
		return domain.ErrQuestionNotFound
	}
	delete(s.questions, questionID)
	for id, quiz := range s.quizzes {
		quiz.QuestionIDs = without(quiz.QuestionIDs, questionID)
		s.quizzes[id] = quiz
	}
	return nil
}

func (s *Store) GetQuestion(_ context.Context, questionID string) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[questionID]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return s.withCategoryLocked(q), nil
}

func (s *Store) ListQuestions(_ context.Context, categoryID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Question, 0, len(s.questions))
	for _, q := range s.questions {
		if categoryID != "" && q.CategoryID != categoryID {
			continue
		}
		out = append(out, s.withCategoryLocked(q))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CountQuestions(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.questions), nil
}

func (s *Store) QuizzesWithQuestion(_ context.Context, questionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, quiz := range s.quizzes {
		for _, qid := range quiz.QuestionIDs {
			if qid == questionID {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Quizzes

func (s *Store) CreateQuiz(_ context.Context, quiz domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[quiz.ID] = cloneQuiz(quiz)
	return nil
}

func (s *Store) UpdateQuiz(_ context.Context, quiz domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[quiz.ID]; !ok {
		return domain.ErrQuizNotFound
	}
	s.quizzes[quiz.ID] = cloneQuiz(quiz)
	return nil
}

// DeleteQuiz removes the quiz together with its rooms and their players,
// answers and results.
func (s *Store) DeleteQuiz(_ context.Context, quizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[quizID]; !ok {
		return domain.ErrQuizNotFound
	}
	delete(s.quizzes, quizID)
	for id, room := range s.rooms {
		if room.QuizID != quizID {
			continue
		}
		for _, a := range s.answers[id] {
			delete(s.answerKeys, answerKey(a.RoomID, a.PlayerID, a.QuestionID))
		}
		delete(s.rooms, id)
		delete(s.players, id)
		delete(s.answers, id)
		delete(s.results, id)
	}
	return nil
}

func (s *Store) GetQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	quiz = cloneQuiz(quiz)
	quiz.Questions = make([]domain.Question, 0, len(quiz.QuestionIDs))
	for _, id := range quiz.QuestionIDs {
		if q, ok := s.questions[id]; ok {
			quiz.Questions = append(quiz.Questions, s.withCategoryLocked(q))
		}
	}
	return quiz, nil
}

func (s *Store) ListQuizzes(_ context.Context, ownerID string, offset, limit int) ([]domain.Quiz, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]domain.Quiz, 0)
	for _, quiz := range s.quizzes {
		if quiz.OwnerID == ownerID {
			all = append(all, cloneQuiz(quiz))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	total := len(all)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (s *Store) SetQuizActive(_ context.Context, quizID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.ErrQuizNotFound
	}
	quiz.Active = active
	s.quizzes[quizID] = quiz
	return nil
}

// Rooms

func (s *Store) CreateRoom(_ context.Context, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.Code == room.Code && r.Status != domain.RoomFinished {
			return domain.ErrRoomCodeTaken
		}
	}
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (s *Store) GetRoom(_ context.Context, roomID string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (s *Store) FindOpenRoomByCode(_ context.Context, code string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rooms {
		if r.Code == code && r.Status != domain.RoomFinished {
			return cloneRoom(r), nil
		}
	}
	return domain.Room{}, domain.ErrRoomNotFound
}

func (s *Store) FindWaitingRoomForQuiz(_ context.Context, quizID string) (domain.Room, error) {
	return s.latestRoom(quizID, func(r domain.Room) bool { return r.Status == domain.RoomWaiting })
}

func (s *Store) LatestRoomForQuiz(_ context.Context, quizID string) (domain.Room, error) {
	return s.latestRoom(quizID, func(domain.Room) bool { return true })
}

func (s *Store) HasRoomInProgress(_ context.Context, quizID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rooms {
		if r.QuizID == quizID && r.Status == domain.RoomInProgress {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListRoomsInProgress(_ context.Context) ([]domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Room
	for _, r := range s.rooms {
		if r.Status == domain.RoomInProgress {
			out = append(out, cloneRoom(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateRoom(_ context.Context, room domain.Room, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.rooms[room.ID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if stored.Version != expectedVersion {
		return domain.ErrStaleRoom
	}
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (s *Store) latestRoom(quizID string, match func(domain.Room) bool) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  domain.Room
		found bool
	)
	for _, r := range s.rooms {
		if r.QuizID != quizID || !match(r) {
			continue
		}
		if !found || r.CreatedAt.After(best.CreatedAt) || (r.CreatedAt.Equal(best.CreatedAt) && r.ID > best.ID) {
			best, found = r, true
		}
	}
	if !found {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return cloneRoom(best), nil
}

// Players

func (s *Store) JoinRoom(_ context.Context, player domain.Player, maxPlayers int) (domain.Player, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[player.RoomID]
	if !ok || room.Status == domain.RoomFinished {
		return domain.Player{}, false, domain.ErrRoomNotFound
	}
	if room.Status != domain.RoomWaiting {
		return domain.Player{}, false, domain.ErrRoomAlreadyActive
	}
	name := domain.NormalizeName(player.Name)
	for _, p := range s.players[player.RoomID] {
		if domain.NormalizeName(p.Name) == name {
			return p, true, nil
		}
	}
	if maxPlayers > 0 && len(s.players[player.RoomID]) >= maxPlayers {
		return domain.Player{}, false, domain.ErrRoomFull
	}
	s.players[player.RoomID] = append(s.players[player.RoomID], player)
	return player, false, nil
}

func (s *Store) GetPlayer(_ context.Context, roomID, playerID string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.players[roomID] {
		if p.ID == playerID {
			return p, nil
		}
	}
	return domain.Player{}, domain.ErrPlayerNotFound
}

func (s *Store) ListPlayers(_ context.Context, roomID string) ([]domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Player(nil), s.players[roomID]...), nil
}

func (s *Store) RemovePlayer(_ context.Context, roomID, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	players := s.players[roomID]
	for i, p := range players {
		if p.ID == playerID {
			s.players[roomID] = append(players[:i:i], players[i+1:]...)
			return nil
		}
	}
	return domain.ErrPlayerNotFound
}

// Answers

func (s *Store) InsertAnswer(_ context.Context, answer domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey(answer.RoomID, answer.PlayerID, answer.QuestionID)
	if _, ok := s.answerKeys[key]; ok {
		return domain.ErrDuplicateAnswer
	}
	s.answerKeys[key] = struct{}{}
	s.answers[answer.RoomID] = append(s.answers[answer.RoomID], answer)
	return nil
}

func (s *Store) ListAnswers(_ context.Context, roomID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Answer(nil), s.answers[roomID]...), nil
}

// Results

func (s *Store) SaveResults(_ context.Context, results []domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		if !s.hasResultLocked(r.RoomID, r.PlayerID) {
			s.results[r.RoomID] = append(s.results[r.RoomID], r)
		}
	}
	return nil
}

func (s *Store) ListResults(_ context.Context, roomID string) ([]domain.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Result(nil), s.results[roomID]...), nil
}

func (s *Store) hasResultLocked(roomID, playerID string) bool {
	for _, r := range s.results[roomID] {
		if r.PlayerID == playerID {
			return true
		}
	}
	return false
}

func (s *Store) withCategoryLocked(q domain.Question) domain.Question {
	if c, ok := s.categories[q.CategoryID]; ok {
		q.CategoryName = c.Name
	}
	return q
}

func answerKey(roomID, playerID, questionID string) string {
	return roomID + "|" + playerID + "|" + questionID
}

func cloneQuiz(q domain.Quiz) domain.Quiz {
	q.QuestionIDs = append([]string(nil), q.QuestionIDs...)
	q.Questions = nil
	if q.Config != nil {
		cfg := *q.Config
		q.Config = &cfg
	}
	return q
}

func cloneRoom(r domain.Room) domain.Room {
	r.QuestionIDs = append([]string(nil), r.QuestionIDs...)
	return r
}

func without(ids []string, drop string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

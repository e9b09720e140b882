package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
	"quizzana/internal/domain"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	latestActive    = 3
	recentQuizzes   = 5
	qrCodeSize      = 256
)

// CategoryInput creates a category.
type CategoryInput struct {
	Name string `json:"name" validate:"notblank,max=100"`
}

// QuestionInput creates or replaces a bank question.
type QuestionInput struct {
	Prompt     string   `json:"prompt" validate:"notblank,max=1000"`
	Options    []string `json:"options" validate:"len=4,dive,notblank,max=300"`
	Correct    string   `json:"correct" validate:"choice"`
	CategoryID string   `json:"categoryId"`
}

// QuizInput creates or replaces a quiz. A nil Config leaves the quiz as a draft.
type QuizInput struct {
	Title       string             `json:"title" validate:"notblank,max=200"`
	Description string             `json:"description" validate:"max=2000"`
	Config      *domain.QuizConfig `json:"config"`
	QuestionIDs []string           `json:"questionIds" validate:"max=500,dive,required"`
	Active      bool               `json:"active"`
}

// AuthoringDeps groups the collaborators of AuthoringService.
type AuthoringDeps struct {
	Quizzes    QuizStore
	Questions  QuestionStore
	Categories CategoryStore
	Rooms      RoomStore
	Cache      QuizRepository
	Log        logrus.FieldLogger
	PublicURL  string
}

// AuthoringService manages the question bank and quizzes of admins.
type AuthoringService struct {
	quizzes    QuizStore
	questions  QuestionStore
	categories CategoryStore
	rooms      RoomStore
	cache      QuizRepository
	log        logrus.FieldLogger
	publicURL  string
	validate   *inputValidator
	now        func() time.Time
}

func NewAuthoringService(deps AuthoringDeps) *AuthoringService {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthoringService{
		quizzes:    deps.Quizzes,
		questions:  deps.Questions,
		categories: deps.Categories,
		rooms:      deps.Rooms,
		cache:      deps.Cache,
		log:        log,
		publicURL:  strings.TrimRight(deps.PublicURL, "/"),
		validate:   newInputValidator(),
		now:        time.Now,
	}
}

func (s *AuthoringService) CreateCategory(ctx context.Context, ident domain.Identity, in CategoryInput) (domain.Category, error) {
	if !ident.Authenticated() {
		return domain.Category{}, domain.ErrUnauthenticated
	}
	if err := s.validate.Struct(in); err != nil {
		return domain.Category{}, err
	}
	category := domain.Category{ID: uuid.NewString(), Name: strings.TrimSpace(in.Name)}
	if err := s.categories.CreateCategory(ctx, category); err != nil {
		return domain.Category{}, err
	}
	return category, nil
}

func (s *AuthoringService) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.categories.ListCategories(ctx)
}

func (s *AuthoringService) CreateQuestion(ctx context.Context, ident domain.Identity, in QuestionInput) (domain.Question, error) {
	question, err := s.buildQuestion(ctx, ident, in)
	if err != nil {
		return domain.Question{}, err
	}
	question.ID = uuid.NewString()
	question.CreatedAt = s.now()
	if err := s.questions.CreateQuestion(ctx, question); err != nil {
		return domain.Question{}, err
	}
	return s.questions.GetQuestion(ctx, question.ID)
}

// UpdateQuestion rewrites a bank question. Questions used by a quiz that is
// being played cannot change.
func (s *AuthoringService) UpdateQuestion(ctx context.Context, ident domain.Identity, questionID string, in QuestionInput) (domain.Question, error) {
	existing, err := s.questions.GetQuestion(ctx, questionID)
	if err != nil {
		return domain.Question{}, err
	}
	question, err := s.buildQuestion(ctx, ident, in)
	if err != nil {
		return domain.Question{}, err
	}
	question.ID = existing.ID
	question.CreatedAt = existing.CreatedAt

	quizIDs, err := s.questionInPlay(ctx, questionID)
	if err != nil {
		return domain.Question{}, err
	}
	if err := s.questions.UpdateQuestion(ctx, question); err != nil {
		return domain.Question{}, err
	}
	s.invalidate(ctx, quizIDs...)
	return s.questions.GetQuestion(ctx, questionID)
}

func (s *AuthoringService) DeleteQuestion(ctx context.Context, ident domain.Identity, questionID string) error {
	if !ident.Authenticated() {
		return domain.ErrUnauthenticated
	}
	if _, err := s.questions.GetQuestion(ctx, questionID); err != nil {
		return err
	}
	quizIDs, err := s.questionInPlay(ctx, questionID)
	if err != nil {
		return err
	}
	if err := s.questions.DeleteQuestion(ctx, questionID); err != nil {
		return err
	}
	s.invalidate(ctx, quizIDs...)
	return nil
}

func (s *AuthoringService) GetQuestion(ctx context.Context, ident domain.Identity, questionID string) (domain.Question, error) {
	if !ident.Authenticated() {
		return domain.Question{}, domain.ErrUnauthenticated
	}
	return s.questions.GetQuestion(ctx, questionID)
}

func (s *AuthoringService) ListQuestions(ctx context.Context, ident domain.Identity, categoryID string) ([]domain.Question, error) {
	if !ident.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	return s.questions.ListQuestions(ctx, categoryID)
}

func (s *AuthoringService) CreateQuiz(ctx context.Context, ident domain.Identity, in QuizInput) (domain.Quiz, error) {
	if !ident.Authenticated() {
		return domain.Quiz{}, domain.ErrUnauthenticated
	}
	quiz, err := s.buildQuiz(ctx, in)
	if err != nil {
		return domain.Quiz{}, err
	}
	quiz.ID = uuid.NewString()
	quiz.OwnerID = ident.AdminID
	quiz.CreatedAt = s.now()
	if err := s.quizzes.CreateQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, err
	}
	s.log.WithFields(logrus.Fields{"quiz_id": quiz.ID, "owner_id": quiz.OwnerID}).Info("quiz created")
	return s.quizzes.GetQuiz(ctx, quiz.ID)
}

// UpdateQuiz replaces title, configuration and question selection. A quiz with
// a room in progress cannot change.
func (s *AuthoringService) UpdateQuiz(ctx context.Context, ident domain.Identity, quizID string, in QuizInput) (domain.Quiz, error) {
	existing, err := s.ownedQuiz(ctx, ident, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if err := s.ensureNotInPlay(ctx, quizID); err != nil {
		return domain.Quiz{}, err
	}
	quiz, err := s.buildQuiz(ctx, in)
	if err != nil {
		return domain.Quiz{}, err
	}
	quiz.ID = existing.ID
	quiz.OwnerID = existing.OwnerID
	quiz.CreatedAt = existing.CreatedAt
	if err := s.quizzes.UpdateQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, err
	}
	s.invalidate(ctx, quizID)
	return s.quizzes.GetQuiz(ctx, quizID)
}

func (s *AuthoringService) DeleteQuiz(ctx context.Context, ident domain.Identity, quizID string) error {
	if _, err := s.ownedQuiz(ctx, ident, quizID); err != nil {
		return err
	}
	if err := s.ensureNotInPlay(ctx, quizID); err != nil {
		return err
	}
	if err := s.quizzes.DeleteQuiz(ctx, quizID); err != nil {
		return err
	}
	s.invalidate(ctx, quizID)
	s.log.WithField("quiz_id", quizID).Info("quiz deleted")
	return nil
}

func (s *AuthoringService) GetQuiz(ctx context.Context, ident domain.Identity, quizID string) (domain.Quiz, error) {
	return s.ownedQuiz(ctx, ident, quizID)
}

// ListQuizzes pages through the caller's quizzes, newest first. page starts at 1.
func (s *AuthoringService) ListQuizzes(ctx context.Context, ident domain.Identity, page, limit int) (domain.QuizPage, error) {
	if !ident.Authenticated() {
		return domain.QuizPage{}, domain.ErrUnauthenticated
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	quizzes, total, err := s.quizzes.ListQuizzes(ctx, ident.AdminID, (page-1)*limit, limit)
	if err != nil {
		return domain.QuizPage{}, err
	}
	return domain.QuizPage{
		Quizzes:    quizzes,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// SetQuizActive toggles whether rooms can be opened for the quiz.
func (s *AuthoringService) SetQuizActive(ctx context.Context, ident domain.Identity, quizID string, active bool) (domain.Quiz, error) {
	quiz, err := s.ownedQuiz(ctx, ident, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if active && !quiz.Configured() {
		return domain.Quiz{}, domain.ErrQuizNotConfigured
	}
	if err := s.quizzes.SetQuizActive(ctx, quizID, active); err != nil {
		return domain.Quiz{}, err
	}
	s.invalidate(ctx, quizID)
	quiz.Active = active
	return quiz, nil
}

// Dashboard summarises the caller's quizzes.
func (s *AuthoringService) Dashboard(ctx context.Context, ident domain.Identity) (domain.DashboardStats, error) {
	if !ident.Authenticated() {
		return domain.DashboardStats{}, domain.ErrUnauthenticated
	}
	quizzes, total, err := s.quizzes.ListQuizzes(ctx, ident.AdminID, 0, 0)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	questions, err := s.questions.CountQuestions(ctx)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	stats := domain.DashboardStats{
		TotalQuizzes:   total,
		TotalQuestions: questions,
		LatestActive:   make([]domain.Quiz, 0, latestActive),
		Recent:         make([]domain.Quiz, 0, recentQuizzes),
	}
	for _, q := range quizzes {
		q.Questions = nil
		if q.Active {
			stats.ActiveQuizzes++
			if len(stats.LatestActive) < latestActive {
				stats.LatestActive = append(stats.LatestActive, q)
			}
		}
		if len(stats.Recent) < recentQuizzes {
			stats.Recent = append(stats.Recent, q)
		}
	}
	return stats, nil
}

// JoinURL is the link players open to reach the quiz's waiting room.
func (s *AuthoringService) JoinURL(quizID string) string {
	return s.publicURL + "/join?quiz=" + url.QueryEscape(quizID)
}

// JoinQRCode renders JoinURL as a PNG.
func (s *AuthoringService) JoinQRCode(ctx context.Context, ident domain.Identity, quizID string) ([]byte, error) {
	if _, err := s.ownedQuiz(ctx, ident, quizID); err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(s.JoinURL(quizID), qrcode.High, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return png, nil
}

func (s *AuthoringService) buildQuestion(ctx context.Context, ident domain.Identity, in QuestionInput) (domain.Question, error) {
	if !ident.Authenticated() {
		return domain.Question{}, domain.ErrUnauthenticated
	}
	if err := s.validate.Struct(in); err != nil {
		return domain.Question{}, err
	}
	correct, err := domain.ParseChoice(in.Correct)
	if err != nil {
		return domain.Question{}, err
	}
	question := domain.Question{
		Prompt:     strings.TrimSpace(in.Prompt),
		Correct:    correct,
		CategoryID: in.CategoryID,
	}
	for i, opt := range in.Options {
		question.Options[i] = strings.TrimSpace(opt)
	}
	if in.CategoryID != "" {
		category, err := s.categories.GetCategory(ctx, in.CategoryID)
		if err != nil {
			return domain.Question{}, err
		}
		question.CategoryName = category.Name
	}
	return question, nil
}

func (s *AuthoringService) buildQuiz(ctx context.Context, in QuizInput) (domain.Quiz, error) {
	if err := s.validate.Struct(in); err != nil {
		return domain.Quiz{}, err
	}
	quiz := domain.Quiz{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Config:      in.Config,
		Active:      in.Active,
		QuestionIDs: make([]string, 0, len(in.QuestionIDs)),
	}
	seen := make(map[string]bool, len(in.QuestionIDs))
	for _, id := range in.QuestionIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.questions.GetQuestion(ctx, id); err != nil {
			return domain.Quiz{}, err
		}
		quiz.QuestionIDs = append(quiz.QuestionIDs, id)
	}
	if quiz.Active && !quiz.Configured() {
		return domain.Quiz{}, domain.ErrQuizNotConfigured
	}
	return quiz, nil
}

func (s *AuthoringService) ownedQuiz(ctx context.Context, ident domain.Identity, quizID string) (domain.Quiz, error) {
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

func (s *AuthoringService) ensureNotInPlay(ctx context.Context, quizID string) error {
	playing, err := s.rooms.HasRoomInProgress(ctx, quizID)
	if err != nil {
		return err
	}
	if playing {
		return domain.ErrQuizInPlay
	}
	return nil
}

// questionInPlay returns the quizzes selecting a question, or ErrQuizInPlay if
// any of them is being played.
func (s *AuthoringService) questionInPlay(ctx context.Context, questionID string) ([]string, error) {
	quizIDs, err := s.questions.QuizzesWithQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	for _, id := range quizIDs {
		if err := s.ensureNotInPlay(ctx, id); err != nil {
			return nil, err
		}
	}
	return quizIDs, nil
}

func (s *AuthoringService) invalidate(ctx context.Context, quizIDs ...string) {
	if s.cache == nil {
		return
	}
	for _, id := range quizIDs {
		s.cache.Invalidate(ctx, id)
	}
}

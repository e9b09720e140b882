package postgres

import (
	"context"

	"quizzana/internal/domain"
)

const questionColumns = `q.id, q.prompt, q.option_a, q.option_b, q.option_c, q.option_d, q.correct,
	q.category_id, COALESCE(c.name, ''), q.created_at`

// Categories

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO categories (id, name) VALUES ($1, $2)`, category.ID, category.Name)
	if isUniqueViolation(err, "categories_name_key") {
		return domain.ErrCategoryExists
	}
	return wrap("create category", err, nil)
}

func (s *Store) GetCategory(ctx context.Context, categoryID string) (domain.Category, error) {
	var c domain.Category
	err := s.pool.QueryRow(ctx, `SELECT id, name FROM categories WHERE id = $1`, categoryID).Scan(&c.ID, &c.Name)
	if err != nil {
		return domain.Category{}, wrap("get category", err, domain.ErrCategoryNotFound)
	}
	return c, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, wrap("list categories", err, nil)
	}
	defer rows.Close()
	out := []domain.Category{}
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, wrap("scan category", err, nil)
		}
		out = append(out, c)
	}
	return out, wrap("list categories", rows.Err(), nil)
}

// Questions

func (s *Store) CreateQuestion(ctx context.Context, question domain.Question) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO questions (id, prompt, option_a, option_b, option_c, option_d, correct, category_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		question.ID, question.Prompt,
		question.Options[0], question.Options[1], question.Options[2], question.Options[3],
		string(question.Correct), nullable(question.CategoryID), question.CreatedAt)
	if isForeignKeyViolation(err, "questions_category_id_fkey") {
		return domain.ErrCategoryNotFound
	}
	return wrap("create question", err, nil)
}

func (s *Store) UpdateQuestion(ctx context.Context, question domain.Question) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE questions SET prompt = $2, option_a = $3, option_b = $4, option_c = $5, option_d = $6,
		 correct = $7, category_id = $8 WHERE id = $1`,
		question.ID, question.Prompt,
		question.Options[0], question.Options[1], question.Options[2], question.Options[3],
		string(question.Correct), nullable(question.CategoryID))
	if isForeignKeyViolation(err, "questions_category_id_fkey") {
		return domain.ErrCategoryNotFound
	}
	if err != nil {
		return wrap("update question", err, nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}

// DeleteQuestion also drops the question from every quiz selection.
func (s *Store) DeleteQuestion(ctx context.Context, questionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM questions WHERE id = $1`, questionID)
	if err != nil {
		return wrap("delete question", err, nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}

func (s *Store) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions q LEFT JOIN categories c ON c.id = q.category_id WHERE q.id = $1`,
		questionID)
	q, err := scanQuestion(row)
	if err != nil {
		return domain.Question{}, wrap("get question", err, domain.ErrQuestionNotFound)
	}
	return q, nil
}

func (s *Store) ListQuestions(ctx context.Context, categoryID string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions q LEFT JOIN categories c ON c.id = q.category_id
		 WHERE $1 = '' OR q.category_id = $1
		 ORDER BY q.created_at DESC, q.id`, categoryID)
	if err != nil {
		return nil, wrap("list questions", err, nil)
	}
	defer rows.Close()
	out := []domain.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, wrap("scan question", err, nil)
		}
		out = append(out, q)
	}
	return out, wrap("list questions", rows.Err(), nil)
}

func (s *Store) CountQuestions(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM questions`).Scan(&n); err != nil {
		return 0, wrap("count questions", err, nil)
	}
	return n, nil
}

func (s *Store) QuizzesWithQuestion(ctx context.Context, questionID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT quiz_id FROM quiz_questions WHERE question_id = $1 ORDER BY quiz_id`, questionID)
	if err != nil {
		return nil, wrap("quizzes with question", err, nil)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("scan quiz id", err, nil)
		}
		out = append(out, id)
	}
	return out, wrap("quizzes with question", rows.Err(), nil)
}

func scanQuestion(row rowScanner) (domain.Question, error) {
	var (
		q          domain.Question
		correct    string
		categoryID *string
	)
	err := row.Scan(&q.ID, &q.Prompt, &q.Options[0], &q.Options[1], &q.Options[2], &q.Options[3],
		&correct, &categoryID, &q.CategoryName, &q.CreatedAt)
	if err != nil {
		return domain.Question{}, err
	}
	q.Correct = domain.Choice(correct)
	if categoryID != nil {
		q.CategoryID = *categoryID
	}
	return q, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

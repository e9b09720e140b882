package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"quizzana/internal/domain"
)

const quizColumns = `z.id, z.owner_id, z.title, z.description, z.active, z.configured,
	z.time_limit_minutes, z.question_count, z.points_per_correct, z.max_participants,
	z.shuffle_questions, z.created_at`

func (s *Store) CreateQuiz(ctx context.Context, quiz domain.Quiz) error {
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		cfg, configured := quizConfigColumns(quiz.Config)
		_, err := tx.Exec(ctx,
			`INSERT INTO quizzes (id, owner_id, title, description, active, configured,
			 time_limit_minutes, question_count, points_per_correct, max_participants, shuffle_questions, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			quiz.ID, quiz.OwnerID, quiz.Title, quiz.Description, quiz.Active, configured,
			cfg.TimeLimitMinutes, cfg.QuestionCount, cfg.PointsPerCorrect, cfg.MaxParticipants,
			cfg.ShuffleQuestions, quiz.CreatedAt)
		if err != nil {
			return err
		}
		return replaceSelection(ctx, tx, quiz.ID, quiz.QuestionIDs)
	})
	return quizWriteError("create quiz", err)
}

func (s *Store) UpdateQuiz(ctx context.Context, quiz domain.Quiz) error {
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		cfg, configured := quizConfigColumns(quiz.Config)
		tag, err := tx.Exec(ctx,
			`UPDATE quizzes SET title = $2, description = $3, active = $4, configured = $5,
			 time_limit_minutes = $6, question_count = $7, points_per_correct = $8,
			 max_participants = $9, shuffle_questions = $10
			 WHERE id = $1`,
			quiz.ID, quiz.Title, quiz.Description, quiz.Active, configured,
			cfg.TimeLimitMinutes, cfg.QuestionCount, cfg.PointsPerCorrect, cfg.MaxParticipants,
			cfg.ShuffleQuestions)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrQuizNotFound
		}
		return replaceSelection(ctx, tx, quiz.ID, quiz.QuestionIDs)
	})
	return quizWriteError("update quiz", err)
}

// DeleteQuiz removes the quiz and, through foreign keys, every room played from it.
func (s *Store) DeleteQuiz(ctx context.Context, quizID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quizzes WHERE id = $1`, quizID)
	if err != nil {
		return wrap("delete quiz", err, nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}

func (s *Store) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+quizColumns+` FROM quizzes z WHERE z.id = $1`, quizID)
	quiz, err := scanQuiz(row)
	if err != nil {
		return domain.Quiz{}, wrap("get quiz", err, domain.ErrQuizNotFound)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+questionColumns+`
		 FROM quiz_questions qq
		 JOIN questions q ON q.id = qq.question_id
		 LEFT JOIN categories c ON c.id = q.category_id
		 WHERE qq.quiz_id = $1
		 ORDER BY qq.position`, quizID)
	if err != nil {
		return domain.Quiz{}, wrap("get quiz questions", err, nil)
	}
	defer rows.Close()
	quiz.QuestionIDs = []string{}
	quiz.Questions = []domain.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return domain.Quiz{}, wrap("scan quiz question", err, nil)
		}
		quiz.QuestionIDs = append(quiz.QuestionIDs, q.ID)
		quiz.Questions = append(quiz.Questions, q)
	}
	return quiz, wrap("get quiz questions", rows.Err(), nil)
}

func (s *Store) ListQuizzes(ctx context.Context, ownerID string, offset, limit int) ([]domain.Quiz, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM quizzes WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, wrap("count quizzes", err, nil)
	}
	var pageLimit interface{}
	if limit > 0 {
		pageLimit = limit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+quizColumns+`,
		 COALESCE(array_agg(qq.question_id ORDER BY qq.position) FILTER (WHERE qq.question_id IS NOT NULL), '{}')
		 FROM quizzes z
		 LEFT JOIN quiz_questions qq ON qq.quiz_id = z.id
		 WHERE z.owner_id = $1
		 GROUP BY z.id
		 ORDER BY z.created_at DESC, z.id
		 LIMIT $2 OFFSET $3`, ownerID, pageLimit, offset)
	if err != nil {
		return nil, 0, wrap("list quizzes", err, nil)
	}
	defer rows.Close()
	out := []domain.Quiz{}
	for rows.Next() {
		quiz, err := scanQuiz(rows, &[]string{})
		if err != nil {
			return nil, 0, wrap("scan quiz", err, nil)
		}
		out = append(out, quiz)
	}
	return out, total, wrap("list quizzes", rows.Err(), nil)
}

func (s *Store) SetQuizActive(ctx context.Context, quizID string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE quizzes SET active = $2 WHERE id = $1`, quizID, active)
	if err != nil {
		return wrap("set quiz active", err, nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}

func replaceSelection(ctx context.Context, tx pgx.Tx, quizID string, questionIDs []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM quiz_questions WHERE quiz_id = $1`, quizID); err != nil {
		return err
	}
	if len(questionIDs) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(questionIDs))
	for i, id := range questionIDs {
		rows[i] = []interface{}{quizID, id, i}
	}
	_, err := tx.CopyFrom(ctx, pgx.Identifier{"quiz_questions"},
		[]string{"quiz_id", "question_id", "position"}, pgx.CopyFromRows(rows))
	return err
}

func quizWriteError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrQuizNotFound):
		return err
	case isForeignKeyViolation(err, "quiz_questions_question_id_fkey"):
		return domain.ErrQuestionNotFound
	case isForeignKeyViolation(err, "quizzes_owner_id_fkey"):
		return domain.ErrAdminNotFound
	case isUniqueViolation(err, "quiz_questions_pkey"):
		return domain.Validation("questionIds must not repeat")
	}
	return wrap(op, err, nil)
}

func quizConfigColumns(cfg *domain.QuizConfig) (domain.QuizConfig, bool) {
	if cfg == nil {
		return domain.QuizConfig{}, false
	}
	return *cfg, true
}

// scanQuiz reads quizColumns followed by any extra destinations. A single
// extra []string destination becomes the question selection.
func scanQuiz(row rowScanner, extra ...interface{}) (domain.Quiz, error) {
	var (
		q          domain.Quiz
		configured bool
		cfg        domain.QuizConfig
	)
	dest := []interface{}{&q.ID, &q.OwnerID, &q.Title, &q.Description, &q.Active, &configured,
		&cfg.TimeLimitMinutes, &cfg.QuestionCount, &cfg.PointsPerCorrect, &cfg.MaxParticipants,
		&cfg.ShuffleQuestions, &q.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Quiz{}, err
	}
	if configured {
		q.Config = &cfg
	}
	if len(extra) == 1 {
		if ids, ok := extra[0].(*[]string); ok {
			q.QuestionIDs = *ids
		}
	}
	return q, nil
}

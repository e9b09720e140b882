package postgres

import (
	"context"
	"encoding/json"
	"time"

	"quizzana/internal/domain"
)

const roomColumns = `id, quiz_id, code, status, config, question_ids, current_index,
	question_started_at, question_budget_ms, version, created_at, started_at, finished_at`

func (s *Store) CreateRoom(ctx context.Context, room domain.Room) error {
	cfg, err := json.Marshal(room.Config)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO rooms (`+roomColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		room.ID, room.QuizID, room.Code, string(room.Status), string(cfg), questionIDs(room.QuestionIDs),
		room.CurrentIndex, nullableTime(room.QuestionStartedAt), room.QuestionBudget.Milliseconds(),
		room.Version, room.CreatedAt, room.StartedAt, room.FinishedAt)
	if isUniqueViolation(err, "rooms_open_code_key") {
		return domain.ErrRoomCodeTaken
	}
	if isForeignKeyViolation(err, "rooms_quiz_id_fkey") {
		return domain.ErrQuizNotFound
	}
	return wrap("create room", err, nil)
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	return s.queryRoom(ctx, "get room", `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, roomID)
}

func (s *Store) FindOpenRoomByCode(ctx context.Context, code string) (domain.Room, error) {
	return s.queryRoom(ctx, "find room by code",
		`SELECT `+roomColumns+` FROM rooms WHERE code = $1 AND status <> 'finished'`, code)
}

func (s *Store) FindWaitingRoomForQuiz(ctx context.Context, quizID string) (domain.Room, error) {
	return s.queryRoom(ctx, "find waiting room",
		`SELECT `+roomColumns+` FROM rooms WHERE quiz_id = $1 AND status = 'waiting'
		 ORDER BY created_at DESC, id DESC LIMIT 1`, quizID)
}

func (s *Store) LatestRoomForQuiz(ctx context.Context, quizID string) (domain.Room, error) {
	return s.queryRoom(ctx, "latest room",
		`SELECT `+roomColumns+` FROM rooms WHERE quiz_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT 1`, quizID)
}

func (s *Store) HasRoomInProgress(ctx context.Context, quizID string) (bool, error) {
	var found bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM rooms WHERE quiz_id = $1 AND status = 'in_progress')`, quizID).Scan(&found)
	if err != nil {
		return false, wrap("room in progress", err, nil)
	}
	return found, nil
}

func (s *Store) ListRoomsInProgress(ctx context.Context) ([]domain.Room, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roomColumns+` FROM rooms WHERE status = 'in_progress' ORDER BY id`)
	if err != nil {
		return nil, wrap("list rooms in progress", err, nil)
	}
	defer rows.Close()
	var out []domain.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, wrap("scan room", err, nil)
		}
		out = append(out, room)
	}
	return out, wrap("list rooms in progress", rows.Err(), nil)
}

func (s *Store) UpdateRoom(ctx context.Context, room domain.Room, expectedVersion int) error {
	cfg, err := json.Marshal(room.Config)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE rooms SET status = $3, config = $4, question_ids = $5, current_index = $6,
		 question_started_at = $7, question_budget_ms = $8, version = $9, started_at = $10, finished_at = $11
		 WHERE id = $1 AND version = $2`,
		room.ID, expectedVersion, string(room.Status), string(cfg), questionIDs(room.QuestionIDs),
		room.CurrentIndex, nullableTime(room.QuestionStartedAt), room.QuestionBudget.Milliseconds(),
		room.Version, room.StartedAt, room.FinishedAt)
	if isUniqueViolation(err, "rooms_open_code_key") {
		return domain.ErrRoomCodeTaken
	}
	if err != nil {
		return wrap("update room", err, nil)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1)`, room.ID).Scan(&exists); err != nil {
		return wrap("update room", err, nil)
	}
	if !exists {
		return domain.ErrRoomNotFound
	}
	return domain.ErrStaleRoom
}

func (s *Store) queryRoom(ctx context.Context, op, sql string, args ...interface{}) (domain.Room, error) {
	room, err := scanRoom(s.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		return domain.Room{}, wrap(op, err, domain.ErrRoomNotFound)
	}
	return room, nil
}

func scanRoom(row rowScanner) (domain.Room, error) {
	var (
		r        domain.Room
		status   string
		cfg      []byte
		startedQ *time.Time
		budgetMS int64
	)
	err := row.Scan(&r.ID, &r.QuizID, &r.Code, &status, &cfg, &r.QuestionIDs, &r.CurrentIndex,
		&startedQ, &budgetMS, &r.Version, &r.CreatedAt, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return domain.Room{}, err
	}
	if err := json.Unmarshal(cfg, &r.Config); err != nil {
		return domain.Room{}, err
	}
	r.Status = domain.RoomStatus(status)
	r.QuestionBudget = time.Duration(budgetMS) * time.Millisecond
	if startedQ != nil {
		r.QuestionStartedAt = *startedQ
	}
	return r, nil
}

func questionIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

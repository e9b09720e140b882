package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"quizzana/internal/domain"
)

// JoinRoom locks the room row so concurrent joins see each other's inserts
// before the capacity check.
func (s *Store) JoinRoom(ctx context.Context, player domain.Player, maxPlayers int) (domain.Player, bool, error) {
	var (
		joined   domain.Player
		existing bool
	)
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		var status string
		if err := tx.QueryRow(ctx, `SELECT status FROM rooms WHERE id = $1 FOR UPDATE`, player.RoomID).Scan(&status); err != nil {
			return wrap("lock room", err, domain.ErrRoomNotFound)
		}
		switch domain.RoomStatus(status) {
		case domain.RoomFinished:
			return domain.ErrRoomNotFound
		case domain.RoomInProgress:
			return domain.ErrRoomAlreadyActive
		}

		p, err := scanPlayer(tx.QueryRow(ctx,
			`SELECT id, room_id, name, joined_at FROM players WHERE room_id = $1 AND lower(name) = lower($2)`,
			player.RoomID, player.Name))
		if err == nil {
			joined, existing = p, true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		if maxPlayers > 0 {
			var count int
			if err := tx.QueryRow(ctx, `SELECT count(*) FROM players WHERE room_id = $1`, player.RoomID).Scan(&count); err != nil {
				return err
			}
			if count >= maxPlayers {
				return domain.ErrRoomFull
			}
		}
		_, err = tx.Exec(ctx, `INSERT INTO players (id, room_id, name, joined_at) VALUES ($1, $2, $3, $4)`,
			player.ID, player.RoomID, player.Name, player.JoinedAt)
		if err != nil {
			return err
		}
		joined = player
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrTransient) {
			return domain.Player{}, false, err
		}
		return domain.Player{}, false, wrap("join room", err, nil)
	}
	return joined, existing, nil
}

func (s *Store) GetPlayer(ctx context.Context, roomID, playerID string) (domain.Player, error) {
	p, err := scanPlayer(s.pool.QueryRow(ctx,
		`SELECT id, room_id, name, joined_at FROM players WHERE room_id = $1 AND id = $2`, roomID, playerID))
	if err != nil {
		return domain.Player{}, wrap("get player", err, domain.ErrPlayerNotFound)
	}
	return p, nil
}

func (s *Store) ListPlayers(ctx context.Context, roomID string) ([]domain.Player, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, room_id, name, joined_at FROM players WHERE room_id = $1 ORDER BY joined_at, id`, roomID)
	if err != nil {
		return nil, wrap("list players", err, nil)
	}
	defer rows.Close()
	var out []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, wrap("scan player", err, nil)
		}
		out = append(out, p)
	}
	return out, wrap("list players", rows.Err(), nil)
}

func (s *Store) RemovePlayer(ctx context.Context, roomID, playerID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM players WHERE room_id = $1 AND id = $2`, roomID, playerID)
	if err != nil {
		return wrap("remove player", err, nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// Answers

func (s *Store) InsertAnswer(ctx context.Context, answer domain.Answer) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO answers (id, room_id, player_id, question_id, choice, correct, points, timed_out, answered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		answer.ID, answer.RoomID, answer.PlayerID, answer.QuestionID, string(answer.Choice),
		answer.Correct, answer.Points, answer.TimedOut, answer.AnsweredAt)
	if isUniqueViolation(err, "answers_once_key") {
		return domain.ErrDuplicateAnswer
	}
	if isForeignKeyViolation(err, "answers_player_id_fkey") {
		return domain.ErrPlayerNotFound
	}
	return wrap("insert answer", err, nil)
}

func (s *Store) ListAnswers(ctx context.Context, roomID string) ([]domain.Answer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, room_id, player_id, question_id, choice, correct, points, timed_out, answered_at
		 FROM answers WHERE room_id = $1 ORDER BY answered_at, id`, roomID)
	if err != nil {
		return nil, wrap("list answers", err, nil)
	}
	defer rows.Close()
	var out []domain.Answer
	for rows.Next() {
		var (
			a      domain.Answer
			choice string
		)
		if err := rows.Scan(&a.ID, &a.RoomID, &a.PlayerID, &a.QuestionID, &choice,
			&a.Correct, &a.Points, &a.TimedOut, &a.AnsweredAt); err != nil {
			return nil, wrap("scan answer", err, nil)
		}
		a.Choice = domain.Choice(choice)
		out = append(out, a)
	}
	return out, wrap("list answers", rows.Err(), nil)
}

// Results

// SaveResults sends one insert per row in a single batch; rows already stored are kept.
func (s *Store) SaveResults(ctx context.Context, results []domain.Result) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(
			`INSERT INTO results (room_id, player_id, player_name, total_points, correct_count, completed_at)
			 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (room_id, player_id) DO NOTHING`,
			r.RoomID, r.PlayerID, r.PlayerName, r.TotalPoints, r.CorrectCount, r.CompletedAt)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return wrap("save results", err, nil)
		}
	}
	return nil
}

func (s *Store) ListResults(ctx context.Context, roomID string) ([]domain.Result, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT room_id, player_id, player_name, total_points, correct_count, completed_at
		 FROM results WHERE room_id = $1 ORDER BY completed_at, player_id`, roomID)
	if err != nil {
		return nil, wrap("list results", err, nil)
	}
	defer rows.Close()
	var out []domain.Result
	for rows.Next() {
		var r domain.Result
		if err := rows.Scan(&r.RoomID, &r.PlayerID, &r.PlayerName, &r.TotalPoints, &r.CorrectCount, &r.CompletedAt); err != nil {
			return nil, wrap("scan result", err, nil)
		}
		out = append(out, r)
	}
	return out, wrap("list results", rows.Err(), nil)
}

func scanPlayer(row rowScanner) (domain.Player, error) {
	var p domain.Player
	err := row.Scan(&p.ID, &p.RoomID, &p.Name, &p.JoinedAt)
	return p, err
}

package postgres

import (
	"context"

	"quizzana/internal/domain"
)

func (s *Store) CreateAdmin(ctx context.Context, admin domain.Admin) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO admins (id, name, email, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
		admin.ID, admin.Name, admin.Email, admin.PasswordHash, admin.CreatedAt)
	if isUniqueViolation(err, "admins_email_key") {
		return domain.ErrEmailTaken
	}
	return wrap("create admin", err, nil)
}

func (s *Store) GetAdmin(ctx context.Context, adminID string) (domain.Admin, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, email, password_hash, created_at FROM admins WHERE id = $1`, adminID)
	return scanAdmin(row)
}

func (s *Store) GetAdminByEmail(ctx context.Context, email string) (domain.Admin, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, email, password_hash, created_at FROM admins WHERE lower(email) = lower($1)`, email)
	return scanAdmin(row)
}

func scanAdmin(row rowScanner) (domain.Admin, error) {
	var a domain.Admin
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.CreatedAt); err != nil {
		return domain.Admin{}, wrap("get admin", err, domain.ErrAdminNotFound)
	}
	return a, nil
}

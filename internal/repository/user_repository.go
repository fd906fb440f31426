package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/unclebandit/newsletter-service/internal/model"
)

type UserRepository struct {
	DB *sql.DB
}

// GetByUsername returns nil when the user does not exist.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getOne(ctx, `SELECT user_id, username, password_hash FROM users WHERE username = $1`, username)
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getOne(ctx, `SELECT user_id, username, password_hash FROM users WHERE user_id = $1`, id)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE user_id = $2`, hash, id)
	return err
}

// Upsert creates the user or resets the password of an existing username.
func (r *UserRepository) Upsert(ctx context.Context, u *model.User) error {
	query := `
        INSERT INTO users (user_id, username, password_hash)
        VALUES ($1, $2, $3)
        ON CONFLICT (username) DO UPDATE SET password_hash = EXCLUDED.password_hash
        RETURNING user_id
    `
	return r.DB.QueryRowContext(ctx, query, u.ID, u.Username, u.PasswordHash).Scan(&u.ID)
}

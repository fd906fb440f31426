package model

import "github.com/google/uuid"

type User struct {
	ID           uuid.UUID `db:"user_id" json:"user_id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
}

package service

import (
	"context"
	"errors"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/repository"
)

const (
	DefaultBcryptCost = 12

	MinPasswordLength = 12
	MaxPasswordLength = 128
)

type AuthService struct {
	Users repository.UserRepositoryInterface
	Cost  int
	Log   zerolog.Logger

	dummyOnce sync.Once
	dummyHash []byte
}

func (s *AuthService) cost() int {
	if s.Cost > 0 {
		return s.Cost
	}
	return DefaultBcryptCost
}

// HashPassword hashes password with bcrypt at the given cost.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// dummy returns a hash compared against when the username is unknown, so
// that both paths cost one bcrypt comparison.
func (s *AuthService) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.cost())
	})
	return s.dummyHash
}

// ValidateCredentials returns the user id for a matching username and
// password, or appErrors.ErrInvalidCredentials.
func (s *AuthService) ValidateCredentials(ctx context.Context, username, password string) (uuid.UUID, error) {
	user, err := s.Users.GetByUsername(ctx, username)
	if err != nil {
		return uuid.Nil, err
	}

	hash := s.dummy()
	if user != nil {
		hash = []byte(user.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || user == nil {
		s.Log.Info().Str("username", username).Msg("login rejected")
		return uuid.Nil, appErrors.ErrInvalidCredentials
	}
	return user.ID, nil
}

// Username resolves the display name of a logged-in user.
func (s *AuthService) Username(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", appErrors.ErrInvalidCredentials
	}
	return user.Username, nil
}

// ChangePassword replaces the password of userID after checking the
// current one.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current, next, nextCheck string) error {
	if next != nextCheck {
		return appErrors.NewValidation("new_password", "you entered two different new passwords - the field values must match")
	}
	if n := utf8.RuneCountInString(next); n < MinPasswordLength || n > MaxPasswordLength {
		return appErrors.NewValidation("new_password", "the new password must be between 12 and 128 characters long")
	}

	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return appErrors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return appErrors.ErrInvalidCredentials
		}
		return err
	}

	hash, err := HashPassword(next, s.cost())
	if err != nil {
		return err
	}
	if err := s.Users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}
	s.Log.Info().Stringer("user_id", userID).Msg("🔑 Password changed")
	return nil
}

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Repository is the credential store: user lookups plus persistence of the
// failed-attempt counter. The counter update is a single atomic statement so
// concurrent login attempts for one account cannot lose increments.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindByLogin resolves a user by username or email. sql.ErrNoRows passes
// through untouched so callers can map it to an invalid-username failure.
func (r *Repository) FindByLogin(ctx context.Context, login string) (User, error) {
	var user User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, role, failed_login_count, created_at, updated_at
		FROM users
		WHERE username = $1 OR email = $1
	`, login).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.FailedLogins, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("query user by login: %w", err)
	}

	return user, nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (User, error) {
	var user User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, role, failed_login_count, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.FailedLogins, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("query user by id: %w", err)
	}

	return user, nil
}

// RecordFailedLogin bumps the failed-attempt counter and returns its new
// value.
func (r *Repository) RecordFailedLogin(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET failed_login_count = failed_login_count + 1, updated_at = $2
		WHERE id = $1
		RETURNING failed_login_count
	`, id, time.Now().UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("record failed login: %w", err)
	}

	return count, nil
}

func (r *Repository) ResetFailedLogins(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET failed_login_count = 0, updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset failed logins: %w", err)
	}

	return nil
}

// EnsureSuperAdmin upserts the bootstrap superadmin account from environment
// credentials. Used once at startup; also resets a locked-out bootstrap
// account since its password is reset along the way.
func (r *Repository) EnsureSuperAdmin(ctx context.Context, username, email, plainPassword string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate user id: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, failed_login_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
		ON CONFLICT (email)
		DO UPDATE SET
			username = EXCLUDED.username,
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			failed_login_count = 0,
			updated_at = EXCLUDED.updated_at
	`, id.String(), username, email, string(hash), RoleSuperAdmin, now)
	if err != nil {
		return fmt.Errorf("upsert superadmin: %w", err)
	}

	return nil
}

package auth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userColumns() []string {
	return []string{"id", "username", "email", "password_hash", "role", "failed_login_count", "created_at", "updated_at"}
}

func TestRepository_FindByLogin(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	now := time.Now().UTC()

	t.Run("found by username or email", func(t *testing.T) {
		rows := sqlmock.NewRows(userColumns()).
			AddRow("u1", "alice", "alice@example.org", "hash", int(RoleAdmin), 1, now, now)
		mock.ExpectQuery(`(?s)SELECT .+ FROM users`).WithArgs("alice").WillReturnRows(rows)

		user, err := repo.FindByLogin(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, "u1", user.ID)
		assert.Equal(t, RoleAdmin, user.Role)
		assert.Equal(t, 1, user.FailedLogins)
	})

	t.Run("no rows passes through", func(t *testing.T) {
		mock.ExpectQuery(`(?s)SELECT .+ FROM users`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

		_, err := repo.FindByLogin(context.Background(), "ghost")
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_FailedLoginCounter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	t.Run("record returns the incremented value", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"failed_login_count"}).AddRow(3)
		mock.ExpectQuery("UPDATE users").WithArgs("u1", sqlmock.AnyArg()).WillReturnRows(rows)

		count, err := repo.RecordFailedLogin(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("reset zeroes the counter", func(t *testing.T) {
		mock.ExpectExec("UPDATE users").WithArgs("u1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.ResetFailedLogins(context.Background(), "u1"))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_EnsureSuperAdmin(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "root", "root@example.org", sqlmock.AnyArg(), int(RoleSuperAdmin), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.EnsureSuperAdmin(context.Background(), "root", "root@example.org", "hunter2hunter2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

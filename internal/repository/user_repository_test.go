package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/bhanu-singh/rcbl-backend/internal/models"
)

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "company_id", "email", "password_hash", "full_name",
		"active", "last_login", "created_at", "updated_at"})
}

func TestUserRepositoryFindByEmail(t *testing.T) {
	db, mock, cleanup := newUploadRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, company_id, email`)).
		WithArgs("ops@acme.test").
		WillReturnRows(userRows().AddRow("user-1", "company-1", "ops@acme.test", "hash",
			"Ops User", true, nil, time.Now(), time.Now()))

	user, err := repo.FindByEmail(context.Background(), "ops@acme.test")
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
	require.Equal(t, "company-1", user.CompanyID)
	require.True(t, user.Active)
}

func TestUserRepositoryFindByEmailMissing(t *testing.T) {
	db, mock, cleanup := newUploadRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, company_id, email`)).
		WithArgs("ghost@acme.test").
		WillReturnRows(userRows())

	_, err := repo.FindByEmail(context.Background(), "ghost@acme.test")
	require.Error(t, err)
	require.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestUserRepositoryRefreshTokenLifecycle(t *testing.T) {
	db, mock, cleanup := newUploadRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO refresh_tokens`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	token := &models.RefreshToken{
		UserID:    "user-1",
		Token:     "opaque-token",
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.CreateRefreshToken(context.Background(), token))
	require.NotEmpty(t, token.ID)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, user_id, token`)).
		WithArgs("opaque-token").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "created_at",
			"revoked", "revoked_at", "ip_address", "user_agent"}).
			AddRow(token.ID, "user-1", "opaque-token", token.ExpiresAt, token.CreatedAt,
				false, nil, "127.0.0.1", "test-agent"))

	found, err := repo.FindRefreshToken(context.Background(), "opaque-token")
	require.NoError(t, err)
	require.Equal(t, "user-1", found.UserID)
	require.False(t, found.Revoked)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE refresh_tokens SET revoked = TRUE`)).
		WithArgs(token.ID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RevokeRefreshToken(context.Background(), token.ID, time.Now()))
	require.NoError(t, mock.ExpectationsWereMet())
}

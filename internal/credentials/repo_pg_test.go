package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPGTokenStoreAppendInsertsNewRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := &PGTokenStore{DB: db}
	issued := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tok := Token{
		ID:        "tok-1",
		Site:      "court",
		Account:   "13800000000",
		Value:     "abc",
		IssuedAt:  issued,
		ExpiresAt: issued.Add(10 * time.Minute),
		CreatedAt: issued,
	}

	mock.ExpectExec("INSERT INTO tokens").
		WithArgs(tok.ID, tok.Site, tok.Account, tok.Value, tok.IssuedAt, tok.ExpiresAt, tok.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Append(context.Background(), tok))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGTokenStoreLatestEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery("SELECT id, site, account, value, issued_at, expires_at, created_at").
		WithArgs("court", "a1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "site", "account", "value", "issued_at", "expires_at", "created_at"}))

	_, err = (&PGTokenStore{DB: db}).Latest(context.Background(), "court", "a1")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGSourceListBySite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows := sqlmock.NewRows([]string{"id", "site", "account", "secret", "priority", "enabled"}).
		AddRow("c1", "court", "a1", "pw1", 0, true).
		AddRow("c2", "court", "a2", "pw2", 1, true)
	mock.ExpectQuery("FROM credentials").WithArgs("court").WillReturnRows(rows)

	creds, err := (&PGSource{DB: db}).ListBySite(context.Background(), "court")
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "a1", creds[0].Account)
	assert.Equal(t, "pw2", creds[1].Secret)
	require.NoError(t, mock.ExpectationsWereMet())
}

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSessionID = "sess-1"
	testOwnerID   = "owner-1"
	testPhone     = "15551234567"
	testKeyName   = "noise-key"
	// testDBError is the error message used for simulated database failures.
	testDBError = "connection refused"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func sessionRows(creds []byte) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(sessionColumns).
		AddRow(testSessionID, testOwnerID, testPhone, creds, now, now)
}

func TestLoad_CreatesAndReturnsRecord(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(testSessionID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT session_id, owner_id, phone_number, credentials, created_at, last_active_at FROM sessions").
		WithArgs(testSessionID).
		WillReturnRows(sessionRows(nil))
	mock.ExpectQuery("SELECT key, value FROM session_keys").
		WithArgs(testSessionID).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
			AddRow(testKeyName, []byte("secret")))

	rec, err := store.Load(context.Background(), testSessionID)
	require.NoError(t, err)
	assert.Equal(t, testSessionID, rec.SessionID)
	assert.Equal(t, testOwnerID, rec.OwnerID)
	assert.Equal(t, []byte("secret"), rec.Keys[testKeyName])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_InsertError(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(testSessionID, sqlmock.AnyArg()).
		WillReturnError(errors.New(testDBError))

	_, err := store.Load(context.Background(), testSessionID)
	assert.ErrorContains(t, err, testDBError)
}

func TestUpdateMeta(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE sessions").
		WithArgs(testSessionID, testOwnerID, testPhone).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateMeta(context.Background(), testSessionID, testOwnerID, testPhone)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCredentials_NotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT credentials FROM sessions").
		WithArgs(testSessionID).
		WillReturnRows(sqlmock.NewRows([]string{"credentials"}))

	creds, err := store.GetCredentials(context.Background(), testSessionID)
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestSetCredentials(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE sessions").
		WithArgs(testSessionID, []byte("blob")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SetCredentials(context.Background(), testSessionID, []byte("blob"))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetKey(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT value FROM session_keys").
		WithArgs(testSessionID, testKeyName).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("secret")))

	value, err := store.GetKey(context.Background(), testSessionID, testKeyName)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), value)
}

func TestSetKey_Upsert(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO session_keys").
		WithArgs(testSessionID, testKeyName, []byte("secret")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SetKey(context.Background(), testSessionID, testKeyName, []byte("secret"))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetKey_NilDeletes(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("DELETE FROM session_keys").
		WithArgs(testSessionID, testKeyName).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SetKey(context.Background(), testSessionID, testKeyName, nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_ScopedByOwner(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT session_id, owner_id, phone_number, credentials, created_at, last_active_at FROM sessions").
		WithArgs(testOwnerID).
		WillReturnRows(sessionRows([]byte("blob")))

	recs, err := store.List(context.Background(), testOwnerID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, testSessionID, recs[0].SessionID)
	assert.Equal(t, []byte("blob"), recs[0].Credentials)
}

func TestList_AllWhenOwnerEmpty(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT session_id, owner_id, phone_number, credentials, created_at, last_active_at FROM sessions").
		WillReturnRows(sessionRows(nil))

	recs, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestDelete(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("DELETE FROM sessions").
		WithArgs(testSessionID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Delete(context.Background(), testSessionID)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Copyright (C) 2024 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package backend

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/croessner/syncauth/server/errors"
	"github.com/croessner/syncauth/server/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResetCodeStore(t *testing.T, now time.Time) (*resetCodeStoreImpl, sqlmock.Sqlmock) {
	t.Helper()

	db, mock := newMockDatabase(t, "mysql")

	return &resetCodeStoreImpl{db: db, now: func() time.Time { return now }}, mock
}

func expectStoredCode(mock sqlmock.Sqlmock, username string, code any, expiration any) {
	rows := sqlmock.NewRows([]string{"reset", "expiration"}).AddRow(code, expiration)

	mock.ExpectQuery("SELECT reset, expiration FROM reset_codes WHERE username = ?").
		WithArgs(username).
		WillReturnRows(rows)
}

func expectNoStoredCode(mock sqlmock.Sqlmock, username string) {
	mock.ExpectQuery("SELECT reset, expiration FROM reset_codes WHERE username = ?").
		WithArgs(username).
		WillReturnRows(sqlmock.NewRows([]string{"reset", "expiration"}))
}

func TestResetCodeStore_GenerateStoresNewCode(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newTestResetCodeStore(t, now)

	expectNoStoredCode(mock, "alice")
	mock.ExpectExec("DELETE FROM reset_codes WHERE username = ?").
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO reset_codes (username, reset, expiration) VALUES (?, ?, ?)").
		WithArgs("alice", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	code, err := store.GenerateResetCode(context.Background(), "alice", false)

	require.NoError(t, err)
	assert.True(t, util.CheckResetCode(code))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetCodeStore_GenerateReturnsUnexpiredCode(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newTestResetCodeStore(t, now)

	expectStoredCode(mock, "alice", "AAAA-BBBB-CCCC-DDDD", now.Add(time.Hour))

	code, err := store.GenerateResetCode(context.Background(), "alice", false)

	require.NoError(t, err)
	assert.Equal(t, "AAAA-BBBB-CCCC-DDDD", code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetCodeStore_GenerateReplacesExpiredCode(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newTestResetCodeStore(t, now)

	expectStoredCode(mock, "alice", "AAAA-BBBB-CCCC-DDDD", now.Add(-time.Minute))
	mock.ExpectExec("DELETE FROM reset_codes WHERE username = ?").
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM reset_codes WHERE username = ?").
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO reset_codes (username, reset, expiration) VALUES (?, ?, ?)").
		WithArgs("alice", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	code, err := store.GenerateResetCode(context.Background(), "alice", false)

	require.NoError(t, err)
	assert.NotEqual(t, "AAAA-BBBB-CCCC-DDDD", code)
	assert.True(t, util.CheckResetCode(code))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetCodeStore_GenerateOverwriteSkipsLookup(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newTestResetCodeStore(t, now)

	mock.ExpectExec("DELETE FROM reset_codes WHERE username = ?").
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reset_codes (username, reset, expiration) VALUES (?, ?, ?)").
		WithArgs("alice", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	code, err := store.GenerateResetCode(context.Background(), "alice", true)

	require.NoError(t, err)
	assert.True(t, util.CheckResetCode(code))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetCodeStore_GenerateFailsWhenRowNotStored(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newTestResetCodeStore(t, now)

	expectNoStoredCode(mock, "alice")
	mock.ExpectExec("DELETE FROM reset_codes WHERE username = ?").
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO reset_codes (username, reset, expiration) VALUES (?, ?, ?)").
		WithArgs("alice", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.GenerateResetCode(context.Background(), "alice", false)

	assert.ErrorIs(t, err, errors.ErrSQLNoResetCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetCodeStore_VerifyMalformedCodeWithoutLookup(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newTestResetCodeStore(t, now)

	for _, code := range []string{"", "beh", "aaaa-bbbb-cccc-dddd", "AAAA-BBBB-CCCC", "AAAA_BBBB_CCCC_DDDD"} {
		ok, err := store.VerifyResetCode(context.Background(), "alice", code)

		require.NoError(t, err)
		assert.False(t, ok, "code %q must be rejected", code)
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetCodeStore_VerifyMatchingCode(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newTestResetCodeStore(t, now)

	expectStoredCode(mock, "alice", "AAAA-BBBB-CCCC-DDDD", now.Add(time.Hour))

	ok, err := store.VerifyResetCode(context.Background(), "alice", "AAAA-BBBB-CCCC-DDDD")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetCodeStore_VerifyMismatch(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newTestResetCodeStore(t, now)

	expectStoredCode(mock, "alice", "AAAA-BBBB-CCCC-DDDD", now.Add(time.Hour))

	ok, err := store.VerifyResetCode(context.Background(), "alice", "EEEE-FFFF-0000-1111")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetCodeStore_VerifyExpiredCodeClearedOnRead(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newTestResetCodeStore(t, now)

	expectStoredCode(mock, "alice", "AAAA-BBBB-CCCC-DDDD", now.Add(-time.Second))
	mock.ExpectExec("DELETE FROM reset_codes WHERE username = ?").
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.VerifyResetCode(context.Background(), "alice", "AAAA-BBBB-CCCC-DDDD")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetCodeStore_VerifyMissingRow(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newTestResetCodeStore(t, now)

	expectNoStoredCode(mock, "alice")

	ok, err := store.VerifyResetCode(context.Background(), "alice", "AAAA-BBBB-CCCC-DDDD")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetCodeStore_ClearReportsExistence(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newTestResetCodeStore(t, now)

	mock.ExpectExec("DELETE FROM reset_codes WHERE username = ?").
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM reset_codes WHERE username = ?").
		WithArgs("bob").
		WillReturnResult(sqlmock.NewResult(0, 0))

	existed, err := store.ClearResetCode(context.Background(), "alice")

	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.ClearResetCode(context.Background(), "bob")

	require.NoError(t, err)
	assert.False(t, existed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

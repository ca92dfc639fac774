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
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/croessner/syncauth/server/definitions"
	"github.com/croessner/syncauth/server/errors"
	"github.com/croessner/syncauth/server/stats"
	"github.com/croessner/syncauth/server/util"
)

// ResetCodeStore keeps one password-reset code per user with a fixed
// validity window.
type ResetCodeStore interface {
	// GenerateResetCode returns the stored unexpired code for the user, or
	// mints and stores a new one when none exists, the stored one expired
	// or overwrite is set. An empty code with a nil error never happens,
	// storage failures surface as errors.
	GenerateResetCode(ctx context.Context, username string, overwrite bool) (string, error)

	// VerifyResetCode reports whether the given code is well-formed,
	// unexpired and matches the stored one. Malformed codes are rejected
	// before any storage access. An expired row is cleared on read.
	VerifyResetCode(ctx context.Context, username string, code string) (bool, error)

	// ClearResetCode deletes the user's code and reports whether one
	// existed.
	ClearResetCode(ctx context.Context, username string) (bool, error)
}

// resetCodeStoreImpl implements ResetCodeStore over the shared SQLDatabase.
// The clock is injectable for expiry tests.
type resetCodeStoreImpl struct {
	db  *SQLDatabase
	now func() time.Time
}

var _ ResetCodeStore = (*resetCodeStoreImpl)(nil)

// NewResetCodeStore creates a store over the given database handle.
func NewResetCodeStore(db *SQLDatabase) ResetCodeStore {
	return &resetCodeStoreImpl{db: db, now: time.Now}
}

// storedResetCode is the single row kept per user.
type storedResetCode struct {
	Reset      sql.NullString `db:"reset"`
	Expiration sql.NullTime   `db:"expiration"`
}

func (r *resetCodeStoreImpl) getStoredCode(ctx context.Context, username string) (code string, expiration time.Time, err error) {
	conn, err := r.db.GetConn()
	if err != nil {
		return "", time.Time{}, err
	}

	query := conn.Rebind("SELECT reset, expiration FROM reset_codes WHERE username = ?")

	row := &storedResetCode{}

	if err = conn.GetContext(ctx, row, query, username); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, nil
		}

		return "", time.Time{}, errors.ErrBackend.WithDetail(err.Error())
	}

	if !row.Reset.Valid || !row.Expiration.Valid {
		return "", time.Time{}, nil
	}

	return row.Reset.String, row.Expiration.Time, nil
}

// setResetCode stores a code via delete-then-insert. There is no upsert, so
// readers must tolerate the brief window without a row.
func (r *resetCodeStoreImpl) setResetCode(ctx context.Context, username string, code string, expiration time.Time) error {
	conn, err := r.db.GetConn()
	if err != nil {
		return err
	}

	deleteQuery := conn.Rebind("DELETE FROM reset_codes WHERE username = ?")

	if _, err = conn.ExecContext(ctx, deleteQuery, username); err != nil {
		return errors.ErrBackend.WithDetail(err.Error())
	}

	insertQuery := conn.Rebind("INSERT INTO reset_codes (username, reset, expiration) VALUES (?, ?, ?)")

	result, err := conn.ExecContext(ctx, insertQuery, username, code, expiration)
	if err != nil {
		return errors.ErrBackend.WithDetail(err.Error())
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.ErrBackend.WithDetail(err.Error())
	}

	if affected != 1 {
		return errors.ErrSQLNoResetCode.WithDetail("Reset code row was not stored")
	}

	return nil
}

func (r *resetCodeStoreImpl) GenerateResetCode(ctx context.Context, username string, overwrite bool) (string, error) {
	if !overwrite {
		code, expiration, err := r.getStoredCode(ctx, username)
		if err != nil {
			return "", err
		}

		if code != "" {
			if expiration.After(r.now()) {
				return code, nil
			}

			// Expired rows are cleared on read.
			if _, err = r.ClearResetCode(ctx, username); err != nil {
				return "", err
			}
		}
	}

	code, _, err := util.GenerateResetCode()
	if err != nil {
		return "", err
	}

	expiration := r.now().Add(definitions.ResetCodeValidity)

	if err = r.setResetCode(ctx, username, code, expiration); err != nil {
		return "", err
	}

	stats.ResetCodeOperations.WithLabelValues("generate").Inc()

	util.DebugModule(definitions.DbgSQL, "username", username, definitions.LogKeyMsg, "Stored new reset code")

	return code, nil
}

func (r *resetCodeStoreImpl) VerifyResetCode(ctx context.Context, username string, code string) (bool, error) {
	if !util.CheckResetCode(code) {
		return false, nil
	}

	stored, expiration, err := r.getStoredCode(ctx, username)
	if err != nil {
		return false, err
	}

	if stored == "" {
		return false, nil
	}

	if !expiration.After(r.now()) {
		if _, err = r.ClearResetCode(ctx, username); err != nil {
			return false, err
		}

		return false, nil
	}

	stats.ResetCodeOperations.WithLabelValues("verify").Inc()

	return stored == code, nil
}

func (r *resetCodeStoreImpl) ClearResetCode(ctx context.Context, username string) (bool, error) {
	conn, err := r.db.GetConn()
	if err != nil {
		return false, err
	}

	query := conn.Rebind("DELETE FROM reset_codes WHERE username = ?")

	result, err := conn.ExecContext(ctx, query, username)
	if err != nil {
		return false, errors.ErrBackend.WithDetail(err.Error())
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.ErrBackend.WithDetail(err.Error())
	}

	stats.ResetCodeOperations.WithLabelValues("clear").Inc()

	return affected > 0, nil
}

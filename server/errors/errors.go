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

package errors

import (
	"errors"
)

// DetailedError is an error sentinel that can carry a per-occurrence detail
// string, an operation GUID and an instance name. The With* builders return
// derived copies, never mutate the shared sentinel; derived values unwrap to
// the sentinel they came from, so errors.Is keeps matching.
type DetailedError struct {
	err      error
	parent   *DetailedError
	guid     string
	details  string
	instance string
}

func (d *DetailedError) Error() string {
	return d.err.Error()
}

// Unwrap exposes the sentinel a derived value was built from.
func (d *DetailedError) Unwrap() error {
	if d.parent == nil {
		return nil
	}

	return d.parent
}

func (d *DetailedError) WithGUID(guid string) *DetailedError {
	if d == nil {
		return nil
	}

	derived := d.derive()
	derived.guid = guid

	return derived
}

func (d *DetailedError) WithDetail(detail string) *DetailedError {
	if d == nil {
		return nil
	}

	derived := d.derive()
	derived.details = detail

	return derived
}

func (d *DetailedError) WithInstance(instance string) *DetailedError {
	if d == nil {
		return nil
	}

	derived := d.derive()
	derived.instance = instance

	return derived
}

func (d *DetailedError) GetGUID() string {
	return d.guid
}

func (d *DetailedError) GetDetails() string {
	return d.details
}

func (d *DetailedError) GetInstance() string {
	return d.instance
}

// derive copies d so builders can fill in occurrence data. The copy unwraps
// to d, so a derived value matches its own sentinel and, through the
// sentinel's own parent link, every supertype above it.
func (d *DetailedError) derive() *DetailedError {
	derived := *d
	derived.parent = d

	return &derived
}

func NewDetailedError(err string) *DetailedError {
	return &DetailedError{err: errors.New(err)}
}

// NewDetailedSubError creates a sentinel that is a subtype of parent:
// errors.Is against the parent matches values of the new sentinel as well.
func NewDetailedSubError(parent *DetailedError, err string) *DetailedError {
	return &DetailedError{err: errors.New(err), parent: parent}
}

// backend failure taxonomy.

var (
	// ErrBackend wraps any directory transport or protocol failure other than a timeout.
	ErrBackend = NewDetailedError("backend_error")

	// ErrBackendTimeout signals that a directory operation exceeded its deadline. It is
	// a subtype of ErrBackend, callers typically map it to a retry-later response.
	ErrBackendTimeout = NewDetailedSubError(ErrBackend, "backend_timeout_error")

	// ErrMaxConnections signals pool saturation after all acquisition retries.
	ErrMaxConnections = NewDetailedError("max_connections_reached")

	// ErrNodeAttribution signals that no node capacity was available or that the
	// reservation could not be committed.
	ErrNodeAttribution = NewDetailedError("node_attribution_error")
)

// ldap.

var (
	ErrLDAPConnect        = NewDetailedError("ldap_servers_connect_error")
	ErrLDAPConfig         = NewDetailedError("ldap_config_error")
	ErrNoLDAPSearchResult = NewDetailedError("ldap_no_search_result")
	ErrLDAPModify         = NewDetailedError("ldap_modify_error")

	// ErrInvalidCredentials and ErrNoSuchObject let the backend turn a
	// failed bind or a missing entry into an ordinary negative result
	// instead of an error.
	ErrInvalidCredentials = NewDetailedError("ldap_invalid_credentials")
	ErrNoSuchObject       = NewDetailedError("ldap_no_such_object")
)

// sql.

var (
	ErrSQLConfig            = NewDetailedError("sql_config_error")
	ErrSQLNoResetCode       = NewDetailedError("sql_reset_code_not_stored")
	ErrNoDatabaseConnection = NewDetailedError("sql_no_database_connection")
	ErrUnsupportedSQLDriver = NewDetailedError("sql_unsupported_driver")
)

// config.

var (
	ErrUnknownBackend    = errors.New("unknown backend")
	ErrWrongVerboseLevel = errors.New("wrong verbose level: <%s>")
	ErrWrongDebugModule  = errors.New("wrong debug module: <%s>")
	ErrNoLDAPSection     = errors.New("no 'ldap:' section found")
)

// util.

var (
	ErrUnsupportedAlgorithm      = errors.New("unsupported hash algorithm")
	ErrUnsupportedPasswordOption = errors.New("unsupported password option")
	ErrPasswordEncoding          = errors.New("password encoding error")
	ErrInvalidUsername           = errors.New("invalid username")
)

// common.

var (
	ErrUnknownCause = errors.New("something went wrong")
)

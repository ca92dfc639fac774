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

package definitions

// Backend is a numeric identifier for an authentication backend.
type Backend uint8

// LDAPCommand represents the LDAP operation like search, add or modify.
type LDAPCommand uint8

// LDAPState is the tri-state flag for a pooled LDAP connection.
type LDAPState uint8

// Algorithm is a password hash algorithm type.
type Algorithm uint8

// PasswordOption is a password encoding type.
type PasswordOption uint8

// DbgModule represents a debug module identifier.
type DbgModule uint8

func (b Backend) String() string {
	switch b {
	case BackendLDAP:
		return BackendLDAPName
	case BackendMemory:
		return BackendMemoryName
	default:
		return BackendUnknownName
	}
}

func (s LDAPState) String() string {
	switch s {
	case LDAPStateClosed:
		return "closed"
	case LDAPStateFree:
		return "free"
	case LDAPStateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

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

// Package bktype holds the request and reply types shared between the
// directory connection pool and the authentication backends.
package bktype

import (
	"github.com/go-ldap/ldap/v3"
)

// AttributeMapping maps directory attribute names to their values. The
// distinguished names of all matched entries are collected under the "dn"
// pseudo attribute.
type AttributeMapping map[string][]string

// GetSingleValue returns the first value of the given attribute or an empty
// string when the attribute is absent.
func (a AttributeMapping) GetSingleValue(attribute string) string {
	if values, okay := a[attribute]; okay && len(values) > 0 {
		return values[0]
	}

	return ""
}

// LDAPScope narrows an LDAP search to a single entry or a whole subtree.
type LDAPScope uint8

const (
	// ScopeBase searches the addressed entry only.
	ScopeBase LDAPScope = iota

	// ScopeSubtree searches the addressed entry and everything below it.
	ScopeSubtree
)

// Get returns the go-ldap scope constant.
func (s LDAPScope) Get() int {
	if s == ScopeSubtree {
		return ldap.ScopeWholeSubtree
	}

	return ldap.ScopeBaseObject
}

func (s LDAPScope) String() string {
	if s == ScopeSubtree {
		return "sub"
	}

	return "base"
}

// LDAPSearchRequest describes a directory search.
type LDAPSearchRequest struct {
	// GUID is the per-operation identifier threaded through debug logs.
	GUID string

	// BaseDN is the distinguished name used as the search base.
	BaseDN string

	// Scope selects base or subtree search.
	Scope LDAPScope

	// Filter is the RFC 4515 search filter. Callers escape user input.
	Filter string

	// Attributes are the attribute names to return.
	Attributes []string
}

// LDAPAddRequest describes the creation of a directory entry.
type LDAPAddRequest struct {
	GUID string

	// DN is the distinguished name of the new entry.
	DN string

	// Attributes holds the attribute values of the new entry.
	Attributes map[string][]string
}

// LDAPModifyRequest describes a replace-style modification of one entry.
type LDAPModifyRequest struct {
	GUID string

	// DN is the distinguished name of the entry to modify.
	DN string

	// Replace maps attribute names to their replacement values.
	Replace map[string][]string
}

// LDAPDeleteRequest describes the removal of one directory entry.
type LDAPDeleteRequest struct {
	GUID string

	// DN is the distinguished name of the entry to delete.
	DN string
}

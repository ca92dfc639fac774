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

	"github.com/croessner/syncauth/server/backend/ldappool"
	"github.com/croessner/syncauth/server/config"
	"github.com/croessner/syncauth/server/definitions"
	"github.com/croessner/syncauth/server/errors"
	"github.com/croessner/syncauth/server/log"
	"github.com/croessner/syncauth/server/rediscli"
	kitlog "github.com/go-kit/log"
)

// Backend is the authentication backend contract exposed to the dispatch
// layer. User ids are the decimal uidNumber as a string; usernames are the
// login names. Negative results, a failed authentication, a missing user,
// an unassigned node, come back as empty values with a nil error; errors
// mean the backend itself misbehaved.
type Backend interface {
	// GetName returns the name of the backend variant.
	GetName() string

	// GetUserID resolves a username to its user id, empty when unknown.
	GetUserID(ctx context.Context, username string) (string, error)

	// CreateUser creates a user with the given credentials and e-mail.
	CreateUser(ctx context.Context, username string, password string, email string) (bool, error)

	// AuthenticateUser verifies the password and returns the user id on
	// success, empty on failure.
	AuthenticateUser(ctx context.Context, username string, password string) (string, error)

	// GenerateResetCode returns the user's current reset code, minting one
	// when none is stored, the stored one expired or overwrite is set.
	GenerateResetCode(ctx context.Context, userID string, overwrite bool) (string, error)

	// VerifyResetCode checks a user supplied reset code.
	VerifyResetCode(ctx context.Context, userID string, code string) (bool, error)

	// ClearResetCode removes the user's reset code.
	ClearResetCode(ctx context.Context, userID string) (bool, error)

	// GetUserInfo returns the username and e-mail for a user id, both
	// empty when the user is unknown.
	GetUserInfo(ctx context.Context, userID string) (username string, email string, err error)

	// UpdateEmail changes the e-mail address. Self-service: the current
	// password is required.
	UpdateEmail(ctx context.Context, userID string, email string, password string) (bool, error)

	// DeleteUser removes the user. Self-service: the current password is
	// required.
	DeleteUser(ctx context.Context, userID string, password string) (bool, error)

	// GetUserNode returns the URL of the user's assigned node. With assign
	// set an unassigned user gets a node reserved and written; without it
	// the lookup is side-effect free.
	GetUserNode(ctx context.Context, userID string, assign bool) (string, error)
}

// NewBackend constructs the backend variant selected in the server section
// of the configuration.
func NewBackend(ctx context.Context, cfg *config.File, logger kitlog.Logger) (Backend, error) {
	if logger == nil {
		logger = log.GetLogger()
	}

	switch cfg.GetServer().GetBackend() {
	case definitions.BackendLDAP:
		return newConfiguredLDAPBackend(ctx, cfg, logger)
	case definitions.BackendMemory:
		return NewMemoryBackend(cfg.GetNodes()), nil
	default:
		return nil, errors.ErrUnknownBackend
	}
}

// newConfiguredLDAPBackend wires the full LDAP stack: SQL handle, node and
// reset-code stores, connection pool and the optional cache tiers.
func newConfiguredLDAPBackend(ctx context.Context, cfg *config.File, logger kitlog.Logger) (*LDAPBackend, error) {
	database, err := NewDatabase(ctx, cfg.GetSQL())
	if err != nil {
		return nil, err
	}

	pool := ldappool.NewConnectionPool("auth", cfg.GetLDAP(), ldappool.WithLogger(logger))

	cache := NewNodeCache(
		cfg.GetNodes().GetCacheTTL(),
		rediscli.NewRedisClient(cfg.GetRedis()),
		rediscli.NewRedisReplicaClient(cfg.GetRedis()),
		cfg.GetRedis().GetPrefix(),
	)

	return NewLDAPBackend(
		cfg.GetLDAP(),
		cfg.GetNodes(),
		pool,
		NewNodeAssignmentStore(database),
		NewResetCodeStore(database),
		cache,
		logger,
	), nil
}

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
	"strings"
	"testing"
	"time"

	"github.com/croessner/syncauth/server/config"
	"github.com/croessner/syncauth/server/errors"
	"github.com/croessner/syncauth/server/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryBackend(t *testing.T) (*MemoryBackend, string) {
	t.Helper()

	backend := NewMemoryBackend(nil)

	created, err := backend.CreateUser(context.Background(), "alice", "secret", "alice@example.com")
	require.NoError(t, err)
	require.True(t, created)

	userID, err := backend.GetUserID(context.Background(), "alice")
	require.NoError(t, err)
	require.NotEmpty(t, userID)

	return backend, userID
}

func TestMemoryBackend_CreateAndAuthenticate(t *testing.T) {
	backend, userID := newTestMemoryBackend(t)

	ctx := context.Background()

	authenticated, err := backend.AuthenticateUser(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, userID, authenticated)

	authenticated, err = backend.AuthenticateUser(ctx, "alice", "wrong")
	require.NoError(t, err)
	assert.Empty(t, authenticated)

	authenticated, err = backend.AuthenticateUser(ctx, "alice", "")
	require.NoError(t, err)
	assert.Empty(t, authenticated)

	authenticated, err = backend.AuthenticateUser(ctx, "ghost", "secret")
	require.NoError(t, err)
	assert.Empty(t, authenticated)
}

func TestMemoryBackend_CreateUserDuplicate(t *testing.T) {
	backend, _ := newTestMemoryBackend(t)

	created, err := backend.CreateUser(context.Background(), "alice", "other", "")

	require.NoError(t, err)
	assert.False(t, created)
}

func TestMemoryBackend_CreateUserInvalidName(t *testing.T) {
	backend := NewMemoryBackend(nil)

	_, err := backend.CreateUser(context.Background(), "bad user", "secret", "")

	assert.ErrorIs(t, err, errors.ErrInvalidUsername)
}

func TestMemoryBackend_GetUserInfo(t *testing.T) {
	backend, userID := newTestMemoryBackend(t)

	username, email, err := backend.GetUserInfo(context.Background(), userID)

	require.NoError(t, err)
	assert.Equal(t, "alice", username)
	assert.Equal(t, "alice@example.com", email)

	username, email, err = backend.GetUserInfo(context.Background(), "999999")

	require.NoError(t, err)
	assert.Empty(t, username)
	assert.Empty(t, email)
}

func TestMemoryBackend_UpdateEmail(t *testing.T) {
	backend, userID := newTestMemoryBackend(t)

	ctx := context.Background()

	updated, err := backend.UpdateEmail(ctx, userID, "new@example.com", "secret")
	require.NoError(t, err)
	assert.True(t, updated)

	_, email, err := backend.GetUserInfo(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", email)

	updated, err = backend.UpdateEmail(ctx, userID, "evil@example.com", "wrong")
	require.NoError(t, err)
	assert.False(t, updated)

	updated, err = backend.UpdateEmail(ctx, userID, "evil@example.com", "")
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestMemoryBackend_DeleteUser(t *testing.T) {
	backend, userID := newTestMemoryBackend(t)

	ctx := context.Background()

	deleted, err := backend.DeleteUser(ctx, userID, "wrong")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = backend.DeleteUser(ctx, userID, "secret")
	require.NoError(t, err)
	assert.True(t, deleted)

	lookedUp, err := backend.GetUserID(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, lookedUp)
}

func TestMemoryBackend_GetUserNode(t *testing.T) {
	backend, userID := newTestMemoryBackend(t)

	ctx := context.Background()

	// No node registered yet.
	_, err := backend.GetUserNode(ctx, userID, true)
	assert.ErrorIs(t, err, errors.ErrNodeAttribution)

	backend.AddNode("node1")

	nodeURL, err := backend.GetUserNode(ctx, userID, false)
	require.NoError(t, err)
	assert.Empty(t, nodeURL)

	nodeURL, err = backend.GetUserNode(ctx, userID, true)
	require.NoError(t, err)
	assert.Equal(t, "https://node1/", nodeURL)

	// Assignments are sticky.
	backend.AddNode("node2")

	again, err := backend.GetUserNode(ctx, userID, true)
	require.NoError(t, err)
	assert.Equal(t, nodeURL, again)

	nodeURL, err = backend.GetUserNode(ctx, "999999", true)
	require.NoError(t, err)
	assert.Empty(t, nodeURL)
}

func TestMemoryBackend_GetUserNodeSingleBox(t *testing.T) {
	backend := NewMemoryBackend(&config.NodesSection{SingleBox: true})
	backend.AddNode("node1")

	created, err := backend.CreateUser(context.Background(), "alice", "secret", "")
	require.NoError(t, err)
	require.True(t, created)

	userID, err := backend.GetUserID(context.Background(), "alice")
	require.NoError(t, err)

	nodeURL, err := backend.GetUserNode(context.Background(), userID, true)

	require.NoError(t, err)
	assert.Empty(t, nodeURL)
}

func TestMemoryBackend_ResetCodeRoundTrip(t *testing.T) {
	backend, userID := newTestMemoryBackend(t)

	ctx := context.Background()

	code, err := backend.GenerateResetCode(ctx, userID, false)
	require.NoError(t, err)
	assert.True(t, util.CheckResetCode(code))

	// Unexpired codes are stable without overwrite.
	repeated, err := backend.GenerateResetCode(ctx, userID, false)
	require.NoError(t, err)
	assert.Equal(t, code, repeated)

	replaced, err := backend.GenerateResetCode(ctx, userID, true)
	require.NoError(t, err)
	assert.True(t, util.CheckResetCode(replaced))

	ok, err := backend.VerifyResetCode(ctx, userID, replaced)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = backend.VerifyResetCode(ctx, userID, "AAAA-BBBB-CCCC-DDDD")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = backend.VerifyResetCode(ctx, userID, "beh")
	require.NoError(t, err)
	assert.False(t, ok)

	existed, err := backend.ClearResetCode(ctx, userID)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = backend.ClearResetCode(ctx, userID)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestMemoryBackend_ResetCodeExpires(t *testing.T) {
	backend, userID := newTestMemoryBackend(t)

	ctx := context.Background()

	code, err := backend.GenerateResetCode(ctx, userID, false)
	require.NoError(t, err)

	backend.now = func() time.Time { return time.Now().Add(7 * time.Hour) }

	ok, err := backend.VerifyResetCode(ctx, userID, code)
	require.NoError(t, err)
	assert.False(t, ok)

	// Expired codes are replaced on the next generate.
	fresh, err := backend.GenerateResetCode(ctx, userID, false)
	require.NoError(t, err)
	assert.True(t, util.CheckResetCode(fresh))
}

func TestMemoryBackend_GetName(t *testing.T) {
	backend := NewMemoryBackend(nil)

	assert.True(t, strings.EqualFold("memory", backend.GetName()))
}

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
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/croessner/syncauth/server/config"
	"github.com/croessner/syncauth/server/definitions"
	"github.com/croessner/syncauth/server/errors"
	"github.com/croessner/syncauth/server/util"
)

// memoryUser is one account held by the in-process backend.
type memoryUser struct {
	username    string
	password    string
	email       string
	userID      string
	node        string
	resetCode   string
	resetExpiry time.Time
}

// MemoryBackend is the map-backed Backend variant for development and
// tests. It follows the same negative-result semantics as the directory
// backend but keeps everything in process. State is per instance, never
// shared implicitly.
type MemoryBackend struct {
	mu     sync.RWMutex
	byName map[string]*memoryUser
	byID   map[string]*memoryUser
	nextID int64

	// nodePool is the list of assignable nodes, filled via AddNode.
	nodePool []string

	nodesConf *config.NodesSection
	now       func() time.Time
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend(nodesConf *config.NodesSection) *MemoryBackend {
	return &MemoryBackend{
		byName:    make(map[string]*memoryUser),
		byID:      make(map[string]*memoryUser),
		nodesConf: nodesConf,
		now:       time.Now,
	}
}

// AddNode registers an assignable node.
func (m *MemoryBackend) AddNode(node string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nodePool = append(m.nodePool, node)
}

// GetName returns the backend variant name.
func (m *MemoryBackend) GetName() string {
	return definitions.BackendMemoryName
}

func (m *MemoryBackend) GetUserID(_ context.Context, username string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, found := m.byName[username]
	if !found {
		return "", nil
	}

	return user.userID, nil
}

func (m *MemoryBackend) CreateUser(_ context.Context, username string, password string, email string) (bool, error) {
	if !util.ValidateUsername(username) {
		return false, errors.ErrInvalidUsername
	}

	passwordHash, err := hashUserPassword(password)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[username]; exists {
		return false, nil
	}

	m.nextID++

	user := &memoryUser{
		username: username,
		password: passwordHash,
		email:    email,
		userID:   strconv.FormatInt(m.nextID, 10),
	}

	m.byName[username] = user
	m.byID[user.userID] = user

	return true, nil
}

func (m *MemoryBackend) AuthenticateUser(_ context.Context, username string, password string) (string, error) {
	if password == "" {
		return "", nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	user, found := m.byName[username]
	if !found {
		return "", nil
	}

	ok, err := util.ComparePasswords(user.password, password)
	if err != nil || !ok {
		return "", nil
	}

	return user.userID, nil
}

func (m *MemoryBackend) GetUserInfo(_ context.Context, userID string) (string, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, found := m.byID[userID]
	if !found {
		return "", "", nil
	}

	return user.username, user.email, nil
}

func (m *MemoryBackend) UpdateEmail(_ context.Context, userID string, email string, password string) (bool, error) {
	if password == "" {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	user, found := m.byID[userID]
	if !found {
		return false, nil
	}

	ok, err := util.ComparePasswords(user.password, password)
	if err != nil || !ok {
		return false, nil
	}

	user.email = email

	return true, nil
}

func (m *MemoryBackend) DeleteUser(_ context.Context, userID string, password string) (bool, error) {
	if password == "" {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	user, found := m.byID[userID]
	if !found {
		return false, nil
	}

	ok, err := util.ComparePasswords(user.password, password)
	if err != nil || !ok {
		return false, nil
	}

	delete(m.byName, user.username)
	delete(m.byID, userID)

	return true, nil
}

func (m *MemoryBackend) GetUserNode(_ context.Context, userID string, assign bool) (string, error) {
	if m.nodesConf.GetSingleBox() {
		return "", nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	user, found := m.byID[userID]
	if !found {
		return "", nil
	}

	if user.node != "" {
		return fmt.Sprintf("%s://%s/", m.nodesConf.GetScheme(), user.node), nil
	}

	if !assign {
		return "", nil
	}

	if len(m.nodePool) == 0 {
		return "", errors.ErrNodeAttribution.WithDetail("No node registered")
	}

	index, err := rand.Int(rand.Reader, big.NewInt(int64(len(m.nodePool))))
	if err != nil {
		return "", err
	}

	user.node = m.nodePool[index.Int64()]

	return fmt.Sprintf("%s://%s/", m.nodesConf.GetScheme(), user.node), nil
}

func (m *MemoryBackend) GenerateResetCode(_ context.Context, userID string, overwrite bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, found := m.byID[userID]
	if !found {
		return "", errors.ErrSQLNoResetCode.WithDetail("Unknown user")
	}

	if !overwrite && user.resetCode != "" && user.resetExpiry.After(m.now()) {
		return user.resetCode, nil
	}

	code, expiry, err := util.GenerateResetCode()
	if err != nil {
		return "", err
	}

	user.resetCode = code
	user.resetExpiry = expiry

	return code, nil
}

func (m *MemoryBackend) VerifyResetCode(_ context.Context, userID string, code string) (bool, error) {
	if !util.CheckResetCode(code) {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	user, found := m.byID[userID]
	if !found || user.resetCode == "" {
		return false, nil
	}

	if !user.resetExpiry.After(m.now()) {
		user.resetCode = ""

		return false, nil
	}

	return user.resetCode == code, nil
}

func (m *MemoryBackend) ClearResetCode(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, found := m.byID[userID]
	if !found || user.resetCode == "" {
		return false, nil
	}

	user.resetCode = ""

	return true, nil
}

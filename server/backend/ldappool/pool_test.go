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

package ldappool

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/croessner/syncauth/server/backend/bktype"
	"github.com/croessner/syncauth/server/config"
	"github.com/croessner/syncauth/server/definitions"
	"github.com/croessner/syncauth/server/errors"
	"github.com/go-kit/log"
	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDirectoryConn struct {
	mu sync.Mutex

	state     definitions.LDAPState
	boundDN   string
	boundPW   string
	connected bool

	connectErr error
	bindErrs   []error

	connectCalls int
	bindCalls    int
	unbindCalls  int

	inUse int32
}

var _ DirectoryConnection = (*mockDirectoryConn)(nil)

func (m *mockDirectoryConn) SetState(state definitions.LDAPState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = state
}

func (m *mockDirectoryConn) GetState() definitions.LDAPState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

func (m *mockDirectoryConn) BoundDN() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.boundDN
}

func (m *mockDirectoryConn) BoundPW() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.boundPW
}

func (m *mockDirectoryConn) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connected
}

func (m *mockDirectoryConn) Connect(_ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connectCalls++

	if m.connectErr != nil {
		return m.connectErr
	}

	m.connected = true

	return nil
}

func (m *mockDirectoryConn) Bind(_ string, bindDN string, bindPW string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bindCalls++
	m.connected = true

	if len(m.bindErrs) > 0 {
		err := m.bindErrs[0]
		m.bindErrs = m.bindErrs[1:]

		if err != nil {
			return err
		}
	}

	m.boundDN = bindDN
	m.boundPW = bindPW

	return nil
}

func (m *mockDirectoryConn) Unbind() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unbindCalls++
	m.connected = false
	m.boundDN = ""
	m.boundPW = ""
	m.state = definitions.LDAPStateClosed
}

func (m *mockDirectoryConn) Search(_ *bktype.LDAPSearchRequest) (bktype.AttributeMapping, []*ldap.Entry, error) {
	return bktype.AttributeMapping{}, nil, nil
}

func (m *mockDirectoryConn) Add(_ *bktype.LDAPAddRequest) error {
	return nil
}

func (m *mockDirectoryConn) Modify(_ *bktype.LDAPModifyRequest) error {
	return nil
}

func (m *mockDirectoryConn) Delete(_ *bktype.LDAPDeleteRequest) error {
	return nil
}

// mockRegistry tracks every connection a pool created through the injected
// connector.
type mockRegistry struct {
	mu      sync.Mutex
	created []*mockDirectoryConn
	setup   func(conn *mockDirectoryConn)
}

func (r *mockRegistry) connector() DirectoryConnection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn := &mockDirectoryConn{}

	if r.setup != nil {
		r.setup(conn)
	}

	r.created = append(r.created, conn)

	return conn
}

func (r *mockRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.created)
}

func poolTestConfig(poolSize int, retryMax int) *config.LDAPSection {
	return &config.LDAPSection{
		ServerURIs: []string{"ldap://localhost:389"},
		PoolSize:   poolSize,
		RetryMax:   retryMax,
		RetryDelay: time.Millisecond,
	}
}

func newTestPool(conf *config.LDAPSection, registry *mockRegistry) *connectionPoolImpl {
	pool := NewConnectionPool("test", conf, WithConnector(registry.connector), WithLogger(log.NewNopLogger()))

	return pool.(*connectionPoolImpl)
}

func TestConnectionPool_ReusesReleasedConnection(t *testing.T) {
	registry := &mockRegistry{}
	pool := newTestPool(poolTestConfig(4, 2), registry)

	for i := 0; i < 3; i++ {
		err := pool.WithConnection(context.Background(), "uid=alice,ou=users,dc=example,dc=com", "secret", func(conn DirectoryConnection) error {
			assert.Equal(t, "uid=alice,ou=users,dc=example,dc=com", conn.BoundDN())

			return nil
		})

		require.NoError(t, err)
	}

	assert.Equal(t, 1, registry.count(), "sequential acquisitions must reuse the pooled entry")
	assert.Equal(t, 1, pool.Len())
}

func TestConnectionPool_DefaultsToConfiguredBind(t *testing.T) {
	registry := &mockRegistry{}
	conf := poolTestConfig(2, 2)
	conf.BindDN = "cn=service,dc=example,dc=com"
	conf.BindPW = "servicepw"

	pool := newTestPool(conf, registry)

	err := pool.WithConnection(context.Background(), "", "", func(conn DirectoryConnection) error {
		assert.Equal(t, "cn=service,dc=example,dc=com", conn.BoundDN())
		assert.Equal(t, "servicepw", conn.BoundPW())

		return nil
	})

	require.NoError(t, err)
}

func TestConnectionPool_CapacityNeverExceeded(t *testing.T) {
	const capacity = 3

	registry := &mockRegistry{}
	pool := newTestPool(poolTestConfig(capacity, 50), registry)

	var (
		wg         sync.WaitGroup
		current    atomic.Int32
		maxCurrent atomic.Int32
	)

	for i := 0; i < 12; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := pool.WithConnection(context.Background(), "uid=worker,dc=example,dc=com", "pw", func(conn DirectoryConnection) error {
				mock := conn.(*mockDirectoryConn)

				if !atomic.CompareAndSwapInt32(&mock.inUse, 0, 1) {
					t.Error("connection handed to two callers at once")
				}

				now := current.Add(1)
				for {
					seen := maxCurrent.Load()
					if now <= seen || maxCurrent.CompareAndSwap(seen, now) {
						break
					}
				}

				time.Sleep(2 * time.Millisecond)

				current.Add(-1)
				atomic.StoreInt32(&mock.inUse, 0)

				return nil
			})

			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.LessOrEqual(t, maxCurrent.Load(), int32(capacity))
	assert.LessOrEqual(t, pool.Len(), capacity)
}

func TestConnectionPool_MaxConnectionsAfterBackoff(t *testing.T) {
	registry := &mockRegistry{}
	pool := newTestPool(poolTestConfig(1, 2), registry)

	holding := make(chan struct{})
	releaseConn := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- pool.WithConnection(context.Background(), "uid=first,dc=example,dc=com", "pw", func(_ DirectoryConnection) error {
			close(holding)
			<-releaseConn

			return nil
		})
	}()

	<-holding

	err := pool.WithConnection(context.Background(), "uid=second,dc=example,dc=com", "pw", func(_ DirectoryConnection) error {
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMaxConnections)

	close(releaseConn)
	require.NoError(t, <-done)
}

func TestConnectionPool_DeadConnectionRemovedOnRelease(t *testing.T) {
	registry := &mockRegistry{}
	pool := newTestPool(poolTestConfig(4, 2), registry)

	err := pool.WithConnection(context.Background(), "uid=alice,dc=example,dc=com", "pw", func(conn DirectoryConnection) error {
		// Simulate the directory dropping the session mid-use.
		mock := conn.(*mockDirectoryConn)

		mock.mu.Lock()
		mock.connected = false
		mock.mu.Unlock()

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 0, pool.Len())
}

func TestConnectionPool_ReleasesOnCallbackError(t *testing.T) {
	registry := &mockRegistry{}
	pool := newTestPool(poolTestConfig(4, 2), registry)

	wantErr := stderrors.New("callback failed")

	err := pool.WithConnection(context.Background(), "uid=alice,dc=example,dc=com", "pw", func(_ DirectoryConnection) error {
		return wantErr
	})

	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 1, pool.Len())
	assert.NotEqual(t, definitions.LDAPStateBusy, pool.entries[0].GetState())
}

func TestConnectionPool_RebindsMatchingIdleEntry(t *testing.T) {
	registry := &mockRegistry{}
	pool := newTestPool(poolTestConfig(4, 2), registry)

	idle := &mockDirectoryConn{
		state:     definitions.LDAPStateFree,
		boundDN:   "uid=alice,dc=example,dc=com",
		boundPW:   "pw",
		connected: true,
	}

	pool.entries = append(pool.entries, idle)

	err := pool.WithConnection(context.Background(), "uid=alice,dc=example,dc=com", "pw", func(conn DirectoryConnection) error {
		assert.Same(t, idle, conn)

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 0, registry.count(), "matching idle entry must be reused, not recreated")
	assert.GreaterOrEqual(t, idle.bindCalls, 1)
}

func TestConnectionPool_DropsDeadEntryDuringScan(t *testing.T) {
	registry := &mockRegistry{}
	pool := newTestPool(poolTestConfig(4, 2), registry)

	dead := &mockDirectoryConn{
		state:     definitions.LDAPStateFree,
		boundDN:   "uid=alice,dc=example,dc=com",
		boundPW:   "pw",
		connected: true,
		bindErrs:  []error{&ldap.Error{ResultCode: ldap.ErrorNetwork, Err: stderrors.New("connection reset")}},
	}

	pool.entries = append(pool.entries, dead)

	err := pool.WithConnection(context.Background(), "uid=alice,dc=example,dc=com", "pw", func(_ DirectoryConnection) error {
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, registry.count(), "dead entry must be replaced by a fresh connection")
	assert.Equal(t, 1, pool.Len())
}

func TestConnectionPool_BindRetriesOnUnavailable(t *testing.T) {
	unavailable := &ldap.Error{ResultCode: ldap.LDAPResultUnavailable, Err: stderrors.New("unavailable")}

	registry := &mockRegistry{
		setup: func(conn *mockDirectoryConn) {
			conn.bindErrs = []error{unavailable, unavailable}
		},
	}

	pool := newTestPool(poolTestConfig(4, 3), registry)

	err := pool.WithConnection(context.Background(), "uid=alice,dc=example,dc=com", "pw", func(_ DirectoryConnection) error {
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 1, registry.count())
	assert.Equal(t, 3, registry.created[0].bindCalls)
}

func TestConnectionPool_BindAttemptsCappedAtRetryMax(t *testing.T) {
	unavailable := &ldap.Error{ResultCode: ldap.LDAPResultUnavailable, Err: stderrors.New("unavailable")}

	registry := &mockRegistry{
		setup: func(conn *mockDirectoryConn) {
			conn.bindErrs = []error{unavailable, unavailable, unavailable, unavailable}
		},
	}

	pool := newTestPool(poolTestConfig(4, 2), registry)

	err := pool.WithConnection(context.Background(), "uid=alice,dc=example,dc=com", "pw", func(_ DirectoryConnection) error {
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBackend)
	assert.Equal(t, 2, registry.created[0].bindCalls, "bind budget is retry_max attempts")
}

func TestConnectionPool_BindTimeoutFailsImmediately(t *testing.T) {
	timeout := &ldap.Error{ResultCode: ldap.LDAPResultTimeLimitExceeded, Err: stderrors.New("time limit exceeded")}

	registry := &mockRegistry{
		setup: func(conn *mockDirectoryConn) {
			conn.bindErrs = []error{timeout, timeout, timeout}
		},
	}

	pool := newTestPool(poolTestConfig(4, 3), registry)

	err := pool.WithConnection(context.Background(), "uid=alice,dc=example,dc=com", "pw", func(_ DirectoryConnection) error {
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBackendTimeout)
	assert.ErrorIs(t, err, errors.ErrBackend)
	assert.Equal(t, 1, registry.created[0].bindCalls, "timeouts must not be retried")
	assert.Equal(t, 0, pool.Len(), "failed setup must not leave a reserved slot behind")
}

func TestConnectionPool_InvalidCredentialsNotRetried(t *testing.T) {
	invalid := &ldap.Error{ResultCode: ldap.LDAPResultInvalidCredentials, Err: stderrors.New("invalid credentials")}

	registry := &mockRegistry{
		setup: func(conn *mockDirectoryConn) {
			conn.bindErrs = []error{invalid, invalid}
		},
	}

	pool := newTestPool(poolTestConfig(4, 3), registry)

	err := pool.WithConnection(context.Background(), "uid=alice,dc=example,dc=com", "wrong", func(_ DirectoryConnection) error {
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidCredentials)
	assert.Equal(t, 1, registry.created[0].bindCalls)
}

func TestConnectionPool_PurgeRemovesStaleCredentials(t *testing.T) {
	registry := &mockRegistry{}
	pool := newTestPool(poolTestConfig(8, 2), registry)

	stale := &mockDirectoryConn{state: definitions.LDAPStateFree, boundDN: "uid=alice,dc=example,dc=com", boundPW: "oldpw", connected: true}
	fresh := &mockDirectoryConn{state: definitions.LDAPStateFree, boundDN: "uid=alice,dc=example,dc=com", boundPW: "newpw", connected: true}
	other := &mockDirectoryConn{state: definitions.LDAPStateFree, boundDN: "uid=bob,dc=example,dc=com", boundPW: "pw", connected: true}

	pool.entries = append(pool.entries, stale, fresh, other)

	pool.Purge("uid=alice,dc=example,dc=com", "newpw")

	require.Equal(t, 2, pool.Len())
	assert.Equal(t, 1, stale.unbindCalls)
	assert.Equal(t, 0, fresh.unbindCalls)
	assert.Equal(t, 0, other.unbindCalls)

	// Without a password every entry bound to the identity goes away.
	pool.Purge("uid=bob,dc=example,dc=com", "")

	require.Equal(t, 1, pool.Len())
	assert.Equal(t, 1, other.unbindCalls)
}

func TestConnectionPool_PurgeNoopWhenPoolingDisabled(t *testing.T) {
	registry := &mockRegistry{}
	conf := poolTestConfig(4, 2)
	usePool := false
	conf.UsePool = &usePool

	pool := newTestPool(conf, registry)

	seeded := &mockDirectoryConn{state: definitions.LDAPStateFree, boundDN: "uid=alice,dc=example,dc=com", boundPW: "pw", connected: true}
	pool.entries = append(pool.entries, seeded)

	pool.Purge("uid=alice,dc=example,dc=com", "")

	assert.Equal(t, 1, pool.Len())
	assert.Equal(t, 0, seeded.unbindCalls)
}

func TestConnectionPool_PoolingDisabledNeverPoolsEntries(t *testing.T) {
	registry := &mockRegistry{}
	conf := poolTestConfig(4, 2)
	usePool := false
	conf.UsePool = &usePool

	pool := newTestPool(conf, registry)

	for i := 0; i < 2; i++ {
		err := pool.WithConnection(context.Background(), "uid=alice,dc=example,dc=com", "pw", func(_ DirectoryConnection) error {
			return nil
		})

		require.NoError(t, err)
	}

	assert.Equal(t, 2, registry.count(), "each acquisition creates a throwaway connection")
	assert.Equal(t, 0, pool.Len())
}

func TestConnectionPool_Close(t *testing.T) {
	registry := &mockRegistry{}
	pool := newTestPool(poolTestConfig(4, 2), registry)

	err := pool.WithConnection(context.Background(), "uid=alice,dc=example,dc=com", "pw", func(_ DirectoryConnection) error {
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 1, pool.Len())

	pool.Close()

	assert.Equal(t, 0, pool.Len())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{
			name:   "timeout",
			err:    &ldap.Error{ResultCode: ldap.LDAPResultTimeLimitExceeded, Err: stderrors.New("time limit")},
			target: errors.ErrBackendTimeout,
		},
		{
			name:   "invalid_credentials",
			err:    &ldap.Error{ResultCode: ldap.LDAPResultInvalidCredentials, Err: stderrors.New("invalid")},
			target: errors.ErrInvalidCredentials,
		},
		{
			name:   "no_such_object",
			err:    &ldap.Error{ResultCode: ldap.LDAPResultNoSuchObject, Err: stderrors.New("missing")},
			target: errors.ErrNoSuchObject,
		},
		{
			name:   "generic",
			err:    stderrors.New("boom"),
			target: errors.ErrBackend,
		},
		{
			name:   "detailed_passthrough",
			err:    errors.ErrMaxConnections.WithDetail("full"),
			target: errors.ErrMaxConnections,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := ClassifyError(tt.err)

			assert.ErrorIs(t, classified, tt.target)
		})
	}
}

func TestIsUnavailableError(t *testing.T) {
	assert.True(t, IsUnavailableError(&ldap.Error{ResultCode: ldap.LDAPResultBusy, Err: stderrors.New("busy")}))
	assert.True(t, IsUnavailableError(&ldap.Error{ResultCode: ldap.LDAPResultUnavailable, Err: stderrors.New("unavailable")}))
	assert.True(t, IsUnavailableError(&ldap.Error{ResultCode: ldap.ErrorNetwork, Err: stderrors.New("network")}))
	assert.False(t, IsUnavailableError(&ldap.Error{ResultCode: ldap.LDAPResultInvalidCredentials, Err: stderrors.New("invalid")}))
	assert.False(t, IsUnavailableError(stderrors.New("other")))
}

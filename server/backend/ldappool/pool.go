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
	"net"
	"sync"
	"time"

	"github.com/croessner/syncauth/server/config"
	"github.com/croessner/syncauth/server/definitions"
	"github.com/croessner/syncauth/server/errors"
	"github.com/croessner/syncauth/server/log"
	"github.com/croessner/syncauth/server/stats"
	"github.com/croessner/syncauth/server/util"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-ldap/ldap/v3"
	"github.com/segmentio/ksuid"
)

// errPoolFull tells the acquisition loop that every slot is taken. It never
// leaves the package; callers see ErrMaxConnections once the backoff budget
// is spent.
var errPoolFull = stderrors.New("ldap pool is full")

// ConnectionPool hands out directory connections scoped to a callback. Idle
// entries are reused when their bound identity matches the request, new
// entries are created while the pool is under capacity and transient bind
// failures are retried with a delay.
type ConnectionPool interface {
	// WithConnection runs fn with a connection bound to bindDN. Empty
	// credentials select the pool's configured default bind. The connection
	// is released on every exit path, fn must not retain it.
	WithConnection(ctx context.Context, bindDN string, bindPW string, fn func(conn DirectoryConnection) error) error

	// Purge drops idle entries left bound to bindDN. With a non-empty
	// bindPW only entries holding a different password are dropped, so a
	// pool can be cleared of stale credentials after a password change.
	// Purge does nothing when pooling is disabled.
	Purge(bindDN string, bindPW string)

	// Len returns the number of entries currently held by the pool.
	Len() int

	// Close unbinds and drops all entries.
	Close()
}

// connectionPoolImpl implements ConnectionPool around a mutex-guarded slice
// of entries. The lock is held for membership changes and for the
// scan-and-rebind step of the reuse policy; connect and bind calls for new
// entries happen outside of it.
type connectionPoolImpl struct {
	name      string
	conf      *config.LDAPSection
	logger    kitlog.Logger
	connector func() DirectoryConnection

	mu      sync.Mutex
	entries []DirectoryConnection
}

var _ ConnectionPool = (*connectionPoolImpl)(nil)

// Option customizes a ConnectionPool at construction time.
type Option func(pool *connectionPoolImpl)

// WithConnector replaces the connection factory. Tests use this to inject
// instrumented connections.
func WithConnector(connector func() DirectoryConnection) Option {
	return func(pool *connectionPoolImpl) {
		pool.connector = connector
	}
}

// WithLogger replaces the pool logger.
func WithLogger(logger kitlog.Logger) Option {
	return func(pool *connectionPoolImpl) {
		pool.logger = logger
	}
}

// NewConnectionPool creates a pool for the given LDAP configuration. The
// name labels the pool in log entries and metrics.
func NewConnectionPool(name string, conf *config.LDAPSection, opts ...Option) ConnectionPool {
	pool := &connectionPoolImpl{
		name:   name,
		conf:   conf,
		logger: log.GetLogger(),
	}

	pool.connector = func() DirectoryConnection {
		return NewConnection(conf, pool.logger)
	}

	for _, opt := range opts {
		opt(pool)
	}

	stats.LdapPoolSize.WithLabelValues(name).Set(float64(conf.GetPoolSize()))

	return pool
}

// WithConnection acquires a connection, makes sure it is bound to the
// requested identity and runs fn. Release is deferred, so the entry returns
// to the pool even when fn fails.
func (p *connectionPoolImpl) WithConnection(ctx context.Context, bindDN string, bindPW string, fn func(conn DirectoryConnection) error) error {
	guid := ksuid.New().String()

	if bindDN == "" {
		bindDN = p.conf.GetBindDN()
		bindPW = p.conf.GetBindPW()
	}

	conn, err := p.acquire(ctx, guid, bindDN, bindPW)
	if err != nil {
		return err
	}

	defer p.release(guid, conn)

	// Entries reused anonymously come back unbound. Rebinding also covers
	// entries whose directory session expired while they sat idle.
	if bindDN != "" && conn.BoundDN() != bindDN {
		if err = conn.Bind(guid, bindDN, bindPW); err != nil {
			return ClassifyError(err)
		}
	}

	return fn(conn)
}

// acquire returns a busy-marked connection for the requested identity. When
// the pool is full it backs off up to retryMax times, evicting one idle
// entry per round, before giving up with ErrMaxConnections.
func (p *connectionPoolImpl) acquire(ctx context.Context, guid string, bindDN string, bindPW string) (DirectoryConnection, error) {
	if !p.conf.GetUsePool() {
		return p.createConnector(ctx, guid, bindDN, bindPW, false)
	}

	retryMax := p.conf.GetRetryMax()

	for attempt := 0; ; attempt++ {
		if conn := p.match(guid, bindDN, bindPW); conn != nil {
			return conn, nil
		}

		conn, err := p.createConnector(ctx, guid, bindDN, bindPW, true)
		if err == nil {
			return conn, nil
		}

		if !stderrors.Is(err, errPoolFull) {
			return nil, err
		}

		if attempt >= retryMax {
			stats.LdapPoolExhausted.WithLabelValues(p.name).Inc()

			return nil, errors.ErrMaxConnections.WithDetail("All pooled LDAP connections are in use").WithGUID(guid)
		}

		p.evictOneIdle(guid)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.conf.GetRetryDelay()):
		}
	}
}

// match scans the idle entries for a reusable connection. The scan, the
// in-place rebind of a credential match and the busy transition all happen
// under the pool lock, so two goroutines can never claim the same entry.
func (p *connectionPoolImpl) match(guid string, bindDN string, bindPW string) DirectoryConnection {
	p.mu.Lock()
	defer p.mu.Unlock()

	for index := 0; index < len(p.entries); {
		entry := p.entries[index]

		if entry.GetState() == definitions.LDAPStateBusy {
			index++

			continue
		}

		// An anonymous entry serves any identity. It is handed out unbound,
		// the caller binds it before use.
		if entry.BoundDN() == "" {
			entry.SetState(definitions.LDAPStateBusy)

			util.DebugModule(definitions.DbgLDAPPool, definitions.LogKeyGUID, guid, definitions.LogKeyMsg, "Reusing anonymous connection")

			return entry
		}

		if entry.BoundDN() == bindDN && entry.BoundPW() == bindPW {
			// The previous bind may have expired on the server side, so the
			// entry is rebound before it is handed out. A failing rebind
			// marks the entry dead and the scan moves on.
			entry.Unbind()

			if err := entry.Bind(guid, bindDN, bindPW); err != nil {
				level.Warn(p.logger).Log(
					definitions.LogKeyGUID, guid,
					definitions.LogKeyMsg, "Dropping dead pooled connection",
					definitions.LogKeyError, err,
				)

				p.entries = append(p.entries[:index], p.entries[index+1:]...)

				continue
			}

			entry.SetState(definitions.LDAPStateBusy)

			util.DebugModule(definitions.DbgLDAPPool, definitions.LogKeyGUID, guid, definitions.LogKeyBindDN, bindDN, definitions.LogKeyMsg, "Reusing bound connection")

			return entry
		}

		index++
	}

	return nil
}

// createConnector creates, connects and binds a fresh connection. For a
// pooled connection the slot is reserved under the lock before the slow
// connect happens, keeping the pool at or below capacity at all times.
func (p *connectionPoolImpl) createConnector(ctx context.Context, guid string, bindDN string, bindPW string, pooled bool) (DirectoryConnection, error) {
	conn := p.connector()

	conn.SetState(definitions.LDAPStateBusy)

	if pooled {
		p.mu.Lock()

		if len(p.entries) >= p.conf.GetPoolSize() {
			p.mu.Unlock()

			return nil, errPoolFull
		}

		p.entries = append(p.entries, conn)
		openConnections := len(p.entries)

		p.mu.Unlock()

		stats.LdapOpenConnections.WithLabelValues(p.name).Set(float64(openConnections))
	}

	if err := conn.Connect(guid); err != nil {
		p.discard(conn, pooled)

		return nil, ClassifyError(err)
	}

	if bindDN != "" {
		if err := p.bindWithRetry(ctx, guid, conn, bindDN, bindPW); err != nil {
			p.discard(conn, pooled)

			return nil, err
		}
	}

	return conn, nil
}

// bindWithRetry binds a fresh connection. Timeouts fail immediately,
// unavailable-class errors are retried after a delay and everything else is
// classified right away.
func (p *connectionPoolImpl) bindWithRetry(ctx context.Context, guid string, conn DirectoryConnection, bindDN string, bindPW string) error {
	var err error

	retryMax := p.conf.GetRetryMax()

	for attempt := 0; attempt < retryMax; attempt++ {
		if attempt > 0 {
			stats.LdapBindRetries.WithLabelValues(p.name).Inc()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.conf.GetRetryDelay()):
			}
		}

		err = conn.Bind(guid, bindDN, bindPW)
		if err == nil {
			return nil
		}

		if IsTimeoutError(err) {
			return errors.ErrBackendTimeout.WithDetail(err.Error()).WithGUID(guid)
		}

		if !IsUnavailableError(err) {
			return ClassifyError(err)
		}

		level.Warn(p.logger).Log(
			definitions.LogKeyGUID, guid,
			definitions.LogKeyBindDN, bindDN,
			definitions.LogKeyMsg, "LDAP server unavailable, retrying bind",
			definitions.LogKeyError, err,
		)

		conn.Unbind()
	}

	return ClassifyError(err)
}

// release returns a connection to the pool. Liveness is checked before the
// cleanup unbind, because the unbind itself tears the session down.
func (p *connectionPoolImpl) release(guid string, conn DirectoryConnection) {
	if !p.conf.GetUsePool() {
		conn.Unbind()

		return
	}

	alive := conn.Connected()

	conn.Unbind()

	p.mu.Lock()

	if alive {
		conn.SetState(definitions.LDAPStateFree)
	} else {
		for index := range p.entries {
			if p.entries[index] == conn {
				p.entries = append(p.entries[:index], p.entries[index+1:]...)

				break
			}
		}

		util.DebugModule(definitions.DbgLDAPPool, definitions.LogKeyGUID, guid, definitions.LogKeyMsg, "Removed dead connection on release")
	}

	openConnections := len(p.entries)

	p.mu.Unlock()

	stats.LdapOpenConnections.WithLabelValues(p.name).Set(float64(openConnections))
}

// discard removes a pooled connection whose setup failed.
func (p *connectionPoolImpl) discard(conn DirectoryConnection, pooled bool) {
	conn.Unbind()

	if !pooled {
		return
	}

	p.mu.Lock()

	for index := range p.entries {
		if p.entries[index] == conn {
			p.entries = append(p.entries[:index], p.entries[index+1:]...)

			break
		}
	}

	openConnections := len(p.entries)

	p.mu.Unlock()

	stats.LdapOpenConnections.WithLabelValues(p.name).Set(float64(openConnections))
}

// evictOneIdle drops one idle entry to make room for a pending acquisition.
func (p *connectionPoolImpl) evictOneIdle(guid string) {
	var victim DirectoryConnection

	p.mu.Lock()

	for index, entry := range p.entries {
		if entry.GetState() != definitions.LDAPStateBusy {
			victim = entry
			p.entries = append(p.entries[:index], p.entries[index+1:]...)

			break
		}
	}

	openConnections := len(p.entries)

	p.mu.Unlock()

	if victim == nil {
		return
	}

	victim.Unbind()

	stats.LdapOpenConnections.WithLabelValues(p.name).Set(float64(openConnections))

	util.DebugModule(definitions.DbgLDAPPool, definitions.LogKeyGUID, guid, definitions.LogKeyMsg, "Evicted idle connection to make room")
}

// Purge drops idle entries stuck on stale credentials for bindDN. Entries
// currently checked out stay untouched, their borrower unbinds them on
// release.
func (p *connectionPoolImpl) Purge(bindDN string, bindPW string) {
	if !p.conf.GetUsePool() {
		return
	}

	var victims []DirectoryConnection

	p.mu.Lock()

	kept := p.entries[:0]

	for _, entry := range p.entries {
		stale := entry.GetState() != definitions.LDAPStateBusy &&
			entry.BoundDN() == bindDN &&
			(bindPW == "" || entry.BoundPW() != bindPW)

		if stale {
			victims = append(victims, entry)

			continue
		}

		kept = append(kept, entry)
	}

	p.entries = kept
	openConnections := len(p.entries)

	p.mu.Unlock()

	for _, victim := range victims {
		victim.Unbind()
	}

	stats.LdapOpenConnections.WithLabelValues(p.name).Set(float64(openConnections))
}

// Len returns the number of entries currently held by the pool.
func (p *connectionPoolImpl) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.entries)
}

// Close unbinds and drops all entries.
func (p *connectionPoolImpl) Close() {
	p.mu.Lock()

	entries := p.entries
	p.entries = nil

	p.mu.Unlock()

	for _, entry := range entries {
		entry.Unbind()
	}

	stats.LdapOpenConnections.WithLabelValues(p.name).Set(0)
}

// IsTimeoutError reports whether err belongs to the timeout class. Timeouts
// are never retried, the caller gets a retry-later signal instead.
func IsTimeoutError(err error) bool {
	var netErr net.Error

	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return ldap.IsErrorWithCode(err, ldap.LDAPResultTimeLimitExceeded)
}

// IsUnavailableError reports whether err belongs to the transient
// server-unavailable class, which is worth a delayed retry.
func IsUnavailableError(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.ErrorNetwork) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultBusy) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnwillingToPerform)
}

// ClassifyError translates a raw directory error into the backend error
// taxonomy. Raw protocol errors never cross the pool boundary. Invalid
// credentials and missing entries map to dedicated sentinels, so the auth
// backend can turn them into ordinary negative results.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	var detailed *errors.DetailedError

	if stderrors.As(err, &detailed) {
		return err
	}

	switch {
	case IsTimeoutError(err):
		return errors.ErrBackendTimeout.WithDetail(err.Error())
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials):
		return errors.ErrInvalidCredentials.WithDetail(err.Error())
	case ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
		return errors.ErrNoSuchObject.WithDetail(err.Error())
	default:
		return errors.ErrBackend.WithDetail(err.Error())
	}
}

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
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/croessner/syncauth/server/backend/bktype"
	"github.com/croessner/syncauth/server/config"
	"github.com/croessner/syncauth/server/definitions"
	"github.com/croessner/syncauth/server/errors"
	"github.com/croessner/syncauth/server/log"
	"github.com/croessner/syncauth/server/util"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-ldap/ldap/v3"
)

// DirectoryConnection wraps a single authenticated session to a directory
// server. The pool tracks the bound identity and the busy/free/closed state
// as bookkeeping; the session itself is owned exclusively by the pool and
// borrowed by callers for the duration of a scoped acquisition.
type DirectoryConnection interface {
	// SetState sets the pool bookkeeping state of the connection.
	SetState(state definitions.LDAPState)

	// GetState returns the pool bookkeeping state of the connection.
	GetState() definitions.LDAPState

	// BoundDN returns the distinguished name the session is bound to. An
	// empty string means anonymous; such a connection may be rebound to
	// any identity.
	BoundDN() string

	// BoundPW returns the password of the current bind.
	BoundPW() string

	// Connected reports whether the underlying session is alive.
	Connected() bool

	// Connect establishes the transport session, upgrading to TLS when
	// configured.
	Connect(guid string) error

	// Bind authenticates the session as the given identity. A dead session
	// is transparently re-established first. On failure the bookkeeping is
	// left unchanged and the raw directory error is returned.
	Bind(guid string, bindDN string, bindPW string) error

	// Unbind terminates the session best-effort. Protocol errors on this
	// cleanup path are swallowed and logged; the bound identity is cleared
	// unconditionally.
	Unbind()

	// Search runs a directory search and maps the results by attribute.
	Search(request *bktype.LDAPSearchRequest) (bktype.AttributeMapping, []*ldap.Entry, error)

	// Add creates a directory entry.
	Add(request *bktype.LDAPAddRequest) error

	// Modify replaces attribute values of one entry.
	Modify(request *bktype.LDAPModifyRequest) error

	// Delete removes one entry.
	Delete(request *bktype.LDAPDeleteRequest) error
}

// DirectoryConnectionImpl implements DirectoryConnection on top of go-ldap.
type DirectoryConnectionImpl struct {
	ldapConnectionState

	conf   *config.LDAPSection
	logger kitlog.Logger

	boundDN string
	boundPW string

	conn *ldap.Conn
}

var _ DirectoryConnection = (*DirectoryConnectionImpl)(nil)

// ldapConnectionState keeps track of the connection's pool state.
type ldapConnectionState struct {
	// state is a constant from the definitions.LDAPState set.
	state definitions.LDAPState
}

// NewConnection creates an unconnected DirectoryConnection for the given
// LDAP configuration. A nil logger falls back to the global logger.
func NewConnection(conf *config.LDAPSection, logger kitlog.Logger) DirectoryConnection {
	if logger == nil {
		logger = log.GetLogger()
	}

	return &DirectoryConnectionImpl{conf: conf, logger: logger}
}

// SetState updates the pool bookkeeping state.
func (l *DirectoryConnectionImpl) SetState(state definitions.LDAPState) {
	l.state = state
}

// GetState returns the pool bookkeeping state.
func (l *DirectoryConnectionImpl) GetState() definitions.LDAPState {
	return l.state
}

// BoundDN returns the identity of the current bind or an empty string.
func (l *DirectoryConnectionImpl) BoundDN() string {
	return l.boundDN
}

// BoundPW returns the password of the current bind.
func (l *DirectoryConnectionImpl) BoundPW() string {
	return l.boundPW
}

// Connected reports whether the session is alive.
func (l *DirectoryConnectionImpl) Connected() bool {
	return l.conn != nil && !l.conn.IsClosing()
}

// Connect dials the configured directory servers in order until one
// succeeds. For ldaps:// URIs and for StartTLS the CA chain from the
// configuration is loaded.
func (l *DirectoryConnectionImpl) Connect(guid string) error {
	var lastErr error

	for _, serverURI := range l.conf.GetServerURIs() {
		util.DebugModule(
			definitions.DbgLDAP,
			definitions.LogKeyGUID, guid,
			"ldap_uri", serverURI,
		)

		conn, err := l.dialAndStartTLS(serverURI)
		if err != nil {
			lastErr = err

			continue
		}

		if timeout := l.conf.GetTimeout(); timeout > 0 {
			conn.SetTimeout(timeout)
		}

		l.conn = conn

		util.DebugModule(definitions.DbgLDAP, definitions.LogKeyGUID, guid, definitions.LogKeyMsg, "Connection established")

		return nil
	}

	if lastErr == nil {
		lastErr = errors.ErrLDAPConnect.WithDetail("No LDAP servers configured")
	}

	return lastErr
}

// dialAndStartTLS dials one server URI and upgrades the transport when
// configured.
func (l *DirectoryConnectionImpl) dialAndStartTLS(serverURI string) (*ldap.Conn, error) {
	var tlsConfig *tls.Config

	u, err := url.Parse(serverURI)
	if err != nil {
		return nil, err
	}

	if u.Scheme == "ldaps" || l.conf.GetStartTLS() {
		tlsConfig, err = l.setTLSConfig(u)
		if err != nil {
			return nil, err
		}
	}

	conn, err := ldap.DialURL(
		serverURI,
		ldap.DialWithTLSConfig(tlsConfig),
		ldap.DialWithDialer(&net.Dialer{Timeout: definitions.LDAPConnectTimeout * time.Second}),
	)
	if err != nil {
		return nil, err
	}

	if l.conf.GetStartTLS() && u.Scheme != "ldaps" {
		if err = conn.StartTLS(tlsConfig); err != nil {
			conn.Close()

			return nil, err
		}
	}

	return conn, nil
}

// setTLSConfig loads the CA chain and the optional client certificate and
// creates a TLS configuration for the connection.
func (l *DirectoryConnectionImpl) setTLSConfig(u *url.URL) (*tls.Config, error) {
	var certificates []tls.Certificate

	tlsConfig := &tls.Config{
		InsecureSkipVerify: l.conf.GetTLSSkipVerify(), //nolint:gosec // Explicit operator choice
	}

	if caFile := l.conf.GetTLSCAFile(); caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, err
		}

		caCertPool := x509.NewCertPool()
		caCertPool.AppendCertsFromPEM(caCert)

		tlsConfig.RootCAs = caCertPool
	}

	if l.conf.GetTLSClientCert() != "" && l.conf.GetTLSClientKey() != "" {
		cert, err := tls.LoadX509KeyPair(l.conf.GetTLSClientCert(), l.conf.GetTLSClientKey())
		if err != nil {
			return nil, err
		}

		certificates = append(certificates, cert)
	}

	tlsConfig.Certificates = certificates

	host := u.Host
	if strings.Contains(u.Host, ":") {
		var err error

		host, _, err = net.SplitHostPort(u.Host)
		if err != nil {
			return nil, err
		}
	}

	tlsConfig.ServerName = host

	return tlsConfig, nil
}

// Bind authenticates the session. A session that went away in the meantime
// is re-established first, so pooled entries behave like reconnecting
// clients.
func (l *DirectoryConnectionImpl) Bind(guid string, bindDN string, bindPW string) error {
	if !l.Connected() {
		if err := l.Connect(guid); err != nil {
			return err
		}
	}

	util.DebugModule(definitions.DbgLDAP, definitions.LogKeyGUID, guid, definitions.LogKeyMsg, "simple bind")
	util.DebugModule(definitions.DbgLDAP, definitions.LogKeyGUID, guid, definitions.LogKeyBindDN, bindDN)

	if config.GetFile().GetServer().GetDevMode() {
		util.DebugModule(definitions.DbgLDAP, definitions.LogKeyGUID, guid, "bind_password", bindPW)
	}

	_, err := l.conn.SimpleBind(&ldap.SimpleBindRequest{
		Username: bindDN,
		Password: bindPW,
	})
	if err != nil {
		return err
	}

	l.boundDN = bindDN
	l.boundPW = bindPW

	return nil
}

// Unbind terminates the session. The protocol unbind closes the underlying
// connection; errors on this path concern an already dying session and are
// swallowed after logging them.
func (l *DirectoryConnectionImpl) Unbind() {
	if l.conn != nil {
		if err := l.conn.Unbind(); err != nil {
			level.Debug(l.logger).Log(
				definitions.LogKeyMsg, "Unbind failed on cleanup",
				definitions.LogKeyError, err,
			)
		}

		l.conn = nil
	}

	l.boundDN = ""
	l.boundPW = ""
	l.state = definitions.LDAPStateClosed
}

// Search runs the given search and collects the values of the requested
// attributes. Entry DNs are collected under the "dn" pseudo attribute.
func (l *DirectoryConnectionImpl) Search(request *bktype.LDAPSearchRequest) (bktype.AttributeMapping, []*ldap.Entry, error) {
	if !l.Connected() {
		if err := l.Connect(request.GUID); err != nil {
			return nil, nil, err
		}
	}

	filter := util.RemoveCRLFFromQueryOrFilter(request.Filter, "")

	util.DebugModule(definitions.DbgLDAP, definitions.LogKeyGUID, request.GUID, "filter", filter)

	searchRequest := ldap.NewSearchRequest(
		request.BaseDN,
		request.Scope.Get(),
		ldap.NeverDerefAliases,
		0,
		int(l.searchTimeLimit().Seconds()),
		false,
		filter,
		request.Attributes,
		nil,
	)

	searchResult, err := l.conn.Search(searchRequest)
	if err != nil {
		return nil, nil, err
	}

	result := make(bktype.AttributeMapping)

	for entryIndex := range searchResult.Entries {
		for attrIndex := range request.Attributes {
			values := searchResult.Entries[entryIndex].GetAttributeValues(request.Attributes[attrIndex])

			// Do not add empty results
			if len(values) == 0 {
				continue
			}

			result[request.Attributes[attrIndex]] = append(result[request.Attributes[attrIndex]], values...)
		}

		result[definitions.DistinguishedName] = append(result[definitions.DistinguishedName], searchResult.Entries[entryIndex].DN)
	}

	return result, searchResult.Entries, nil
}

// searchTimeLimit returns the server-side time limit for searches.
func (l *DirectoryConnectionImpl) searchTimeLimit() time.Duration {
	if timeout := l.conf.GetTimeout(); timeout > 0 {
		return timeout
	}

	return 0
}

// Add creates a new entry from the request's attribute set.
func (l *DirectoryConnectionImpl) Add(request *bktype.LDAPAddRequest) error {
	if !l.Connected() {
		if err := l.Connect(request.GUID); err != nil {
			return err
		}
	}

	util.DebugModule(definitions.DbgLDAP, definitions.LogKeyGUID, request.GUID, definitions.LogKeyMsg, fmt.Sprintf("add %s", request.DN))

	addRequest := ldap.NewAddRequest(request.DN, nil)

	for attributeName, attributeValues := range request.Attributes {
		addRequest.Attribute(attributeName, attributeValues)
	}

	return l.conn.Add(addRequest)
}

// Modify replaces the attribute values named in the request.
func (l *DirectoryConnectionImpl) Modify(request *bktype.LDAPModifyRequest) error {
	if !l.Connected() {
		if err := l.Connect(request.GUID); err != nil {
			return err
		}
	}

	util.DebugModule(definitions.DbgLDAP, definitions.LogKeyGUID, request.GUID, definitions.LogKeyMsg, fmt.Sprintf("modify %s", request.DN))

	modifyRequest := ldap.NewModifyRequest(request.DN, nil)

	for attributeName, attributeValues := range request.Replace {
		modifyRequest.Replace(attributeName, attributeValues)
	}

	return l.conn.Modify(modifyRequest)
}

// Delete removes the entry named in the request.
func (l *DirectoryConnectionImpl) Delete(request *bktype.LDAPDeleteRequest) error {
	if !l.Connected() {
		if err := l.Connect(request.GUID); err != nil {
			return err
		}
	}

	util.DebugModule(definitions.DbgLDAP, definitions.LogKeyGUID, request.GUID, definitions.LogKeyMsg, fmt.Sprintf("delete %s", request.DN))

	return l.conn.Del(ldap.NewDelRequest(request.DN, nil))
}

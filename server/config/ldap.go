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

package config

import (
	"fmt"
	"time"

	"github.com/croessner/syncauth/server/definitions"
	"github.com/croessner/syncauth/server/errors"
)

// LDAPSection is the "ldap:" part of the configuration file.
type LDAPSection struct {
	// ServerURIs lists the directory servers to connect to, tried in order.
	ServerURIs []string `mapstructure:"server_uris" validate:"required,min=1,dive,uri"`

	// BindDN and BindPW are the default bind of pooled connections.
	BindDN string `mapstructure:"bind_dn" validate:"omitempty,printascii"`
	BindPW string `mapstructure:"bind_pw" validate:"omitempty"`

	// AdminDN and AdminPW are used for administrative writes (entry creation,
	// node assignment, administrative password resets).
	AdminDN string `mapstructure:"admin_dn" validate:"omitempty,printascii"`
	AdminPW string `mapstructure:"admin_pw" validate:"omitempty"`

	// UsersRoot is the parent DN of user entries, or "md5" to select the
	// hash-bucketed DN scheme below UsersBaseDN.
	UsersRoot   string `mapstructure:"users_root" validate:"omitempty,printascii"`
	UsersBaseDN string `mapstructure:"users_base_dn" validate:"omitempty,printascii"`

	StartTLS      bool   `mapstructure:"starttls"`
	TLSCAFile     string `mapstructure:"tls_ca_file" validate:"omitempty,file"`
	TLSClientCert string `mapstructure:"tls_client_cert" validate:"omitempty,file"`
	TLSClientKey  string `mapstructure:"tls_client_key" validate:"omitempty,file"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`

	PoolSize   int           `mapstructure:"pool_size" validate:"omitempty,min=0"`
	RetryMax   int           `mapstructure:"retry_max" validate:"omitempty,min=0,max=100"`
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"omitempty,min=0"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"omitempty,min=0"`

	UsePool           *bool `mapstructure:"use_pool"`
	CheckAccountState *bool `mapstructure:"check_account_state"`
}

func (l *LDAPSection) String() string {
	return fmt.Sprintf("LDAPSection: {ServerURIs[%v] BindDN[%s] AdminDN[%s] UsersRoot[%s] PoolSize[%d]}",
		l.ServerURIs, l.BindDN, l.AdminDN, l.UsersRoot, l.PoolSize)
}

// GetServerURIs returns the configured directory server URIs.
func (l *LDAPSection) GetServerURIs() []string {
	if l == nil {
		return nil
	}

	return l.ServerURIs
}

// GetBindDN returns the default bind DN of pooled connections.
func (l *LDAPSection) GetBindDN() string {
	if l == nil {
		return ""
	}

	return l.BindDN
}

// GetBindPW returns the default bind password of pooled connections.
func (l *LDAPSection) GetBindPW() string {
	if l == nil {
		return ""
	}

	return l.BindPW
}

// GetAdminDN returns the administrative bind DN. It returns a DetailedError
// when administrative operations are requested without one configured.
func (l *LDAPSection) GetAdminDN() (string, error) {
	if l == nil || l.AdminDN == "" {
		return "", errors.ErrLDAPConfig.WithDetail("Missing admin_dn setting")
	}

	return l.AdminDN, nil
}

// GetAdminPW returns the administrative bind password.
func (l *LDAPSection) GetAdminPW() string {
	if l == nil {
		return ""
	}

	return l.AdminPW
}

// GetUsersRoot returns the parent DN of user entries.
func (l *LDAPSection) GetUsersRoot() string {
	if l == nil {
		return ""
	}

	return l.UsersRoot
}

// GetUsersBaseDN returns the base DN under the hash-bucketed scheme.
func (l *LDAPSection) GetUsersBaseDN() string {
	if l == nil {
		return ""
	}

	return l.UsersBaseDN
}

// GetPoolSize returns the number of connection slots per pool.
func (l *LDAPSection) GetPoolSize() int {
	if l == nil || l.PoolSize == 0 {
		return definitions.LDAPPoolSize
	}

	return l.PoolSize
}

// GetRetryMax returns the retry budget for binds and pool acquisition.
func (l *LDAPSection) GetRetryMax() int {
	if l == nil || l.RetryMax == 0 {
		return definitions.LDAPRetryMax
	}

	return l.RetryMax
}

// GetRetryDelay returns the pause between two retries.
func (l *LDAPSection) GetRetryDelay() time.Duration {
	if l == nil || l.RetryDelay == 0 {
		return definitions.LDAPRetryDelay
	}

	return l.RetryDelay
}

// GetTimeout returns the per-operation directory timeout. Zero means the
// client library default.
func (l *LDAPSection) GetTimeout() time.Duration {
	if l == nil {
		return 0
	}

	return l.Timeout
}

// GetUsePool reports whether connection pooling is enabled.
func (l *LDAPSection) GetUsePool() bool {
	if l == nil || l.UsePool == nil {
		return true
	}

	return *l.UsePool
}

// GetCheckAccountState reports whether authentication also verifies the
// account-enabled attribute.
func (l *LDAPSection) GetCheckAccountState() bool {
	if l == nil || l.CheckAccountState == nil {
		return true
	}

	return *l.CheckAccountState
}

// GetStartTLS reports whether connections upgrade the transport after dialing.
func (l *LDAPSection) GetStartTLS() bool {
	if l == nil {
		return false
	}

	return l.StartTLS
}

// GetTLSSkipVerify reports whether server certificates stay unverified.
func (l *LDAPSection) GetTLSSkipVerify() bool {
	if l == nil {
		return false
	}

	return l.TLSSkipVerify
}

// GetTLSCAFile returns the CA chain file for LDAPS and StartTLS.
func (l *LDAPSection) GetTLSCAFile() string {
	if l == nil {
		return ""
	}

	return l.TLSCAFile
}

// GetTLSClientCert returns the client certificate file.
func (l *LDAPSection) GetTLSClientCert() string {
	if l == nil {
		return ""
	}

	return l.TLSClientCert
}

// GetTLSClientKey returns the client key file.
func (l *LDAPSection) GetTLSClientKey() string {
	if l == nil {
		return ""
	}

	return l.TLSClientKey
}

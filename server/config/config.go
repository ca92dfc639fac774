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
	"sync/atomic"
	"unsafe"

	"github.com/croessner/syncauth/server/definitions"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// LoadableConfig is the configuration loaded from the syncauth.yml file.
var LoadableConfig *File //nolint:gochecknoglobals // System wide configuration

// File bundles all configuration sections of a syncauth instance.
type File struct {
	Server *ServerSection `mapstructure:"server" validate:"omitempty"`
	LDAP   *LDAPSection   `mapstructure:"ldap" validate:"required"`
	SQL    *SQLSection    `mapstructure:"sql" validate:"omitempty"`
	Nodes  *NodesSection  `mapstructure:"nodes" validate:"omitempty"`
	Redis  *RedisSection  `mapstructure:"redis" validate:"omitempty"`
}

func (f *File) String() string {
	return fmt.Sprintf("File: {Server[%+v] LDAP[%+v] SQL[%+v] Nodes[%+v] Redis[%+v]}",
		f.Server, f.LDAP, f.SQL, f.Nodes, f.Redis)
}

// GetServer returns the server section. It never returns nil.
func (f *File) GetServer() *ServerSection {
	if f == nil || f.Server == nil {
		return &ServerSection{}
	}

	return f.Server
}

// GetLDAP returns the ldap section. It never returns nil.
func (f *File) GetLDAP() *LDAPSection {
	if f == nil || f.LDAP == nil {
		return &LDAPSection{}
	}

	return f.LDAP
}

// GetSQL returns the sql section. It never returns nil.
func (f *File) GetSQL() *SQLSection {
	if f == nil || f.SQL == nil {
		return &SQLSection{}
	}

	return f.SQL
}

// GetNodes returns the nodes section. It never returns nil.
func (f *File) GetNodes() *NodesSection {
	if f == nil || f.Nodes == nil {
		return &NodesSection{}
	}

	return f.Nodes
}

// GetRedis returns the redis section. It never returns nil.
func (f *File) GetRedis() *RedisSection {
	if f == nil || f.Redis == nil {
		return &RedisSection{}
	}

	return f.Redis
}

// GetFile returns the currently loaded configuration.
func GetFile() *File {
	return (*File)(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(&LoadableConfig))))
}

// SetTestFile installs a configuration for tests.
func SetTestFile(file *File) {
	atomic.StorePointer((*unsafe.Pointer)(unsafe.Pointer(&LoadableConfig)), unsafe.Pointer(file))
}

// NewConfigFile loads, validates and installs the configuration file.
func NewConfigFile() (newCfg *File, err error) {
	newCfg = &File{}

	viper.SetConfigName(definitions.ProgName) // name of config file (without extension)
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/usr/local/etc/syncauth/")
	viper.AddConfigPath("/etc/syncauth/")
	viper.AddConfigPath("$HOME/.syncauth")
	viper.AddConfigPath(".")

	setDefaults()

	err = viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	if err = newCfg.handleFile(); err != nil {
		return nil, err
	}

	atomic.StorePointer((*unsafe.Pointer)(unsafe.Pointer(&LoadableConfig)), unsafe.Pointer(newCfg))

	return newCfg, nil
}

// handleFile decodes the file into the File struct and validates it.
func (f *File) handleFile() (err error) {
	if err = viper.UnmarshalExact(f); err != nil {
		return err
	}

	return f.validate()
}

// validate runs the struct validation over all sections.
func (f *File) validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	return validate.Struct(f)
}

// setDefaults seeds viper with the built-in defaults before a file is read.
func setDefaults() {
	viper.SetDefault("server.instance_name", definitions.InstanceName)
	viper.SetDefault("server.backend", definitions.BackendLDAPName)
	viper.SetDefault("server.log.level", "info")
	viper.SetDefault("ldap.pool_size", definitions.LDAPPoolSize)
	viper.SetDefault("ldap.retry_max", definitions.LDAPRetryMax)
	viper.SetDefault("ldap.retry_delay", definitions.LDAPRetryDelay)
	viper.SetDefault("ldap.use_pool", true)
	viper.SetDefault("ldap.check_account_state", true)
	viper.SetDefault("sql.max_connections", definitions.SQLMaxConnections)
	viper.SetDefault("sql.max_idle_connections", definitions.SQLMaxIdleConnections)
	viper.SetDefault("nodes.scheme", definitions.NodeScheme)
}

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

	"github.com/croessner/syncauth/server/definitions"
)

// ServerSection holds instance wide settings.
type ServerSection struct {
	InstanceName string `mapstructure:"instance_name" validate:"omitempty,printascii"`
	Backend      string `mapstructure:"backend" validate:"omitempty,oneof=ldap memory"`
	DevMode      bool   `mapstructure:"dev_mode"`
	Log          Log    `mapstructure:"log" validate:"omitempty"`
}

func (s *ServerSection) String() string {
	return fmt.Sprintf("ServerSection: {InstanceName[%s] Backend[%s] Log[%+v]}",
		s.InstanceName, s.Backend, s.Log)
}

// GetInstanceName returns the configured instance name or the default.
func (s *ServerSection) GetInstanceName() string {
	if s == nil || s.InstanceName == "" {
		return definitions.InstanceName
	}

	return s.InstanceName
}

// GetBackend returns the numeric identifier of the configured backend.
func (s *ServerSection) GetBackend() definitions.Backend {
	if s == nil {
		return definitions.BackendLDAP
	}

	switch s.Backend {
	case definitions.BackendMemoryName:
		return definitions.BackendMemory
	case definitions.BackendLDAPName, "":
		return definitions.BackendLDAP
	default:
		return definitions.BackendUnknown
	}
}

// GetDevMode reports whether the instance runs in developer mode. Developer
// mode logs sensitive values like bind passwords in debug output.
func (s *ServerSection) GetDevMode() bool {
	if s == nil {
		return false
	}

	return s.DevMode
}

// GetLog returns the log subsection. It never returns nil.
func (s *ServerSection) GetLog() *Log {
	if s == nil {
		return &Log{}
	}

	return &s.Log
}

// Log holds the logging settings of a syncauth instance.
type Log struct {
	Level        string   `mapstructure:"level" validate:"omitempty,oneof=none error warn info debug"`
	FormatJSON   bool     `mapstructure:"format_json"`
	Color        bool     `mapstructure:"color"`
	DebugModules []string `mapstructure:"debug_modules" validate:"omitempty,dive,oneof=none all auth ldap ldappool sql cache statistics"`
}

// GetLogLevel returns the numeric log level.
func (l *Log) GetLogLevel() int {
	if l == nil {
		return definitions.LogLevelNone
	}

	switch l.Level {
	case "", definitions.DbgNoneName:
		return definitions.LogLevelNone
	case definitions.LogKeyError:
		return definitions.LogLevelError
	case definitions.LogKeyWarning:
		return definitions.LogLevelWarn
	case "info":
		return definitions.LogLevelInfo
	case "debug":
		return definitions.LogLevelDebug
	default:
		return definitions.LogLevelNone
	}
}

// GetDebugModules returns the debug modules selected in the configuration.
func (l *Log) GetDebugModules() []definitions.DbgModule {
	if l == nil || len(l.DebugModules) == 0 {
		return nil
	}

	modules := make([]definitions.DbgModule, 0, len(l.DebugModules))

	for _, name := range l.DebugModules {
		switch name {
		case definitions.DbgAllName:
			modules = append(modules, definitions.DbgAll)
		case definitions.DbgAuthName:
			modules = append(modules, definitions.DbgAuth)
		case definitions.DbgLDAPName:
			modules = append(modules, definitions.DbgLDAP)
		case definitions.DbgLDAPPoolName:
			modules = append(modules, definitions.DbgLDAPPool)
		case definitions.DbgSQLName:
			modules = append(modules, definitions.DbgSQL)
		case definitions.DbgCacheName:
			modules = append(modules, definitions.DbgCache)
		case definitions.DbgStatsName:
			modules = append(modules, definitions.DbgStats)
		}
	}

	return modules
}

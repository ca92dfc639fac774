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

// SQLSection is the "sql:" part of the configuration file. The SQL engine
// backs the node assignment registry and the reset code store.
type SQLSection struct {
	// DSN selects the driver by its scheme, mysql:// or postgres://.
	DSN string `mapstructure:"dsn" validate:"omitempty,uri"`

	MaxConnections     int `mapstructure:"max_connections" validate:"omitempty,min=1"`
	MaxIdleConnections int `mapstructure:"max_idle_connections" validate:"omitempty,min=0"`
}

func (s *SQLSection) String() string {
	return fmt.Sprintf("SQLSection: {DSN[%s] MaxConnections[%d] MaxIdleConnections[%d]}",
		s.DSN, s.MaxConnections, s.MaxIdleConnections)
}

// GetDSN returns the configured data source name.
func (s *SQLSection) GetDSN() string {
	if s == nil {
		return ""
	}

	return s.DSN
}

// GetMaxConnections returns the upper bound of open SQL connections.
func (s *SQLSection) GetMaxConnections() int {
	if s == nil || s.MaxConnections == 0 {
		return definitions.SQLMaxConnections
	}

	return s.MaxConnections
}

// GetMaxIdleConnections returns the number of idle SQL connections kept open.
func (s *SQLSection) GetMaxIdleConnections() int {
	if s == nil || s.MaxIdleConnections == 0 {
		return definitions.SQLMaxIdleConnections
	}

	return s.MaxIdleConnections
}

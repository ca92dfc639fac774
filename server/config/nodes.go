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
)

// NodesSection is the "nodes:" part of the configuration file. It controls
// how assigned service nodes are turned into URLs and how long resolved
// node URLs may be cached.
type NodesSection struct {
	// Scheme is the URL scheme of assigned node endpoints.
	Scheme string `mapstructure:"scheme" validate:"omitempty,oneof=http https"`

	// SingleBox short-circuits node assignment entirely. Deployments with
	// one service host never pin users to a node.
	SingleBox bool `mapstructure:"single_box"`

	// CacheTTL is the lifetime of cached user to node mappings. Zero
	// disables caching.
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"omitempty,min=0"`
}

func (n *NodesSection) String() string {
	return fmt.Sprintf("NodesSection: {Scheme[%s] SingleBox[%t] CacheTTL[%v]}",
		n.Scheme, n.SingleBox, n.CacheTTL)
}

// GetScheme returns the URL scheme for assigned node endpoints.
func (n *NodesSection) GetScheme() string {
	if n == nil || n.Scheme == "" {
		return definitions.NodeScheme
	}

	return n.Scheme
}

// GetSingleBox reports whether node assignment is disabled.
func (n *NodesSection) GetSingleBox() bool {
	if n == nil {
		return false
	}

	return n.SingleBox
}

// GetCacheTTL returns the lifetime of cached node URLs.
func (n *NodesSection) GetCacheTTL() time.Duration {
	if n == nil {
		return 0
	}

	return n.CacheTTL
}

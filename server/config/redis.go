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

import "fmt"

// RedisSection is the "redis:" part of the configuration file. Redis is an
// optional shared cache tier for resolved node URLs. When no master address
// is configured, the in-process cache runs alone.
type RedisSection struct {
	Master  RedisAddress `mapstructure:"master" validate:"omitempty"`
	Replica RedisAddress `mapstructure:"replica" validate:"omitempty"`

	Sentinels RedisSentinels `mapstructure:"sentinels" validate:"omitempty"`
	Cluster   RedisCluster   `mapstructure:"cluster" validate:"omitempty"`

	DatabaseNumber int    `mapstructure:"database_number" validate:"omitempty,min=0"`
	Prefix         string `mapstructure:"prefix" validate:"omitempty,printascii"`
	PoolSize       int    `mapstructure:"pool_size" validate:"omitempty,min=1"`
	IdlePoolSize   int    `mapstructure:"idle_pool_size" validate:"omitempty,min=0"`

	TLSCert string `mapstructure:"tls_cert" validate:"omitempty,file"`
	TLSKey  string `mapstructure:"tls_key" validate:"omitempty,file"`
}

// RedisAddress is a single Redis endpoint with credentials.
type RedisAddress struct {
	Address  string `mapstructure:"address" validate:"omitempty,hostname_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// RedisSentinels describes a sentinel managed replication setup.
type RedisSentinels struct {
	Master    string   `mapstructure:"master" validate:"omitempty,printascii"`
	Addresses []string `mapstructure:"addresses" validate:"omitempty,dive,hostname_port"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// RedisCluster describes a Redis cluster setup.
type RedisCluster struct {
	Addresses []string `mapstructure:"addresses" validate:"omitempty,dive,hostname_port"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

func (r *RedisSection) String() string {
	return fmt.Sprintf("RedisSection: {Master[%s] Replica[%s] Sentinels[%v] Cluster[%v] Prefix[%s]}",
		r.Master.Address, r.Replica.Address, r.Sentinels.Addresses, r.Cluster.Addresses, r.Prefix)
}

// IsEnabled reports whether any Redis endpoint is configured.
func (r *RedisSection) IsEnabled() bool {
	if r == nil {
		return false
	}

	return r.Master.Address != "" || len(r.Sentinels.Addresses) > 0 || len(r.Cluster.Addresses) > 0
}

// GetPrefix returns the key prefix for all syncauth Redis keys.
func (r *RedisSection) GetPrefix() string {
	if r == nil || r.Prefix == "" {
		return "syncauth:"
	}

	return r.Prefix
}

// GetDatabaseNumber returns the selected Redis database.
func (r *RedisSection) GetDatabaseNumber() int {
	if r == nil {
		return 0
	}

	return r.DatabaseNumber
}

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

package rediscli

import (
	"crypto/tls"

	"github.com/croessner/syncauth/server/config"
	"github.com/croessner/syncauth/server/definitions"
	"github.com/croessner/syncauth/server/log"
	"github.com/go-kit/log/level"
	"github.com/redis/go-redis/v9"
)

// redisTLSOptions builds a TLS configuration from the redis section. It
// returns nil when no client certificate is configured, which keeps the
// connection plain.
func redisTLSOptions(redisCfg *config.RedisSection) *tls.Config {
	if redisCfg.TLSCert == "" || redisCfg.TLSKey == "" {
		return nil
	}

	cert, err := tls.LoadX509KeyPair(redisCfg.TLSCert, redisCfg.TLSKey)
	if err != nil {
		level.Error(log.GetLogger()).Log(definitions.LogKeyMsg, "Loading Redis client certificate failed", definitions.LogKeyError, err)

		return nil
	}

	return &tls.Config{Certificates: []tls.Certificate{cert}}
}

// newRedisFailoverClient connects through sentinels. With slavesOnly set all
// reads go to replicas.
func newRedisFailoverClient(redisCfg *config.RedisSection, slavesOnly bool) *redis.Client {
	return redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:       redisCfg.Sentinels.Master,
		SentinelAddrs:    redisCfg.Sentinels.Addresses,
		ReplicaOnly:      slavesOnly,
		DB:               redisCfg.GetDatabaseNumber(),
		SentinelUsername: redisCfg.Sentinels.Username,
		SentinelPassword: redisCfg.Sentinels.Password,
		Username:         redisCfg.Master.Username,
		Password:         redisCfg.Master.Password,
		PoolSize:         redisCfg.PoolSize,
		MinIdleConns:     redisCfg.IdlePoolSize,
		TLSConfig:        redisTLSOptions(redisCfg),
	})
}

// newRedisClient connects to a single standalone endpoint.
func newRedisClient(redisCfg *config.RedisSection, address string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         address,
		Username:     redisCfg.Master.Username,
		Password:     redisCfg.Master.Password,
		DB:           redisCfg.GetDatabaseNumber(),
		PoolSize:     redisCfg.PoolSize,
		MinIdleConns: redisCfg.IdlePoolSize,
		TLSConfig:    redisTLSOptions(redisCfg),
	})
}

// newRedisClusterClient connects to a Redis cluster.
func newRedisClusterClient(redisCfg *config.RedisSection) *redis.ClusterClient {
	return redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:        redisCfg.Cluster.Addresses,
		Username:     redisCfg.Cluster.Username,
		Password:     redisCfg.Cluster.Password,
		PoolSize:     redisCfg.PoolSize,
		MinIdleConns: redisCfg.IdlePoolSize,
		TLSConfig:    redisTLSOptions(redisCfg),
	})
}

// NewRedisClient creates the write handle matching the configured topology:
// cluster, sentinel failover or standalone. It returns nil when no Redis
// endpoint is configured at all.
func NewRedisClient(redisCfg *config.RedisSection) redis.UniversalClient {
	if !redisCfg.IsEnabled() {
		return nil
	}

	switch {
	case len(redisCfg.Cluster.Addresses) > 0:
		return newRedisClusterClient(redisCfg)
	case len(redisCfg.Sentinels.Addresses) > 0 && redisCfg.Sentinels.Master != "":
		return newRedisFailoverClient(redisCfg, false)
	default:
		return newRedisClient(redisCfg, redisCfg.Master.Address)
	}
}

// NewRedisReplicaClient creates a read handle when the topology offers one:
// replica reads through sentinels, or a dedicated replica endpoint. Cluster
// setups route reads themselves, so nil is returned there, as it is when no
// distinct replica exists.
func NewRedisReplicaClient(redisCfg *config.RedisSection) redis.UniversalClient {
	if !redisCfg.IsEnabled() || len(redisCfg.Cluster.Addresses) > 0 {
		return nil
	}

	if len(redisCfg.Sentinels.Addresses) > 1 && redisCfg.Sentinels.Master != "" {
		return newRedisFailoverClient(redisCfg, true)
	}

	if redisCfg.Replica.Address != "" && redisCfg.Replica.Address != redisCfg.Master.Address {
		return newRedisClient(redisCfg, redisCfg.Replica.Address)
	}

	return nil
}

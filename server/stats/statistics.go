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

package stats

import (
	"runtime"

	"github.com/croessner/syncauth/server/log"
	"github.com/croessner/syncauth/server/util"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors register on the default registry; exposing them over HTTP is
// the embedder's concern.
var (
	// LoginsCounter counts failed and successful authentication attempts.
	LoginsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logins_total",
			Help: "Number of failed and successful login attempts.",
		},
		[]string{"logins"})

	// LdapOpenConnections tracks the number of entries currently held by a pool.
	LdapOpenConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ldap_pool_open_connections",
			Help: "Number of connections currently held by the LDAP pool.",
		},
		[]string{"pool"})

	// LdapPoolSize reports the configured capacity of a pool.
	LdapPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ldap_pool_size",
			Help: "Configured capacity of the LDAP pool.",
		},
		[]string{"pool"})

	// LdapBindRetries counts bind attempts that had to be repeated after a
	// transient directory failure.
	LdapBindRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ldap_pool_bind_retries_total",
			Help: "Number of bind retries after transient directory errors.",
		},
		[]string{"pool"})

	// LdapPoolExhausted counts acquisitions that failed because every
	// connection slot was checked out.
	LdapPoolExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ldap_pool_exhausted_total",
			Help: "Number of acquisitions that hit the pool capacity limit.",
		},
		[]string{"pool"})

	// NodeAssignments counts users newly pinned to a service node.
	NodeAssignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_assignments_total",
			Help: "Number of users newly assigned to a service node.",
		},
		[]string{"node"})

	// ResetCodeOperations counts generate, verify and clear calls on the
	// reset code store.
	ResetCodeOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reset_code_operations_total",
			Help: "Number of reset code store operations.",
		},
		[]string{"operation"})

	// CacheHits counts node URL lookups answered from a cache tier.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "The total number of cache hits",
	})

	// CacheMisses counts node URL lookups that had to go to the directory.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "The total number of cache misses",
	})

	// FunctionDuration measures time spent in backend operations.
	FunctionDuration = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "function_duration_seconds",
		Help: "Time spent in function",
	}, []string{"service", "task"})
)

// PrometheusTimer returns a stop function that observes the elapsed time
// since the call under the given service and task labels.
func PrometheusTimer(service string, task string) func() {
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(value float64) {
		FunctionDuration.WithLabelValues(service, task).Observe(value)
	}))

	return func() {
		timer.ObserveDuration()
	}
}

// PrintStats logs the current memory statistics of the running process.
func PrintStats() {
	var memStats runtime.MemStats

	runtime.ReadMemStats(&memStats)

	level.Info(log.GetLogger()).Log(
		"alloc", util.ByteSize(memStats.Alloc),
		"heap_alloc", util.ByteSize(memStats.HeapAlloc),
		"heap_in_use", util.ByteSize(memStats.HeapInuse),
		"heap_idle", util.ByteSize(memStats.HeapIdle),
		"stack_in_use", util.ByteSize(memStats.StackInuse),
		"stack_sys", util.ByteSize(memStats.StackSys),
		"sys", util.ByteSize(memStats.Sys),
		"total_alloc", util.ByteSize(memStats.TotalAlloc),
		"num_gc", memStats.NumGC,
	)
}

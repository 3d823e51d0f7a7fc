/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package health aggregates named liveness checks into one status.

STATUS:
=======
The overall status is the worst individual status:

	unhealthy > degraded > healthy

ENDPOINTS (see Server):
=======================
- /health        full report, 503 when unhealthy
- /health/live   200 while the process serves HTTP
- /health/ready  200 only when every check is healthy
*/
package health

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Status is the result of a check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) severity() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// CheckFunc runs a single check.
type CheckFunc func() CheckResult

// Response is the aggregated report.
type Response struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Checker holds the registered checks.
type Checker struct {
	mu        sync.RWMutex
	version   string
	startedAt time.Time
	checks    map[string]CheckFunc
}

// NewChecker creates a checker reporting version.
func NewChecker(version string) *Checker {
	return &Checker{
		version:   version,
		startedAt: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

// RegisterCheck adds or replaces a named check.
func (c *Checker) RegisterCheck(name string, fn CheckFunc) {
	c.mu.Lock()
	c.checks[name] = fn
	c.mu.Unlock()
}

// Names returns the registered check names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunChecks runs every check and aggregates the results.
func (c *Checker) RunChecks() *Response {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	resp := &Response{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startedAt).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	for name, fn := range checks {
		start := time.Now()
		result := fn()
		result.Duration = time.Since(start)
		resp.Checks[name] = result
		if result.Status.severity() > resp.Status.severity() {
			resp.Status = result.Status
		}
	}
	return resp
}

// IsHealthy reports whether every check is healthy.
func (c *Checker) IsHealthy() bool {
	return c.RunChecks().Status == StatusHealthy
}

// DependencyCheck is unhealthy while ping fails.
func DependencyCheck(ping func() error) CheckFunc {
	return func() CheckResult {
		if err := ping(); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
		}
		return CheckResult{Status: StatusHealthy}
	}
}

// DispatcherCheck is unhealthy once the dispatcher stops accepting work and
// degraded while its backlog exceeds maxPending.
func DispatcherCheck(maxPending int, pending func() int, stopped func() bool) CheckFunc {
	return func() CheckResult {
		if stopped() {
			return CheckResult{Status: StatusUnhealthy, Message: "dispatcher stopped"}
		}
		if n := pending(); n > maxPending {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d messages pending (threshold %d)", n, maxPending),
			}
		}
		return CheckResult{Status: StatusHealthy}
	}
}

// MemoryCheck is degraded when usage exceeds threshold percent.
func MemoryCheck(threshold float64, usage func() float64) CheckFunc {
	return func() CheckResult {
		if u := usage(); u > threshold {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("memory usage %.1f%% exceeds %.1f%%", u, threshold),
			}
		}
		return CheckResult{Status: StatusHealthy}
	}
}

// DiskCheck is degraded when usage exceeds threshold percent.
func DiskCheck(threshold float64, usage func() float64) CheckFunc {
	return func() CheckResult {
		if u := usage(); u > threshold {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("disk usage %.1f%% exceeds %.1f%%", u, threshold),
			}
		}
		return CheckResult{Status: StatusHealthy}
	}
}

// HeapUsage returns the in-use share of heap memory obtained from the OS.
func HeapUsage() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys == 0 {
		return 0
	}
	return float64(ms.HeapInuse) / float64(ms.HeapSys) * 100
}

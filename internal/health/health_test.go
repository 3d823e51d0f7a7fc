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

package health

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func fixed(status Status) CheckFunc {
	return func() CheckResult { return CheckResult{Status: status} }
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Status
		want   Status
	}{
		{"no checks", nil, StatusHealthy},
		{"relay idle", map[string]Status{"dispatcher": StatusHealthy, "credentials": StatusHealthy}, StatusHealthy},
		{"backlog", map[string]Status{"dispatcher": StatusDegraded, "credentials": StatusHealthy}, StatusDegraded},
		{"database down", map[string]Status{"dispatcher": StatusDegraded, "credentials": StatusUnhealthy}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker("test")
			for name, status := range tt.checks {
				checker.RegisterCheck(name, fixed(status))
			}

			resp := checker.RunChecks()
			if resp.Status != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, resp.Status)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Errorf("Expected %d results, got %d", len(tt.checks), len(resp.Checks))
			}
			if checker.IsHealthy() != (tt.want == StatusHealthy) {
				t.Errorf("IsHealthy disagrees with status %s", resp.Status)
			}
		})
	}
}

func TestRegisterCheckReplaces(t *testing.T) {
	checker := NewChecker("test")
	checker.RegisterCheck("memory", fixed(StatusDegraded))
	checker.RegisterCheck("disk", fixed(StatusHealthy))
	checker.RegisterCheck("memory", fixed(StatusHealthy))

	if got := strings.Join(checker.Names(), ","); got != "disk,memory" {
		t.Errorf("Expected disk,memory, got %s", got)
	}
	if !checker.IsHealthy() {
		t.Error("Expected the replaced memory check to be healthy")
	}
}

func TestRunChecksReport(t *testing.T) {
	checker := NewChecker("0.9.1")
	checker.RegisterCheck("dispatcher", func() CheckResult {
		time.Sleep(5 * time.Millisecond)
		return CheckResult{Status: StatusHealthy}
	})

	resp := checker.RunChecks()
	if resp.Version != "0.9.1" {
		t.Errorf("Expected version 0.9.1, got %s", resp.Version)
	}
	if d := resp.Checks["dispatcher"].Duration; d < 5*time.Millisecond {
		t.Errorf("Expected duration >= 5ms, got %v", d)
	}
	if resp.Timestamp.IsZero() {
		t.Error("Expected a timestamp")
	}
}

func TestDependencyCheck(t *testing.T) {
	if got := DependencyCheck(func() error { return nil })().Status; got != StatusHealthy {
		t.Errorf("Expected healthy, got %s", got)
	}

	result := DependencyCheck(func() error { return errors.New("dial tcp 127.0.0.1:5432: connection refused") })()
	if result.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", result.Status)
	}
	if !strings.Contains(result.Message, "connection refused") {
		t.Errorf("Expected the ping error as message, got %q", result.Message)
	}
}

func TestDispatcherCheck(t *testing.T) {
	tests := []struct {
		name    string
		pending int
		stopped bool
		want    Status
	}{
		{"idle", 0, false, StatusHealthy},
		{"at threshold", 100, false, StatusHealthy},
		{"backlog", 101, false, StatusDegraded},
		{"stopped", 0, true, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := DispatcherCheck(100, func() int { return tt.pending }, func() bool { return tt.stopped })
			if got := check().Status; got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestUsageChecks(t *testing.T) {
	tests := []struct {
		name  string
		check func(float64, func() float64) CheckFunc
		usage float64
		want  Status
		text  string
	}{
		{"memory ok", MemoryCheck, 50, StatusHealthy, ""},
		{"memory high", MemoryCheck, 95, StatusDegraded, "memory usage 95.0%"},
		{"disk ok", DiskCheck, 89.9, StatusHealthy, ""},
		{"disk high", DiskCheck, 97.5, StatusDegraded, "disk usage 97.5%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.check(90, func() float64 { return tt.usage })()
			if result.Status != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, result.Status)
			}
			if !strings.Contains(result.Message, tt.text) {
				t.Errorf("Expected message containing %q, got %q", tt.text, result.Message)
			}
		})
	}
}

func TestHeapUsage(t *testing.T) {
	if u := HeapUsage(); u < 0 || u > 100 {
		t.Errorf("Expected a percentage, got %f", u)
	}
}

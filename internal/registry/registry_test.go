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

package registry

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatrelay/internal/session"
)

type stubSession struct {
	session.Turnstile
	name string
}

func (s *stubSession) ID() string                   { return "stub-" + s.name }
func (s *stubSession) Name() string                 { return s.name }
func (s *stubSession) RemoteAddr() string           { return "127.0.0.1:1" }
func (s *stubSession) Transport() string            { return "stub" }
func (s *stubSession) ConnectedAt() time.Time       { return time.Time{} }
func (s *stubSession) Deliver(uint64, string) error { return nil }
func (s *stubSession) Close() error                 { s.Turnstile.Close(); return nil }

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr error
	}{
		{"alice", nil},
		{"Bob", nil},
		{"a12", nil},
		{"", ErrBadFirstChar},
		{"1alice", ErrBadFirstChar},
		{"/all", ErrBadFirstChar},
		{"émile", ErrBadFirstChar},
		{"ab", ErrTooShort},
		{"admin", ErrReservedName},
		{"ADMINISTRATOR", ErrReservedName},
	}

	for _, tt := range tests {
		if err := ValidateName(tt.name); err != tt.wantErr {
			t.Errorf("ValidateName(%q) = %v, want %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestTryRegister(t *testing.T) {
	r := New()
	alice := &stubSession{name: "alice"}

	if got := r.TryRegister("alice", alice); got != Registered {
		t.Fatalf("Expected Registered, got %s", got)
	}
	if got := r.TryRegister("alice", &stubSession{name: "alice"}); got != InUse {
		t.Errorf("Expected InUse for duplicate name, got %s", got)
	}
	if got := r.TryRegister("x", &stubSession{name: "x"}); got != Invalid {
		t.Errorf("Expected Invalid for short name, got %s", got)
	}
	if got := r.TryRegister("carol", nil); got != Invalid {
		t.Errorf("Expected Invalid for nil session, got %s", got)
	}

	s, ok := r.Lookup("alice")
	if !ok || s != alice {
		t.Errorf("Expected lookup to return the registered session")
	}
}

func TestTryRegisterConcurrentSameName(t *testing.T) {
	r := New()
	const contenders = 64

	var (
		wins  atomic.Int32
		start = make(chan struct{})
		wg    sync.WaitGroup
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if r.TryRegister("alice", &stubSession{name: "alice"}) == Registered {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("Expected exactly one successful registration, got %d", wins.Load())
	}
	if r.Len() != 1 {
		t.Errorf("Expected registry size 1, got %d", r.Len())
	}
}

func TestRemoveThenRegisterAgain(t *testing.T) {
	r := New()
	r.TryRegister("alice", &stubSession{name: "alice"})

	r.Remove("alice")
	r.Remove("alice")

	if _, ok := r.Lookup("alice"); ok {
		t.Error("Expected alice to be absent after Remove")
	}
	if got := r.TryRegister("alice", &stubSession{name: "alice"}); got != Registered {
		t.Errorf("Expected re-registration to succeed, got %s", got)
	}
}

func TestReleaseOnlyRemovesSameSession(t *testing.T) {
	r := New()
	old := &stubSession{name: "alice"}
	r.TryRegister("alice", old)
	r.Remove("alice")

	current := &stubSession{name: "alice"}
	r.TryRegister("alice", current)

	if r.Release(old) {
		t.Error("Expected Release of a stale session to be a no-op")
	}
	if s, ok := r.Lookup("alice"); !ok || s != current {
		t.Fatal("Expected current session to stay registered")
	}
	if !r.Release(current) {
		t.Error("Expected Release of the current session to succeed")
	}
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Len())
	}
}

func TestSnapshotIsSortedCopy(t *testing.T) {
	r := New()
	for _, name := range []string{"carol", "alice", "bob"} {
		r.TryRegister(name, &stubSession{name: name})
	}

	snap := r.Snapshot()
	r.Remove("bob")

	if len(snap) != 3 {
		t.Fatalf("Expected 3 sessions in snapshot, got %d", len(snap))
	}
	want := []string{"alice", "bob", "carol"}
	for i, s := range snap {
		if s.Name() != want[i] {
			t.Errorf("Snapshot[%d]: expected %s, got %s", i, want[i], s.Name())
		}
	}
	if r.Len() != 2 {
		t.Errorf("Expected registry to reflect removal, got %d", r.Len())
	}
}

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

package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatrelay/internal/registry"
	"chatrelay/internal/session"
)

type fakeSession struct {
	session.Turnstile
	name string

	mu       sync.Mutex
	received []string

	failWith error
	started  chan struct{}
	block    chan struct{}
	closed   atomic.Bool
}

func newFake(name string) *fakeSession {
	return &fakeSession{name: name}
}

func (f *fakeSession) ID() string             { return "fake-" + f.name }
func (f *fakeSession) Name() string           { return f.name }
func (f *fakeSession) RemoteAddr() string     { return "127.0.0.1:9" }
func (f *fakeSession) Transport() string      { return "fake" }
func (f *fakeSession) ConnectedAt() time.Time { return time.Time{} }

func (f *fakeSession) Deliver(ticket uint64, text string) error {
	return f.Do(ticket, func() error {
		if f.started != nil {
			select {
			case f.started <- struct{}{}:
			default:
			}
		}
		if f.block != nil {
			<-f.block
		}
		if f.failWith != nil {
			return f.failWith
		}
		f.mu.Lock()
		f.received = append(f.received, text)
		f.mu.Unlock()
		return nil
	})
}

func (f *fakeSession) Close() error {
	f.closed.Store(true)
	f.Turnstile.Close()
	return nil
}

func (f *fakeSession) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.received))
	copy(out, f.received)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func setup(t *testing.T, workers int, names ...string) (*Dispatcher, *registry.Registry, map[string]*fakeSession) {
	t.Helper()
	reg := registry.New()
	sessions := make(map[string]*fakeSession)
	for _, name := range names {
		s := newFake(name)
		if reg.TryRegister(name, s) != registry.Registered {
			t.Fatalf("Failed to register %s", name)
		}
		sessions[name] = s
	}
	d := New(reg, Options{Workers: workers})
	d.Start()
	t.Cleanup(func() { d.Stop(StopImmediate) })
	return d, reg, sessions
}

func TestDirectMessage(t *testing.T) {
	d, _, s := setup(t, 4, "alice", "bob")

	if err := d.Enqueue(NewRegular("alice", "bob", "hi")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, "bob to receive", func() bool { return len(s["bob"].messages()) == 1 })
	if got := s["bob"].messages()[0]; got != "alice: hi" {
		t.Errorf("Expected 'alice: hi', got %q", got)
	}
	if len(s["alice"].messages()) != 0 {
		t.Errorf("Expected nothing for alice, got %v", s["alice"].messages())
	}
}

func TestBroadcastSkipsSender(t *testing.T) {
	d, _, s := setup(t, 4, "alice", "bob", "carol")

	if err := d.Enqueue(NewRegular("alice", "/all", "hi")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, "broadcast", func() bool {
		return len(s["bob"].messages()) == 1 && len(s["carol"].messages()) == 1
	})
	d.Stop(StopDrain)

	if got := s["bob"].messages()[0]; got != "alice: hi" {
		t.Errorf("Expected 'alice: hi', got %q", got)
	}
	if len(s["alice"].messages()) != 0 {
		t.Errorf("Broadcast echoed back to sender: %v", s["alice"].messages())
	}
}

func TestRecipientNotConnected(t *testing.T) {
	d, _, s := setup(t, 2, "alice")

	if err := d.Enqueue(NewRegular("alice", "bob", "hi")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, "notice", func() bool { return len(s["alice"].messages()) == 1 })
	if got := s["alice"].messages()[0]; got != "bob is not connected." {
		t.Errorf("Expected not-connected notice, got %q", got)
	}
}

func TestSystemIdentityIsUnprefixed(t *testing.T) {
	d, _, s := setup(t, 1, "bob")

	d.Enqueue(NewRegular(SystemIdentity, "bob", "server restarting soon"))

	waitFor(t, "system text", func() bool { return len(s["bob"].messages()) == 1 })
	if got := s["bob"].messages()[0]; got != "server restarting soon" {
		t.Errorf("Expected unprefixed text, got %q", got)
	}
}

func TestControlDisconnect(t *testing.T) {
	reg := registry.New()
	alice := newFake("alice")
	reg.TryRegister("alice", alice)

	var (
		mu       sync.Mutex
		tornDown []ControlCode
	)
	d := New(reg, Options{
		Workers: 2,
		OnTeardown: func(s session.Session, code ControlCode) {
			mu.Lock()
			tornDown = append(tornDown, code)
			mu.Unlock()
		},
	})
	d.Start()
	defer d.Stop(StopImmediate)

	d.Enqueue(NewRegular("bob", "alice", "before"))
	d.Enqueue(NewControl(ControlDisconnect, "alice"))

	waitFor(t, "teardown", func() bool { return alice.closed.Load() })

	got := alice.messages()
	if len(got) != 2 || got[0] != "bob: before" || got[1] != "disconnect" {
		t.Errorf("Expected [bob: before disconnect], got %v", got)
	}
	if _, ok := reg.Lookup("alice"); ok {
		t.Error("Expected alice to be removed from the registry")
	}
	waitFor(t, "teardown callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(tornDown) == 1 && tornDown[0] == ControlDisconnect
	})
}

func TestControlForAbsentUserIsNoop(t *testing.T) {
	d, _, _ := setup(t, 1)
	if err := d.Enqueue(NewControl(ControlLogout, "ghost")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if dropped := d.Stop(StopDrain); dropped != 0 {
		t.Errorf("Expected nothing dropped, got %d", dropped)
	}
}

func TestPerRecipientOrderAcrossSenders(t *testing.T) {
	d, _, s := setup(t, 8, "alice", "carol", "bob")

	const perSender = 200
	var want []string
	for i := 0; i < perSender; i++ {
		for _, sender := range []string{"alice", "carol"} {
			text := fmt.Sprintf("m%d", i)
			want = append(want, sender+": "+text)
			if err := d.Enqueue(NewRegular(sender, "bob", text)); err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}
		}
	}

	d.Stop(StopDrain)

	got := s["bob"].messages()
	if len(got) != len(want) {
		t.Fatalf("Expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Message %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestDrainStopDeliversQueuedAndRejectsNew(t *testing.T) {
	d, _, s := setup(t, 3, "alice", "bob")

	for i := 0; i < 100; i++ {
		d.Enqueue(NewRegular("alice", "bob", fmt.Sprintf("%d", i)))
	}

	if dropped := d.Stop(StopDrain); dropped != 0 {
		t.Errorf("Expected no drops in drain mode, got %d", dropped)
	}
	if got := len(s["bob"].messages()); got != 100 {
		t.Errorf("Expected 100 deliveries, got %d", got)
	}

	if err := d.Enqueue(NewRegular("alice", "bob", "late")); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped after Stop, got %v", err)
	}
	if got := len(s["bob"].messages()); got != 100 {
		t.Errorf("Expected late message to be ignored, got %d deliveries", got)
	}
}

func TestImmediateStopDiscardsQueue(t *testing.T) {
	reg := registry.New()
	slow := newFake("slow")
	slow.started = make(chan struct{}, 1)
	slow.block = make(chan struct{})
	bob := newFake("bob")
	reg.TryRegister("slow", slow)
	reg.TryRegister("bob", bob)

	d := New(reg, Options{Workers: 1})
	d.Start()

	d.Enqueue(NewRegular("alice", "slow", "first"))
	<-slow.started

	for i := 0; i < 5; i++ {
		d.Enqueue(NewRegular("alice", "bob", "queued"))
	}

	result := make(chan int, 1)
	go func() { result <- d.Stop(StopImmediate) }()

	waitFor(t, "queue to be discarded", func() bool { return d.Pending() == 0 })
	close(slow.block)

	select {
	case dropped := <-result:
		if dropped != 5 {
			t.Errorf("Expected 5 discarded messages, got %d", dropped)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	if len(bob.messages()) != 0 {
		t.Errorf("Expected discarded messages to stay undelivered, got %v", bob.messages())
	}
	if got := slow.messages(); len(got) != 1 {
		t.Errorf("Expected in-flight message to complete, got %v", got)
	}
}

func TestStopWakesIdleWorkers(t *testing.T) {
	reg := registry.New()
	d := New(reg, Options{Workers: 5})
	d.Start()

	done := make(chan struct{})
	go func() {
		d.Stop(StopDrain)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Idle workers were not released by Stop")
	}

	// Second Stop is a no-op.
	d.Stop(StopImmediate)
}

func TestDeliveryFailureNotifiesSender(t *testing.T) {
	d, _, s := setup(t, 2, "alice", "bob")
	s["bob"].failWith = errors.New("broken pipe")

	d.Enqueue(NewRegular("alice", "bob", "hi"))

	waitFor(t, "failure notice", func() bool { return len(s["alice"].messages()) == 1 })
	if got := s["alice"].messages()[0]; got != "Failed to send message to: bob" {
		t.Errorf("Expected failure notice, got %q", got)
	}
}

func TestBroadcastFailureDoesNotStopOthers(t *testing.T) {
	d, _, s := setup(t, 2, "alice", "bob", "carol")
	s["bob"].failWith = errors.New("broken pipe")

	d.Enqueue(NewRegular("alice", "/all", "hi"))

	waitFor(t, "carol", func() bool { return len(s["carol"].messages()) == 1 })
	d.Stop(StopDrain)
	if len(s["alice"].messages()) != 0 {
		t.Errorf("Expected no failure notice for broadcast, got %v", s["alice"].messages())
	}
}

func TestEnqueueRejectsInvalidMessage(t *testing.T) {
	d, _, _ := setup(t, 1)

	tests := []*Message{
		nil,
		{Kind: KindRegular, Code: ControlLogout},
		{Kind: KindControl, Code: ControlNone},
		{Kind: Kind(9)},
	}
	for i, m := range tests {
		if err := d.Enqueue(m); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("Case %d: expected ErrInvalidMessage, got %v", i, err)
		}
	}
}

func TestMessageFormat(t *testing.T) {
	tests := []struct {
		msg  *Message
		want string
	}{
		{NewRegular("alice", "bob", "hi"), "alice: hi"},
		{NewRegular(SystemIdentity, "bob", "notice"), "notice"},
		{NewControl(ControlShutdown, "bob"), "shutdown"},
		{NewControl(ControlLogout, "bob"), "logout"},
	}
	for _, tt := range tests {
		if got := tt.msg.Format(); got != tt.want {
			t.Errorf("Format() = %q, want %q", got, tt.want)
		}
	}

	if len(NewRegular("a", "b", "c").ID) != 26 {
		t.Error("Expected a 26 character ULID message ID")
	}
}

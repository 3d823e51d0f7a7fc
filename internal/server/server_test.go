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

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/dispatch"
	"chatrelay/internal/protocol"
)

func newTestServer(t *testing.T) (*Server, *auth.UserStore) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.BindAddr = "127.0.0.1:0"
	cfg.DataDir = t.TempDir()
	cfg.Dispatch.Workers = 4

	creds := auth.NewUserStore("")
	creds.SetCost(bcrypt.MinCost)

	s := New(cfg, Deps{Credentials: creds})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { s.Shutdown(dispatch.StopImmediate) })
	return s, creds
}

type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dial(t *testing.T, s *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(f *protocol.Frame) {
	c.t.Helper()
	if err := protocol.WriteFrame(c.conn, f); err != nil {
		c.t.Fatalf("WriteFrame failed: %v", err)
	}
}

func (c *testClient) read() *protocol.Frame {
	c.t.Helper()
	f, err := protocol.ReadFrame(c.conn)
	if err != nil {
		c.t.Fatalf("ReadFrame failed: %v", err)
	}
	return f
}

func (c *testClient) expectResult(want protocol.ResultCode) {
	c.t.Helper()
	f := c.read()
	got, err := f.ResultCode()
	if err != nil {
		c.t.Fatalf("Expected RESULT, got %s %q", f.Op, f.Fields)
	}
	if got != want {
		c.t.Fatalf("Expected result %s, got %s", want, got)
	}
}

func (c *testClient) expectPush(want string) {
	c.t.Helper()
	f := c.read()
	if f.Op != protocol.OpPush {
		c.t.Fatalf("Expected PUSH %q, got %s %q", want, f.Op, f.Fields)
	}
	if f.Field(0) != want {
		c.t.Fatalf("Expected push %q, got %q", want, f.Field(0))
	}
}

func (c *testClient) expectError() {
	c.t.Helper()
	if f := c.read(); f.Op != protocol.OpError {
		c.t.Fatalf("Expected ERROR, got %s %q", f.Op, f.Fields)
	}
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	if f, err := protocol.ReadFrame(c.conn); err == nil {
		c.t.Fatalf("Expected connection close, got %s %q", f.Op, f.Fields)
	}
}

func (c *testClient) register(name string) {
	c.t.Helper()
	c.send(protocol.Register(name, ""))
	c.expectResult(protocol.ResultSuccess)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerStartShutdown(t *testing.T) {
	s, _ := newTestServer(t)

	if s.Addr() == nil {
		t.Fatal("Expected a bound address")
	}
	if s.Stopping() {
		t.Error("Server marked as stopping before Shutdown")
	}

	if err := s.Shutdown(dispatch.StopDrain); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !s.Stopping() {
		t.Error("Server not marked as stopping after Shutdown")
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed after Shutdown")
	}

	// Second shutdown should be safe
	if err := s.Shutdown(dispatch.StopImmediate); err != nil {
		t.Fatalf("Second Shutdown failed: %v", err)
	}
}

func TestServerStartBindFailure(t *testing.T) {
	s, _ := newTestServer(t)

	cfg := config.DefaultConfig()
	cfg.BindAddr = s.Addr().String()
	other := New(cfg, Deps{})
	if err := other.Start(); err == nil {
		other.Shutdown(dispatch.StopImmediate)
		t.Fatal("Expected bind failure on an address in use")
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	s, _ := newTestServer(t)

	alice := dial(t, s)
	alice.register("alice")

	second := dial(t, s)
	second.send(protocol.Register("alice", ""))
	second.expectResult(protocol.ResultNameInUse)

	// The connection stays open for a retry.
	second.register("bob")

	if len(s.ListUsers()) != 2 {
		t.Errorf("Expected 2 users, got %d", len(s.ListUsers()))
	}
}

func TestRegisterDuplicateOnlineAccount(t *testing.T) {
	s, _ := newTestServer(t)

	alice := dial(t, s)
	alice.send(protocol.Register("alice", "secret"))
	alice.expectResult(protocol.ResultSuccess)

	tests := []struct {
		name     string
		password string
	}{
		{"without password", ""},
		{"with password", "other"},
	}

	second := dial(t, s)
	for _, tt := range tests {
		second.send(protocol.Register("alice", tt.password))
		f := second.read()
		if got, err := f.ResultCode(); err != nil || got != protocol.ResultNameInUse {
			t.Errorf("%s: expected result %s, got %s %q", tt.name, protocol.ResultNameInUse, f.Op, f.Fields)
		}
	}

	// After logout the stored account answers instead.
	alice.send(protocol.Logout("alice"))
	alice.expectPush("logout")
	waitFor(t, func() bool { return len(s.ListUsers()) == 0 })

	second.send(protocol.Register("alice", ""))
	second.expectResult(protocol.ResultAlreadyRegistered)
}

func TestRegisterValidation(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		want protocol.ResultCode
	}{
		{"1alice", protocol.ResultBadFirstChar},
		{"_bob", protocol.ResultBadFirstChar},
		{"ab", protocol.ResultTooShort},
		{"admin", protocol.ResultReservedName},
		{"Administrator", protocol.ResultReservedName},
	}

	c := dial(t, s)
	for _, tt := range tests {
		c.send(protocol.Register(tt.name, ""))
		c.expectResult(tt.want)
	}
	c.register("carol")
}

func TestRegisterWithPassword(t *testing.T) {
	s, creds := newTestServer(t)

	c := dial(t, s)
	c.send(protocol.Register("alice", "secret"))
	c.expectResult(protocol.ResultSuccess)

	if _, err := creds.Authenticate("alice", "secret"); err != nil {
		t.Errorf("Expected account to be created, got %v", err)
	}
}

func TestRegisterExistingAccount(t *testing.T) {
	s, creds := newTestServer(t)
	if err := creds.CreateUser("alice", "secret"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	c := dial(t, s)
	c.send(protocol.Register("alice", ""))
	c.expectResult(protocol.ResultAlreadyRegistered)
	c.send(protocol.Register("alice", "other"))
	c.expectResult(protocol.ResultAlreadyRegistered)

	if len(s.ListUsers()) != 0 {
		t.Errorf("Expected no users, got %d", len(s.ListUsers()))
	}
}

func TestLogin(t *testing.T) {
	s, creds := newTestServer(t)
	if err := creds.CreateUser("alice", "secret"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	c := dial(t, s)
	c.send(protocol.Login("alice", "wrong"))
	c.expectResult(protocol.ResultFailedLogin)
	c.send(protocol.Login("nobody", "secret"))
	c.expectResult(protocol.ResultFailedLogin)
	c.send(protocol.Login("alice", "secret"))
	c.expectResult(protocol.ResultSuccess)

	other := dial(t, s)
	other.send(protocol.Login("alice", "secret"))
	other.expectResult(protocol.ResultAlreadyLoggedIn)
}

func TestUnauthenticatedMessageRejected(t *testing.T) {
	s, _ := newTestServer(t)

	c := dial(t, s)
	c.send(protocol.Chat("hi", protocol.BroadcastRecipient))
	c.expectError()
	c.send(protocol.Logout("alice"))
	c.expectError()

	c.register("alice")
}

func TestAuthenticatedRegisterRejected(t *testing.T) {
	s, _ := newTestServer(t)

	c := dial(t, s)
	c.register("alice")
	c.send(protocol.Register("bob", ""))
	c.expectError()
	c.send(protocol.Login("bob", "x"))
	c.expectError()
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	s, _ := newTestServer(t)

	c := dial(t, s)
	payload, err := protocol.EncodeFields([]string{"only-one"})
	if err != nil {
		t.Fatalf("EncodeFields failed: %v", err)
	}
	h := protocol.Header{
		Magic:   protocol.MagicByte,
		Version: protocol.ProtocolVersion,
		Op:      protocol.OpLogin,
		Length:  uint32(len(payload)),
	}
	if err := protocol.WriteHeader(c.conn, h); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	c.expectError()
	c.register("alice")
}

func TestBadMagicClosesConnection(t *testing.T) {
	s, _ := newTestServer(t)

	c := dial(t, s)
	if _, err := c.conn.Write([]byte{0x00, 0x01, 0x01, 0x00, 0, 0, 0, 0}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	c.expectClosed()
}

func TestDirectMessageNotConnected(t *testing.T) {
	s, _ := newTestServer(t)

	alice := dial(t, s)
	alice.register("alice")
	alice.send(protocol.Chat("hello", "bob"))
	alice.expectPush("bob is not connected.")
}

func TestDirectMessage(t *testing.T) {
	s, _ := newTestServer(t)

	alice := dial(t, s)
	alice.register("alice")
	bob := dial(t, s)
	bob.register("bob")

	const n = 50
	for i := 0; i < n; i++ {
		alice.send(protocol.Chat(fmt.Sprintf("msg-%d", i), "bob"))
	}
	for i := 0; i < n; i++ {
		bob.expectPush(fmt.Sprintf("alice: msg-%d", i))
	}
}

func TestBroadcastSkipsSender(t *testing.T) {
	s, _ := newTestServer(t)

	alice := dial(t, s)
	alice.register("alice")
	bob := dial(t, s)
	bob.register("bob")
	carol := dial(t, s)
	carol.register("carol")

	alice.send(protocol.Chat("hi", protocol.BroadcastRecipient))
	bob.expectPush("alice: hi")
	carol.expectPush("alice: hi")

	// A broadcast echo would arrive ahead of this notice.
	alice.send(protocol.Chat("ping", "zed"))
	alice.expectPush("zed is not connected.")
}

func TestDisconnectUser(t *testing.T) {
	s, _ := newTestServer(t)

	if err := s.DisconnectUser("alice"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}

	alice := dial(t, s)
	alice.register("alice")

	if err := s.DisconnectUser("alice"); err != nil {
		t.Fatalf("DisconnectUser failed: %v", err)
	}
	alice.expectPush("disconnect")
	alice.expectClosed()

	waitFor(t, func() bool { return len(s.ListUsers()) == 0 })

	again := dial(t, s)
	again.register("alice")
}

func TestLogout(t *testing.T) {
	s, _ := newTestServer(t)

	alice := dial(t, s)
	alice.register("alice")

	alice.send(protocol.Logout("bob"))
	alice.expectError()

	alice.send(protocol.Logout("alice"))
	alice.expectPush("logout")
	alice.expectClosed()

	waitFor(t, func() bool { return len(s.ListUsers()) == 0 })
}

func TestLogoutFlushesQueuedTraffic(t *testing.T) {
	s, _ := newTestServer(t)

	alice := dial(t, s)
	alice.register("alice")
	bob := dial(t, s)
	bob.register("bob")

	bob.send(protocol.Chat("first", "alice"))
	bob.send(protocol.Chat("second", "alice"))
	waitFor(t, func() bool { return s.Pending() == 0 })

	alice.send(protocol.Logout("alice"))
	alice.expectPush("bob: first")
	alice.expectPush("bob: second")
	alice.expectPush("logout")
}

func TestShutdownNotifiesUsers(t *testing.T) {
	s, _ := newTestServer(t)

	alice := dial(t, s)
	alice.register("alice")
	bob := dial(t, s)
	bob.register("bob")
	idle := dial(t, s)
	// Make sure the idle connection has been attached.
	idle.send(protocol.Chat("x", "y"))
	idle.expectError()

	alice.send(protocol.Chat("before", "bob"))
	waitFor(t, func() bool { return s.Pending() == 0 })

	if err := s.Shutdown(dispatch.StopDrain); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	alice.expectPush("shutdown")
	alice.expectClosed()
	bob.expectPush("alice: before")
	bob.expectPush("shutdown")
	bob.expectClosed()
	idle.expectClosed()

	if len(s.ListUsers()) != 0 {
		t.Errorf("Expected empty registry after shutdown, got %d", len(s.ListUsers()))
	}
}

func TestAttachAfterShutdown(t *testing.T) {
	s, _ := newTestServer(t)
	if err := s.Shutdown(dispatch.StopImmediate); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	local, remote := net.Pipe()
	defer remote.Close()
	sess := newTCPSession(local)
	defer sess.Close()

	if _, err := s.Attach(sess); !errors.Is(err, ErrStopping) {
		t.Errorf("Expected ErrStopping, got %v", err)
	}
}

func TestAttachWhileStopping(t *testing.T) {
	s, _ := newTestServer(t)
	s.stopping.Store(true)

	local, remote := net.Pipe()
	defer remote.Close()
	sess := newTCPSession(local)
	defer sess.Close()

	if _, err := s.Attach(sess); !errors.Is(err, ErrStopping) {
		t.Errorf("Expected ErrStopping, got %v", err)
	}
}

func TestHandlerStates(t *testing.T) {
	s, _ := newTestServer(t)

	local, remote := net.Pipe()
	defer remote.Close()
	sess := newTCPSession(local)
	h, err := s.Attach(sess)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if h.State() != StateUnauthenticated {
		t.Fatalf("Expected %s, got %s", StateUnauthenticated, h.State())
	}

	done := make(chan *protocol.Frame, 1)
	go func() {
		f, _ := protocol.ReadFrame(remote)
		done <- f
	}()

	if err := h.Handle(context.Background(), protocol.Register("alice", "")); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if f := <-done; f == nil || f.Op != protocol.OpResult {
		t.Fatalf("Expected RESULT frame, got %v", f)
	}
	if h.State() != StateAuthenticated {
		t.Errorf("Expected %s, got %s", StateAuthenticated, h.State())
	}
	if sess.Name() != "alice" {
		t.Errorf("Expected session name alice, got %q", sess.Name())
	}

	if err := h.Close("test"); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if h.State() != StateClosed {
		t.Errorf("Expected %s, got %s", StateClosed, h.State())
	}
	if len(s.ListUsers()) != 0 {
		t.Errorf("Expected name released, got %d users", len(s.ListUsers()))
	}
	if err := h.Handle(context.Background(), protocol.Chat("hi", "bob")); !errors.Is(err, ErrHandlerClosed) {
		t.Errorf("Expected ErrHandlerClosed, got %v", err)
	}
}

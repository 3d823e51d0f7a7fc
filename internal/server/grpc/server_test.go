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

package grpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"chatrelay/internal/config"
	"chatrelay/internal/server"
	"chatrelay/internal/session"
)

type fakeAdmin struct {
	mu           sync.Mutex
	users        []session.Info
	disconnected []string
	fail         error
}

func (f *fakeAdmin) ListUsers() []session.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users
}

func (f *fakeAdmin) DisconnectUser(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	for _, u := range f.users {
		if u.Name == name {
			f.disconnected = append(f.disconnected, name)
			return nil
		}
	}
	return server.ErrNotConnected
}

func newTestClient(t *testing.T, admin Admin) (*AdminClient, *Server) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := NewServer(&config.GRPCConfig{Enabled: true}, admin)
	go s.Serve(lis)
	t.Cleanup(func() { s.Stop() })

	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewAdminClient(conn), s
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestListUsers(t *testing.T) {
	connected := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	admin := &fakeAdmin{users: []session.Info{
		{ID: "1", Name: "alice", RemoteAddr: "127.0.0.1:5000", Transport: "tcp", ConnectedAt: connected},
		{ID: "2", Name: "bob", RemoteAddr: "127.0.0.1:5001", Transport: "ws", ConnectedAt: connected},
	}}
	client, _ := newTestClient(t, admin)

	users, err := client.ListUsers(testContext(t))
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users.GetValues()) != 2 {
		t.Fatalf("Expected 2 users, got %d", len(users.GetValues()))
	}

	first := users.GetValues()[0].GetStructValue().GetFields()
	if first["name"].GetStringValue() != "alice" {
		t.Errorf("Expected alice, got %q", first["name"].GetStringValue())
	}
	if first["connected_at"].GetStringValue() != "2026-01-02T03:04:05Z" {
		t.Errorf("Unexpected connected_at %q", first["connected_at"].GetStringValue())
	}
	second := users.GetValues()[1].GetStructValue().GetFields()
	if second["transport"].GetStringValue() != "ws" {
		t.Errorf("Expected ws transport, got %q", second["transport"].GetStringValue())
	}

	out, err := FormatUsers(users)
	if err != nil {
		t.Fatalf("FormatUsers failed: %v", err)
	}
	if !strings.Contains(out, "alice") || !strings.Contains(out, "remote_addr") {
		t.Errorf("Unexpected formatted output: %s", out)
	}
}

func TestDisconnect(t *testing.T) {
	admin := &fakeAdmin{users: []session.Info{{Name: "alice"}}}
	client, _ := newTestClient(t, admin)
	ctx := testContext(t)

	if err := client.Disconnect(ctx, "alice"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if len(admin.disconnected) != 1 || admin.disconnected[0] != "alice" {
		t.Errorf("Expected alice to be disconnected, got %v", admin.disconnected)
	}

	tests := []struct {
		name string
		fail error
		want codes.Code
	}{
		{"bob", nil, codes.NotFound},
		{"", nil, codes.InvalidArgument},
		{"alice", errors.New("dispatcher stopped"), codes.Unavailable},
	}
	for _, tt := range tests {
		admin.mu.Lock()
		admin.fail = tt.fail
		admin.mu.Unlock()

		err := client.Disconnect(ctx, tt.name)
		if status.Code(err) != tt.want {
			t.Errorf("Disconnect(%q): expected %s, got %v", tt.name, tt.want, err)
		}
	}
}

func TestHealth(t *testing.T) {
	client, _ := newTestClient(t, &fakeAdmin{})

	st, err := client.Health(testContext(t))
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if st != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %s", st)
	}
}

func TestStartDisabled(t *testing.T) {
	s := NewServer(&config.GRPCConfig{Enabled: false}, &fakeAdmin{})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.Addr() != nil {
		t.Error("Expected no listener when disabled")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

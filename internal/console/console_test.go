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

package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/audit"
	"chatrelay/internal/dispatch"
	"chatrelay/internal/server"
	"chatrelay/internal/session"
)

type fakeServer struct {
	users        []session.Info
	disconnected []string
	stopped      []dispatch.StopMode
}

func (f *fakeServer) ListUsers() []session.Info { return f.users }

func (f *fakeServer) DisconnectUser(name string) error {
	for _, u := range f.users {
		if u.Name == name {
			f.disconnected = append(f.disconnected, name)
			return nil
		}
	}
	return server.ErrNotConnected
}

func (f *fakeServer) Shutdown(mode dispatch.StopMode) error {
	f.stopped = append(f.stopped, mode)
	return nil
}

func newTestConsole(srv *fakeServer, rec *audit.Recorder) (*Console, *bytes.Buffer) {
	var out bytes.Buffer
	return New(srv, rec, strings.NewReader(""), &out), &out
}

func TestInvalidCommand(t *testing.T) {
	c, out := newTestConsole(&fakeServer{}, nil)

	for _, line := range []string{"hello", "/list", "/remove", "/help me"} {
		out.Reset()
		if c.Execute(line) {
			t.Errorf("%q should not stop the server", line)
		}
		if out.String() != "Invalid command.\n" {
			t.Errorf("%q: expected invalid command, got %q", line, out.String())
		}
	}
}

func TestHelp(t *testing.T) {
	c, out := newTestConsole(&fakeServer{}, nil)
	c.Execute("/HELP")
	for _, want := range []string{"/disconnect", "/remove: [username]", "/listall", "/history"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Help output missing %q", want)
		}
	}
}

func TestListAll(t *testing.T) {
	srv := &fakeServer{}
	c, out := newTestConsole(srv, nil)

	c.Execute("/listall")
	if out.String() != "There are no connected users at the moment.\n" {
		t.Errorf("Unexpected empty listing %q", out.String())
	}

	srv.users = []session.Info{
		{Name: "alice", RemoteAddr: "127.0.0.1:5000", ConnectedAt: time.Now()},
		{Name: "bob", RemoteAddr: "127.0.0.1:5001", ConnectedAt: time.Now()},
	}
	out.Reset()
	c.Execute("/listall")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || lines[0] != "Connected users:" {
		t.Fatalf("Unexpected listing %q", out.String())
	}
	if !strings.HasPrefix(lines[1], "User: alice(127.0.0.1:5000), connected: ") {
		t.Errorf("Unexpected user line %q", lines[1])
	}
}

func TestRemove(t *testing.T) {
	srv := &fakeServer{users: []session.Info{{Name: "alice"}}}
	c, out := newTestConsole(srv, nil)

	c.Execute("/remove: bob")
	if out.String() != "bob is not connected.\n" {
		t.Errorf("Unexpected output %q", out.String())
	}

	out.Reset()
	c.Execute("/remove:   alice ")
	if len(srv.disconnected) != 1 || srv.disconnected[0] != "alice" {
		t.Errorf("Expected alice disconnected, got %v", srv.disconnected)
	}
	if out.String() != "alice disconnected.\n" {
		t.Errorf("Unexpected output %q", out.String())
	}
}

func TestDisconnectModes(t *testing.T) {
	tests := []struct {
		line string
		want dispatch.StopMode
	}{
		{"/disconnect", dispatch.StopDrain},
		{"/disconnect true", dispatch.StopDrain},
		{"/disconnect false", dispatch.StopImmediate},
	}

	for _, tt := range tests {
		srv := &fakeServer{}
		c, out := newTestConsole(srv, nil)
		if !c.Execute(tt.line) {
			t.Errorf("%q should stop the server", tt.line)
		}
		if len(srv.stopped) != 1 || srv.stopped[0] != tt.want {
			t.Errorf("%q: expected %s, got %v", tt.line, tt.want, srv.stopped)
		}
		if out.String() != "Server successfully disconnected.\n" {
			t.Errorf("Unexpected output %q", out.String())
		}
	}
}

func TestCommandNameMustMatchExactly(t *testing.T) {
	tests := []string{"/disconnected", "/disconnectnow", "/historyalice", "/disconnect:"}

	for _, line := range tests {
		srv := &fakeServer{}
		c, out := newTestConsole(srv, nil)
		if c.Execute(line) {
			t.Errorf("%q should not stop the server", line)
		}
		if len(srv.stopped) != 0 {
			t.Errorf("%q: expected no shutdown, got %v", line, srv.stopped)
		}
		if out.String() != "Invalid command.\n" {
			t.Errorf("%q: expected invalid command, got %q", line, out.String())
		}
	}
}

func TestHistory(t *testing.T) {
	c, out := newTestConsole(&fakeServer{}, nil)
	c.Execute("/history")
	if out.String() != "Audit history is not available.\n" {
		t.Errorf("Unexpected output %q", out.String())
	}

	store, err := audit.NewFileStore(audit.FileStoreConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer store.Close()
	rec := audit.NewRecorder(store)

	c, out = newTestConsole(&fakeServer{}, rec)
	c.Execute("/history")
	if out.String() != "No audit events recorded.\n" {
		t.Errorf("Unexpected output %q", out.String())
	}

	rec.Record(audit.EventAuthRegister, "alice", "127.0.0.1:5000", "tcp", audit.ResultSuccess, nil)
	rec.Record(audit.EventAuthFailure, "bob", "127.0.0.1:5001", "tcp", audit.ResultFailure, nil)

	out.Reset()
	c.Execute("/history alice")
	if !strings.Contains(out.String(), "auth.register") || strings.Contains(out.String(), "bob") {
		t.Errorf("Unexpected history %q", out.String())
	}
}

func TestRunStopsOnDisconnect(t *testing.T) {
	srv := &fakeServer{}
	var out bytes.Buffer
	c := New(srv, nil, strings.NewReader("/listall\n/disconnect false\n/listall\n"), &out)

	stopped, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !stopped {
		t.Error("Expected Run to report a console shutdown")
	}
	if strings.Count(out.String(), "There are no connected users") != 1 {
		t.Errorf("Expected commands after /disconnect to be ignored, got %q", out.String())
	}
}

func TestRunEndOfInput(t *testing.T) {
	c := New(&fakeServer{}, nil, strings.NewReader("/help\n"), &bytes.Buffer{})
	stopped, err := c.Run(context.Background())
	if err != nil || stopped {
		t.Errorf("Expected clean end of input, got stopped=%v err=%v", stopped, err)
	}
}

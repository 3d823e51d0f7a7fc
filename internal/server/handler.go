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

	"chatrelay/internal/audit"
	"chatrelay/internal/auth"
	"chatrelay/internal/dispatch"
	"chatrelay/internal/protocol"
	"chatrelay/internal/registry"
	"chatrelay/internal/session"
)

// Conn is a transport connection the handler drives. Every write takes a
// ticket from the embedded turnstile so replies and pushes keep their order.
type Conn interface {
	session.Session
	SetName(name string)
	WriteFrame(ticket uint64, f *protocol.Frame) error
}

// State is the authentication state of a connection.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// ErrHandlerClosed is returned by Handle after logout or teardown.
var ErrHandlerClosed = errors.New("connection closed")

const (
	methodRegister = "register"
	methodLogin    = "login"
)

// Handler runs the per-connection state machine. Handle and Close must be
// called from the connection's read goroutine only.
type Handler struct {
	srv   *Server
	conn  Conn
	state State
}

// State returns the current state.
func (h *Handler) State() State {
	return h.state
}

// Conn returns the connection driven by h.
func (h *Handler) Conn() Conn {
	return h.conn
}

// Handle processes one inbound frame. A non-nil error means the
// connection can no longer be written to and should be torn down.
func (h *Handler) Handle(ctx context.Context, f *protocol.Frame) error {
	switch h.state {
	case StateUnauthenticated:
		switch f.Op {
		case protocol.OpRegister:
			return h.register(ctx, f.Field(0), f.Field(1))
		case protocol.OpLogin:
			return h.login(ctx, f.Field(0), f.Field(1))
		default:
			return h.reject(fmt.Sprintf("%s requires login", f.Op))
		}

	case StateAuthenticated:
		switch f.Op {
		case protocol.OpMessage:
			h.send(f.Field(0), f.Field(1))
			return nil
		case protocol.OpLogout:
			return h.logout(f.Field(0))
		case protocol.OpRegister, protocol.OpLogin:
			return h.reject("already logged in as " + h.conn.Name())
		default:
			return h.reject(fmt.Sprintf("unexpected %s", f.Op))
		}

	default:
		return ErrHandlerClosed
	}
}

func (h *Handler) reject(text string) error {
	return h.conn.WriteFrame(h.conn.Reserve(), protocol.Error(text))
}

func (h *Handler) register(ctx context.Context, name, password string) error {
	// The ticket is taken before the name becomes visible to workers, so
	// the reply precedes any push to the new user.
	ticket := h.conn.Reserve()
	code, err := h.tryRegister(ctx, name, password)
	if err != nil {
		h.srv.logger.Error("Registration failed", "username", name, "error", err)
		return h.conn.WriteFrame(ticket, protocol.Error("registration unavailable"))
	}
	h.finishAuth(methodRegister, name, code)
	return h.conn.WriteFrame(ticket, protocol.Result(code))
}

func (h *Handler) tryRegister(ctx context.Context, name, password string) (protocol.ResultCode, error) {
	switch err := registry.ValidateName(name); {
	case errors.Is(err, registry.ErrBadFirstChar):
		return protocol.ResultBadFirstChar, nil
	case errors.Is(err, registry.ErrTooShort):
		return protocol.ResultTooShort, nil
	case errors.Is(err, registry.ErrReservedName):
		return protocol.ResultReservedName, nil
	}

	if _, online := h.srv.registry.Lookup(name); online {
		return protocol.ResultNameInUse, nil
	}

	exists, err := h.srv.creds.Exists(ctx, name)
	if err != nil {
		return 0, err
	}
	if exists {
		return protocol.ResultAlreadyRegistered, nil
	}

	if code := h.claim(name); code != protocol.ResultSuccess {
		return code, nil
	}

	if password != "" {
		if err := h.srv.creds.Create(ctx, name, password); err != nil {
			h.unclaim()
			if errors.Is(err, auth.ErrUserExists) {
				return protocol.ResultAlreadyRegistered, nil
			}
			return 0, err
		}
	}
	return protocol.ResultSuccess, nil
}

func (h *Handler) login(ctx context.Context, name, password string) error {
	ticket := h.conn.Reserve()
	code, err := h.tryLogin(ctx, name, password)
	if err != nil {
		h.srv.logger.Error("Login failed", "username", name, "error", err)
		return h.conn.WriteFrame(ticket, protocol.Error("login unavailable"))
	}
	h.finishAuth(methodLogin, name, code)
	return h.conn.WriteFrame(ticket, protocol.Result(code))
}

func (h *Handler) tryLogin(ctx context.Context, name, password string) (protocol.ResultCode, error) {
	if err := h.srv.creds.Verify(ctx, name, password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return protocol.ResultFailedLogin, nil
		}
		return 0, err
	}
	if code := h.claim(name); code != protocol.ResultSuccess {
		return protocol.ResultAlreadyLoggedIn, nil
	}
	return protocol.ResultSuccess, nil
}

// claim inserts the connection into the registry under name.
func (h *Handler) claim(name string) protocol.ResultCode {
	h.conn.SetName(name)
	switch h.srv.registry.TryRegister(name, h.conn) {
	case registry.Registered:
		return protocol.ResultSuccess
	case registry.InUse:
		h.conn.SetName("")
		return protocol.ResultNameInUse
	default:
		h.conn.SetName("")
		return protocol.ResultTooShort
	}
}

func (h *Handler) unclaim() {
	h.srv.registry.Release(h.conn)
	h.conn.SetName("")
}

func (h *Handler) finishAuth(method, name string, code protocol.ResultCode) {
	addr := h.conn.RemoteAddr()
	transport := h.conn.Transport()

	if code != protocol.ResultSuccess {
		h.srv.security.LogAuthFailure(name, method, int(code), addr)
		h.srv.metrics.RecordAuth(method, code.String())
		h.srv.audit.Record(audit.EventAuthFailure, name, addr, transport, audit.ResultFailure,
			map[string]string{"method": method, "code": code.String()})
		return
	}

	h.state = StateAuthenticated
	h.srv.security.LogAuthSuccess(name, method, addr)
	h.srv.metrics.RecordAuth(method, code.String())
	h.srv.metrics.SetUsersOnline(h.srv.registry.Len())

	typ := audit.EventAuthSuccess
	if method == methodRegister {
		typ = audit.EventAuthRegister
	}
	h.srv.audit.Record(typ, name, addr, transport, audit.ResultSuccess, nil)
}

func (h *Handler) send(text, recipient string) {
	m := dispatch.NewRegular(h.conn.Name(), recipient, text)
	if err := h.srv.dispatcher.Enqueue(m); err != nil {
		h.srv.logger.Warn("Message dropped", "sender", m.Sender, "recipient", recipient, "error", err)
	}
}

func (h *Handler) logout(name string) error {
	if name != h.conn.Name() {
		return h.reject("cannot log out " + name)
	}

	h.state = StateClosed
	h.srv.audit.Record(audit.EventAuthLogout, name, h.conn.RemoteAddr(), h.conn.Transport(), audit.ResultSuccess, nil)

	// The worker flushes earlier traffic, pushes "logout" and closes.
	if err := h.srv.dispatcher.Enqueue(dispatch.NewControl(dispatch.ControlLogout, name)); err != nil {
		h.srv.logger.Debug("Logout not queued, closing directly", "username", name, "error", err)
		return h.Close("logout")
	}
	return nil
}

// Close tears the connection down after a transport failure. Every step
// runs even when an earlier one fails.
func (h *Handler) Close(reason string) error {
	h.state = StateClosed

	var errs []error
	if h.srv.registry.Release(h.conn) {
		h.srv.metrics.SetUsersOnline(h.srv.registry.Len())
	}
	if err := h.conn.Close(); err != nil && !errors.Is(err, session.ErrClosed) {
		errs = append(errs, fmt.Errorf("close %s: %w", h.conn.ID(), err))
	}
	h.srv.untrack(h.conn, reason)
	return errors.Join(errs...)
}

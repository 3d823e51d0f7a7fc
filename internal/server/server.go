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
Package server implements the chat relay's connection handling and lifecycle.

ARCHITECTURE OVERVIEW:
======================
The Server owns the user registry, the message dispatcher and the
credential store. Transports hand it connections:

	TCP listener   -> tcpSession -> Handler
	ws gateway     -> wsSession  -> Handler   (internal/server/ws)

A Handler is the per-connection state machine. It answers REGISTER and
LOGIN synchronously and turns MESSAGE and LOGOUT into queued work for the
dispatcher, so a read loop never blocks on another user's socket.

CONNECTION FLOW:
================
 1. Accept, set TCP options, wrap in a session and Attach a Handler
 2. Read frames in a loop and pass each to Handler.Handle
 3. On read or write failure, Handler.Close releases the name, closes
    the socket and forgets the connection
 4. After LOGOUT the read loop exits and the dispatcher worker finishes
    the teardown once earlier traffic for the user has been written

SHUTDOWN:
=========
Shutdown marks the server as stopping, queues a "shutdown" push for every
logged-in user, stops the dispatcher in drain or immediate mode, closes
whatever connections remain, closes the listener and waits for every
read loop. Auxiliary servers (metrics, health, gRPC, WebSocket) stop
last. Shutdown runs once; later calls wait for the first.

THREAD SAFETY:
==============
Server methods are safe for concurrent use. A Handler belongs to its
connection's read goroutine.
*/
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"chatrelay/internal/audit"
	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/dispatch"
	"chatrelay/internal/logging"
	"chatrelay/internal/metrics"
	"chatrelay/internal/protocol"
	"chatrelay/internal/registry"
	"chatrelay/internal/session"
)

var (
	// ErrNotConnected is returned by DisconnectUser for an absent name.
	ErrNotConnected = errors.New("user not connected")

	// ErrStopping is returned by Attach once Shutdown has closed the
	// remaining connections.
	ErrStopping = errors.New("server stopping")
)

// Auxiliary is a side server whose lifetime follows the relay's.
type Auxiliary interface {
	Start() error
	Stop() error
}

type auxiliary struct {
	name string
	srv  Auxiliary
}

// Deps are the collaborators a Server does not build itself. A nil
// Credentials selects an in-memory store. Audit and Metrics may be nil.
type Deps struct {
	Credentials auth.CredentialStore
	Audit       *audit.Recorder
	Metrics     *metrics.Metrics
}

// Server accepts chat connections and routes their traffic.
type Server struct {
	config *config.Config

	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	creds      auth.CredentialStore
	audit      *audit.Recorder
	metrics    *metrics.Metrics

	logger     *logging.Logger
	connLogger *logging.ConnectionLogger
	security   *logging.SecurityLogger

	ln  net.Listener
	aux []auxiliary

	mu          sync.Mutex
	conns       map[string]session.Session
	connsClosed bool

	ctx          context.Context
	cancel       context.CancelFunc
	stopping     atomic.Bool
	wg           sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

// New creates a server for cfg. The configuration must already be
// finalized and validated.
func New(cfg *config.Config, deps Deps) *Server {
	logger := logging.NewLogger("server")

	creds := deps.Credentials
	if creds == nil {
		creds = auth.NewUserStore("")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     cfg,
		registry:   registry.New(),
		creds:      creds,
		audit:      deps.Audit,
		metrics:    deps.Metrics,
		logger:     logger,
		connLogger: logging.NewConnectionLogger(logger),
		security:   logging.NewSecurityLogger(logger),
		conns:      make(map[string]session.Session),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.dispatcher = dispatch.New(s.registry, dispatch.Options{
		Workers:    cfg.Dispatch.Workers,
		Metrics:    deps.Metrics,
		OnTeardown: s.onTeardown,
	})
	return s
}

// AddAuxiliary registers a side server to start with Start and stop at
// the end of Shutdown.
func (s *Server) AddAuxiliary(name string, a Auxiliary) {
	s.aux = append(s.aux, auxiliary{name: name, srv: a})
}

// Start binds the chat listener, starts the dispatcher and the auxiliary
// servers, and begins accepting connections. A bind failure is returned;
// auxiliary start failures are logged.
func (s *Server) Start() error {
	ln, err := listen(s.ctx, s.config.BindAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.BindAddr, err)
	}
	s.ln = ln
	s.logger.Info("Server started", "addr", ln.Addr().String(), "workers", s.config.Dispatch.Workers)

	s.dispatcher.Start()

	for _, a := range s.aux {
		s.logger.Info("Starting auxiliary server", "name", a.name)
		if err := a.srv.Start(); err != nil {
			s.logger.Error("Failed to start auxiliary server", "name", a.name, "error", err)
		}
	}

	s.audit.Record(audit.EventServerStart, dispatch.SystemIdentity, ln.Addr().String(), TransportTCP, audit.ResultSuccess, nil)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound chat address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Done is closed when Shutdown has finished.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Stopping reports whether Shutdown has begun.
func (s *Server) Stopping() bool {
	return s.stopping.Load()
}

// Pending returns the number of queued messages.
func (s *Server) Pending() int {
	return s.dispatcher.Pending()
}

// ListUsers describes every logged-in user, sorted by name.
func (s *Server) ListUsers() []session.Info {
	sessions := s.registry.Snapshot()
	users := make([]session.Info, 0, len(sessions))
	for _, sess := range sessions {
		users = append(users, session.Describe(sess))
	}
	return users
}

// DisconnectUser queues a disconnect for name. The user receives a
// "disconnect" push after everything already queued for them.
func (s *Server) DisconnectUser(name string) error {
	if _, ok := s.registry.Lookup(name); !ok {
		return ErrNotConnected
	}
	if err := s.dispatcher.Enqueue(dispatch.NewControl(dispatch.ControlDisconnect, name)); err != nil {
		return fmt.Errorf("disconnect %s: %w", name, err)
	}
	s.security.LogForcedDisconnect(name, dispatch.SystemIdentity)
	return nil
}

// Attach registers c with the server and returns the handler that drives
// it. Transports call Attach once per accepted connection.
func (s *Server) Attach(c Conn) (*Handler, error) {
	if !s.track(c) {
		return nil, ErrStopping
	}
	s.metrics.ConnectionOpened(c.Transport())
	s.connLogger.LogNewConnection(c.ID(), c.RemoteAddr(), c.Transport())
	return &Handler{srv: s, conn: c}, nil
}

// Context is cancelled when Shutdown begins waiting for connections.
func (s *Server) Context() context.Context {
	return s.ctx
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Accept error", "error", err)
			continue
		}
		if s.stopping.Load() {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.serveTCP(conn)
	}
}

func (s *Server) serveTCP(conn net.Conn) {
	defer s.wg.Done()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	sess := newTCPSession(conn)
	h, err := s.Attach(sess)
	if err != nil {
		sess.Close()
		return
	}

	for {
		f, err := protocol.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownOp) || errors.Is(err, protocol.ErrMalformedFrame) {
				// The payload was consumed, so the stream is still in sync.
				if err := h.reject(err.Error()); err != nil {
					s.closeHandler(h, "write_error")
					return
				}
				continue
			}
			if h.State() == StateClosed {
				return
			}
			reason := "client_disconnect"
			if !errors.Is(err, io.EOF) {
				reason = "read_error"
				if !errors.Is(err, net.ErrClosed) {
					s.logger.Warn("Read error", "conn_id", sess.ID(), "error", err)
				}
			}
			s.closeHandler(h, reason)
			return
		}

		if err := h.Handle(s.ctx, f); err != nil {
			if !errors.Is(err, ErrHandlerClosed) {
				s.closeHandler(h, "write_error")
			}
			return
		}
		if h.State() == StateClosed {
			// Logged out: the dispatcher closes the socket after the
			// "logout" push.
			return
		}
	}
}

func (s *Server) closeHandler(h *Handler, reason string) {
	if err := h.Close(reason); err != nil {
		s.logger.Debug("Connection teardown", "conn_id", h.conn.ID(), "error", err)
	}
}

// track adds c to the live connection set. It fails once Shutdown has
// begun.
func (s *Server) track(c session.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connsClosed || s.stopping.Load() {
		return false
	}
	s.conns[c.ID()] = c
	return true
}

// untrack forgets c. Only the first call for a connection is counted.
func (s *Server) untrack(c session.Session, reason string) {
	s.mu.Lock()
	_, ok := s.conns[c.ID()]
	delete(s.conns, c.ID())
	s.mu.Unlock()
	if !ok {
		return
	}
	s.metrics.ConnectionClosed()
	s.connLogger.LogConnectionClosed(c.ID(), c.Name(), reason, time.Since(c.ConnectedAt()))
}

// onTeardown runs in a dispatcher worker after a control message closed sess.
func (s *Server) onTeardown(sess session.Session, code dispatch.ControlCode) {
	s.untrack(sess, code.String())
	s.metrics.SetUsersOnline(s.registry.Len())

	if code != dispatch.ControlLogout {
		s.audit.Record(audit.EventSessionDisconnect, sess.Name(), sess.RemoteAddr(), sess.Transport(),
			audit.ResultSuccess, map[string]string{"reason": code.String()})
	}
}

// Shutdown stops the server. In StopDrain mode every message queued
// before the call is delivered first; StopImmediate discards the queue.
func (s *Server) Shutdown(mode dispatch.StopMode) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(mode)
		close(s.done)
	})
	<-s.done
	return s.shutdownErr
}

func (s *Server) shutdown(mode dispatch.StopMode) error {
	s.stopping.Store(true)
	s.logger.Info("Shutting down", "mode", mode, "users", s.registry.Len())
	s.audit.Record(audit.EventServerStop, dispatch.SystemIdentity, "", "", audit.ResultSuccess,
		map[string]string{"mode": mode.String()})

	for _, sess := range s.registry.Snapshot() {
		if err := s.dispatcher.Enqueue(dispatch.NewControl(dispatch.ControlShutdown, sess.Name())); err != nil {
			s.logger.Warn("Shutdown notice not queued", "username", sess.Name(), "error", err)
		}
	}

	if dropped := s.dispatcher.Stop(mode); dropped > 0 {
		s.logger.Info("Dispatcher stopped", "dropped", dropped)
	}

	s.closeConns()

	var errs []error
	if s.ln != nil {
		if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
	}

	s.cancel()
	s.wg.Wait()

	for i := len(s.aux) - 1; i >= 0; i-- {
		a := s.aux[i]
		if err := a.srv.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", a.name, err))
		}
		s.logger.Debug("Auxiliary server stopped", "name", a.name)
	}

	s.logger.Info("Server stopped")
	return errors.Join(errs...)
}

// closeConns closes every connection the dispatcher did not tear down:
// unauthenticated ones, and everyone in immediate mode.
func (s *Server) closeConns() {
	s.mu.Lock()
	s.connsClosed = true
	remaining := make([]session.Session, 0, len(s.conns))
	for _, c := range s.conns {
		remaining = append(remaining, c)
	}
	s.mu.Unlock()

	for _, c := range remaining {
		s.registry.Release(c)
		if err := c.Close(); err != nil && !errors.Is(err, session.ErrClosed) && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("Close failed", "conn_id", c.ID(), "error", err)
		}
		s.untrack(c, "shutdown")
	}
	s.metrics.SetUsersOnline(s.registry.Len())
}

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

// Package ws provides a WebSocket gateway to the chat relay for browser
// clients.
//
// Clients send one JSON object per text frame:
//
//	{"type": "register", "username": "alice", "password": "optional"}
//	{"type": "login",    "username": "alice", "password": "secret"}
//	{"type": "message",  "text": "hi", "recipient": "bob"}
//	{"type": "logout",   "username": "alice"}
//
// The gateway replies with:
//
//	{"type": "result", "code": 0}
//	{"type": "push",   "text": "bob: hello"}
//	{"type": "error",  "text": "MESSAGE requires login"}
//
// WebSocket users share the registry and dispatcher with TCP users, so a
// browser can message a terminal client and the other way round.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/internal/config"
	"chatrelay/internal/logging"
	"chatrelay/internal/protocol"
	"chatrelay/internal/server"
	"chatrelay/internal/session"
)

// TransportWS names sessions served through the gateway.
const TransportWS = "ws"

// Default configuration values for the WebSocket gateway
const (
	DefaultReadBufferSize  = 4096
	DefaultWriteBufferSize = 4096
	// DefaultPingInterval is the interval for sending ping frames
	DefaultPingInterval = 30 * time.Second
	// DefaultPongTimeout is the grace period after a missed pong
	DefaultPongTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds ping writes only
	DefaultWriteTimeout = 10 * time.Second
)

// Message types
const (
	TypeRegister = "register"
	TypeLogin    = "login"
	TypeMessage  = "message"
	TypeLogout   = "logout"
	TypeResult   = "result"
	TypePush     = "push"
	TypeError    = "error"
)

// Request is a JSON request from a WebSocket client.
type Request struct {
	Type      string `json:"type"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Text      string `json:"text,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

// Reply is a JSON message sent to a WebSocket client.
type Reply struct {
	Type string `json:"type"`
	Code *int   `json:"code,omitempty"`
	Text string `json:"text,omitempty"`
}

var errUnknownType = errors.New("unknown request type")

// Frame converts a request into the protocol frame the handler expects.
func (r *Request) Frame() (*protocol.Frame, error) {
	switch r.Type {
	case TypeRegister:
		return protocol.Register(r.Username, r.Password), nil
	case TypeLogin:
		return protocol.Login(r.Username, r.Password), nil
	case TypeMessage:
		return protocol.Chat(r.Text, r.Recipient), nil
	case TypeLogout:
		return protocol.Logout(r.Username), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownType, r.Type)
	}
}

// replyFor converts an outbound protocol frame into its JSON form.
func replyFor(f *protocol.Frame) (Reply, error) {
	switch f.Op {
	case protocol.OpResult:
		code, err := f.ResultCode()
		if err != nil {
			return Reply{}, err
		}
		n := int(code)
		return Reply{Type: TypeResult, Code: &n}, nil
	case protocol.OpPush:
		return Reply{Type: TypePush, Text: f.Field(0)}, nil
	case protocol.OpError:
		return Reply{Type: TypeError, Text: f.Field(0)}, nil
	default:
		return Reply{}, fmt.Errorf("no reply form for %s", f.Op)
	}
}

// createUpgrader creates a WebSocket upgrader with the given configuration.
// If allowedOrigins is empty or contains "*", all origins are allowed.
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  DefaultReadBufferSize,
		WriteBufferSize: DefaultWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				// No origin header - likely not a browser request
				return true
			}

			for _, allowed := range allowedOrigins {
				if origin == allowed || strings.HasSuffix(origin, allowed) {
					return true
				}
			}
			return false
		},
		EnableCompression: true,
	}
}

// wsSession adapts a WebSocket connection to server.Conn.
//
// Frame writes are ordered by the embedded turnstile and serialized with
// pings by writeMu. There is no write deadline on chat traffic.
type wsSession struct {
	*session.Base

	conn     *websocket.Conn
	writeMu  sync.Mutex
	lastPong time.Time

	pingTicker *time.Ticker
	done       chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

func newWSSession(conn *websocket.Conn, remoteAddr string) *wsSession {
	s := &wsSession{
		Base:     session.NewBase(TransportWS, remoteAddr),
		conn:     conn,
		lastPong: time.Now(),
		done:     make(chan struct{}),
	}

	conn.SetPongHandler(func(string) error {
		s.writeMu.Lock()
		s.lastPong = time.Now()
		s.writeMu.Unlock()
		return nil
	})

	s.pingTicker = time.NewTicker(DefaultPingInterval)
	go s.pingLoop()
	return s
}

// pingLoop sends periodic ping frames and closes connections that stopped
// answering them.
func (s *wsSession) pingLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.pingTicker.C:
			s.writeMu.Lock()
			if time.Since(s.lastPong) > DefaultPingInterval+DefaultPongTimeout {
				s.writeMu.Unlock()
				s.conn.Close()
				return
			}
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(DefaultWriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// WriteFrame implements server.Conn.
func (s *wsSession) WriteFrame(ticket uint64, f *protocol.Frame) error {
	reply, err := replyFor(f)
	if err != nil {
		return err
	}
	return s.Do(ticket, func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return s.conn.WriteJSON(reply)
	})
}

// Deliver implements session.Session.
func (s *wsSession) Deliver(ticket uint64, text string) error {
	return s.WriteFrame(ticket, protocol.Push(text))
}

// Close stops the ping loop, releases waiting writers and closes the
// connection.
func (s *wsSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.pingTicker.Stop()
		s.Turnstile.Close()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Gateway serves WebSocket clients on top of a chat server.
type Gateway struct {
	config   *config.WebSocketConfig
	srv      *server.Server
	logger   *logging.Logger
	upgrader websocket.Upgrader
	server   *http.Server
	ln       net.Listener
}

// NewGateway creates a gateway that attaches its connections to srv.
func NewGateway(cfg *config.WebSocketConfig, srv *server.Server) *Gateway {
	return &Gateway{
		config:   cfg,
		srv:      srv,
		logger:   logging.NewLogger("ws"),
		upgrader: createUpgrader(cfg.AllowedOrigins),
	}
}

// Handler returns the HTTP handler serving /ws.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWebSocket)
	return mux
}

// Start binds the gateway address and serves in the background.
func (g *Gateway) Start() error {
	if !g.config.Enabled {
		return nil
	}

	ln, err := net.Listen("tcp", g.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.config.Addr, err)
	}
	g.ln = ln
	g.server = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.logger.Info("WebSocket gateway listening", "addr", ln.Addr().String())
	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("WebSocket server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	if g.ln == nil {
		return nil
	}
	return g.ln.Addr()
}

// Stop stops accepting upgrades. Attached sessions are closed by the
// chat server's shutdown.
func (g *Gateway) Stop() error {
	if g.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.server.Shutdown(ctx)
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("Failed to upgrade to WebSocket", "error", err)
		return
	}

	sess := newWSSession(conn, r.RemoteAddr)
	h, err := g.srv.Attach(sess)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(DefaultWriteTimeout))
		sess.Close()
		return
	}

	for {
		_, p, err := conn.ReadMessage()
		if err != nil {
			if h.State() == server.StateClosed {
				return
			}
			reason := "client_disconnect"
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				reason = "read_error"
				g.logger.Warn("WebSocket unexpected close", "conn_id", sess.ID(), "error", err)
			}
			g.closeHandler(h, reason)
			return
		}

		var req Request
		if err := json.Unmarshal(p, &req); err != nil {
			if g.writeError(sess, "invalid JSON request") != nil {
				g.closeHandler(h, "write_error")
				return
			}
			continue
		}
		f, err := req.Frame()
		if err != nil {
			if g.writeError(sess, err.Error()) != nil {
				g.closeHandler(h, "write_error")
				return
			}
			continue
		}

		if err := h.Handle(g.srv.Context(), f); err != nil {
			if !errors.Is(err, server.ErrHandlerClosed) {
				g.closeHandler(h, "write_error")
			}
			return
		}
		if h.State() == server.StateClosed {
			return
		}
	}
}

func (g *Gateway) writeError(s *wsSession, text string) error {
	return s.WriteFrame(s.Reserve(), protocol.Error(text))
}

func (g *Gateway) closeHandler(h *server.Handler, reason string) {
	if err := h.Close(reason); err != nil {
		g.logger.Debug("WebSocket teardown", "conn_id", h.Conn().ID(), "error", err)
	}
}

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
	"net"
	"sync"

	"chatrelay/internal/protocol"
	"chatrelay/internal/session"
)

// TransportTCP names sessions served over the binary protocol.
const TransportTCP = "tcp"

// tcpSession is a Conn over a raw socket.
type tcpSession struct {
	*session.Base

	conn      net.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newTCPSession(conn net.Conn) *tcpSession {
	return &tcpSession{
		Base: session.NewBase(TransportTCP, conn.RemoteAddr().String()),
		conn: conn,
	}
}

// WriteFrame writes f once every earlier ticket has been written.
func (s *tcpSession) WriteFrame(ticket uint64, f *protocol.Frame) error {
	return s.Do(ticket, func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return protocol.WriteFrame(s.conn, f)
	})
}

// Deliver implements session.Session.
func (s *tcpSession) Deliver(ticket uint64, text string) error {
	return s.WriteFrame(ticket, protocol.Push(text))
}

// Close releases waiting writers and closes the socket.
func (s *tcpSession) Close() error {
	s.closeOnce.Do(func() {
		s.Turnstile.Close()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

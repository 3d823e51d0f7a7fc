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

// Package session defines the handle that the registry stores and the
// dispatcher writes to, independent of the transport behind it.
package session

import (
	"errors"
	"time"
)

// ErrClosed is returned by deliveries to a session that has been closed.
var ErrClosed = errors.New("session closed")

// Session is one authenticated or authenticating chat connection.
//
// Deliveries are ordered: the dispatcher calls Reserve while it holds the
// queue lock, then Deliver with that ticket from any worker. Deliver blocks
// until every earlier ticket on the same session has been delivered or
// the session is closed.
type Session interface {
	ID() string
	Name() string
	RemoteAddr() string
	Transport() string
	ConnectedAt() time.Time

	Reserve() uint64
	Deliver(ticket uint64, text string) error
	Close() error
}

// Info is a point-in-time description of a session for listings.
type Info struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RemoteAddr  string    `json:"remote_addr"`
	Transport   string    `json:"transport"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Describe captures the listing fields of s.
func Describe(s Session) Info {
	return Info{
		ID:          s.ID(),
		Name:        s.Name(),
		RemoteAddr:  s.RemoteAddr(),
		Transport:   s.Transport(),
		ConnectedAt: s.ConnectedAt(),
	}
}

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

package session

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Base carries the transport-independent half of a Session. Transports
// embed it and add Deliver and Close.
type Base struct {
	Turnstile

	id          string
	remoteAddr  string
	transport   string
	connectedAt time.Time
	name        atomic.Value
}

// NewBase creates a Base with a fresh ID.
func NewBase(transport, remoteAddr string) *Base {
	b := &Base{
		id:          uuid.New().String(),
		remoteAddr:  remoteAddr,
		transport:   transport,
		connectedAt: time.Now(),
	}
	b.name.Store("")
	return b
}

func (b *Base) ID() string             { return b.id }
func (b *Base) RemoteAddr() string     { return b.remoteAddr }
func (b *Base) Transport() string      { return b.transport }
func (b *Base) ConnectedAt() time.Time { return b.connectedAt }

// Name returns the username, or "" before authentication.
func (b *Base) Name() string {
	return b.name.Load().(string)
}

// SetName records the username the session is registering under.
func (b *Base) SetName(name string) {
	b.name.Store(name)
}

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
Package audit records the account and session history of the relay.

EVENT CATEGORIES:
=================
- Authentication: register, login success and failure, logout
- Sessions: operator and server-initiated disconnects
- System: startup, shutdown

STORAGE:
========
Events are appended as JSON lines to one file per UTC day. A Kafka sink
can stream the same events, Avro encoded, to a topic. MultiStore fans a
single Record out to several stores and answers queries from the first.

Chat message bodies are never recorded.
*/
package audit

import (
	"errors"
	"time"

	"chatrelay/internal/logging"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventAuthRegister EventType = "auth.register"
	EventAuthSuccess  EventType = "auth.success"
	EventAuthFailure  EventType = "auth.failure"
	EventAuthLogout   EventType = "auth.logout"

	EventSessionDisconnect EventType = "session.disconnect"

	EventServerStart EventType = "system.start"
	EventServerStop  EventType = "system.stop"
)

// Result values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// ErrQueryUnsupported is returned by write-only stores.
var ErrQueryUnsupported = errors.New("audit store does not support queries")

// Event represents a single audit event.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	User      string            `json:"user"`
	ClientIP  string            `json:"client_ip"`
	Transport string            `json:"transport"`
	Result    string            `json:"result"`
	Details   map[string]string `json:"details,omitempty"`
	Instance  string            `json:"instance"`
}

// QueryFilter defines filters for querying audit events.
type QueryFilter struct {
	StartTime  *time.Time
	EndTime    *time.Time
	EventTypes []EventType
	User       string
	Result     string
	Search     string // case-insensitive match on details
	Limit      int
	Offset     int
}

// QueryResult contains the result of an audit query.
type QueryResult struct {
	Events     []Event `json:"events"`
	TotalCount int     `json:"total_count"`
	HasMore    bool    `json:"has_more"`
}

// Store defines the interface for audit event storage.
type Store interface {
	Record(event *Event) error
	Query(filter *QueryFilter) (*QueryResult, error)
	Close() error
}

// Recorder is the handle the rest of the server records through. A nil
// Recorder, or one without a store, drops events.
type Recorder struct {
	store  Store
	logger *logging.Logger
}

// NewRecorder wraps store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, logger: logging.NewLogger("audit")}
}

// Store returns the underlying store, or nil.
func (r *Recorder) Store() Store {
	if r == nil {
		return nil
	}
	return r.store
}

// Record stores an event. Failures are logged, not returned.
func (r *Recorder) Record(typ EventType, user, remoteAddr, transport, result string, details map[string]string) {
	if r == nil || r.store == nil {
		return
	}
	ev := &Event{
		Type:      typ,
		User:      user,
		ClientIP:  remoteAddr,
		Transport: transport,
		Result:    result,
		Details:   details,
	}
	if err := r.store.Record(ev); err != nil {
		r.logger.Warn("Failed to record audit event", "type", typ, "error", err)
	}
}

// Recent returns the newest events, optionally for one user.
func (r *Recorder) Recent(user string, limit int) ([]Event, error) {
	if r == nil || r.store == nil {
		return nil, ErrQueryUnsupported
	}
	res, err := r.store.Query(&QueryFilter{User: user, Limit: limit})
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

// Close closes the underlying store.
func (r *Recorder) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}

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

package dispatch

import (
	"crypto/rand"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"chatrelay/internal/protocol"
)

// SystemIdentity is the sender name of server-generated text. Text from
// this sender is delivered without a "<sender>: " prefix.
const SystemIdentity = "admin"

// Kind separates user text from server directives.
type Kind int

const (
	KindRegular Kind = iota
	KindControl
)

// String returns the metric label for the kind.
func (k Kind) String() string {
	if k == KindControl {
		return "control"
	}
	return "regular"
}

// ControlCode is the directive carried by a control message.
type ControlCode int

const (
	ControlNone ControlCode = iota
	// ControlLogout ends a session at the user's request.
	ControlLogout
	// ControlDisconnect ends a session at the operator's request.
	ControlDisconnect
	// ControlShutdown ends a session because the server is stopping.
	ControlShutdown
)

// String returns the push text sent to the affected user.
func (c ControlCode) String() string {
	switch c {
	case ControlLogout:
		return "logout"
	case ControlDisconnect:
		return "disconnect"
	case ControlShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// Message is one unit of routable work.
type Message struct {
	ID         string
	Kind       Kind
	Code       ControlCode
	Text       string
	Sender     string
	Recipient  string
	EnqueuedAt time.Time
}

// NewRegular creates a chat message from sender to recipient.
func NewRegular(sender, recipient, text string) *Message {
	now := time.Now()
	return &Message{
		ID:         NewID(now),
		Kind:       KindRegular,
		Text:       text,
		Sender:     sender,
		Recipient:  recipient,
		EnqueuedAt: now,
	}
}

// NewControl creates a directive addressed to username.
func NewControl(code ControlCode, username string) *Message {
	now := time.Now()
	return &Message{
		ID:         NewID(now),
		Kind:       KindControl,
		Code:       code,
		Text:       code.String(),
		Sender:     SystemIdentity,
		Recipient:  username,
		EnqueuedAt: now,
	}
}

// IsBroadcast reports whether the message addresses every connected user.
func (m *Message) IsBroadcast() bool {
	return m.Kind == KindRegular && m.Recipient == protocol.BroadcastRecipient
}

// Format renders the text a recipient sees.
func (m *Message) Format() string {
	if m.Kind == KindControl || m.Sender == SystemIdentity {
		return m.Text
	}
	return m.Sender + ": " + m.Text
}

// NotConnectedNotice is the text sent back when a direct recipient is absent.
func NotConnectedNotice(recipient string) string {
	return recipient + " is not connected."
}

// FailedDeliveryNotice is the text sent back when a write to a present
// recipient fails.
func FailedDeliveryNotice(recipient string) string {
	return "Failed to send message to: " + recipient
}

// NewID returns a ULID for the given time.
func NewID(now time.Time) string {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return strconv.FormatInt(now.UnixNano(), 36)
	}
	return id.String()
}

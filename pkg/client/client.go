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
Package client provides the chatrelay Go client library.

QUICK START:
============

	// Connect to a relay
	c, err := client.NewClient("localhost:2222")
	defer c.Close()

	// Pick a name
	code, err := c.Register(ctx, "alice", "")
	fmt.Println(client.ResultText(code))

	// Talk
	err = c.Send("hello everyone", protocol.BroadcastRecipient)
	for ev := range c.Events() {
	    fmt.Println(ev.Text)
	}

WEBSOCKET CONNECTION:
=====================

	c, err := client.DialWS(ctx, "ws://localhost:8080/ws", client.ClientOptions{})

Both clients implement Chat, so callers can switch transports freely.

THREAD SAFETY:
==============
The client is safe for concurrent use by multiple goroutines. Register
and Login calls are serialized; only one may wait for a result at a time.
*/
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"chatrelay/internal/protocol"
)

// Control push texts sent by the server before it closes a session.
const (
	ControlLogout     = "logout"
	ControlDisconnect = "disconnect"
	ControlShutdown   = "shutdown"
)

var (
	// ErrClosed is returned when the connection is gone.
	ErrClosed = errors.New("connection closed")
	// ErrNotLoggedIn is returned by Logout before a successful Register or Login.
	ErrNotLoggedIn = errors.New("not logged in")
)

// ServerError is an ERROR frame received in reply to a request.
type ServerError struct {
	Text string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Text
}

// Chat is the transport-independent client API.
type Chat interface {
	Register(ctx context.Context, username, password string) (protocol.ResultCode, error)
	Login(ctx context.Context, username, password string) (protocol.ResultCode, error)
	Send(text, recipient string) error
	Logout() error
	Username() string
	Events() <-chan Event
	Err() error
	Close() error
}

// ClientOptions configures the client connection.
type ClientOptions struct {
	// Connection behavior
	MaxRetries     int // Maximum connection attempts (default: 3)
	RetryDelayMs   int // Delay between retries in milliseconds (default: 1000)
	ConnectTimeout int // Connection timeout in seconds (default: 10)

	// EventBuffer is the capacity of the Events channel (default: 64).
	EventBuffer int
}

func (o *ClientOptions) setDefaults() {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelayMs == 0 {
		o.RetryDelayMs = 1000
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10
	}
	if o.EventBuffer == 0 {
		o.EventBuffer = 64
	}
}

// Client is a chat connection over the binary TCP protocol.
type Client struct {
	addr    string
	conn    net.Conn
	opts    ClientOptions
	writeMu sync.Mutex
	*inbox
}

// NewClient creates a new client connected to the specified address.
func NewClient(addr string) (*Client, error) {
	return NewClientWithOptions(addr, ClientOptions{})
}

// NewClientWithOptions creates a new client with custom options.
func NewClientWithOptions(addr string, opts ClientOptions) (*Client, error) {
	opts.setDefaults()

	c := &Client{
		addr: addr,
		opts: opts,
	}

	err := withRetry(opts, func() error {
		return c.connectToServer(addr)
	})
	if err != nil {
		return nil, err
	}

	c.inbox = newInbox(opts.EventBuffer, c.conn.Close)
	go c.readLoop()
	return c, nil
}

// withRetry runs connect until it succeeds or the attempts run out.
func withRetry(opts ClientOptions, connect func() error) error {
	var lastErr error
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		if lastErr = connect(); lastErr == nil {
			return nil
		}
		// Wait before retry
		if attempt < opts.MaxRetries-1 {
			time.Sleep(time.Duration(opts.RetryDelayMs) * time.Millisecond)
		}
	}
	return fmt.Errorf("failed to connect after %d attempts: %w", opts.MaxRetries, lastErr)
}

// connectToServer connects to a specific server.
func (c *Client) connectToServer(addr string) error {
	dialer := &net.Dialer{
		Timeout: time.Duration(c.opts.ConnectTimeout) * time.Second,
	}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	c.conn = conn
	return nil
}

// Addr returns the server address.
func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) readLoop() {
	for {
		f, err := protocol.ReadFrame(c.conn)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownOp) || errors.Is(err, protocol.ErrMalformedFrame) {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				err = nil
			}
			c.finish(err)
			return
		}

		switch f.Op {
		case protocol.OpResult:
			code, err := f.ResultCode()
			c.reply(code, err)
		case protocol.OpPush:
			c.event(Event{Type: EventPush, Text: f.Field(0)})
		case protocol.OpError:
			c.serverError(f.Field(0))
		}
	}
}

func (c *Client) write(f *protocol.Frame) error {
	if c.isDone() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.WriteFrame(c.conn, f); err != nil {
		return fmt.Errorf("write %s: %w", f.Op, err)
	}
	return nil
}

// Register creates a session under username. A non-empty password also
// creates a persistent account.
func (c *Client) Register(ctx context.Context, username, password string) (protocol.ResultCode, error) {
	return c.call(ctx, username, func() error {
		return c.write(protocol.Register(username, password))
	})
}

// Login authenticates against an existing account.
func (c *Client) Login(ctx context.Context, username, password string) (protocol.ResultCode, error) {
	return c.call(ctx, username, func() error {
		return c.write(protocol.Login(username, password))
	})
}

// Send sends text to recipient, or to everyone for protocol.BroadcastRecipient.
func (c *Client) Send(text, recipient string) error {
	return c.write(protocol.Chat(text, recipient))
}

// Logout ends the session. The server answers with a "logout" push and
// closes the connection, which closes Events.
func (c *Client) Logout() error {
	name := c.Username()
	if name == "" {
		return ErrNotLoggedIn
	}
	return c.write(protocol.Logout(name))
}

// EventType distinguishes server notifications.
type EventType int

const (
	// EventPush is a chat message or control push.
	EventPush EventType = iota
	// EventError is an ERROR frame no request was waiting for.
	EventError
)

// Event is an unsolicited message from the server.
type Event struct {
	Type EventType
	Text string
}

// Control reports whether the event is a control push after which the
// server closes the connection.
func (e Event) Control() bool {
	if e.Type != EventPush {
		return false
	}
	switch e.Text {
	case ControlLogout, ControlDisconnect, ControlShutdown:
		return true
	}
	return false
}

type reply struct {
	code protocol.ResultCode
	err  error
}

// inbox routes inbound traffic to waiting calls and to the event stream.
type inbox struct {
	callMu   sync.Mutex
	replies  chan reply
	waiting  bool
	events   chan Event
	done     chan struct{}
	stop     chan struct{}
	closeFn  func() error
	stopOnce sync.Once
	mu       sync.Mutex
	err      error
	username string
}

func newInbox(buffer int, closeFn func() error) *inbox {
	return &inbox{
		replies: make(chan reply, 1),
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
		closeFn: closeFn,
	}
}

// Events returns pushes and unsolicited errors. The channel is closed
// when the connection ends.
func (b *inbox) Events() <-chan Event {
	return b.events
}

// Done is closed when the connection ends.
func (b *inbox) Done() <-chan struct{} {
	return b.done
}

// Err returns the error that ended the connection, or nil after a clean close.
func (b *inbox) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Username returns the name of the logged in user, or "".
func (b *inbox) Username() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.username
}

// Close closes the connection.
func (b *inbox) Close() error {
	var err error
	b.stopOnce.Do(func() {
		close(b.stop)
		err = b.closeFn()
	})
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (b *inbox) isDone() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *inbox) call(ctx context.Context, username string, send func() error) (protocol.ResultCode, error) {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	// Drop a reply left behind by a call that gave up.
	select {
	case <-b.replies:
	default:
	}

	b.mu.Lock()
	b.waiting = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.waiting = false
		b.mu.Unlock()
	}()

	if err := send(); err != nil {
		return 0, err
	}

	select {
	case r := <-b.replies:
		if r.err == nil && r.code == protocol.ResultSuccess {
			b.mu.Lock()
			b.username = username
			b.mu.Unlock()
		}
		return r.code, r.err
	case <-b.done:
		if err := b.Err(); err != nil {
			return 0, err
		}
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (b *inbox) isWaiting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiting
}

// reply hands a result to the waiting call. Results nobody asked for are dropped.
func (b *inbox) reply(code protocol.ResultCode, err error) {
	if !b.isWaiting() {
		return
	}
	b.deliver(reply{code: code, err: err})
}

func (b *inbox) deliver(r reply) {
	select {
	case b.replies <- r:
	case <-b.stop:
	}
}

func (b *inbox) serverError(text string) {
	if b.isWaiting() {
		b.deliver(reply{err: &ServerError{Text: text}})
		return
	}
	b.event(Event{Type: EventError, Text: text})
}

func (b *inbox) event(e Event) {
	select {
	case b.events <- e:
	case <-b.stop:
	}
}

// finish is called once by the read loop when the connection ends.
func (b *inbox) finish(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
	close(b.events)
	close(b.done)
	b.Close()
}

// ResultText returns the user-facing text for a result code.
func ResultText(code protocol.ResultCode) string {
	switch code {
	case protocol.ResultSuccess:
		return "Successfully logged in."
	case protocol.ResultNameInUse:
		return "Selected username is already in use. Please select a new one."
	case protocol.ResultTooShort:
		return "Username must be at least 3 characters long."
	case protocol.ResultReservedName:
		return "Selected username can not be used. Please select a new one."
	case protocol.ResultBadFirstChar:
		return "Username must start with english letter."
	case protocol.ResultFailedLogin:
		return "Failed to log in. Incorrect username or password."
	case protocol.ResultAlreadyLoggedIn:
		return "This user is already logged in."
	case protocol.ResultAlreadyRegistered:
		return "This username has an account. Please log in instead."
	default:
		return "Unknown system code."
	}
}

// ControlText returns the text shown when the server ends the session.
func ControlText(text string) string {
	switch strings.ToLower(text) {
	case ControlLogout:
		return "Successfully logged out."
	case ControlDisconnect:
		return "You have been disconnected from server."
	case ControlShutdown:
		return "The server is shutting down."
	default:
		return text
	}
}

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

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"chatrelay/internal/protocol"
)

const wsReadLimit = protocol.MaxPayloadSize

// JSON messages exchanged with the WebSocket gateway.
type wsRequest struct {
	Type      string `json:"type"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Text      string `json:"text,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

type wsReply struct {
	Type string `json:"type"`
	Code *int   `json:"code,omitempty"`
	Text string `json:"text,omitempty"`
}

// WSClient is a chat connection through the WebSocket gateway.
type WSClient struct {
	url     string
	conn    *websocket.Conn
	opts    ClientOptions
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex
	*inbox
}

// DialWS connects to the gateway at url, for example "ws://host:8080/ws".
func DialWS(ctx context.Context, url string, opts ClientOptions) (*WSClient, error) {
	opts.setDefaults()

	c := &WSClient{url: url, opts: opts}
	err := withRetry(opts, func() error {
		dialCtx, cancel := context.WithTimeout(ctx, time.Duration(opts.ConnectTimeout)*time.Second)
		defer cancel()

		conn, resp, err := websocket.Dial(dialCtx, url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", url, err)
		}
		c.conn = conn
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.conn.SetReadLimit(wsReadLimit)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.inbox = newInbox(opts.EventBuffer, func() error {
		err := c.conn.Close(websocket.StatusNormalClosure, "")
		c.cancel()
		return err
	})
	go c.readLoop()
	return c, nil
}

// URL returns the gateway URL.
func (c *WSClient) URL() string {
	return c.url
}

func (c *WSClient) readLoop() {
	for {
		var r wsReply
		if err := wsjson.Read(c.ctx, c.conn, &r); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				err = nil
			}
			c.finish(err)
			return
		}

		switch r.Type {
		case "result":
			if r.Code == nil {
				c.reply(0, fmt.Errorf("%w: result without code", protocol.ErrMalformedFrame))
				continue
			}
			c.reply(protocol.ResultCode(*r.Code), nil)
		case "push":
			c.event(Event{Type: EventPush, Text: r.Text})
		case "error":
			c.serverError(r.Text)
		}
	}
}

func (c *WSClient) write(req wsRequest) error {
	if c.isDone() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsjson.Write(c.ctx, c.conn, req); err != nil {
		return fmt.Errorf("write %s: %w", req.Type, err)
	}
	return nil
}

// Register creates a session under username.
func (c *WSClient) Register(ctx context.Context, username, password string) (protocol.ResultCode, error) {
	return c.call(ctx, username, func() error {
		return c.write(wsRequest{Type: "register", Username: username, Password: password})
	})
}

// Login authenticates against an existing account.
func (c *WSClient) Login(ctx context.Context, username, password string) (protocol.ResultCode, error) {
	return c.call(ctx, username, func() error {
		return c.write(wsRequest{Type: "login", Username: username, Password: password})
	})
}

// Send sends text to recipient.
func (c *WSClient) Send(text, recipient string) error {
	return c.write(wsRequest{Type: "message", Text: text, Recipient: recipient})
}

// Logout ends the session.
func (c *WSClient) Logout() error {
	name := c.Username()
	if name == "" {
		return ErrNotLoggedIn
	}
	return c.write(wsRequest{Type: "logout", Username: name})
}

var (
	_ Chat = (*Client)(nil)
	_ Chat = (*WSClient)(nil)
)

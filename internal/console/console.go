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

// Package console implements the operator command line read from the
// relay's standard input.
//
//	/help                     print the command list
//	/disconnect [true|false]  stop the server, draining the queue unless false
//	/remove: <name>           disconnect one user
//	/listall                  list connected users
//	/history [name]           show recent audit events
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"chatrelay/internal/audit"
	"chatrelay/internal/dispatch"
	"chatrelay/internal/logging"
	"chatrelay/internal/server"
	"chatrelay/internal/session"
)

// HistoryLimit is the number of events /history prints.
const HistoryLimit = 20

// Server is the part of the chat server the console drives.
type Server interface {
	ListUsers() []session.Info
	DisconnectUser(name string) error
	Shutdown(mode dispatch.StopMode) error
}

// Console reads operator commands line by line.
type Console struct {
	srv    Server
	audit  *audit.Recorder
	in     io.Reader
	out    io.Writer
	logger *logging.Logger
}

// New creates a console. rec may be nil when auditing is disabled.
func New(srv Server, rec *audit.Recorder, in io.Reader, out io.Writer) *Console {
	return &Console{
		srv:    srv,
		audit:  rec,
		in:     in,
		out:    out,
		logger: logging.NewLogger("console"),
	}
}

// Run executes commands until /disconnect, end of input or ctx is done.
// It reports whether the server was shut down by a command.
func (c *Console) Run(ctx context.Context) (bool, error) {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case line, ok := <-lines:
			if !ok {
				return false, <-scanErr
			}
			if c.Execute(line) {
				return true, nil
			}
		}
	}
}

// Execute runs one command line and reports whether it stopped the server.
func (c *Console) Execute(line string) bool {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch {
	case strings.EqualFold(line, "/help"):
		c.printHelp()
	case fields[0] == "/disconnect":
		return c.disconnect(fields[1:])
	case strings.HasPrefix(line, "/remove:"):
		c.remove(strings.TrimSpace(strings.TrimPrefix(line, "/remove:")))
	case strings.EqualFold(line, "/listall"):
		c.listAll()
	case fields[0] == "/history":
		c.history(fields[1:])
	default:
		c.println("Invalid command.")
	}
	return false
}

func (c *Console) println(a ...interface{}) {
	fmt.Fprintln(c.out, a...)
}

func (c *Console) printHelp() {
	c.println(`- To stop the server enter a command "/disconnect". ` +
		`Add "true" to deliver every queued message first or "false" to drop them. ` +
		`Without an argument queued messages are delivered.`)
	c.println(`- To disconnect a user enter a command in format: "/remove: [username]".`)
	c.println(`- To see all connected users enter a command "/listall".`)
	c.println(`- To see recent audit events enter a command "/history [username]".`)
}

func (c *Console) disconnect(args []string) bool {
	mode := dispatch.StopDrain
	if len(args) > 0 && strings.EqualFold(args[0], "false") {
		mode = dispatch.StopImmediate
	}
	c.logger.Info("Shutdown requested from console", "mode", mode)
	if err := c.srv.Shutdown(mode); err != nil {
		c.println("Server stopped with errors: " + err.Error())
		return true
	}
	c.println("Server successfully disconnected.")
	return true
}

func (c *Console) remove(name string) {
	if name == "" {
		c.println("Invalid command.")
		return
	}
	err := c.srv.DisconnectUser(name)
	switch {
	case err == nil:
		c.println(name + " disconnected.")
	case errors.Is(err, server.ErrNotConnected):
		c.println(name + " is not connected.")
	default:
		c.println(fmt.Sprintf("Failed to disconnect %s: %v", name, err))
	}
}

func (c *Console) listAll() {
	users := c.srv.ListUsers()
	if len(users) == 0 {
		c.println("There are no connected users at the moment.")
		return
	}
	c.println("Connected users:")
	for _, u := range users {
		c.println(fmt.Sprintf("User: %s(%s), connected: %s", u.Name, u.RemoteAddr, u.ConnectedAt.Format(time.RFC1123)))
	}
}

func (c *Console) history(args []string) {
	user := ""
	if len(args) > 0 {
		user = args[0]
	}

	events, err := c.audit.Recent(user, HistoryLimit)
	if err != nil {
		if errors.Is(err, audit.ErrQueryUnsupported) {
			c.println("Audit history is not available.")
			return
		}
		c.println("Failed to read audit history: " + err.Error())
		return
	}
	if len(events) == 0 {
		c.println("No audit events recorded.")
		return
	}
	for _, ev := range events {
		c.println(fmt.Sprintf("%s  %-18s %-12s %-7s %s",
			ev.Timestamp.Local().Format("2006-01-02 15:04:05"), ev.Type, ev.User, ev.Result, ev.ClientIP))
	}
}

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
chatrelay CLI - Terminal chat client.

COMMANDS:
=========

	/register <name> [password]   Pick a name, optionally creating an account
	/login <name> <password>      Log in to an existing account
	@<name> <text>                Send a direct message
	<text>                        Send to everyone
	/logout                       Log out and exit
	/exit                         Close the connection and exit
	/help                         Show this list

Before logging in, a line without a leading slash is taken as the name
to register.

EXAMPLES:
=========

	# Connect to a local relay
	chatrelay-cli

	# Connect through the WebSocket gateway
	chatrelay-cli -ws ws://chat.example.com:8080/ws

	# Find a relay on the local network
	chatrelay-cli -discover

	# Administer a relay over gRPC
	chatrelay-cli -admin localhost:9097 users
	chatrelay-cli -admin localhost:9097 disconnect alice
*/
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"chatrelay/internal/banner"
	"chatrelay/internal/config"
	"chatrelay/internal/discovery"
	"chatrelay/internal/protocol"
	grpcadmin "chatrelay/internal/server/grpc"
	"chatrelay/pkg/cli"
	"chatrelay/pkg/client"
)

const (
	toolName = "chatrelay-cli"
	tagline  = "Terminal chat client"

	requestTimeout = 10 * time.Second
)

func main() {
	host := flag.String("host", "localhost", "Relay host")
	port := flag.Int("port", config.DefaultPort, "Relay port")
	wsURL := flag.String("ws", "", "Connect through the WebSocket gateway at this URL")
	discover := flag.Bool("discover", false, "Find a relay on the local network")
	adminAddr := flag.String("admin", "", "gRPC admin address; remaining arguments name the admin command")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	version := flag.Bool("version", false, "Show version information")
	flag.Usage = printUsage
	flag.Parse()

	if *noColor {
		cli.SetColorsEnabled(false)
	}
	if *version {
		banner.PrintVersionTo(os.Stdout, toolName, tagline)
		return
	}

	if *adminAddr != "" {
		if err := runAdmin(*adminAddr, flag.Args()); err != nil {
			cli.Error("%v", err)
			os.Exit(1)
		}
		return
	}

	if *discover {
		addr, err := discoverRelay()
		if err != nil {
			cli.Error("%v", err)
			os.Exit(1)
		}
		h, p, _ := net.SplitHostPort(addr)
		*host = h
		*port, _ = strconv.Atoi(p)
	}

	chat, target, err := connect(*host, *port, *wsURL)
	if err != nil {
		cli.ErrorWithHint(fmt.Sprintf("Unable to connect to %s: %v", target, err), "Check that the relay is running, or try -discover")
		os.Exit(1)
	}
	defer chat.Close()

	cli.Success("Successfully connected to: %s", target)
	fmt.Println("Enter your username:")

	if err := run(chat, os.Stdin, os.Stdout); err != nil {
		cli.Error("Lost connection with server: %v", err)
		os.Exit(1)
	}
}

func printUsage() {
	banner.PrintTo(os.Stdout, toolName, tagline)
	fmt.Println(cli.Bold + "Usage:" + cli.Reset + " " + toolName + " [options] [admin command]")
	fmt.Println()
	fmt.Println(cli.Bold + cli.Cyan + "OPTIONS" + cli.Reset)
	fmt.Println()
	fmt.Println("    " + cli.Green + "-host" + cli.Reset + " <host>        Relay host (default: localhost)")
	fmt.Println("    " + cli.Green + "-port" + cli.Reset + " <port>        Relay port (default: 2222)")
	fmt.Println("    " + cli.Green + "-ws" + cli.Reset + " <url>           Use the WebSocket gateway instead of TCP")
	fmt.Println("    " + cli.Green + "-discover" + cli.Reset + "           Connect to the first relay found over mDNS")
	fmt.Println("    " + cli.Green + "-admin" + cli.Reset + " <addr>       Run an admin command against the gRPC service")
	fmt.Println("    " + cli.Green + "-no-color" + cli.Reset + "           Disable colored output")
	fmt.Println("    " + cli.Green + "-version" + cli.Reset + "            Show version information")
	fmt.Println()
	fmt.Println(cli.Bold + cli.Cyan + "CHAT COMMANDS" + cli.Reset)
	fmt.Println()
	printCommands(os.Stdout)
	fmt.Println()
	fmt.Println(cli.Bold + cli.Cyan + "ADMIN COMMANDS" + cli.Reset)
	fmt.Println()
	fmt.Println("    users                   List connected users")
	fmt.Println("    disconnect <name>       Disconnect a user")
	fmt.Println("    health                  Show the serving status")
	fmt.Println()
}

func printCommands(w io.Writer) {
	fmt.Fprintln(w, "    /register <name> [pass] Pick a name, optionally creating an account")
	fmt.Fprintln(w, "    /login <name> <pass>    Log in to an existing account")
	fmt.Fprintln(w, "    @<name> <text>          Send a direct message")
	fmt.Fprintln(w, "    <text>                  Send to everyone")
	fmt.Fprintln(w, "    /logout                 Log out and exit")
	fmt.Fprintln(w, "    /exit                   Close the connection and exit")
	fmt.Fprintln(w, "    /help                   Show this list")
}

func connect(host string, port int, wsURL string) (client.Chat, string, error) {
	if wsURL != "" {
		c, err := client.DialWS(context.Background(), wsURL, client.ClientOptions{})
		return c, wsURL, err
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	c, err := client.NewClient(addr)
	return c, addr, err
}

func discoverRelay() (string, error) {
	// The mDNS library logs IPv6 errors that are not critical.
	log.SetOutput(io.Discard)

	cli.Info("Scanning for chat relays on the network...")
	relays, err := discovery.Discover(3 * time.Second)
	if err != nil {
		return "", fmt.Errorf("discovery failed: %w", err)
	}
	if len(relays) == 0 {
		return "", fmt.Errorf("no chat relays found on the network")
	}
	r := relays[0]
	cli.Info("Using %s at %s", r.Instance, r.Addr)
	return r.Addr, nil
}

// commandKind classifies one line of user input.
type commandKind int

const (
	cmdNone commandKind = iota
	cmdRegister
	cmdLogin
	cmdLogout
	cmdExit
	cmdHelp
	cmdDirect
	cmdBroadcast
	cmdInvalid
)

type command struct {
	kind commandKind
	args []string
	text string
}

// parseCommand interprets a line of input. loggedIn decides how a bare
// line is read.
func parseCommand(line string, loggedIn bool) command {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{kind: cmdNone}
	}

	if strings.HasPrefix(line, "@") {
		name, text, _ := strings.Cut(line[1:], " ")
		text = strings.TrimSpace(text)
		if name == "" || text == "" {
			return command{kind: cmdInvalid, text: "Usage: @<name> <text>"}
		}
		return command{kind: cmdDirect, args: []string{name}, text: text}
	}

	if !strings.HasPrefix(line, "/") {
		if loggedIn {
			return command{kind: cmdBroadcast, text: line}
		}
		return command{kind: cmdRegister, args: strings.Fields(line)[:1]}
	}

	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "/register":
		if len(fields) < 2 || len(fields) > 3 {
			return command{kind: cmdInvalid, text: "Usage: /register <name> [password]"}
		}
		return command{kind: cmdRegister, args: fields[1:]}
	case "/login":
		if len(fields) != 3 {
			return command{kind: cmdInvalid, text: "Usage: /login <name> <password>"}
		}
		return command{kind: cmdLogin, args: fields[1:]}
	case "/logout":
		return command{kind: cmdLogout}
	case "/exit", "/quit":
		return command{kind: cmdExit}
	case "/help":
		return command{kind: cmdHelp}
	default:
		return command{kind: cmdInvalid, text: "Invalid command. Enter /help for the list of commands."}
	}
}

// run drives an interactive session until the server ends it, the user
// exits or input runs out.
func run(chat client.Chat, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	events := chat.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return chat.Err()
			}
			printEvent(out, ev)

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch execute(chat, parseCommand(line, chat.Username() != ""), out) {
			case actionQuit:
				return nil
			case actionDrain:
				// The server flushes queued messages before ending the session.
				for ev := range events {
					printEvent(out, ev)
				}
				return chat.Err()
			}
		}
	}
}

func printEvent(out io.Writer, ev client.Event) {
	switch {
	case ev.Control():
		fmt.Fprintln(out, cli.Notice(client.ControlText(ev.Text)))
	case ev.Type == client.EventError:
		fmt.Fprintln(out, cli.Notice("Server error: "+ev.Text))
	default:
		fmt.Fprintln(out, cli.Message(ev.Text))
	}
}

type action int

const (
	actionContinue action = iota
	actionQuit
	actionDrain
)

// execute performs one command and reports what the session does next.
func execute(chat client.Chat, cmd command, out io.Writer) action {
	switch cmd.kind {
	case cmdNone:
	case cmdInvalid:
		fmt.Fprintln(out, cmd.text)
	case cmdHelp:
		printCommands(out)
	case cmdExit:
		return actionQuit
	case cmdRegister, cmdLogin:
		authenticate(chat, cmd, out)
	case cmdLogout:
		if err := chat.Logout(); err != nil {
			fmt.Fprintln(out, "Logout failed: "+err.Error())
			return actionContinue
		}
		return actionDrain
	case cmdDirect:
		send(chat, cmd.text, cmd.args[0], out)
	case cmdBroadcast:
		send(chat, cmd.text, protocol.BroadcastRecipient, out)
	}
	return actionContinue
}

func authenticate(chat client.Chat, cmd command, out io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var (
		code protocol.ResultCode
		err  error
	)
	if cmd.kind == cmdLogin {
		code, err = chat.Login(ctx, cmd.args[0], cmd.args[1])
	} else {
		password := ""
		if len(cmd.args) > 1 {
			password = cmd.args[1]
		}
		code, err = chat.Register(ctx, cmd.args[0], password)
	}
	if err != nil {
		fmt.Fprintln(out, err.Error())
		return
	}
	fmt.Fprintln(out, client.ResultText(code))
	if code == protocol.ResultSuccess {
		fmt.Fprintln(out, "Enter your message:")
	}
}

func send(chat client.Chat, text, recipient string, out io.Writer) {
	if chat.Username() == "" {
		fmt.Fprintln(out, "Log in first with /register or /login.")
		return
	}
	if err := chat.Send(text, recipient); err != nil {
		fmt.Fprintln(out, "Send failed: "+err.Error())
	}
}

func runAdmin(addr string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("admin command required: users, disconnect <name> or health")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close()
	admin := grpcadmin.NewAdminClient(conn)

	switch args[0] {
	case "users":
		users, err := admin.ListUsers(ctx)
		if err != nil {
			return err
		}
		if len(users.GetValues()) == 0 {
			cli.Info("There are no connected users at the moment.")
			return nil
		}
		text, err := grpcadmin.FormatUsers(users)
		if err != nil {
			return err
		}
		fmt.Println(text)
	case "disconnect":
		if len(args) != 2 {
			return fmt.Errorf("usage: disconnect <name>")
		}
		if err := admin.Disconnect(ctx, args[1]); err != nil {
			return err
		}
		cli.Success("%s disconnected.", args[1])
	case "health":
		status, err := admin.Health(ctx)
		if err != nil {
			return err
		}
		cli.KeyValue("Status", status.String())
	default:
		return fmt.Errorf("unknown admin command %q", args[0])
	}
	return nil
}

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
Package cli provides shared terminal utilities for the chatrelay tools.

COLORS:
=======
ANSI escape codes for terminal text formatting:
- Reset, Bold, Dim
- Foreground: Red, Green, Yellow, Blue, Cyan

STATUS LINES:
=============
Success, Error, Warning and Info print one line prefixed with an icon.
Errors go to the error stream, everything else to the output stream.

CHAT LINES:
===========
Message highlights the "sender:" prefix of a relayed chat line. Notice
renders system texts such as "bob is not connected." dimmed.

USAGE:
======

	cli.Success("Successfully connected to: %s", addr)
	fmt.Println(cli.Message("alice: hi"))

Colors are automatically disabled when output is not a TTY or NO_COLOR is set.
*/
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// ANSI color codes for terminal output.
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
)

// Icons for CLI output
const (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "⚠"
	IconInfo    = "ℹ"
	IconArrow   = "→"
)

var (
	colorsEnabled = true

	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
	}
	if fileInfo, err := os.Stdout.Stat(); err != nil || (fileInfo.Mode()&os.ModeCharDevice) == 0 {
		colorsEnabled = false
	}
}

// SetColorsEnabled enables or disables color output.
func SetColorsEnabled(enabled bool) {
	colorsEnabled = enabled
}

// SetOutput redirects status lines. Nil writers leave the stream unchanged.
func SetOutput(stdout, stderr io.Writer) {
	if stdout != nil {
		out = stdout
	}
	if stderr != nil {
		errOut = stderr
	}
}

func colorize(color, text string) string {
	if !colorsEnabled {
		return text
	}
	return color + text + Reset
}

// Success prints a success message.
func Success(format string, args ...interface{}) {
	fmt.Fprintln(out, colorize(Green, IconSuccess+" "+fmt.Sprintf(format, args...)))
}

// Error prints an error message.
func Error(format string, args ...interface{}) {
	fmt.Fprintln(errOut, colorize(Red, IconError+" "+fmt.Sprintf(format, args...)))
}

// ErrorWithHint prints an error message with a helpful hint.
func ErrorWithHint(message string, hint string) {
	fmt.Fprintln(errOut, colorize(Red, IconError+" "+message))
	if hint != "" {
		fmt.Fprintln(errOut, colorize(Dim, "  "+IconArrow+" Hint: "+hint))
	}
}

// Warning prints a warning message.
func Warning(format string, args ...interface{}) {
	fmt.Fprintln(out, colorize(Yellow, IconWarning+" "+fmt.Sprintf(format, args...)))
}

// Info prints an info message.
func Info(format string, args ...interface{}) {
	fmt.Fprintln(out, colorize(Cyan, IconInfo+" "+fmt.Sprintf(format, args...)))
}

// KeyValue prints a key-value pair.
func KeyValue(key string, value interface{}) {
	fmt.Fprintf(out, "  %s: %v\n", colorize(Dim, key), value)
}

// Message highlights the sender of a relayed chat line. Lines without a
// "sender: " prefix are returned as a Notice.
func Message(line string) string {
	sender, text, ok := strings.Cut(line, ": ")
	if !ok || sender == "" || strings.ContainsAny(sender, " \t") {
		return Notice(line)
	}
	return colorize(Bold+Blue, sender+":") + " " + text
}

// Notice renders a system text.
func Notice(text string) string {
	return colorize(Dim, text)
}

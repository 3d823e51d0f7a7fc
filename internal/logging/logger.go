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
Package logging provides the leveled, component-scoped logger used by every
chatrelay package.

OUTPUT FORMATS:
===============
Text (default):

	2026-01-02T15:04:05.000Z [INFO ] [dispatch] Worker started worker=3

JSON (SetJSONMode(true)):

	{"timestamp":"...","level":"INFO","component":"dispatch","message":"Worker started","fields":{"worker":3}}

FIELDS:
=======
Trailing arguments are read as key/value pairs. Text output prints them
sorted by key so that lines are stable across runs. Loggers derived with
With carry their fields into every entry.
*/
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	// DEBUG level for detailed debugging information.
	DEBUG Level = iota
	// INFO level for general operational information.
	INFO
	// WARN level for warning conditions.
	WARN
	// ERROR level for error conditions.
	ERROR
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level. Unknown values map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Entry represents a single log entry with all its metadata.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Config holds logger configuration options.
type Config struct {
	Level    Level
	Output   io.Writer
	JSONMode bool
	Color    bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:    INFO,
		Output:   os.Stdout,
		JSONMode: false,
		Color:    true,
	}
}

var (
	globalConfig = DefaultConfig()
	globalMu     sync.RWMutex

	// writeMu serializes writes from all loggers so lines never interleave.
	writeMu sync.Mutex
)

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig.Level = level
}

// SetGlobalOutput sets the global log output.
func SetGlobalOutput(w io.Writer) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig.Output = w
}

// SetJSONMode enables or disables JSON output mode.
func SetJSONMode(enabled bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig.JSONMode = enabled
}

// SetColor enables or disables ANSI colors in text mode.
func SetColor(enabled bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig.Color = enabled
}

// Logger writes entries for one component.
type Logger struct {
	component string
	fields    []interface{}
}

// NewLogger creates a new Logger for the specified component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// Component returns the component name attached to every entry.
func (l *Logger) Component() string {
	return l.component
}

// With returns a child logger that adds the given key/value pairs to every entry.
func (l *Logger) With(args ...interface{}) *Logger {
	fields := make([]interface{}, 0, len(l.fields)+len(args))
	fields = append(fields, l.fields...)
	fields = append(fields, args...)
	return &Logger{component: l.component, fields: fields}
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	globalMu.RLock()
	cfg := globalConfig
	globalMu.RUnlock()

	if level < cfg.Level || cfg.Output == nil {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Component: l.component,
		Message:   msg,
		Fields:    buildFields(l.fields, args),
	}

	writeMu.Lock()
	defer writeMu.Unlock()

	if cfg.JSONMode {
		writeJSON(cfg.Output, entry)
	} else {
		writeText(cfg.Output, entry, cfg.Color)
	}
}

func buildFields(inherited, args []interface{}) map[string]interface{} {
	if len(inherited) == 0 && len(args) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, (len(inherited)+len(args))/2+1)
	addPairs(fields, inherited)
	addPairs(fields, args)
	return fields
}

func addPairs(fields map[string]interface{}, args []interface{}) {
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("arg%d", i)
		}
		if err, isErr := args[i+1].(error); isErr && err != nil {
			fields[key] = err.Error()
			continue
		}
		fields[key] = args[i+1]
	}
	if len(args)%2 != 0 {
		fields["extra"] = args[len(args)-1]
	}
}

func writeJSON(w io.Writer, entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(w, "ERROR: failed to marshal log entry: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(data))
}

func writeText(w io.Writer, entry Entry, color bool) {
	timestamp := entry.Timestamp.Format("2006-01-02T15:04:05.000Z")

	var b strings.Builder
	b.WriteString(timestamp)
	b.WriteByte(' ')
	if color {
		b.WriteString(levelColor(entry.Level))
	}
	fmt.Fprintf(&b, "[%-5s]", entry.Level)
	if color {
		b.WriteString("\033[0m")
	}
	fmt.Fprintf(&b, " [%s] %s", entry.Component, entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Fields[k])
	}

	fmt.Fprintln(w, b.String())
}

func levelColor(level string) string {
	switch level {
	case "DEBUG":
		return "\033[36m"
	case "INFO":
		return "\033[32m"
	case "WARN":
		return "\033[33m"
	case "ERROR":
		return "\033[31m"
	default:
		return "\033[0m"
	}
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(DEBUG, msg, args...)
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(INFO, msg, args...)
}

// Warn logs a message at WARN level.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(WARN, msg, args...)
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(ERROR, msg, args...)
}

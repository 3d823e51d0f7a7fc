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
Logging helpers for chat connections.

CONNECTION LOGGING:
===================
- New connection: connection ID, masked remote address, transport
- Connection closed: duration, close reason

SECURITY LOGGING:
=================
- Registration, login success and failure with the result code
- Operator-initiated disconnects

DELIVERY LOGGING:
=================
- Routing decisions at DEBUG
- Dropped deliveries at WARN (message text is never logged)
*/
package logging

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ConnectionLogger logs connection lifecycle events.
type ConnectionLogger struct {
	logger *Logger
}

// NewConnectionLogger creates a new connection logger.
func NewConnectionLogger(logger *Logger) *ConnectionLogger {
	return &ConnectionLogger{logger: logger}
}

// LogNewConnection logs an accepted client connection.
func (cl *ConnectionLogger) LogNewConnection(connID, remoteAddr, transport string) {
	cl.logger.Info("New client connection established",
		"connection_id", connID,
		"remote_addr", MaskIP(remoteAddr),
		"transport", transport,
	)
}

// LogConnectionClosed logs a closed client connection.
func (cl *ConnectionLogger) LogConnectionClosed(connID, username, reason string, duration time.Duration) {
	cl.logger.Info("Client connection closed",
		"connection_id", connID,
		"username", username,
		"reason", reason,
		"duration_ms", duration.Milliseconds(),
	)
}

// SecurityLogger logs authentication events.
type SecurityLogger struct {
	logger *Logger
}

// NewSecurityLogger creates a new security logger.
func NewSecurityLogger(logger *Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger}
}

// LogAuthSuccess logs a successful register or login.
func (sl *SecurityLogger) LogAuthSuccess(username, method, remoteAddr string) {
	sl.logger.Info("Authentication successful",
		"username", username,
		"method", method,
		"remote_addr", MaskIP(remoteAddr),
	)
}

// LogAuthFailure logs a rejected register or login.
func (sl *SecurityLogger) LogAuthFailure(username, method string, code int, remoteAddr string) {
	sl.logger.Warn("Authentication failed",
		"username", username,
		"method", method,
		"code", code,
		"remote_addr", MaskIP(remoteAddr),
	)
}

// LogForcedDisconnect logs an operator-initiated disconnect.
func (sl *SecurityLogger) LogForcedDisconnect(username, initiatedBy string) {
	sl.logger.Info("User disconnect requested",
		"username", username,
		"initiated_by", initiatedBy,
	)
}

// DeliveryLogger logs dispatcher routing outcomes.
type DeliveryLogger struct {
	logger *Logger
}

// NewDeliveryLogger creates a new delivery logger.
func NewDeliveryLogger(logger *Logger) *DeliveryLogger {
	return &DeliveryLogger{logger: logger}
}

// LogRouted logs where a message was routed.
func (dl *DeliveryLogger) LogRouted(messageID, sender, recipient string, targets int) {
	dl.logger.Debug("Message routed",
		"message_id", messageID,
		"sender", sender,
		"recipient", recipient,
		"targets", targets,
	)
}

// LogDropped logs a delivery that failed and was dropped.
func (dl *DeliveryLogger) LogDropped(messageID, recipient string, err error) {
	dl.logger.Warn("Delivery failed, message dropped",
		"message_id", messageID,
		"recipient", recipient,
		"error", err,
	)
}

// MaskIP partially masks IP addresses for privacy.
func MaskIP(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "unknown"
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return addr
	}

	if ip.To4() != nil {
		parts := strings.Split(host, ".")
		if len(parts) == 4 {
			return fmt.Sprintf("%s.%s.*.*:%s", parts[0], parts[1], port)
		}
	}

	// IPv6: keep the first two groups
	groups := strings.Split(ip.String(), ":")
	if len(groups) >= 2 {
		return fmt.Sprintf("[%s:%s::*]:%s", groups[0], groups[1], port)
	}
	return addr
}

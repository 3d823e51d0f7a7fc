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
Package protocol defines the chatrelay wire protocol.

FRAME FORMAT:
=============
Every frame consists of a fixed 8-byte header followed by a field list:

	+-------+-------+-------+-------+-------+-------+-------+-------+
	| Magic | Ver   | Op    | Flags | Length (4 bytes, big-endian) |
	+-------+-------+-------+-------+-------+-------+-------+-------+
	|                  Field list (Length bytes)                    |
	+---------------------------------------------------------------+

HEADER FIELDS:
==============
- Magic (1 byte): 0xAF
- Version (1 byte): Protocol version (currently 0x01)
- Op (1 byte): Operation code (see OpCode constants)
- Flags (1 byte): Reserved, always zero
- Length (4 bytes): Payload length in bytes (big-endian)

FIELD LIST:
===========

	[uint16 count] { [uint32 length][UTF-8 bytes] } * count

Fields are length-delimited, so user text never needs escaping and
cannot break framing.

OPERATIONS:
===========

	Op    Name       Fields                      Direction
	0x01  REGISTER   username [password]         client -> server
	0x02  LOGIN      username password           client -> server
	0x03  MESSAGE    text recipient              client -> server
	0x04  LOGOUT     username                    client -> server
	0x10  RESULT     code                        server -> client
	0x11  PUSH       text                        server -> client
	0xFF  ERROR      text                        server -> client

The recipient "/all" addresses every connected user except the sender.

RESULT CODES:
=============
0 success, 1 name in use, 2 too short, 3 reserved name, 4 bad first
character, 5 failed login, 6 already logged in, 7 already registered.

END OF STREAM:
==============
A stream that ends inside a frame is reported as io.EOF, the same as a
stream that ends between frames. Callers treat both as a closed connection.
*/
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	// MagicByte identifies a chatrelay frame.
	MagicByte byte = 0xAF

	// ProtocolVersion is the current wire version.
	ProtocolVersion byte = 0x01

	// HeaderSize is the fixed size of every frame header.
	HeaderSize = 8

	// MaxPayloadSize bounds the field list of a single frame.
	MaxPayloadSize = 64 * 1024
)

// BroadcastRecipient is the recipient value that addresses all connected users.
const BroadcastRecipient = "/all"

// OpCode identifies the operation carried by a frame.
type OpCode byte

const (
	OpRegister OpCode = 0x01
	OpLogin    OpCode = 0x02
	OpMessage  OpCode = 0x03
	OpLogout   OpCode = 0x04

	OpResult OpCode = 0x10
	OpPush   OpCode = 0x11

	OpError OpCode = 0xFF
)

// String returns the wire name of the operation.
func (op OpCode) String() string {
	switch op {
	case OpRegister:
		return "REGISTER"
	case OpLogin:
		return "LOGIN"
	case OpMessage:
		return "MESSAGE"
	case OpLogout:
		return "LOGOUT"
	case OpResult:
		return "RESULT"
	case OpPush:
		return "PUSH"
	case OpError:
		return "ERROR"
	default:
		return fmt.Sprintf("OP(0x%02X)", byte(op))
	}
}

// arity lists the minimum and maximum field count for each operation.
var arity = map[OpCode][2]int{
	OpRegister: {1, 2},
	OpLogin:    {2, 2},
	OpMessage:  {2, 2},
	OpLogout:   {1, 1},
	OpResult:   {1, 1},
	OpPush:     {1, 1},
	OpError:    {1, 1},
}

// ResultCode is the outcome of a REGISTER or LOGIN request.
type ResultCode int

const (
	ResultSuccess           ResultCode = 0
	ResultNameInUse         ResultCode = 1
	ResultTooShort          ResultCode = 2
	ResultReservedName      ResultCode = 3
	ResultBadFirstChar      ResultCode = 4
	ResultFailedLogin       ResultCode = 5
	ResultAlreadyLoggedIn   ResultCode = 6
	ResultAlreadyRegistered ResultCode = 7
)

// String returns a short identifier for the result code.
func (c ResultCode) String() string {
	switch c {
	case ResultSuccess:
		return "success"
	case ResultNameInUse:
		return "name_in_use"
	case ResultTooShort:
		return "too_short"
	case ResultReservedName:
		return "reserved_name"
	case ResultBadFirstChar:
		return "bad_first_char"
	case ResultFailedLogin:
		return "failed_login"
	case ResultAlreadyLoggedIn:
		return "already_logged_in"
	case ResultAlreadyRegistered:
		return "already_registered"
	default:
		return "unknown"
	}
}

// Header is the fixed-size header that precedes every frame.
type Header struct {
	Magic   byte
	Version byte
	Op      OpCode
	Flags   byte
	Length  uint32
}

// Frame is one decoded protocol unit.
type Frame struct {
	Op     OpCode
	Fields []string
}

// Field returns the i-th field or "" when absent.
func (f *Frame) Field(i int) string {
	if i < 0 || i >= len(f.Fields) {
		return ""
	}
	return f.Fields[i]
}

// ResultCode parses the code carried by a RESULT frame.
func (f *Frame) ResultCode() (ResultCode, error) {
	if f.Op != OpResult {
		return 0, fmt.Errorf("%w: %s is not a result frame", ErrMalformedFrame, f.Op)
	}
	n, err := strconv.Atoi(f.Field(0))
	if err != nil {
		return 0, fmt.Errorf("%w: result code %q", ErrMalformedFrame, f.Field(0))
	}
	return ResultCode(n), nil
}

// Protocol errors returned during frame parsing.
var (
	// ErrInvalidMagic indicates the peer is not speaking this protocol.
	ErrInvalidMagic = errors.New("invalid magic byte")

	// ErrInvalidVersion indicates an unsupported protocol version.
	ErrInvalidVersion = errors.New("invalid protocol version")

	// ErrMessageTooLarge indicates the payload exceeds MaxPayloadSize.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrUnknownOp indicates an operation code outside the table above.
	ErrUnknownOp = errors.New("unknown operation")

	// ErrMalformedFrame indicates a payload that does not decode into the
	// field list required by its operation.
	ErrMalformedFrame = errors.New("malformed frame")
)

// ReadHeader reads and validates a frame header.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}

	h := Header{
		Magic:   buf[0],
		Version: buf[1],
		Op:      OpCode(buf[2]),
		Flags:   buf[3],
		Length:  binary.BigEndian.Uint32(buf[4:]),
	}

	if h.Magic != MagicByte {
		return Header{}, ErrInvalidMagic
	}
	if h.Version != ProtocolVersion {
		return Header{}, ErrInvalidVersion
	}
	if h.Length > MaxPayloadSize {
		return Header{}, ErrMessageTooLarge
	}
	return h, nil
}

// WriteHeader writes a frame header.
func WriteHeader(w io.Writer, h Header) error {
	buf := make([]byte, HeaderSize)
	putHeader(buf, h)
	_, err := w.Write(buf)
	return err
}

func putHeader(buf []byte, h Header) {
	buf[0] = h.Magic
	buf[1] = h.Version
	buf[2] = byte(h.Op)
	buf[3] = h.Flags
	binary.BigEndian.PutUint32(buf[4:], h.Length)
}

// ReadFrame reads one complete frame.
//
// A stream that ends anywhere inside the frame returns io.EOF. Header
// validation errors, unknown operations and bad field lists return the
// matching protocol error.
func ReadFrame(r io.Reader) (*Frame, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, normalizeEOF(err)
	}

	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, normalizeEOF(err)
	}

	fields, err := DecodeFields(payload)
	if err != nil {
		return nil, err
	}

	f := &Frame{Op: h.Op, Fields: fields}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// EncodeFrame serializes a frame into header and field list.
func EncodeFrame(f *Frame) ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	payload, err := EncodeFields(f.Fields)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderSize+len(payload))
	putHeader(buf, Header{
		Magic:   MagicByte,
		Version: ProtocolVersion,
		Op:      f.Op,
		Length:  uint32(len(payload)),
	})
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// WriteFrame encodes f and writes it with a single Write call.
func WriteFrame(w io.Writer, f *Frame) error {
	buf, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// WriteError sends an ERROR frame carrying err's text.
func WriteError(w io.Writer, err error) error {
	return WriteFrame(w, Error(err.Error()))
}

func (f *Frame) validate() error {
	bounds, ok := arity[f.Op]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOp, f.Op)
	}
	if n := len(f.Fields); n < bounds[0] || n > bounds[1] {
		return fmt.Errorf("%w: %s expects %d-%d fields, got %d", ErrMalformedFrame, f.Op, bounds[0], bounds[1], n)
	}
	return nil
}

func normalizeEOF(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

// Register builds a REGISTER frame. An empty password is omitted.
func Register(username, password string) *Frame {
	if password == "" {
		return &Frame{Op: OpRegister, Fields: []string{username}}
	}
	return &Frame{Op: OpRegister, Fields: []string{username, password}}
}

// Login builds a LOGIN frame.
func Login(username, password string) *Frame {
	return &Frame{Op: OpLogin, Fields: []string{username, password}}
}

// Chat builds a MESSAGE frame.
func Chat(text, recipient string) *Frame {
	return &Frame{Op: OpMessage, Fields: []string{text, recipient}}
}

// Logout builds a LOGOUT frame.
func Logout(username string) *Frame {
	return &Frame{Op: OpLogout, Fields: []string{username}}
}

// Result builds a RESULT frame.
func Result(code ResultCode) *Frame {
	return &Frame{Op: OpResult, Fields: []string{strconv.Itoa(int(code))}}
}

// Push builds a PUSH frame.
func Push(text string) *Frame {
	return &Frame{Op: OpPush, Fields: []string{text}}
}

// Error builds an ERROR frame.
func Error(text string) *Frame {
	return &Frame{Op: OpError, Fields: []string{text}}
}

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
Field list encoding.

FORMAT:
=======

	[2 bytes] field count (uint16, big-endian)
	repeated count times:
	  [4 bytes] field length (uint32, big-endian)
	  [N bytes] field value (UTF-8)

Decoding rejects truncated fields, trailing bytes and invalid UTF-8.
*/
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// EncodeFields serializes a field list.
func EncodeFields(fields []string) ([]byte, error) {
	if len(fields) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d fields", ErrMalformedFrame, len(fields))
	}

	size := 2
	for _, f := range fields {
		if !utf8.ValidString(f) {
			return nil, fmt.Errorf("%w: field is not valid UTF-8", ErrMalformedFrame)
		}
		size += 4 + len(f)
	}
	if size > MaxPayloadSize {
		return nil, ErrMessageTooLarge
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf, uint16(len(fields)))
	offset := 2
	for _, f := range fields {
		binary.BigEndian.PutUint32(buf[offset:], uint32(len(f)))
		offset += 4
		offset += copy(buf[offset:], f)
	}
	return buf, nil
}

// DecodeFields parses a field list produced by EncodeFields.
func DecodeFields(data []byte) ([]string, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: missing field count", ErrMalformedFrame)
	}

	count := int(binary.BigEndian.Uint16(data))
	offset := 2
	fields := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("%w: truncated length of field %d", ErrMalformedFrame, i)
		}
		n := int(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
		if n > len(data)-offset {
			return nil, fmt.Errorf("%w: truncated field %d", ErrMalformedFrame, i)
		}
		value := data[offset : offset+n]
		if !utf8.Valid(value) {
			return nil, fmt.Errorf("%w: field %d is not valid UTF-8", ErrMalformedFrame, i)
		}
		fields = append(fields, string(value))
		offset += n
	}

	if offset != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, len(data)-offset)
	}
	return fields, nil
}

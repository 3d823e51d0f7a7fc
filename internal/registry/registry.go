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
Package registry maps connected usernames to their sessions.

OVERVIEW:
=========
The registry is the only state that every connection mutates. All access
goes through TryRegister, Remove, Release, Lookup and Snapshot; the map
itself never leaves the package.

INVARIANTS:
===========
- At most one session per username at any time.
- TryRegister is a single check-and-set under the write lock, so two
  concurrent registrations of the same name cannot both succeed.
- Snapshot returns a copy. Broadcast iterates the copy while other
  connections keep registering and leaving.

NAME RULES:
===========
A username must start with an ASCII letter, be at least MinNameLength
characters long and must not be one of the reserved names (compared
case-insensitively).
*/
package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"chatrelay/internal/session"
)

// MinNameLength is the shortest accepted username.
const MinNameLength = 3

// ReservedNames cannot be registered by clients.
var ReservedNames = []string{"admin", "administrator"}

// Name validation errors.
var (
	ErrBadFirstChar = errors.New("username must start with an english letter")
	ErrTooShort     = errors.New("username is too short")
	ErrReservedName = errors.New("username is reserved")
)

// Result is the outcome of TryRegister.
type Result int

const (
	Registered Result = iota
	InUse
	Invalid
)

// String returns a short identifier for the result.
func (r Result) String() string {
	switch r {
	case Registered:
		return "registered"
	case InUse:
		return "in_use"
	default:
		return "invalid"
	}
}

// ValidateName checks the username rules in the order clients see them:
// first character, then length, then reserved names.
func ValidateName(name string) error {
	if name == "" || !isASCIILetter(name[0]) {
		return ErrBadFirstChar
	}
	if len([]rune(name)) < MinNameLength {
		return ErrTooShort
	}
	if IsReserved(name) {
		return ErrReservedName
	}
	return nil
}

// IsReserved reports whether name is one of ReservedNames.
func IsReserved(name string) bool {
	for _, r := range ReservedNames {
		if strings.EqualFold(name, r) {
			return true
		}
	}
	return false
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Registry is a concurrency-safe username to session map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]session.Session)}
}

// TryRegister inserts s under name if the name is valid and free.
func (r *Registry) TryRegister(name string, s session.Session) Result {
	if s == nil || ValidateName(name) != nil {
		return Invalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[name]; exists {
		return InUse
	}
	r.sessions[name] = s
	return Registered
}

// Remove deletes name. Removing an absent name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, name)
}

// Release removes s only if it is still the session registered under its
// name, and reports whether it did.
func (r *Registry) Release(s session.Session) bool {
	if s == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if current, ok := r.sessions[name]; ok && current == s {
		delete(r.sessions, name)
		return true
	}
	return false
}

// Lookup returns the session registered under name.
func (r *Registry) Lookup(name string) (session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Snapshot returns the registered sessions sorted by name.
func (r *Registry) Snapshot() []session.Session {
	r.mu.RLock()
	out := make([]session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

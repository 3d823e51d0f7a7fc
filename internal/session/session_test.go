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

package session

import (
	"testing"
	"time"
)

type baseSession struct {
	*Base
}

func (s *baseSession) Deliver(uint64, string) error { return nil }
func (s *baseSession) Close() error                 { s.Turnstile.Close(); return nil }

func TestBase(t *testing.T) {
	before := time.Now()
	b := NewBase("tcp", "127.0.0.1:4000")

	if b.ID() == "" {
		t.Error("Expected an ID")
	}
	if NewBase("tcp", "x").ID() == b.ID() {
		t.Error("Expected unique IDs")
	}
	if b.Name() != "" {
		t.Errorf("Expected empty name before authentication, got %q", b.Name())
	}
	b.SetName("alice")
	if b.Name() != "alice" {
		t.Errorf("Expected alice, got %q", b.Name())
	}
	if b.ConnectedAt().Before(before) {
		t.Error("Expected ConnectedAt to be set at creation")
	}
	if b.Reserve() != 0 || b.Reserve() != 1 {
		t.Error("Expected embedded turnstile tickets to start at zero")
	}
}

func TestDescribe(t *testing.T) {
	var s Session = &baseSession{Base: NewBase("ws", "10.0.0.1:9")}
	s.(*baseSession).SetName("bob")

	info := Describe(s)
	if info.Name != "bob" || info.Transport != "ws" || info.RemoteAddr != "10.0.0.1:9" {
		t.Errorf("Unexpected info %+v", info)
	}
	if info.ID != s.ID() {
		t.Errorf("Expected ID %s, got %s", s.ID(), info.ID)
	}
}

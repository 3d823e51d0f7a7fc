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

import "sync"

// Turnstile admits writers in ticket order. The zero value is ready to use.
//
// Tickets are handed out by Reserve; Do runs fn only once every lower
// ticket has finished. After Close, pending and future Do calls return
// ErrClosed without running fn.
type Turnstile struct {
	mu     sync.Mutex
	cond   *sync.Cond
	next   uint64
	turn   uint64
	closed bool
}

// Reserve returns the next ticket.
func (t *Turnstile) Reserve() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.next
	t.next++
	return n
}

// Do waits for ticket's turn, runs fn, then admits the next ticket.
func (t *Turnstile) Do(ticket uint64, fn func() error) error {
	t.mu.Lock()
	if t.cond == nil {
		t.cond = sync.NewCond(&t.mu)
	}
	for t.turn != ticket && !t.closed {
		t.cond.Wait()
	}
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	err := fn()

	t.mu.Lock()
	t.turn++
	t.cond.Broadcast()
	t.mu.Unlock()
	return err
}

// Close releases every waiter. It is safe to call more than once.
func (t *Turnstile) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.cond != nil {
		t.cond.Broadcast()
	}
}

// Closed reports whether Close has been called.
func (t *Turnstile) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

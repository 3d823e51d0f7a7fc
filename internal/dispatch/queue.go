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

package dispatch

import "sync"

// queue is an unbounded FIFO shared by all producers and workers.
//
// close is the stop signal: once closed, push fails, and pop returns
// false as soon as the remaining items are gone.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*Message
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(m *Message) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return len(q.items), ErrStopped
	}
	q.items = append(q.items, m)
	q.cond.Signal()
	return len(q.items), nil
}

// pop blocks until an item is available or the queue is closed and empty.
// claim runs under the queue lock, so claims happen in FIFO order.
func (q *queue) pop(claim func(*Message) *job) (*job, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, 0, false
	}

	m := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return claim(m), len(q.items), true
}

// close stops the queue. With discard set, queued items are dropped and
// their count returned.
func (q *queue) close(discard bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := 0
	if discard {
		dropped = len(q.items)
		q.items = nil
	}
	q.closed = true
	q.cond.Broadcast()
	return dropped
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

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
Package dispatch routes chat messages from producers to recipients.

OVERVIEW:
=========
Connection handlers enqueue Messages and return immediately. A fixed pool
of workers pulls them in FIFO order and performs the blocking writes, so a
slow recipient never stalls the sender's read loop.

ROUTING:
========
Routing runs while the queue lock is held, in dequeue order:

	recipient "/all"        every registered session except the sender
	recipient present       that session
	recipient absent        "<recipient> is not connected." to the sender
	control message         the target session, then teardown

Every routed delivery takes a ticket on the target session. Sessions admit
writes in ticket order, which keeps per-recipient delivery in global queue
order even though several workers write at once.

CONTROL MESSAGES:
=================
Logout, disconnect and shutdown push their name ("logout", "disconnect",
"shutdown") to the target, then the worker that dequeued the message
removes the session from the registry and closes it.

SHUTDOWN:
=========
- StopDrain:     refuse new work, deliver everything queued, stop workers
- StopImmediate: refuse new work, discard the queue, stop workers

Closing the queue wakes every idle worker. Workers finish the message they
hold before exiting.

FAILURES:
=========
A failed write is logged, counted and dropped. There is no retry. For a
direct message the sender is told "Failed to send message to: <name>".
*/
package dispatch

import (
	"errors"
	"sync"
	"time"

	"chatrelay/internal/logging"
	"chatrelay/internal/metrics"
	"chatrelay/internal/registry"
	"chatrelay/internal/session"
)

// DefaultWorkers is the worker pool size used when Options.Workers is zero.
const DefaultWorkers = 10

var (
	// ErrStopped is returned by Enqueue once Stop has been called.
	ErrStopped = errors.New("dispatcher stopped")

	// ErrInvalidMessage is returned for messages whose kind and control
	// code disagree.
	ErrInvalidMessage = errors.New("invalid message")
)

// StopMode selects how queued work is handled on shutdown.
type StopMode int

const (
	StopDrain StopMode = iota
	StopImmediate
)

// String returns the log name of the mode.
func (m StopMode) String() string {
	if m == StopImmediate {
		return "immediate"
	}
	return "drain"
}

// Options configures a Dispatcher.
type Options struct {
	Workers int
	Metrics *metrics.Metrics

	// OnTeardown, if set, runs in the worker after a control message has
	// closed its target session.
	OnTeardown func(s session.Session, code ControlCode)
}

type delivery struct {
	target session.Session
	ticket uint64
	text   string
	notice bool
}

type job struct {
	msg          *Message
	deliveries   []delivery
	teardown     session.Session
	direct       bool
	notConnected bool
}

func (j *job) add(s session.Session, text string, notice bool) {
	j.deliveries = append(j.deliveries, delivery{
		target: s,
		ticket: s.Reserve(),
		text:   text,
		notice: notice,
	})
}

// Dispatcher owns the message queue and its worker pool.
type Dispatcher struct {
	registry *registry.Registry
	opts     Options
	q        *queue

	logger      *logging.Logger
	deliveryLog *logging.DeliveryLogger

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	dropped   int
}

// New creates a dispatcher that routes through reg.
func New(reg *registry.Registry, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	logger := logging.NewLogger("dispatch")
	return &Dispatcher{
		registry:    reg,
		opts:        opts,
		q:           newQueue(),
		logger:      logger,
		deliveryLog: logging.NewDeliveryLogger(logger),
	}
}

// Start launches the worker pool. Calling Start more than once has no effect.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.logger.Info("Starting dispatcher", "workers", d.opts.Workers)
		for i := 0; i < d.opts.Workers; i++ {
			d.wg.Add(1)
			go d.worker(i)
		}
	})
}

// Enqueue appends m to the queue. It fails with ErrStopped after Stop.
func (d *Dispatcher) Enqueue(m *Message) error {
	if err := validate(m); err != nil {
		return err
	}

	depth, err := d.q.push(m)
	if err != nil {
		d.opts.Metrics.MessageRejected()
		return err
	}
	d.opts.Metrics.MessageEnqueued(m.Kind.String())
	d.opts.Metrics.SetQueueDepth(depth)
	return nil
}

// Pending returns the number of queued messages.
func (d *Dispatcher) Pending() int {
	return d.q.len()
}

// Stop refuses new work, handles queued work according to mode and waits
// for every worker to exit. It returns the number of discarded messages.
func (d *Dispatcher) Stop(mode StopMode) int {
	d.stopOnce.Do(func() {
		d.logger.Info("Stopping dispatcher", "mode", mode, "pending", d.q.len())
		d.dropped = d.q.close(mode == StopImmediate)
		if d.dropped > 0 {
			d.logger.Warn("Discarded queued messages", "count", d.dropped)
		}
	})
	d.wg.Wait()
	d.opts.Metrics.SetQueueDepth(0)
	return d.dropped
}

func validate(m *Message) error {
	if m == nil {
		return ErrInvalidMessage
	}
	switch m.Kind {
	case KindRegular:
		if m.Code != ControlNone {
			return ErrInvalidMessage
		}
	case KindControl:
		if m.Code == ControlNone {
			return ErrInvalidMessage
		}
	default:
		return ErrInvalidMessage
	}
	return nil
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		j, depth, ok := d.q.pop(d.route)
		if !ok {
			d.logger.Debug("Worker stopped", "worker", id)
			return
		}
		d.opts.Metrics.SetQueueDepth(depth)
		d.deliver(j)
	}
}

// route resolves the targets of m. It runs under the queue lock.
func (d *Dispatcher) route(m *Message) *job {
	j := &job{msg: m}

	switch {
	case m.Kind == KindControl:
		if s, ok := d.registry.Lookup(m.Recipient); ok {
			j.add(s, m.Format(), false)
			j.teardown = s
		}

	case m.IsBroadcast():
		for _, s := range d.registry.Snapshot() {
			if s.Name() == m.Sender {
				continue
			}
			j.add(s, m.Format(), false)
		}

	default:
		if s, ok := d.registry.Lookup(m.Recipient); ok {
			j.direct = true
			j.add(s, m.Format(), false)
			break
		}
		j.notConnected = true
		if s, ok := d.registry.Lookup(m.Sender); ok {
			j.add(s, NotConnectedNotice(m.Recipient), true)
		}
	}

	d.deliveryLog.LogRouted(m.ID, m.Sender, m.Recipient, len(j.deliveries))
	return j
}

func (d *Dispatcher) deliver(j *job) {
	m := j.msg

	if j.notConnected {
		d.opts.Metrics.RecordDelivery(metrics.OutcomeNotConnected, 0)
	}

	for _, dl := range j.deliveries {
		if err := dl.target.Deliver(dl.ticket, dl.text); err != nil {
			d.deliveryLog.LogDropped(m.ID, dl.target.Name(), err)
			d.opts.Metrics.RecordDelivery(metrics.OutcomeFailed, 0)
			if j.direct && !dl.notice {
				d.notifyFailure(m)
			}
			continue
		}
		d.opts.Metrics.RecordDelivery(metrics.OutcomeDelivered, time.Since(m.EnqueuedAt))
	}

	if j.teardown != nil {
		d.teardown(j.teardown, m.Code)
	}
}

func (d *Dispatcher) notifyFailure(m *Message) {
	if m.Sender == SystemIdentity {
		return
	}
	s, ok := d.registry.Lookup(m.Sender)
	if !ok {
		return
	}
	if err := s.Deliver(s.Reserve(), FailedDeliveryNotice(m.Recipient)); err != nil {
		d.deliveryLog.LogDropped(m.ID, m.Sender, err)
	}
}

func (d *Dispatcher) teardown(s session.Session, code ControlCode) {
	d.registry.Release(s)
	if err := s.Close(); err != nil {
		d.logger.Debug("Session close failed", "username", s.Name(), "error", err)
	}
	d.logger.Info("Session ended", "username", s.Name(), "reason", code)
	if d.opts.OnTeardown != nil {
		d.opts.OnTeardown(s, code)
	}
}

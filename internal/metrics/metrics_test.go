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

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGet(t *testing.T) {
	if Get() == nil {
		t.Fatal("Expected non-nil global metrics")
	}
	if Get() != Get() {
		t.Error("Expected Get to return the same instance")
	}
}

func TestConnectionMetrics(t *testing.T) {
	m := New()

	m.ConnectionOpened("tcp")
	m.ConnectionOpened("tcp")
	m.ConnectionOpened("websocket")
	m.ConnectionClosed()

	if got := testutil.ToFloat64(m.connectionsActive); got != 2 {
		t.Errorf("Expected 2 active connections, got %v", got)
	}
	if got := testutil.ToFloat64(m.connectionsTotal.WithLabelValues("tcp")); got != 2 {
		t.Errorf("Expected 2 tcp connections, got %v", got)
	}
	if got := testutil.ToFloat64(m.connectionsTotal.WithLabelValues("websocket")); got != 1 {
		t.Errorf("Expected 1 websocket connection, got %v", got)
	}
}

func TestRecordAuth(t *testing.T) {
	m := New()
	m.RecordAuth("register", "success")
	m.RecordAuth("register", "name_in_use")
	m.RecordAuth("register", "success")

	if got := testutil.ToFloat64(m.authResults.WithLabelValues("register", "success")); got != 2 {
		t.Errorf("Expected 2 successful registrations, got %v", got)
	}
}

func TestRecordDelivery(t *testing.T) {
	m := New()
	m.RecordDelivery(OutcomeDelivered, 3*time.Millisecond)
	m.RecordDelivery(OutcomeFailed, 0)
	m.RecordDelivery(OutcomeNotConnected, 0)

	if got := testutil.ToFloat64(m.deliveries.WithLabelValues(OutcomeDelivered)); got != 1 {
		t.Errorf("Expected 1 delivered, got %v", got)
	}
	if got := testutil.CollectAndCount(m.deliveryLatency); got != 1 {
		t.Errorf("Expected latency histogram to be collected, got %d", got)
	}
}

func TestDispatchGauges(t *testing.T) {
	m := New()
	m.SetQueueDepth(7)
	m.SetUsersOnline(3)
	m.MessageEnqueued("regular")
	m.MessageRejected()

	if got := testutil.ToFloat64(m.queueDepth); got != 7 {
		t.Errorf("Expected queue depth 7, got %v", got)
	}
	if got := testutil.ToFloat64(m.usersOnline); got != 3 {
		t.Errorf("Expected 3 users online, got %v", got)
	}
	if got := testutil.ToFloat64(m.messagesRejected); got != 1 {
		t.Errorf("Expected 1 rejected message, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened("tcp")
	m.ConnectionClosed()
	m.RecordAuth("login", "success")
	m.MessageEnqueued("control")
	m.MessageRejected()
	m.SetQueueDepth(1)
	m.SetUsersOnline(1)
	m.RecordDelivery(OutcomeDelivered, time.Millisecond)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ConnectionOpened("tcp")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "chatrelay_connections_active 1") {
		t.Errorf("Expected active connections in output, got:\n%s", body)
	}
}

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

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hamba/avro/v2"
	"github.com/segmentio/kafka-go"

	"chatrelay/internal/config"
	"chatrelay/internal/logging"
)

// EventSchema is the Avro schema of events published to Kafka.
const EventSchema = `{
  "type": "record",
  "name": "AuditEvent",
  "namespace": "chatrelay.audit",
  "fields": [
    {"name": "id", "type": "string"},
    {"name": "timestamp", "type": {"type": "long", "logicalType": "timestamp-millis"}},
    {"name": "type", "type": "string"},
    {"name": "user", "type": "string"},
    {"name": "client_ip", "type": "string"},
    {"name": "transport", "type": "string"},
    {"name": "result", "type": "string"},
    {"name": "instance", "type": "string"},
    {"name": "details", "type": {"type": "map", "values": "string"}}
  ]
}`

// avroEvent mirrors EventSchema.
type avroEvent struct {
	ID        string            `avro:"id"`
	Timestamp time.Time         `avro:"timestamp"`
	Type      string            `avro:"type"`
	User      string            `avro:"user"`
	ClientIP  string            `avro:"client_ip"`
	Transport string            `avro:"transport"`
	Result    string            `avro:"result"`
	Instance  string            `avro:"instance"`
	Details   map[string]string `avro:"details"`
}

// messageWriter is the subset of *kafka.Writer used by the sink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit events to a Kafka topic. It cannot be queried.
type KafkaSink struct {
	writer   messageWriter
	schema   avro.Schema
	instance string
	timeout  time.Duration
	logger   *logging.Logger
}

// NewKafkaSink creates a sink writing to cfg.Topic on cfg.Brokers.
func NewKafkaSink(cfg config.KafkaConfig, instance string) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
	}
	return newKafkaSink(w, instance)
}

func newKafkaSink(w messageWriter, instance string) (*KafkaSink, error) {
	schema, err := avro.Parse(EventSchema)
	if err != nil {
		return nil, fmt.Errorf("kafka: parse event schema: %w", err)
	}
	return &KafkaSink{
		writer:   w,
		schema:   schema,
		instance: instance,
		timeout:  5 * time.Second,
		logger:   logging.NewLogger("audit-kafka"),
	}, nil
}

// Record implements Store.
func (k *KafkaSink) Record(event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Instance == "" {
		event.Instance = k.instance
	}

	payload, err := k.Encode(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.User),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write event: %w", err)
	}
	return nil
}

// Encode returns the Avro encoding of event.
func (k *KafkaSink) Encode(event *Event) ([]byte, error) {
	details := event.Details
	if details == nil {
		details = map[string]string{}
	}
	return avro.Marshal(k.schema, avroEvent{
		ID:        event.ID,
		Timestamp: event.Timestamp.UTC(),
		Type:      string(event.Type),
		User:      event.User,
		ClientIP:  event.ClientIP,
		Transport: event.Transport,
		Result:    event.Result,
		Instance:  event.Instance,
		Details:   details,
	})
}

// Decode parses an Avro-encoded event.
func (k *KafkaSink) Decode(data []byte) (*Event, error) {
	var ae avroEvent
	if err := avro.Unmarshal(k.schema, data, &ae); err != nil {
		return nil, err
	}
	return &Event{
		ID:        ae.ID,
		Timestamp: ae.Timestamp,
		Type:      EventType(ae.Type),
		User:      ae.User,
		ClientIP:  ae.ClientIP,
		Transport: ae.Transport,
		Result:    ae.Result,
		Instance:  ae.Instance,
		Details:   ae.Details,
	}, nil
}

// Query implements Store.
func (k *KafkaSink) Query(*QueryFilter) (*QueryResult, error) {
	return nil, ErrQueryUnsupported
}

// Close flushes pending messages and closes the writer.
func (k *KafkaSink) Close() error {
	k.logger.Debug("Closing Kafka audit sink")
	return k.writer.Close()
}

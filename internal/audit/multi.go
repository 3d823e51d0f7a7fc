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
	"errors"

	"chatrelay/internal/config"
	"chatrelay/internal/logging"
)

// MultiStore writes every event to all stores and queries the first one.
type MultiStore struct {
	stores []Store
}

// NewMultiStore combines stores. Nil entries are skipped.
func NewMultiStore(stores ...Store) *MultiStore {
	m := &MultiStore{}
	for _, s := range stores {
		if s != nil {
			m.stores = append(m.stores, s)
		}
	}
	return m
}

// Record implements Store. Every store is attempted.
func (m *MultiStore) Record(event *Event) error {
	var errs []error
	for _, s := range m.stores {
		if err := s.Record(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Query implements Store.
func (m *MultiStore) Query(filter *QueryFilter) (*QueryResult, error) {
	if len(m.stores) == 0 {
		return nil, ErrQueryUnsupported
	}
	return m.stores[0].Query(filter)
}

// Close implements Store.
func (m *MultiStore) Close() error {
	var errs []error
	for _, s := range m.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open builds the audit store described by cfg and prunes files past the
// retention period. It returns nil when auditing is disabled.
func Open(cfg config.AuditConfig, instance string) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	fs, err := NewFileStore(FileStoreConfig{
		Dir:           cfg.LogDir,
		Instance:      instance,
		MaxFileSize:   cfg.MaxFileSize,
		RetentionDays: cfg.RetentionDays,
	})
	if err != nil {
		return nil, err
	}
	removed, err := fs.Prune()
	if err != nil {
		fs.Close()
		return nil, err
	}
	if removed > 0 {
		logging.NewLogger("audit").Info("Pruned expired audit files", "removed", removed, "retention_days", cfg.RetentionDays)
	}
	if !cfg.Kafka.Enabled {
		return fs, nil
	}

	sink, err := NewKafkaSink(cfg.Kafka, instance)
	if err != nil {
		fs.Close()
		return nil, err
	}
	return NewMultiStore(fs, sink), nil
}

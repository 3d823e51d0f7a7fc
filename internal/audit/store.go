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
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const filePrefix = "audit-"

// FileStore implements Store using daily append-only JSON-lines files.
type FileStore struct {
	dir           string
	currentFile   *os.File
	currentDate   string
	currentSeq    int
	mu            sync.RWMutex
	instance      string
	maxFileSize   int64
	retentionDays int
	now           func() time.Time
}

// FileStoreConfig contains configuration for FileStore.
type FileStoreConfig struct {
	Dir           string
	Instance      string
	MaxFileSize   int64 // default 100MB
	RetentionDays int   // default 90
}

// NewFileStore creates a new file-based audit store.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		cfg.Dir = "data/audit"
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 100 * 1024 * 1024
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 90
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	return &FileStore{
		dir:           cfg.Dir,
		instance:      cfg.Instance,
		maxFileSize:   cfg.MaxFileSize,
		retentionDays: cfg.RetentionDays,
		now:           time.Now,
	}, nil
}

// Record stores a new audit event.
func (s *FileStore) Record(event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if event.Instance == "" {
		event.Instance = s.instance
	}

	if err := s.ensureFile(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := s.currentFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return s.currentFile.Sync()
}

// ensureFile opens the file for today, rolling to a new sequence number
// once the current one reaches maxFileSize.
func (s *FileStore) ensureFile() error {
	today := s.now().UTC().Format("2006-01-02")

	if s.currentFile != nil && s.currentDate == today {
		info, err := s.currentFile.Stat()
		if err != nil || info.Size() < s.maxFileSize {
			return nil
		}
		s.currentFile.Close()
		s.currentFile = nil
		s.currentSeq++
	} else {
		if s.currentFile != nil {
			s.currentFile.Close()
			s.currentFile = nil
		}
		s.currentDate = today
		s.currentSeq = 0
	}

	file, err := os.OpenFile(s.filename(today, s.currentSeq), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	s.currentFile = file
	return nil
}

func (s *FileStore) filename(date string, seq int) string {
	if seq == 0 {
		return filepath.Join(s.dir, fmt.Sprintf("%s%s.log", filePrefix, date))
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s%s.%d.log", filePrefix, date, seq))
}

// Close closes the store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile != nil {
		err := s.currentFile.Close()
		s.currentFile = nil
		return err
	}
	return nil
}

// Query retrieves events matching the filter, newest first.
func (s *FileStore) Query(filter *QueryFilter) (*QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter == nil {
		filter = &QueryFilter{}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	files, err := s.listFiles()
	if err != nil {
		return nil, err
	}

	var allEvents []Event
	for _, file := range files {
		events, err := readEvents(file, filter)
		if err != nil {
			continue
		}
		allEvents = append(allEvents, events...)
	}

	sort.SliceStable(allEvents, func(i, j int) bool {
		return allEvents[i].Timestamp.After(allEvents[j].Timestamp)
	})

	totalCount := len(allEvents)
	start := filter.Offset
	if start > totalCount {
		start = totalCount
	}
	end := start + limit
	if end > totalCount {
		end = totalCount
	}

	return &QueryResult{
		Events:     allEvents[start:end],
		TotalCount: totalCount,
		HasMore:    end < totalCount,
	}, nil
}

// Prune deletes files older than the retention period and returns how many
// were removed.
func (s *FileStore) Prune() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.listFiles()
	if err != nil {
		return 0, err
	}

	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays).Format("2006-01-02")
	removed := 0
	for _, file := range files {
		date := fileDate(filepath.Base(file))
		if date == "" || date >= cutoff || date == s.currentDate {
			continue
		}
		if err := os.Remove(file); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", file, err)
		}
		removed++
	}
	return removed, nil
}

func (s *FileStore) listFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), filePrefix) {
			continue
		}
		files = append(files, filepath.Join(s.dir, entry.Name()))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

// fileDate extracts YYYY-MM-DD from audit-YYYY-MM-DD[.N].log.
func fileDate(name string) string {
	rest := strings.TrimPrefix(name, filePrefix)
	if len(rest) < 10 {
		return ""
	}
	if _, err := time.Parse("2006-01-02", rest[:10]); err != nil {
		return ""
	}
	return rest[:10]
}

func readEvents(filename string, filter *QueryFilter) ([]Event, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue // Skip malformed lines
		}
		if matches(&event, filter) {
			events = append(events, event)
		}
	}
	return events, scanner.Err()
}

func matches(event *Event, filter *QueryFilter) bool {
	if filter.StartTime != nil && event.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && event.Timestamp.After(*filter.EndTime) {
		return false
	}

	if len(filter.EventTypes) > 0 {
		found := false
		for _, t := range filter.EventTypes {
			if event.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.User != "" && event.User != filter.User {
		return false
	}
	if filter.Result != "" && event.Result != filter.Result {
		return false
	}

	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		found := false
		for _, v := range event.Details {
			if strings.Contains(strings.ToLower(v), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

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

// Package auth stores chat accounts and verifies their passwords.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserExists         = errors.New("user already exists")
)

// CredentialStore is the account backend consulted by REGISTER and LOGIN.
type CredentialStore interface {
	// Exists reports whether an account is stored for username.
	Exists(ctx context.Context, username string) (bool, error)
	// Create stores a new account. It returns ErrUserExists when the
	// name is already taken.
	Create(ctx context.Context, username, password string) error
	// Verify returns nil when password matches the stored secret.
	Verify(ctx context.Context, username, password string) error
	Close() error
}

// User is a stored account.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
	LastLogin    time.Time `json:"last_login,omitempty"`
}

// userFile is the on-disk layout of a UserStore.
type userFile struct {
	Users map[string]*User `json:"users"`
}

// UserStore keeps accounts in memory and, when filePath is set, in a JSON
// file rewritten on every new account.
type UserStore struct {
	mu       sync.RWMutex
	users    map[string]*User
	filePath string
	cost     int
}

// NewUserStore creates a new user store. An empty filePath keeps accounts
// in memory only.
func NewUserStore(filePath string) *UserStore {
	return &UserStore{
		users:    make(map[string]*User),
		filePath: filePath,
		cost:     bcrypt.DefaultCost,
	}
}

// SetCost changes the bcrypt cost used for new hashes.
func (s *UserStore) SetCost(cost int) {
	s.mu.Lock()
	s.cost = cost
	s.mu.Unlock()
}

// Load replaces the in-memory accounts with the file contents. A missing
// file is an empty store.
func (s *UserStore) Load() error {
	if s.filePath == "" {
		return nil
	}

	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read user store: %w", err)
	}

	var f userFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse user store %s: %w", s.filePath, err)
	}
	if f.Users == nil {
		f.Users = make(map[string]*User)
	}

	s.mu.Lock()
	s.users = f.Users
	s.mu.Unlock()
	return nil
}

// Save persists accounts to the configured file path.
func (s *UserStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

// saveLocked writes a temp file and renames it over the store.
func (s *UserStore) saveLocked() error {
	if s.filePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(userFile{Users: s.users}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
		return fmt.Errorf("failed to create user store directory: %w", err)
	}
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write user store: %w", err)
	}
	return os.Rename(tmp, s.filePath)
}

// CreateUser hashes password and stores a new account. The account is
// rolled back when it cannot be persisted.
func (s *UserStore) CreateUser(username, password string) error {
	s.mu.RLock()
	cost := s.cost
	_, taken := s.users[username]
	s.mu.RUnlock()
	if taken {
		return fmt.Errorf("%w: %q", ErrUserExists, username)
	}

	// Hash outside the lock, then re-check the name.
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.users[username]; taken {
		return fmt.Errorf("%w: %q", ErrUserExists, username)
	}
	s.users[username] = &User{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.saveLocked(); err != nil {
		delete(s.users, username)
		return err
	}
	return nil
}

// Authenticate verifies username and password and stamps the login time.
// Unknown names and wrong passwords both return ErrInvalidCredentials.
func (s *UserStore) Authenticate(username, password string) (*User, error) {
	s.mu.RLock()
	user, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := CheckPassword(user.PasswordHash, password); err != nil {
		return nil, err
	}

	s.mu.Lock()
	user.LastLogin = time.Now().UTC()
	s.mu.Unlock()
	return user, nil
}

// Len returns the number of stored accounts.
func (s *UserStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Exists implements CredentialStore.
func (s *UserStore) Exists(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	_, ok := s.users[username]
	s.mu.RUnlock()
	return ok, nil
}

// Create implements CredentialStore.
func (s *UserStore) Create(_ context.Context, username, password string) error {
	return s.CreateUser(username, password)
}

// Verify implements CredentialStore.
func (s *UserStore) Verify(_ context.Context, username, password string) error {
	_, err := s.Authenticate(username, password)
	return err
}

// Close flushes the store to disk.
func (s *UserStore) Close() error {
	return s.Save()
}

// HashPassword hashes a password using bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a bcrypt hash with a candidate password.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

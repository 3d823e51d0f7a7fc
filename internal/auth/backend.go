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

package auth

import (
	"context"
	"fmt"

	"chatrelay/internal/config"
)

// Open builds the credential store selected by cfg.Auth.Backend.
func Open(ctx context.Context, cfg *config.Config) (CredentialStore, error) {
	switch cfg.Auth.Backend {
	case config.AuthBackendMemory:
		return NewUserStore(""), nil
	case config.AuthBackendFile, "":
		store := NewUserStore(cfg.Auth.UserFile)
		if err := store.Load(); err != nil {
			return nil, err
		}
		return store, nil
	case config.AuthBackendPostgres:
		return OpenPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown auth backend %q", cfg.Auth.Backend)
	}
}

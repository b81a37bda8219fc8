// Copyright 2026 The Warden Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package roster

import (
	"context"
	"fmt"
	"os"

	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/rbac"
)

const (
	EnvBootstrapOwnerUsername = "WARDEN_BOOTSTRAP_OWNER_USERNAME"
	EnvBootstrapOwnerSecret   = "WARDEN_BOOTSTRAP_OWNER_SECRET"
	EnvBootstrapOwnerEmail    = "WARDEN_BOOTSTRAP_OWNER_EMAIL"
	EnvBootstrapOwnerName     = "WARDEN_BOOTSTRAP_OWNER_NAME"
)

// Bootstrap seeds the initial owner account from the environment so the
// at-least-one-active-owner invariant holds from first boot. It is a
// no-op when no bootstrap username is configured or when an active
// owner already exists.
func (s *Service) Bootstrap(ctx context.Context) error {
	username := os.Getenv(EnvBootstrapOwnerUsername)
	if username == "" {
		return nil
	}
	secret := os.Getenv(EnvBootstrapOwnerSecret)
	email := os.Getenv(EnvBootstrapOwnerEmail)
	name := os.Getenv(EnvBootstrapOwnerName)
	if name == "" {
		name = username
	}

	owners, err := s.repo.List(ctx, ListFilter{Role: rbac.RoleOwner, Status: StatusActive})
	if err != nil {
		return fmt.Errorf("failed to check for existing owners: %w", err)
	}
	if len(owners) > 0 {
		// Already bootstrapped, skip silently.
		return nil
	}

	admin, err := s.Create(ctx, username, secret, name, email, rbac.RoleOwner, audit.ActorSystem)
	if err != nil {
		return fmt.Errorf("failed to create bootstrap owner: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeOwnerBootstrap,
		ActorID:  audit.ActorSystem,
		TargetID: admin.ID,
		Resource: "roster",
		Metadata: map[string]any{audit.AttrUsername: username},
	})

	return nil
}

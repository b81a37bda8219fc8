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

//go:build integration
// +build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/id"
	"github.com/wardenhq/warden/internal/rbac"
	"github.com/wardenhq/warden/internal/roster"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	cfg := Config{
		Host:         envOr("DB_HOST", "localhost"),
		Port:         envOr("DB_PORT", "5432"),
		User:         envOr("DB_USER", "warden"),
		Password:     envOr("DB_PASSWORD", "warden_dev_password"),
		Database:     envOr("DB_NAME", "warden_test"),
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 5,
	}

	ctx := context.Background()
	db, err := New(ctx, cfg)
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to database: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx, InitialSchema); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.pool.Exec(ctx, `TRUNCATE role_changes, admins CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func seedAdmin(t *testing.T, repo *AdminRepository, username, email, role string) *roster.Administrator {
	t.Helper()
	now := time.Now()
	admin := &roster.Administrator{
		ID:          id.NewUUIDv7(),
		Username:    username,
		Email:       email,
		Name:        username,
		Role:        role,
		Permissions: rbac.TemplateFor(role),
		SecretHash:  "$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g",
		Active:      true,
		CreatedBy:   "integration-test",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Create(context.Background(), admin); err != nil {
		t.Fatalf("seed %s: %v", username, err)
	}
	return admin
}

// TestPurpose: Validates that case-insensitive uniqueness is enforced by the
// database and translated to the matching domain error.
// Scope: Database Integration Test
// Security: Duplicate identity prevention under concurrent creation
// Expected: Inserting the same username or email in a different case fails
// with ErrDuplicateUsername / ErrDuplicateEmail.
func TestAdminRepository_UniquenessTranslation(t *testing.T) {
	db := testDB(t)
	repo := NewAdminRepository(db)
	ctx := context.Background()

	seedAdmin(t, repo, "amy", "amy@example.com", rbac.RoleSupport)

	dupUser := &roster.Administrator{
		ID: id.NewUUIDv7(), Username: "AMY", Email: "other@example.com",
		Name: "Amy", Role: rbac.RoleSupport, SecretHash: "x",
		Active: true, CreatedBy: "t", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := repo.Create(ctx, dupUser); !errors.Is(err, roster.ErrDuplicateUsername) {
		t.Errorf("duplicate username error = %v, want ErrDuplicateUsername", err)
	}

	dupEmail := &roster.Administrator{
		ID: id.NewUUIDv7(), Username: "amy2", Email: "AMY@EXAMPLE.COM",
		Name: "Amy", Role: rbac.RoleSupport, SecretHash: "x",
		Active: true, CreatedBy: "t", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := repo.Create(ctx, dupEmail); !errors.Is(err, roster.ErrDuplicateEmail) {
		t.Errorf("duplicate email error = %v, want ErrDuplicateEmail", err)
	}
}

// TestPurpose: Validates the last-owner invariant under concurrent demotion.
// Scope: Database Integration Test
// Security: Lockout prevention (at least one active owner must remain)
// Expected: Of two concurrent demotions of the two remaining owners, at most
// one commits; at least one active owner survives.
func TestAdminRepository_ConcurrentDemotion(t *testing.T) {
	db := testDB(t)
	repo := NewAdminRepository(db)
	ctx := context.Background()

	owner1 := seedAdmin(t, repo, "owner1", "owner1@example.com", rbac.RoleOwner)
	owner2 := seedAdmin(t, repo, "owner2", "owner2@example.com", rbac.RoleOwner)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	targets := []string{owner1.ID, owner2.ID}
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = repo.UpdateRole(ctx, "test-actor", targets[i], rbac.RoleAdmin, rbac.TemplateFor(rbac.RoleAdmin))
		}(i)
	}
	wg.Wait()

	owners, err := repo.List(ctx, roster.ListFilter{Role: rbac.RoleOwner, Status: roster.StatusActive})
	if err != nil {
		t.Fatalf("list owners: %v", err)
	}
	if len(owners) == 0 {
		t.Fatalf("zero active owners left; demotion errors: %v, %v", errs[0], errs[1])
	}
}

// TestPurpose: Validates list ordering and filtering semantics.
// Scope: Database Integration Test
// Expected: Owners surface first; filters narrow by search, role and status.
func TestAdminRepository_ListOrdering(t *testing.T) {
	db := testDB(t)
	repo := NewAdminRepository(db)
	ctx := context.Background()

	seedAdmin(t, repo, "sara", "sara@example.com", rbac.RoleSupport)
	seedAdmin(t, repo, "root", "root@example.com", rbac.RoleOwner)
	seedAdmin(t, repo, "finn", "finn@example.com", rbac.RoleFinance)

	all, err := repo.List(ctx, roster.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 admins, got %d", len(all))
	}
	if all[0].Role != rbac.RoleOwner {
		t.Errorf("expected owner first, got %s", all[0].Role)
	}
	if all[2].Role != rbac.RoleFinance {
		t.Errorf("expected roster-only role last, got %s", all[2].Role)
	}

	found, err := repo.List(ctx, roster.ListFilter{Search: "SAR"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(found) != 1 || found[0].Username != "sara" {
		t.Errorf("search: got %d results", len(found))
	}
}

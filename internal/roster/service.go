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
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"
	"time"

	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/id"
	"github.com/wardenhq/warden/internal/rbac"
	"golang.org/x/crypto/argon2"
)

// PasswordHasher handles secret hashing using Argon2id. Parameters are
// tuned so a single hash costs tens of milliseconds.
type PasswordHasher struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

// NewPasswordHasher creates a new hasher with Argon2id
func NewPasswordHasher(memory, iterations uint32, parallelism uint8, saltLength, keyLength uint32) *PasswordHasher {
	return &PasswordHasher{
		memory:      memory,
		iterations:  iterations,
		parallelism: parallelism,
		saltLength:  saltLength,
		keyLength:   keyLength,
	}
}

// Hash hashes a secret using Argon2id
func (h *PasswordHasher) Hash(secret string) (string, error) {
	salt := make([]byte, h.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(secret),
		salt,
		h.iterations,
		h.memory,
		h.parallelism,
		h.keyLength,
	)

	// Encode as: $argon2id$v=19$m=memory,t=iterations,p=parallelism$salt$hash
	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.iterations,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)

	return encoded, nil
}

// Verify verifies a secret against an encoded hash
func (h *PasswordHasher) Verify(secret, encodedHash string) (bool, error) {
	// Format: $argon2id$v=19$m=65536,t=3,p=4$salt$hash
	var sections []string
	start := 0
	raw := []byte(encodedHash)
	for i, c := range raw {
		if c == '$' {
			if i > start {
				sections = append(sections, string(raw[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(raw) {
		sections = append(sections, string(raw[start:]))
	}

	if len(sections) != 5 || sections[0] != "argon2id" {
		return false, fmt.Errorf("invalid hash format: got %d sections", len(sections))
	}

	var version int
	if _, err := fmt.Sscanf(sections[1], "v=%d", &version); err != nil {
		return false, fmt.Errorf("invalid version: %w", err)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(sections[2], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("invalid parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[3])
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	actualHash := argon2.IDKey(
		[]byte(secret),
		salt,
		iterations,
		memory,
		parallelism,
		uint32(len(expectedHash)),
	)

	// Constant-time comparison
	if len(actualHash) != len(expectedHash) {
		return false, nil
	}
	var diff byte
	for i := range actualHash {
		diff |= actualHash[i] ^ expectedHash[i]
	}
	return diff == 0, nil
}

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

const minSecretLength = 8

// Service provides roster business logic. Callers are responsible for
// gating each operation through the request authorizer; the service
// enforces the invariants that hold regardless of who asks.
type Service struct {
	repo        Repository
	hasher      *PasswordHasher
	auditLogger audit.Logger
}

// NewService creates a new roster service
func NewService(repo Repository, hasher *PasswordHasher, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		hasher:      hasher,
		auditLogger: auditLogger,
	}
}

// Create validates and persists a new administrator. Checks run in a
// fixed order so the first failure determines the returned kind:
// missing fields, unknown role, email syntax, username charset, secret
// length, then uniqueness (enforced by storage). Permissions always
// come from the role template, never from caller input.
func (s *Service) Create(ctx context.Context, username, secret, name, email, role, creator string) (*Administrator, error) {
	if username == "" || secret == "" || name == "" || email == "" || role == "" {
		return nil, ErrMissingField
	}
	if !rbac.KnownRole(role) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	if !emailPattern.MatchString(email) {
		return nil, ErrInvalidEmail
	}
	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if len(secret) < minSecretLength {
		return nil, ErrWeakSecret
	}

	secretHash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash secret: %w", err)
	}

	now := time.Now()
	admin := &Administrator{
		ID:          id.NewUUIDv7(),
		Username:    username,
		Email:       email,
		Name:        name,
		Role:        role,
		Permissions: rbac.TemplateFor(role),
		SecretHash:  secretHash,
		Active:      true,
		CreatedBy:   creator,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, admin); err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAdminCreated,
		ActorID:  creator,
		TargetID: admin.ID,
		Resource: "roster",
		Metadata: map[string]any{
			audit.AttrUsername: username,
			audit.AttrRole:     role,
		},
	})

	return admin, nil
}

// List retrieves administrators matching the filter. Ordering (role
// rank descending, then newest first) is the repository's contract.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Administrator, error) {
	admins, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list administrators: %w", err)
	}
	return admins, nil
}

// ChangeRole mutates a target's role on behalf of an acting
// administrator. No administrator may change their own role, owners
// included; demoting the last active owner is refused by the repository
// inside its transaction. Permissions are recomputed from the new
// role's template.
func (s *Service) ChangeRole(ctx context.Context, actorID, targetID, newRole string) (*Administrator, error) {
	if newRole == "" {
		return nil, ErrMissingField
	}
	if !rbac.KnownRole(newRole) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, newRole)
	}
	if actorID == targetID {
		return nil, ErrSelfMutationForbidden
	}

	updated, fromRole, err := s.repo.UpdateRole(ctx, actorID, targetID, newRole, rbac.TemplateFor(newRole))
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleChanged,
		ActorID:  actorID,
		TargetID: targetID,
		Resource: "roster",
		Metadata: map[string]any{
			audit.AttrFromRole: fromRole,
			audit.AttrToRole:   newRole,
		},
	})

	return updated, nil
}

// Deactivate suspends a target account. Self-deactivation is refused
// for the same lockout reasons as self role changes, and deactivating
// the last active owner is refused by the repository.
func (s *Service) Deactivate(ctx context.Context, actorID, targetID string) (*Administrator, error) {
	if actorID == targetID {
		return nil, ErrSelfMutationForbidden
	}

	updated, err := s.repo.SetActive(ctx, targetID, false)
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAdminDeactivated,
		ActorID:  actorID,
		TargetID: targetID,
		Resource: "roster",
	})

	return updated, nil
}

// Reactivate lifts a suspension. Like deactivation it may not target
// the acting administrator: a suspended account must be restored by
// someone else, never by its own (still unexpired) token.
func (s *Service) Reactivate(ctx context.Context, actorID, targetID string) (*Administrator, error) {
	if actorID == targetID {
		return nil, ErrSelfMutationForbidden
	}

	updated, err := s.repo.SetActive(ctx, targetID, true)
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAdminReactivated,
		ActorID:  actorID,
		TargetID: targetID,
		Resource: "roster",
	})

	return updated, nil
}

// GetByUsername looks up an administrator by username, case-insensitively.
func (s *Service) GetByUsername(ctx context.Context, username string) (*Administrator, error) {
	return s.repo.GetByUsername(ctx, username)
}

// Authenticate verifies a username/secret pair and returns the account.
// Inactive accounts fail with ErrAccountInactive; unknown usernames and
// bad secrets are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, secret string) (*Administrator, error) {
	admin, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			Resource: "login",
			Metadata: map[string]any{audit.AttrReason: "unknown_username"},
		})
		return nil, ErrInvalidCredentials
	}

	valid, err := s.hasher.Verify(secret, admin.SecretHash)
	if err != nil || !valid {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  admin.ID,
			Resource: "login",
			Metadata: map[string]any{audit.AttrReason: "bad_secret"},
		})
		return nil, ErrInvalidCredentials
	}

	if !admin.Active {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  admin.ID,
			Resource: "login",
			Metadata: map[string]any{audit.AttrReason: "inactive"},
		})
		return nil, ErrAccountInactive
	}

	now := time.Now()
	if err := s.repo.TouchLastLogin(ctx, admin.ID, now); err == nil {
		admin.LastLoginAt = &now
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		ActorID:  admin.ID,
		Resource: "login",
	})

	return admin, nil
}

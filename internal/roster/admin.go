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

// Package roster owns the administrator roster: creation, listing, role
// changes and activation lifecycle. Storage is abstracted behind the
// Repository interface so the authorization logic never depends on a
// particular database.
package roster

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrAdminNotFound         = errors.New("administrator not found")
	ErrMissingField          = errors.New("missing required field")
	ErrInvalidRole           = errors.New("invalid role")
	ErrInvalidEmail          = errors.New("invalid email address")
	ErrInvalidUsername       = errors.New("invalid username")
	ErrWeakSecret            = errors.New("secret does not meet length requirements")
	ErrDuplicateUsername     = errors.New("username already exists")
	ErrDuplicateEmail        = errors.New("email already exists")
	ErrSelfMutationForbidden = errors.New("administrators may not change their own account")
	ErrLastOwnerProtection   = errors.New("cannot remove the last active owner")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrAccountInactive       = errors.New("account is deactivated")
)

// Status filter values for List.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// Administrator represents an administrative identity. SecretHash is
// never serialized.
type Administrator struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	Permissions []string   `json:"permissions"`
	SecretHash  string     `json:"-"`
	Active      bool       `json:"active"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// ListFilter narrows List results. Zero values mean no filtering.
type ListFilter struct {
	// Search is a case-insensitive substring match over username, name
	// and email.
	Search string

	// Role is an exact role filter.
	Role string

	// Status is StatusActive or StatusSuspended.
	Status string
}

// RoleChange is the audit payload of a completed role mutation.
type RoleChange struct {
	ActorID   string
	TargetID  string
	FromRole  string
	ToRole    string
	Timestamp time.Time
}

// Repository defines the interface for administrator persistence.
//
// Create must rely on storage-level uniqueness for username and email
// (case-insensitive) and return ErrDuplicateUsername or
// ErrDuplicateEmail on conflict; an application-level check-then-write
// is racy and not acceptable.
//
// UpdateRole and SetActive must run their last-owner count and the write
// inside a single serializable transaction (or hold a single-writer
// lock), returning ErrLastOwnerProtection when the mutation would leave
// zero active owners.
type Repository interface {
	// Create persists a new administrator.
	Create(ctx context.Context, admin *Administrator) error

	// GetByID retrieves an administrator by ID.
	GetByID(ctx context.Context, id string) (*Administrator, error)

	// GetByUsername retrieves an administrator by case-insensitive username.
	GetByUsername(ctx context.Context, username string) (*Administrator, error)

	// List retrieves administrators matching the filter, ordered by
	// role rank descending then creation time descending.
	List(ctx context.Context, filter ListFilter) ([]*Administrator, error)

	// UpdateRole atomically re-checks the last-owner invariant, updates
	// role and permissions, and records the role change attributed to
	// the acting administrator. The second return value is the role held
	// before the change, read inside the same transaction so audit
	// consumers never see a value raced by a concurrent mutation.
	UpdateRole(ctx context.Context, actorID, id, role string, permissions []string) (*Administrator, string, error)

	// SetActive atomically flips the active flag, enforcing the
	// last-owner invariant on deactivation of an active owner.
	SetActive(ctx context.Context, id string, active bool) (*Administrator, error)

	// TouchLastLogin stamps a successful login.
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

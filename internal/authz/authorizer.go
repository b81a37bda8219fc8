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

// Package authz produces one authorization verdict per privileged request.
package authz

import (
	"fmt"
	"strings"

	"github.com/wardenhq/warden/internal/rbac"
	"github.com/wardenhq/warden/internal/token"
)

const bearerPrefix = "Bearer "

// Policy holds the optional fine-grained checks an endpoint layers on
// top of the baseline admin gate. Zero value means baseline only.
type Policy struct {
	// RequiredPermission must be satisfied by the token's claim set
	// under the rbac matching rules.
	RequiredPermission string

	// RequiredRole is a minimum rank in the role hierarchy.
	RequiredRole string

	// AllowedRoles is an explicit allow-list; the token's role must be
	// a member. This is how roster-only roles (marketing, finance, ...)
	// can be granted access to specific endpoints.
	AllowedRoles []string
}

// Decision is the sole output of Authorize. Exactly one of
// {Valid=true, Identity set} or {Valid=false, Err set} holds.
type Decision struct {
	Valid    bool
	Identity *token.Claims
	Err      error
}

// Authorizer composes token verification, the baseline role gate and the
// optional policy checks. It is stateless and safe for concurrent use.
type Authorizer struct {
	codec *token.Codec
}

// New creates an Authorizer around a token codec.
func New(codec *token.Codec) *Authorizer {
	return &Authorizer{codec: codec}
}

// Authorize evaluates the raw Authorization header against a policy.
// Each check short-circuits to a distinct failure kind; any internal
// fault is recovered and mapped to ErrAuthorizationFailed so callers can
// respond uniformly without leaking internals.
func (a *Authorizer) Authorize(header string, policy Policy) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			decision = Decision{Err: fmt.Errorf("%w: %v", ErrAuthorizationFailed, r)}
		}
	}()

	if !strings.HasPrefix(header, bearerPrefix) {
		return Decision{Err: ErrNoToken}
	}

	claims, err := a.codec.Decode(strings.TrimPrefix(header, bearerPrefix))
	if err != nil {
		return Decision{Err: err}
	}

	// Baseline gate, applied regardless of policy.
	if !rbac.HasAdminAccess(claims.Role) {
		return Decision{Err: ErrInvalidRoleForAdminAccess}
	}

	if policy.RequiredPermission != "" {
		if !rbac.Satisfies(claims.Role, claims.Permissions, policy.RequiredPermission) {
			return Decision{Err: fmt.Errorf("%w: %s", ErrInsufficientPermission, policy.RequiredPermission)}
		}
	}

	if policy.RequiredRole != "" {
		if !rbac.AtLeast(claims.Role, policy.RequiredRole) {
			return Decision{Err: fmt.Errorf("%w: requires at least %s", ErrInsufficientRoleLevel, policy.RequiredRole)}
		}
	}

	if len(policy.AllowedRoles) > 0 {
		allowed := false
		for _, role := range policy.AllowedRoles {
			if claims.Role == role {
				allowed = true
				break
			}
		}
		if !allowed {
			return Decision{Err: fmt.Errorf("%w: requires one of [%s]", ErrRoleNotAllowed, strings.Join(policy.AllowedRoles, ", "))}
		}
	}

	return Decision{Valid: true, Identity: claims}
}

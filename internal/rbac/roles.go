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

// Package rbac defines the role hierarchy, the per-role permission
// templates, and the permission matching rules. Everything in this
// package is immutable process-wide configuration; nothing here is
// mutated after init.
package rbac

// -----------------------------------------------------------------------------
// Role Name Constants
// These are the canonical role names stored on administrator records and
// carried inside auth tokens.
// -----------------------------------------------------------------------------

const (
	// RoleOwner has unrestricted access and is the only role allowed to
	// manage the administrator roster.
	RoleOwner = "owner"

	// RoleAdmin is the day-to-day platform administrator role.
	RoleAdmin = "admin"

	// RoleSupport handles tickets and read-only user lookups.
	RoleSupport = "support"

	// RoleMarketing, RoleFinance and RoleContentDeveloper are roster-only
	// roles: their accounts exist and can be listed, but they are denied
	// generic admin access unless an endpoint allow-lists them explicitly.
	RoleMarketing        = "marketing"
	RoleFinance          = "finance"
	RoleContentDeveloper = "content_developer"

	// RoleUser is the ordinary platform user role. It never appears on
	// roster records but participates in hierarchy comparisons.
	RoleUser = "user"
)

// roleRanks is the fixed total order used for "at least as privileged as"
// comparisons. Unknown roles rank 0.
var roleRanks = map[string]int{
	RoleOwner:   100,
	RoleAdmin:   80,
	RoleSupport: 60,
	RoleUser:    20,
}

// Rank returns the numeric rank of a role. Unknown roles rank 0.
func Rank(role string) int {
	return roleRanks[role]
}

// AtLeast reports whether actual is at least as privileged as required.
func AtLeast(actual, required string) bool {
	return Rank(actual) >= Rank(required)
}

// adminAccessRoles is the baseline gate: exactly these roles may
// authenticate against privileged endpoints, regardless of per-endpoint
// policy. Other roster roles are denied unless explicitly allow-listed.
var adminAccessRoles = map[string]bool{
	RoleOwner:   true,
	RoleAdmin:   true,
	RoleSupport: true,
}

// HasAdminAccess reports whether the role passes the baseline admin gate.
func HasAdminAccess(role string) bool {
	return adminAccessRoles[role]
}

// -----------------------------------------------------------------------------
// Role Permission Templates
// Permissions are a function of role: every roster record derives its
// permission set from this table at creation and at every role change.
// Never assigned from caller input.
// -----------------------------------------------------------------------------

// PermAll is the wildcard permission satisfying any permission check.
const PermAll = "all"

var roleTemplates = map[string][]string{
	RoleOwner:            {PermAll},
	RoleAdmin:            {"users", "content", "tickets", "billing:read", "settings"},
	RoleSupport:          {"tickets", "users:read", "content:read"},
	RoleMarketing:        {"content", "analytics:read"},
	RoleFinance:          {"billing", "reports"},
	RoleContentDeveloper: {"content"},
}

// KnownRole reports whether a role has a permission template, i.e. is a
// valid roster role.
func KnownRole(role string) bool {
	_, ok := roleTemplates[role]
	return ok
}

// TemplateFor returns a copy of the permission template for a role.
// Returns nil for unknown roles. The copy keeps callers from mutating
// the shared table.
func TemplateFor(role string) []string {
	tpl, ok := roleTemplates[role]
	if !ok {
		return nil
	}
	out := make([]string, len(tpl))
	copy(out, tpl)
	return out
}

// Templates returns the full role to permission-template dictionary,
// deep-copied, for client-side rendering of role pickers.
func Templates() map[string][]string {
	out := make(map[string][]string, len(roleTemplates))
	for role := range roleTemplates {
		out[role] = TemplateFor(role)
	}
	return out
}

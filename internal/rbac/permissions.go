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

package rbac

import "strings"

// Satisfies reports whether a claim set (role plus granted permissions)
// satisfies a requested permission string. Matching order, first match wins:
//
//  1. owner role or the literal "all" grant satisfies anything
//  2. verbatim match
//  3. the coarse base segment (before the first colon) covers fine-grained
//     requests under it: a "users" grant satisfies "users:read"
func Satisfies(role string, permissions []string, required string) bool {
	if role == RoleOwner {
		return true
	}
	for _, p := range permissions {
		if p == PermAll || p == required {
			return true
		}
	}
	base, _, found := strings.Cut(required, ":")
	if !found {
		return false
	}
	for _, p := range permissions {
		if p == base {
			return true
		}
	}
	return false
}

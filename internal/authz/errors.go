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

package authz

import "errors"

// Domain errors
var (
	// ErrNoToken covers both a missing Authorization header and a
	// non-Bearer scheme. The HTTP layer renders one generic message for
	// every authentication failure; the distinct kinds exist for logging.
	ErrNoToken = errors.New("no bearer token")

	// ErrInvalidRoleForAdminAccess is the baseline gate failure: the
	// token verified but its role is not one of owner/admin/support.
	ErrInvalidRoleForAdminAccess = errors.New("role not valid for admin access")

	ErrInsufficientPermission = errors.New("insufficient permission")
	ErrInsufficientRoleLevel  = errors.New("insufficient role level")
	ErrRoleNotAllowed         = errors.New("role not allowed")

	// ErrAuthorizationFailed is the catch-all for internal faults; the
	// authorizer never lets a panic escape to its caller.
	ErrAuthorizationFailed = errors.New("authorization failed")
)

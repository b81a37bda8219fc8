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

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/authz"
	"github.com/wardenhq/warden/internal/id"
	"github.com/wardenhq/warden/internal/rbac"
	"github.com/wardenhq/warden/internal/roster"
	"github.com/wardenhq/warden/internal/token"
)

// memRepository is an in-memory roster.Repository for transport tests.
// Mutations serialize through a single mutex, matching the repository
// contract's single-writer alternative.
type memRepository struct {
	mu     sync.Mutex
	admins map[string]*roster.Administrator
}

func newMemRepository() *memRepository {
	return &memRepository{admins: make(map[string]*roster.Administrator)}
}

func (m *memRepository) Create(ctx context.Context, admin *roster.Administrator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.admins {
		if strings.EqualFold(a.Username, admin.Username) {
			return roster.ErrDuplicateUsername
		}
		if strings.EqualFold(a.Email, admin.Email) {
			return roster.ErrDuplicateEmail
		}
	}
	cp := *admin
	m.admins[admin.ID] = &cp
	return nil
}

func (m *memRepository) GetByID(ctx context.Context, adminID string) (*roster.Administrator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admins[adminID]
	if !ok {
		return nil, roster.ErrAdminNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepository) GetByUsername(ctx context.Context, username string) (*roster.Administrator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.admins {
		if strings.EqualFold(a.Username, username) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, roster.ErrAdminNotFound
}

func (m *memRepository) List(ctx context.Context, filter roster.ListFilter) ([]*roster.Administrator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*roster.Administrator
	for _, a := range m.admins {
		if filter.Role != "" && a.Role != filter.Role {
			continue
		}
		if filter.Status == roster.StatusActive && !a.Active {
			continue
		}
		if filter.Status == roster.StatusSuspended && a.Active {
			continue
		}
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(a.Username), needle) &&
				!strings.Contains(strings.ToLower(a.Name), needle) &&
				!strings.Contains(strings.ToLower(a.Email), needle) {
				continue
			}
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if rbac.Rank(out[i].Role) != rbac.Rank(out[j].Role) {
			return rbac.Rank(out[i].Role) > rbac.Rank(out[j].Role)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memRepository) activeOwnersLocked() int {
	n := 0
	for _, a := range m.admins {
		if a.Role == rbac.RoleOwner && a.Active {
			n++
		}
	}
	return n
}

func (m *memRepository) UpdateRole(ctx context.Context, actorID, adminID, role string, permissions []string) (*roster.Administrator, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admins[adminID]
	if !ok {
		return nil, "", roster.ErrAdminNotFound
	}
	if a.Role == rbac.RoleOwner && role != rbac.RoleOwner && a.Active && m.activeOwnersLocked() <= 1 {
		return nil, "", roster.ErrLastOwnerProtection
	}
	fromRole := a.Role
	a.Role = role
	a.Permissions = permissions
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, fromRole, nil
}

func (m *memRepository) SetActive(ctx context.Context, adminID string, active bool) (*roster.Administrator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admins[adminID]
	if !ok {
		return nil, roster.ErrAdminNotFound
	}
	if !active && a.Active && a.Role == rbac.RoleOwner && m.activeOwnersLocked() <= 1 {
		return nil, roster.ErrLastOwnerProtection
	}
	a.Active = active
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memRepository) TouchLastLogin(ctx context.Context, adminID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admins[adminID]
	if !ok {
		return roster.ErrAdminNotFound
	}
	a.LastLoginAt = &at
	return nil
}

type testEnv struct {
	router  http.Handler
	service *roster.Service
	codec   *token.Codec
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := newMemRepository()
	hasher := roster.NewPasswordHasher(8*1024, 1, 1, 16, 32)
	auditLogger := audit.NewSlogLogger()
	service := roster.NewService(repo, hasher, auditLogger)

	codec, err := token.NewCodec([]byte("test-signing-secret-0123456789ab"), "warden-test", time.Hour)
	require.NoError(t, err)

	handler := NewHandler(service, authz.New(codec), codec, auditLogger)
	router := NewRouter(handler, NewRateLimiter(1000, 1000))

	return &testEnv{router: router, service: service, codec: codec}
}

// seed creates an administrator directly through the service and
// returns it together with a valid bearer token.
func (e *testEnv) seed(t *testing.T, username, email, role string) (*roster.Administrator, string) {
	t.Helper()
	admin, err := e.service.Create(context.Background(),
		username, "longenough1", username, email, role, "test-seed")
	require.NoError(t, err)

	signed, err := e.codec.Encode(token.Claims{
		Username:    admin.Username,
		Role:        admin.Role,
		Name:        admin.Name,
		Email:       admin.Email,
		Permissions: admin.Permissions,
		LoginTime:   time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	return admin, signed
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func TestHandler_HealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestHandler_Login(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "root", "root@example.com", rbac.RoleOwner)

	t.Run("success", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "",
			map[string]string{"username": "root", "password": "longenough1"})
		require.Equal(t, http.StatusOK, rec.Code)

		var body loginResponse
		decodeBody(t, rec, &body)
		assert.NotEmpty(t, body.Token)
		require.NotNil(t, body.Admin)
		assert.Equal(t, "root", body.Admin.Username)

		// The returned token must decode and carry the owner claims.
		claims, err := env.codec.Decode(body.Token)
		require.NoError(t, err)
		assert.Equal(t, rbac.RoleOwner, claims.Role)
		assert.NotZero(t, claims.LoginTime)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "",
			map[string]string{"username": "root", "password": "wrong-secret"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown username gets the same answer", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "",
			map[string]string{"username": "ghost", "password": "longenough1"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var body map[string]string
		decodeBody(t, rec, &body)
		assert.Equal(t, "invalid credentials", body["error"])
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "",
			map[string]string{"username": "root"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_Me(t *testing.T) {
	env := newTestEnv(t)
	_, bearer := env.seed(t, "amy", "amy@example.com", rbac.RoleSupport)

	t.Run("authenticated", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/auth/me", bearer, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		decodeBody(t, rec, &body)
		assert.Equal(t, "amy", body["username"])
		assert.Equal(t, rbac.RoleSupport, body["role"])
	})

	t.Run("no token", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var body map[string]string
		decodeBody(t, rec, &body)
		assert.Equal(t, "authentication required", body["error"])
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/auth/me", "not.a.token", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandler_ListAdmins(t *testing.T) {
	env := newTestEnv(t)
	_, ownerTok := env.seed(t, "root", "root@example.com", rbac.RoleOwner)
	_, adminTok := env.seed(t, "bob", "bob@example.com", rbac.RoleAdmin)
	_, supportTok := env.seed(t, "amy", "amy@example.com", rbac.RoleSupport)

	t.Run("owner and admin may list", func(t *testing.T) {
		for _, bearer := range []string{ownerTok, adminTok} {
			rec := env.do(t, http.MethodGet, "/api/v1/admins", bearer, nil)
			require.Equal(t, http.StatusOK, rec.Code)

			var body listAdminsResponse
			decodeBody(t, rec, &body)
			require.Len(t, body.Admins, 3)
			// Role rank ordering: owner surfaces first.
			assert.Equal(t, rbac.RoleOwner, body.Admins[0].Role)
			// The role template dictionary rides along for rendering.
			assert.Contains(t, body.RoleTemplates, rbac.RoleFinance)
		}
	})

	t.Run("support is refused", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/admins", supportTok, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("filters narrow the roster", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/admins?search=AM", ownerTok, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body listAdminsResponse
		decodeBody(t, rec, &body)
		require.Len(t, body.Admins, 1)
		assert.Equal(t, "amy", body.Admins[0].Username)
	})
}

func TestHandler_CreateAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, ownerTok := env.seed(t, "root", "root@example.com", rbac.RoleOwner)
	_, adminTok := env.seed(t, "bob", "bob@example.com", rbac.RoleAdmin)

	t.Run("owner creates a support account", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/admins", ownerTok, map[string]string{
			"username": "sara",
			"secret":   "longenough1",
			"name":     "Sara",
			"email":    "sara@example.com",
			"role":     rbac.RoleSupport,
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var created roster.Administrator
		decodeBody(t, rec, &created)
		assert.Equal(t, "sara", created.Username)
		assert.Equal(t, "root", created.CreatedBy)
		assert.Equal(t, rbac.TemplateFor(rbac.RoleSupport), created.Permissions)
		// The hash never leaves the server.
		assert.NotContains(t, rec.Body.String(), "argon2id")
	})

	t.Run("admin role is refused by policy", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/admins", adminTok, map[string]string{
			"username": "eve", "secret": "longenough1", "name": "Eve",
			"email": "eve@example.com", "role": rbac.RoleSupport,
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("validation failures are 400", func(t *testing.T) {
		tests := []struct {
			name string
			body map[string]string
		}{
			{"missing fields", map[string]string{"username": "x"}},
			{"unknown role", map[string]string{
				"username": "x", "secret": "longenough1", "name": "X",
				"email": "x@example.com", "role": "superuser"}},
			{"hierarchy-only role", map[string]string{
				"username": "x", "secret": "longenough1", "name": "X",
				"email": "x@example.com", "role": "user"}},
			{"weak secret", map[string]string{
				"username": "x", "secret": "short", "name": "X",
				"email": "x@example.com", "role": rbac.RoleSupport}},
			{"duplicate username", map[string]string{
				"username": "ROOT", "secret": "longenough1", "name": "X",
				"email": "x@example.com", "role": rbac.RoleSupport}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := env.do(t, http.MethodPost, "/api/v1/admins", ownerTok, tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			})
		}
	})
}

func TestHandler_ChangeRole(t *testing.T) {
	env := newTestEnv(t)
	rootAdmin, ownerTok := env.seed(t, "root", "root@example.com", rbac.RoleOwner)
	amy, _ := env.seed(t, "amy", "amy@example.com", rbac.RoleSupport)

	t.Run("owner promotes support to admin", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, "/api/v1/admins/"+amy.ID+"/role", ownerTok,
			map[string]string{"role": rbac.RoleAdmin})
		require.Equal(t, http.StatusOK, rec.Code)

		var updated roster.Administrator
		decodeBody(t, rec, &updated)
		assert.Equal(t, rbac.RoleAdmin, updated.Role)
		assert.Equal(t, rbac.TemplateFor(rbac.RoleAdmin), updated.Permissions)
	})

	t.Run("self role change is forbidden", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, "/api/v1/admins/"+rootAdmin.ID+"/role", ownerTok,
			map[string]string{"role": rbac.RoleAdmin})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown target is 404", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, "/api/v1/admins/"+id.NewUUIDv7()+"/role", ownerTok,
			map[string]string{"role": rbac.RoleAdmin})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("last owner demotion is forbidden", func(t *testing.T) {
		// A second owner demoting root would leave amy (now admin) and
		// one owner; demoting the final owner must fail.
		owner2, owner2Tok := env.seed(t, "root2", "root2@example.com", rbac.RoleOwner)

		rec := env.do(t, http.MethodPut, "/api/v1/admins/"+owner2.ID+"/role", ownerTok,
			map[string]string{"role": rbac.RoleAdmin})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodPut, "/api/v1/admins/"+rootAdmin.ID+"/role", owner2Tok,
			map[string]string{"role": rbac.RoleAdmin})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		var body map[string]string
		decodeBody(t, rec, &body)
		assert.Contains(t, body["error"], "last active owner")
	})
}

func TestHandler_DeactivateReactivate(t *testing.T) {
	env := newTestEnv(t)
	rootAdmin, ownerTok := env.seed(t, "root", "root@example.com", rbac.RoleOwner)
	amy, _ := env.seed(t, "amy", "amy@example.com", rbac.RoleSupport)

	rec := env.do(t, http.MethodPost, "/api/v1/admins/"+amy.ID+"/deactivate", ownerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var suspended roster.Administrator
	decodeBody(t, rec, &suspended)
	assert.False(t, suspended.Active)

	// Suspended accounts can no longer log in.
	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "amy", "password": "longenough1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Self-deactivation and last-owner deactivation are refused.
	rec = env.do(t, http.MethodPost, "/api/v1/admins/"+rootAdmin.ID+"/deactivate", ownerTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/admins/"+amy.ID+"/reactivate", ownerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var restored roster.Administrator
	decodeBody(t, rec, &restored)
	assert.True(t, restored.Active)

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "amy", "password": "longenough1"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestHandler_SuspendedActorLockedOut covers the dual-control property
// of suspension: a deactivated administrator's unexpired token still
// authenticates, but every roster mutation re-resolves the actor's live
// record and refuses a suspended account, so the target of a suspension
// can never reverse or outlive it on their own.
func TestHandler_SuspendedActorLockedOut(t *testing.T) {
	env := newTestEnv(t)
	_, rootTok := env.seed(t, "root", "root@example.com", rbac.RoleOwner)
	evil, evilTok := env.seed(t, "evil", "evil@example.com", rbac.RoleOwner)

	// Two active owners, so suspending one is allowed.
	rec := env.do(t, http.MethodPost, "/api/v1/admins/"+evil.ID+"/deactivate", rootTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The suspended owner's token must not undo the suspension.
	rec = env.do(t, http.MethodPost, "/api/v1/admins/"+evil.ID+"/reactivate", evilTok, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Nor perform any other mutation.
	rec = env.do(t, http.MethodPost, "/api/v1/admins", evilTok, map[string]string{
		"username": "minion", "secret": "longenough1", "name": "Minion",
		"email": "minion@example.com", "role": rbac.RoleAdmin,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/admins/"+evil.ID+"/role", evilTok,
		map[string]string{"role": rbac.RoleOwner})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The account stays suspended until a different administrator
	// restores it.
	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "evil", "password": "longenough1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/admins/"+evil.ID+"/reactivate", rootTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var restored roster.Administrator
	decodeBody(t, rec, &restored)
	assert.True(t, restored.Active)
}

// TestHandler_EndToEnd walks the full provisioning story: bootstrap
// owner logs in, creates a support administrator, the new account logs
// in and is correctly scoped, then gets promoted and re-scoped.
func TestHandler_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "root", "root@example.com", rbac.RoleOwner)

	// Owner logs in.
	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "root", "password": "longenough1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var ownerLogin loginResponse
	decodeBody(t, rec, &ownerLogin)

	// Owner provisions a support account.
	rec = env.do(t, http.MethodPost, "/api/v1/admins", ownerLogin.Token, map[string]string{
		"username": "sara", "secret": "longenough1", "name": "Sara",
		"email": "sara@example.com", "role": rbac.RoleSupport,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sara roster.Administrator
	decodeBody(t, rec, &sara)

	// The new account can log in but cannot list the roster.
	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "sara", "password": "longenough1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var saraLogin loginResponse
	decodeBody(t, rec, &saraLogin)

	rec = env.do(t, http.MethodGet, "/api/v1/admins", saraLogin.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Owner promotes sara to admin; a fresh login picks up the new scope.
	rec = env.do(t, http.MethodPut, "/api/v1/admins/"+sara.ID+"/role", ownerLogin.Token,
		map[string]string{"role": rbac.RoleAdmin})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "sara", "password": "longenough1"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &saraLogin)

	rec = env.do(t, http.MethodGet, "/api/v1/admins", saraLogin.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

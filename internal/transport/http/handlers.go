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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/authz"
	"github.com/wardenhq/warden/internal/observability/logger"
	"github.com/wardenhq/warden/internal/rbac"
	"github.com/wardenhq/warden/internal/roster"
	"github.com/wardenhq/warden/internal/token"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	rosterService *roster.Service
	authorizer    *authz.Authorizer
	codec         *token.Codec
	auditLogger   audit.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	rosterService *roster.Service,
	authorizer *authz.Authorizer,
	codec *token.Codec,
	auditLogger audit.Logger,
) *Handler {
	return &Handler{
		rosterService: rosterService,
		authorizer:    authorizer,
		codec:         codec,
		auditLogger:   auditLogger,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", h.Login)

		// Baseline admin gate, no fine-grained policy.
		r.With(h.RequireAuth(authz.Policy{})).Get("/auth/me", h.Me)

		// Roster management. List is open to owners and admins; every
		// mutation is owner-only.
		r.Route("/admins", func(r chi.Router) {
			r.With(h.RequireAuth(authz.Policy{
				AllowedRoles: []string{rbac.RoleOwner, rbac.RoleAdmin},
			})).Get("/", h.ListAdmins)

			r.Group(func(r chi.Router) {
				r.Use(h.RequireAuth(authz.Policy{
					AllowedRoles: []string{rbac.RoleOwner},
				}))
				r.Post("/", h.CreateAdmin)
				r.Put("/{adminID}/role", h.ChangeRole)
				r.Post("/{adminID}/deactivate", h.DeactivateAdmin)
				r.Post("/{adminID}/reactivate", h.ReactivateAdmin)
			})
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "warden",
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string                `json:"token"`
	Admin *roster.Administrator `json:"admin"`
}

// Login authenticates an administrator and issues a bearer token
// carrying the account's claims.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	admin, err := h.rosterService.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		// One message for every credential failure; the audit trail
		// keeps the distinction.
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	signed, err := h.codec.Encode(token.Claims{
		Username:    admin.Username,
		Role:        admin.Role,
		Name:        admin.Name,
		Email:       admin.Email,
		Permissions: admin.Permissions,
		LoginTime:   time.Now().UnixMilli(),
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue token", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, loginResponse{Token: signed, Admin: admin})
}

// Me returns the authenticated administrator's claims.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	identity := GetIdentity(r.Context())
	if identity == nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"username":    identity.Username,
		"role":        identity.Role,
		"name":        identity.Name,
		"email":       identity.Email,
		"permissions": identity.Permissions,
	})
}

type listAdminsResponse struct {
	Admins        []*roster.Administrator `json:"admins"`
	RoleTemplates map[string][]string     `json:"role_templates"`
}

// ListAdmins returns the roster filtered by the search/role/status
// query parameters, plus the role template dictionary for rendering.
func (h *Handler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	filter := roster.ListFilter{
		Search: r.URL.Query().Get("search"),
		Role:   r.URL.Query().Get("role"),
		Status: r.URL.Query().Get("status"),
	}

	admins, err := h.rosterService.List(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list administrators", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if admins == nil {
		admins = []*roster.Administrator{}
	}

	respondJSON(w, http.StatusOK, listAdminsResponse{
		Admins:        admins,
		RoleTemplates: rbac.Templates(),
	})
}

type createAdminRequest struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// CreateAdmin provisions a new administrator. Owner-only; the secret is
// accepted once and never returned in any form.
func (h *Handler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	actor := GetIdentity(r.Context())

	var req createAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actorAdmin, err := h.resolveActor(r, actor)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	admin, err := h.rosterService.Create(r.Context(),
		req.Username, req.Secret, req.Name, req.Email, req.Role, actorAdmin.Username)
	if err != nil {
		h.respondRosterError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, admin)
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

// ChangeRole updates a target administrator's role. Owner-only; the
// roster service refuses self-mutation and last-owner demotion.
func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	actor := GetIdentity(r.Context())
	targetID := chi.URLParam(r, "adminID")

	var req changeRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actorAdmin, err := h.resolveActor(r, actor)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	updated, err := h.rosterService.ChangeRole(r.Context(), actorAdmin.ID, targetID, req.Role)
	if err != nil {
		h.respondRosterError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

// DeactivateAdmin suspends a target administrator.
func (h *Handler) DeactivateAdmin(w http.ResponseWriter, r *http.Request) {
	actor := GetIdentity(r.Context())
	targetID := chi.URLParam(r, "adminID")

	actorAdmin, err := h.resolveActor(r, actor)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	updated, err := h.rosterService.Deactivate(r.Context(), actorAdmin.ID, targetID)
	if err != nil {
		h.respondRosterError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

// ReactivateAdmin lifts a suspension.
func (h *Handler) ReactivateAdmin(w http.ResponseWriter, r *http.Request) {
	actor := GetIdentity(r.Context())
	targetID := chi.URLParam(r, "adminID")

	actorAdmin, err := h.resolveActor(r, actor)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	updated, err := h.rosterService.Reactivate(r.Context(), actorAdmin.ID, targetID)
	if err != nil {
		h.respondRosterError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

// resolveActor maps the token identity back to its roster record. The
// token carries the username; mutations are attributed by record ID so
// the self-mutation check cannot be dodged by a stale token. A resolved
// actor whose account has been suspended since the token was issued is
// refused outright: deactivation must cut off mutations immediately,
// not at token expiry.
func (h *Handler) resolveActor(r *http.Request, claims *token.Claims) (*roster.Administrator, error) {
	if claims == nil {
		return nil, roster.ErrAdminNotFound
	}
	actor, err := h.rosterService.GetByUsername(r.Context(), claims.Username)
	if err != nil {
		return nil, err
	}
	if !actor.Active {
		return nil, roster.ErrAccountInactive
	}
	return actor, nil
}

// respondRosterError maps roster domain errors onto the HTTP status
// taxonomy: validation and duplicates are 400, guard refusals are 403,
// unknown targets are 404, anything else is 500.
func (h *Handler) respondRosterError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, roster.ErrMissingField),
		errors.Is(err, roster.ErrInvalidRole),
		errors.Is(err, roster.ErrInvalidEmail),
		errors.Is(err, roster.ErrInvalidUsername),
		errors.Is(err, roster.ErrWeakSecret),
		errors.Is(err, roster.ErrDuplicateUsername),
		errors.Is(err, roster.ErrDuplicateEmail):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, roster.ErrSelfMutationForbidden),
		errors.Is(err, roster.ErrLastOwnerProtection):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, roster.ErrAdminNotFound):
		respondError(w, http.StatusNotFound, "administrator not found")
	default:
		slog.ErrorContext(r.Context(), "roster operation failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// getIPAddress reports the client address for audit context. Forwarded
// headers are recorded as received; they are never used for enforcement
// (the rate limiter keys on the transport address, see remoteHost).
func getIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

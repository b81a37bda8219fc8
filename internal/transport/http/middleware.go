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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/authz"
	"github.com/wardenhq/warden/internal/observability/logger"
	"github.com/wardenhq/warden/internal/token"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var authzDecisions, _ = otel.Meter("warden/transport/http").Int64Counter(
	"warden.authz.decisions",
	metric.WithDescription("Authorization decisions by outcome"),
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// RequireAuth gates a route group behind the request authorizer with
// the given policy. On success the decoded claims are placed in the
// request context; on failure the response carries the mapped status
// with a message that never distinguishes a missing token from a
// malformed one.
func (h *Handler) RequireAuth(policy authz.Policy) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := h.authorizer.Authorize(r.Header.Get("Authorization"), policy)
			if !decision.Valid {
				authzDecisions.Add(r.Context(), 1, metric.WithAttributes(attribute.String("outcome", "deny")))
				h.denyRequest(w, r, decision.Err)
				return
			}
			authzDecisions.Add(r.Context(), 1, metric.WithAttributes(attribute.String("outcome", "allow")))
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), decision.Identity)))
		})
	}
}

// denyRequest logs and audits a failed authorization decision, then
// responds with the mapped status and a deliberately generic message.
func (h *Handler) denyRequest(w http.ResponseWriter, r *http.Request, err error) {
	status := authStatus(err)

	slog.WarnContext(r.Context(), "authorization denied",
		logger.Component("authz"),
		logger.Path(r.URL.Path),
		logger.DenyReason(err.Error()),
	)

	// Only authenticated-but-forbidden requests carry an actor identity
	// worth auditing; 401s are anonymous by definition.
	if status == http.StatusForbidden {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeAccessDenied,
			Resource:  r.URL.Path,
			IPAddress: getIPAddress(r),
			UserAgent: r.UserAgent(),
			Metadata:  map[string]any{audit.AttrReason: err.Error()},
		})
	}

	switch status {
	case http.StatusUnauthorized:
		respondError(w, status, "authentication required")
	case http.StatusForbidden:
		respondError(w, status, "forbidden: "+err.Error())
	default:
		respondError(w, status, "authorization failed")
	}
}

// authStatus maps an authorization failure to its HTTP status:
// authentication failures are 401, post-authentication policy failures
// are 403, anything unexpected is 500.
func authStatus(err error) int {
	switch {
	case errors.Is(err, authz.ErrNoToken),
		errors.Is(err, token.ErrMalformedToken),
		errors.Is(err, token.ErrInvalidSignature),
		errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrNotYetValid),
		errors.Is(err, authz.ErrInvalidRoleForAdminAccess):
		return http.StatusUnauthorized
	case errors.Is(err, authz.ErrInsufficientPermission),
		errors.Is(err, authz.ErrInsufficientRoleLevel),
		errors.Is(err, authz.ErrRoleNotAllowed):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

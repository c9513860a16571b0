// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package api

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/logging"
)

// observe counts and logs every request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.ContextWith(r.Context(), slog.String("request_id", middleware.GetReqID(r.Context())))
		r = r.WithContext(ctx)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.deps.Metrics.Request(r.Method, strconv.Itoa(status))
		s.logger.DebugContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start))
	})
}

// authenticate resolves the bearer token to a principal. WebSocket clients
// that cannot set headers may pass the token as the "token" query
// parameter.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if s.deps.Throttle != nil {
			if res := s.deps.Throttle.Check(key); res.IsLockedOut {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.LockoutRemaining.Seconds()))))
				s.writeError(w, r, oops.Code("TOO_MANY_ATTEMPTS").
					With("client", key).
					Errorf("too many rejected tokens"))
				return
			}
		}

		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.writeError(w, r, oops.Code("UNAUTHORIZED").Wrapf(auth.ErrUnauthorized, "missing bearer token"))
			return
		}

		principal, err := s.deps.Auth.Verify(r.Context(), token)
		if err != nil {
			if s.deps.Throttle != nil {
				s.deps.Throttle.Failure(key)
			}
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			s.writeError(w, r, err)
			return
		}
		if s.deps.Throttle != nil {
			s.deps.Throttle.Success(key)
		}
		ctx := logging.ContextWith(r.Context(), slog.Int64("user_id", principal.UserID))
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(ctx, principal)))
	})
}

// clientKey identifies the caller for throttling. RealIP has already
// replaced RemoteAddr when a proxy header is present.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", false
		}
		return strings.TrimSpace(token), true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}

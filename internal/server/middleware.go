package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"tailscale.com/client/tailscale/apitype"
)

type contextKey int

const (
	userIDKey contextKey = iota
	userInfoKey
)

// UserInfo identifies the caller.
type UserInfo struct {
	UserID      int    `json:"user_id,omitempty"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

var devUser = UserInfo{UserID: 1, Login: "local", DisplayName: "Local Dev User"}

// WhoIsClient resolves the Tailscale identity behind a remote address.
// *local.Client from tailscale.com/client/local satisfies it.
type WhoIsClient interface {
	WhoIs(ctx context.Context, remoteAddr string) (*apitype.WhoIsResponse, error)
}

// DevIdentity sets user 1 on every request.
func DevIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), userIDKey, devUser.UserID)
		ctx = context.WithValue(ctx, userInfoKey, devUser)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identity uses the Tailscale peer when SetTailscale was called and the dev
// user otherwise.
func (s *Server) identity(next http.Handler) http.Handler {
	dev := DevIdentity(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.ts == nil {
			dev.ServeHTTP(w, r)
			return
		}
		who, err := s.ts.WhoIs(r.Context(), r.RemoteAddr)
		if err != nil {
			s.log.Warn("whois failed", "remote", r.RemoteAddr, "error", err)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unknown tailnet peer"})
			return
		}
		if who.UserProfile == nil || who.UserProfile.LoginName == "" {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "tagged nodes cannot own sessions"})
			return
		}
		info := UserInfo{Login: who.UserProfile.LoginName, DisplayName: who.UserProfile.DisplayName}
		uid, err := s.sessions.Store().GetOrCreateUser(r.Context(), info.Login, info.DisplayName)
		if err != nil {
			s.log.Error("resolving user", "login", info.Login, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		info.UserID = uid
		ctx := context.WithValue(r.Context(), userIDKey, uid)
		ctx = context.WithValue(ctx, userInfoKey, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userIDFromContext returns the caller's user id, defaulting to the dev user.
func userIDFromContext(r *http.Request) int {
	if id, ok := r.Context().Value(userIDKey).(int); ok && id > 0 {
		return id
	}
	return devUser.UserID
}

// UserIDFromRequest exposes the caller's user id to handlers mounted with
// MountIdentified.
func UserIDFromRequest(r *http.Request) int {
	return userIDFromContext(r)
}

// userInfoFromContext returns the caller's identity, defaulting to the dev user.
func userInfoFromContext(r *http.Request) UserInfo {
	if info, ok := r.Context().Value(userInfoKey).(UserInfo); ok {
		return info
	}
	return devUser
}

// RateLimit returns middleware allowing each user perSecond requests with
// the given burst. A non-positive rate disables it.
func RateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	var mu sync.Mutex
	limiters := map[int]*rate.Limiter{}
	get := func(uid int) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[uid]
		if !ok {
			l = rate.NewLimiter(rate.Limit(perSecond), burst)
			limiters[uid] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := get(userIDFromContext(r))
			if !l.Allow() {
				retry := time.Duration(float64(time.Second) / perSecond)
				w.Header().Set("Retry-After", strconv.Itoa(max(int(retry.Seconds()), 1)))
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogging returns middleware that logs each request.
func RequestLogging(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration", time.Since(start).String(),
			)
		})
	}
}

// CORS adds permissive CORS headers for local development.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter wraps ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

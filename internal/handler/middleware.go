package handler

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"phone-auth-service/internal/ratelimit"
	"phone-auth-service/internal/service"
	"phone-auth-service/internal/util"
)

const (
	maxBodyBytes     = 1 << 20
	maxUserAgentLen  = 512
	adminKeyHeader   = "X-Admin-Key"
	rateLimitMessage = "Too many requests. Please try again later."

	phoneAuthLimitMessage = "Too many phone authentication attempts. Maximum 5 requests allowed per IP address per 24 hours."
	invalidPhoneMessage   = "Invalid phone number format"
)

var phoneFormat = regexp.MustCompile(`^\+\d{10,15}$`)

type deviceContextKey struct{}

// RateLimiter is the sliding window consulted before each API request.
type RateLimiter interface {
	Allow(ctx context.Context, clientID string) (ratelimit.Decision, error)
	Record(ctx context.Context, clientID string) error
}

// requireHTTPS rejects any request that wasn't made over TLS or forwarded
// from a TLS terminating proxy.
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			_, _ = w.Write([]byte(`{"success":false,"message":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// DeviceFingerprint attaches the caller's user agent, IP and arrival time to
// the request context. Run it after middleware.RealIP.
func DeviceFingerprint(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.UserAgent()
		if ua == "" {
			ua = "unknown"
		}
		info := service.DeviceInfo{
			IPAddress: clientIP(r),
			UserAgent: util.Truncate(util.SanitizeInput(ua), maxUserAgentLen),
			Timestamp: time.Now(),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deviceContextKey{}, info)))
	})
}

// DeviceFromContext returns the fingerprint stored by DeviceFingerprint.
func DeviceFromContext(ctx context.Context) service.DeviceInfo {
	info, ok := ctx.Value(deviceContextKey{}).(service.DeviceInfo)
	if !ok {
		return service.DeviceInfo{IPAddress: "unknown", UserAgent: "unknown"}
	}
	return info
}

// RateLimit denies a client once it exceeds the limiter's window. Store
// failures let the request through.
func RateLimit(limiter RateLimiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return RateLimitWithMessage(limiter, rateLimitMessage, logger)
}

// RateLimitWithMessage is RateLimit with a custom denial message.
func RateLimitWithMessage(limiter RateLimiter, message string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := clientIP(r)

			decision, err := limiter.Allow(ctx, ip)
			if err != nil {
				logger.Error("Rate limit check failed", zap.String("ip", ip), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			if !decision.Allowed {
				retry := int((decision.RetryAfter + time.Second - 1) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("X-RateLimit-Remaining", "0")
				logger.Warn("Rate limit exceeded", zap.String("ip", ip), zap.Int("count", decision.Count))
				writeJSON(w, logger, http.StatusTooManyRequests, Response{
					Success: false,
					Message: message,
					Error:   service.ErrRateLimited.Error(),
				})
				return
			}

			remaining := decision.Limit - decision.Count - 1
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if err := limiter.Record(ctx, ip); err != nil {
				logger.Error("Failed to record request for rate limiting", zap.String("ip", ip), zap.Error(err))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PhoneSanitizer rewrites the phoneNumber field of a JSON body so it holds
// only digits and '+', and rejects a non-empty number that is not '+'
// followed by 10 to 15 digits. Bodies that are not JSON objects pass through
// untouched.
func PhoneSanitizer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodDelete {
				next.ServeHTTP(w, r)
				return
			}

			raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			_ = r.Body.Close()
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			var body map[string]json.RawMessage
			var phone string
			if json.Unmarshal(raw, &body) == nil {
				if field, ok := body["phoneNumber"]; ok && json.Unmarshal(field, &phone) == nil && phone != "" {
					clean := util.SanitizePhoneNumber(phone)
					if !phoneFormat.MatchString(clean) {
						writeJSON(w, logger, http.StatusBadRequest, Response{Success: false, Message: invalidPhoneMessage})
						return
					}
					if encoded, err := json.Marshal(clean); err == nil {
						body["phoneNumber"] = encoded
						if rewritten, err := json.Marshal(body); err == nil {
							raw = rewritten
						}
					}
				}
			}

			r.Body = io.NopCloser(bytes.NewReader(raw))
			r.ContentLength = int64(len(raw))
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdminKey guards operator routes with a static key. An empty key
// disables the routes.
func RequireAdminKey(key string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(adminKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				logger.Warn("Rejected admin request", zap.String("ip", clientIP(r)), zap.String("path", r.URL.Path))
				writeJSON(w, logger, http.StatusUnauthorized, Response{Success: false, Message: "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	return host
}

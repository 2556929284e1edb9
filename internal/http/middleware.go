package http

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/salon-booking-settlement/internal/auth"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/idempotency"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
	"github.com/robertarktes/salon-booking-settlement/internal/rateLimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithFields(map[string]interface{}{
				"request_id": reqID,
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			ctx := observability.ContextWithLogger(r.Context(), entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

// CORSMiddleware allows browser clients from any origin and answers preflight
// requests directly.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type, idempotency-key")
		h.Set("Access-Control-Allow-Methods", "POST, GET, PUT, OPTIONS")
		h.Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func JWTMiddleware(verifier *auth.Verifier, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := verifier.Verify(r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, r, logger, err)
				return
			}
			ctx := auth.WithIdentity(r.Context(), id)
			ctx = observability.ContextWithLogger(ctx, observability.LoggerFrom(ctx, logger).WithField("user_id", id.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireRole(role auth.Role, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFrom(r.Context())
			if !ok {
				writeError(w, r, logger, auth.ErrUnauthorized)
				return
			}
			if id.Role != role {
				writeError(w, r, logger, errors.Wrapf(domain.ErrForbidden, "requires %s role", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type limitKey struct {
	key  string
	rate int
}

type RateLimits struct {
	PerUser int
	PerIP   int
	Window  time.Duration
}

func RateLimitMiddleware(rl *rateLimit.RateLimiter, limits RateLimits, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			keys := []limitKey{{"ip:" + ip, limits.PerIP}}
			if id, ok := auth.IdentityFrom(r.Context()); ok {
				keys = append(keys, limitKey{"user:" + id.UserID.String(), limits.PerUser})
			}

			for _, k := range keys {
				allowed, err := rl.Allow(r.Context(), k.key, k.rate, limits.Window)
				if err != nil {
					observability.LoggerFrom(r.Context(), logger).WithError(err).Warn("rate limiter unavailable")
					break
				}
				if !allowed {
					writeJSON(w, http.StatusTooManyRequests, errorBody{Success: false, Error: "rate limit exceeded"})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdempotencyMiddleware replays the stored response of a POST that carried the
// same Idempotency-Key for the same user. Requests without the header pass
// through. Server errors are not stored so the client can retry them.
func IdempotencyMiddleware(idemp *idempotency.Idempotency, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if idemp == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Idempotency-Key")
			if r.Method != http.MethodPost || header == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(header) < 16 || len(header) > 128 {
				writeError(w, r, logger, errors.Wrap(domain.ErrInvalidInput, "invalid Idempotency-Key"))
				return
			}
			key := r.URL.Path + ":" + header
			if id, ok := auth.IdentityFrom(r.Context()); ok {
				key = id.UserID.String() + ":" + key
			}
			log := observability.LoggerFrom(r.Context(), logger)

			if existing, err := idemp.Get(r.Context(), key); err != nil {
				log.WithError(err).Warn("idempotency lookup failed")
			} else if existing != nil {
				replay(w, existing)
				return
			}

			if err := idemp.Begin(r.Context(), key); err != nil {
				if errors.Is(err, idempotency.ErrInProgress) {
					writeError(w, r, logger, err)
					return
				}
				log.WithError(err).Warn("idempotency lock failed")
				next.ServeHTTP(w, r)
				return
			}
			defer func() {
				if err := idemp.Done(r.Context(), key); err != nil {
					log.WithError(err).Warn("idempotency unlock failed")
				}
			}()

			var body bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 || status >= http.StatusInternalServerError {
				return
			}
			err := idemp.Set(context.WithoutCancel(r.Context()), key, idempotency.Response{
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Result:      body.Bytes(),
			})
			if err != nil {
				log.WithError(err).Warn("idempotency store failed")
			}
		})
	}
}

func replay(w http.ResponseWriter, resp *idempotency.Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Result)
}

package api

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey int

const callerKey ctxKey = iota

// CallerFrom returns the authenticated caller, or nil for guests.
func CallerFrom(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerKey).(*Caller)
	return c
}

func withCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// BearerAuth resolves Authorization: Bearer <token> into a Caller. Requests
// without a token pass through as guests; handlers decide whether that is
// enough. A token that fails verification is rejected with 401.
func BearerAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if token == "" || token == authHeader {
				respondError(w, http.StatusUnauthorized, "Authorization header must be: Bearer <token>")
				return
			}

			caller, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, ErrInvalidToken) {
					respondError(w, http.StatusUnauthorized, "Invalid or expired session")
					return
				}
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("token verification failed")
				respondError(w, http.StatusBadGateway, "Could not verify session")
				return
			}

			lg := zerolog.Ctx(r.Context()).With().Str("user_id", caller.ID.String()).Logger()
			ctx := lg.WithContext(withCaller(r.Context(), caller))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessLog stores a request-scoped logger in the context and writes one
// access line per request, at a level chosen by the response status.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		lg := log.With().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_ip", clientIP(r)).
			Logger()
		r = r.WithContext(lg.WithContext(r.Context()))

		defer func() {
			ev := zerolog.Ctx(r.Context()).With().
				Int("status", ww.Status()).
				Dur("latency", time.Since(start)).
				Int("bytes_out", ww.BytesWritten()).
				Logger()
			switch {
			case ww.Status() >= 500:
				ev.Error().Msg("request")
			case ww.Status() >= 400:
				ev.Warn().Msg("request")
			default:
				ev.Info().Msg("request")
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

// Recover turns a panic into the standard failure envelope.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				zerolog.Ctx(r.Context()).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				respondError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Preflight answers CORS preflight requests with 204 once the cors handler
// has set the Access-Control-Allow-* headers.
func Preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LimitBody caps request bodies at maxBytes. Reads past the cap fail with
// *http.MaxBytesError.
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCaller rejects guests.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if CallerFrom(r.Context()) == nil {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

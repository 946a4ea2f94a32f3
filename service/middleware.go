package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/carequery/fhirpath/api"
	"github.com/golang-jwt/jwt/v4"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// requestIDMiddleware assigns each request a ksuid, echoed in the response
// header and carried on the request context for log correlation.
func (c *Core) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(api.RequestIDHeader)
		if id == "" {
			id = ksuid.New().String()
		}
		w.Header().Set(api.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), api.RequestIDHeader, id) //nolint:staticcheck
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c *Core) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		c.logger.Info("http request",
			zap.String("request_id", api.RequestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// authMiddleware verifies HMAC-signed bearer tokens against the configured
// secret.
func (c *Core) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			c.respond(w, http.StatusUnauthorized, api.Error{
				Type: "Error", Kind: "auth", Message: "missing bearer token",
			})
			return
		}
		_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return []byte(c.conf.Auth.Secret), nil
		})
		if err != nil {
			c.respond(w, http.StatusUnauthorized, api.Error{
				Type: "Error", Kind: "auth", Message: "invalid token: " + err.Error(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

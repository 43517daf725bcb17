package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// TokenValidator validates agent delivery tokens presented to the ingest
// endpoint.
type TokenValidator interface {
	ValidateToken(tokenString string) (*TokenClaims, error)
}

// TokenClaims represents the claims we expect from the token validator.
type TokenClaims struct {
	SubjectID string
	Login     string
}

type contextKeySubjectID struct{}
type contextKeyLogin struct{}

var (
	ContextKeySubjectID = contextKeySubjectID{}
	ContextKeyLogin     = contextKeyLogin{}
)

// GetSubjectID retrieves the authenticated subject from the context.
func GetSubjectID(ctx context.Context) string {
	subjectID, ok := ctx.Value(ContextKeySubjectID).(string)
	if !ok {
		return ""
	}
	return subjectID
}

// GetLogin retrieves the authenticated login from the context.
func GetLogin(ctx context.Context) string {
	login, ok := ctx.Value(ContextKeyLogin).(string)
	if !ok {
		return ""
	}
	return login
}

// RequireDeliveryToken guards the ingest endpoint. Tokens are minted by the
// agent's credential source and verified here; a missing or invalid token is
// a 401 without detail.
func RequireDeliveryToken(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, r, logger, "missing token")
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				unauthorized(w, r, logger, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeySubjectID, claims.SubjectID)
			ctx = context.WithValue(ctx, ContextKeyLogin, claims.Login)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireReviewerKey guards the reviewer query endpoints with a static API
// key checked against a bcrypt hash from configuration.
func RequireReviewerKey(keyHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" {
				unauthorized(w, r, logger, "reviewer access not configured")
				return
			}
			key, ok := bearerToken(r)
			if !ok {
				unauthorized(w, r, logger, "missing reviewer key")
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)); err != nil {
				unauthorized(w, r, logger, "invalid reviewer key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	const bearerPrefix = "Bearer "
	after, ok := strings.CutPrefix(authHeader, bearerPrefix)
	if !ok || after == "" {
		return "", false
	}
	return after, true
}

func unauthorized(w http.ResponseWriter, r *http.Request, logger *slog.Logger, reason string) {
	logger.WarnContext(r.Context(), "unauthorized access",
		"reason", reason,
		"path", r.URL.Path,
		"request_id", GetRequestID(r.Context()),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

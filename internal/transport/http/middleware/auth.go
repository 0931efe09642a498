package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"deedstudio/internal/httputil"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// AuthorIDKey is the context key for the authenticated author's ID
	AuthorIDKey contextKey = "author_id"
)

// AuthMiddleware creates a middleware that validates JWT tokens
// Checks Authorization header first (for mobile), then falls back to cookie (for web)
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tokenString string

			// 1. Authorization header (mobile apps)
			authHeader := r.Header.Get("Authorization")
			if authHeader != "" {
				// Expected format: "Bearer <token>"
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
					tokenString = parts[1]
				}
			}

			// 2. Cookie (web)
			if tokenString == "" {
				cookie, err := r.Cookie("access_token")
				if err == nil && cookie.Value != "" {
					tokenString = cookie.Value
				}
			}

			if tokenString == "" {
				httputil.WriteUnauthorized(w, "Missing authentication token")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					httputil.WriteUnauthorizedWithCode(w, httputil.ErrCodeTokenExpired, "Access token has expired")
					return
				}
				httputil.WriteUnauthorizedWithCode(w, httputil.ErrCodeTokenInvalid, "Invalid authentication token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !token.Valid {
				httputil.WriteUnauthorizedWithCode(w, httputil.ErrCodeTokenInvalid, "Invalid authentication token")
				return
			}

			authorID, ok := authorFromClaims(claims)
			if !ok {
				httputil.WriteUnauthorizedWithCode(w, httputil.ErrCodeTokenInvalid, "Invalid token claims")
				return
			}

			ctx := context.WithValue(r.Context(), AuthorIDKey, authorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authorFromClaims reads the author id from "sub", falling back to the
// numeric or string "user_id" claim issued by older tokens.
func authorFromClaims(claims jwt.MapClaims) (string, bool) {
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, true
	}
	switch v := claims["user_id"].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatInt(int64(v), 10), true
	}
	return "", false
}

// GetAuthorIDFromContext extracts the author ID from the request context.
func GetAuthorIDFromContext(ctx context.Context) (string, bool) {
	authorID, ok := ctx.Value(AuthorIDKey).(string)
	return authorID, ok && authorID != ""
}

// WithAuthorID returns ctx carrying authorID, as AuthMiddleware would.
func WithAuthorID(ctx context.Context, authorID string) context.Context {
	return context.WithValue(ctx, AuthorIDKey, authorID)
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/p2pdesk/p2pdesk-api/internal/pkg/jwt"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/logger"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/response"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// Auth returns middleware that validates the gateway-issued bearer token
func Auth(jwtService *jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			claims, err := jwtService.ValidateAccessToken(parts[1])
			if err != nil {
				if err == jwt.ErrExpiredToken {
					response.Unauthorized(w, "Token expired")
				} else {
					response.Unauthorized(w, "Invalid token")
				}
				return
			}

			ctx := WithUserID(r.Context(), claims.UserID)
			l := logger.FromContext(ctx).With().Int64("user_id", claims.UserID).Logger()
			next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx, &l)))
		})
	}
}

// WithUserID stores the authenticated chat user id in ctx
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID extracts user ID from context, 0 when unauthenticated
func GetUserID(ctx context.Context) int64 {
	if id, ok := ctx.Value(UserIDKey).(int64); ok {
		return id
	}
	return 0
}

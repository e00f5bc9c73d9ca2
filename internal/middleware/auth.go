package middleware

import (
	"context"
	"net/http"
	"strings"

	"prepline-kds-service/internal/auth"
	"prepline-kds-service/pkg/response"
)

type contextKey string

const authContextKey contextKey = "authContext"

type AuthContext struct {
	DeviceID   string
	DeviceName string
}

func WithAuthContext(ctx context.Context, authCtx *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, authCtx)
}

func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	value := ctx.Value(authContextKey)
	if value == nil {
		return nil, false
	}
	ac, ok := value.(*AuthContext)
	return ac, ok
}

func writeAuthError(w http.ResponseWriter, message string) {
	response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// DisplayAuth gates display endpoints behind a paired-device token. The ws
// handshake cannot set headers, so a token query parameter is accepted
// there as a fallback.
func DisplayAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.ParseBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				token = strings.TrimSpace(r.URL.Query().Get("token"))
			}
			if token == "" {
				writeAuthError(w, "Missing access token")
				return
			}

			claims, err := auth.VerifyAccessToken(token, secret)
			if err != nil {
				writeAuthError(w, "Invalid or expired access token")
				return
			}

			authCtx := &AuthContext{
				DeviceID:   claims.DeviceID,
				DeviceName: claims.DeviceName,
			}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), authCtx)))
		})
	}
}

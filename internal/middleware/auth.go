// File: internal/middleware/auth.go
package middleware

import (
	"context"

	"notification_hub_backend/internal/common"

	"firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// accessTokenQueryParam carries the ID token for clients that cannot set
// headers, such as browser EventSource connections to the feed stream.
const accessTokenQueryParam = "access_token"

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// AuthMiddleware requires a valid Firebase ID token and stores the caller's
// UID under common.FirebaseUIDKey.
func AuthMiddleware(verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		idToken := common.GetTokenFromContext(c)
		if idToken == "" {
			idToken = c.Query(accessTokenQueryParam)
		}
		if idToken == "" {
			logger.Debug("ID token missing", zap.String("path", c.Request.URL.Path))
			common.RespondWithError(c, common.ErrUnauthorized.WithDetails("Authorization header format must be 'Bearer <token>'."))
			return
		}

		token, err := verifier.VerifyIDToken(c.Request.Context(), idToken)
		if err != nil {
			logger.Warn("Token validation failed", zap.Error(err))
			common.RespondWithError(c, common.ErrUnauthorized.WithDetails("Invalid or expired ID token."))
			return
		}

		c.Set(common.FirebaseUIDKey, token.UID)
		logger.Debug("User authenticated", zap.String("uid", token.UID))
		c.Next()
	}
}

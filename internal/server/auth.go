package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDContextKey = "user_id"

var (
	errInvalidToken = errors.New("invalid token")
	errExpiredToken = errors.New("expired token")
)

// sessionClaims are the JWT claims the API accepts. The subject is the
// user id that owns the conversation.
type sessionClaims struct {
	jwt.RegisteredClaims
}

// validateToken parses and verifies an HS256 session token and returns
// the user id from its subject claim.
func validateToken(tokenString string, secret []byte) (string, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errExpiredToken
		}
		return "", errInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

// authMiddleware validates the Bearer session token and stores the
// signed-in user id on the request context. Requests without a valid
// credential are rejected before any store or backend call happens.
func authMiddleware(secret string, logger *slog.Logger) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		tokenParts := strings.SplitN(authHeader, " ", 2)
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization header, use 'Bearer <token>'",
			})
			return
		}

		userID, err := validateToken(tokenParts[1], key)
		if err != nil {
			message := "invalid token"
			if errors.Is(err, errExpiredToken) {
				message = "token expired"
			}
			logger.DebugContext(c.Request.Context(), "Rejected request with bad session token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
			return
		}

		c.Set(userIDContextKey, userID)
		c.Next()
	}
}

// NewSessionToken issues an HS256 session token for a user id. Used by
// tests and by deployments that provision tokens out of band.
func NewSessionToken(userID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

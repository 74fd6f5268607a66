package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"social_chat/pkg/logger"
)

const (
	ContextUserID      = "user_id"
	ContextDisplayName = "user_display_name"
	ContextDeviceID    = "device_id"
)

// JWTClaims - claims токена внешнего Auth-сервиса
type JWTClaims struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// AuthMiddleware проверяет access-токены. Выдает их внешний Auth-сервис, здесь только валидация.
type AuthMiddleware struct {
	jwtSecret []byte
	issuer    string
	log       logger.Logger
}

func NewAuthMiddleware(jwtSecret, issuer string, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: []byte(jwtSecret),
		issuer:    issuer,
		log:       log,
	}
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := bearerToken(c)
		if err != nil {
			m.log.Debug("Rejected request without token", "path", c.Request.URL.Path, "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		claims, err := m.ParseToken(tokenString)
		if err != nil {
			m.log.Warn("Token validation failed", "error", err.Error())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextDisplayName, claims.DisplayName)
		c.Next()
	}
}

// bearerToken: заголовок Authorization, для WebSocket допускается ?token=
func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", fmt.Errorf("Authorization header required")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", fmt.Errorf("Invalid authorization header format")
	}
	return parts[1], nil
}

func (m *AuthMiddleware) ParseToken(tokenString string) (*JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.jwtSecret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// UserID достает id пользователя, проставленный RequireAuth
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func DisplayName(c *gin.Context) string {
	return c.GetString(ContextDisplayName)
}

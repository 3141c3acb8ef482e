package http

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var errNoToken = errors.New("missing bearer token")

type adminClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// tokenIssuer signs and verifies the admin API's JWTs.
type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func newTokenIssuer(secret string, ttl time.Duration) *tokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &tokenIssuer{secret: []byte(secret), ttl: ttl}
}

func (t *tokenIssuer) issue(adminID int64, username string) (string, error) {
	now := time.Now()
	claims := adminClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", adminID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *tokenIssuer) verify(tokenString string) (*adminClaims, error) {
	claims := &adminClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// authMiddleware rejects requests without a valid bearer token.
func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": err.Error()})
			return
		}
		claims, err := h.tokens.verify(token)
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set("admin", claims.Username)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", errNoToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errNoToken
	}
	return parts[1], nil
}

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const operatorContextKey = "Operator"

// OperatorClaims represents JWT claims for an operator.
type OperatorClaims struct {
	Operator string `json:"op"`
	jwt.RegisteredClaims
}

// IssueToken signs an operator token valid for ttl.
func IssueToken(operator, secret string, ttl time.Duration) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, errors.New("empty jwt secret")
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := OperatorClaims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	return signed, expiresAt, err
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*OperatorClaims); ok && token.Valid && claims.Operator != "" {
		return claims.Operator, nil
	}
	return "", errors.New("invalid token claims")
}

// AuthMiddleware enforces JWT auth for protected routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_AUTH_HEADER",
				"error": "invalid Authorization header",
			})
			return
		}

		operator, err := parseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(operatorContextKey, operator)
		c.Next()
	}
}

// CurrentOperator returns the authenticated operator from context.
func CurrentOperator(c *gin.Context) string {
	if v, ok := c.Get(operatorContextKey); ok {
		if op, okCast := v.(string); okCast {
			return op
		}
	}
	return ""
}

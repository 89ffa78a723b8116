package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const callerKey = "tradepost.caller"

// IssueToken signs an HS256 bearer token whose subject is userID.
func IssueToken(secret []byte, issuer string, userID uint, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("api: jwt secret is required")
	}
	if userID == 0 {
		return "", errors.New("api: user id is required")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("api: sign token: %w", err)
	}
	return signed, nil
}

// parseToken verifies raw and returns the user id in its subject.
func parseToken(secret []byte, issuer, raw string) (uint, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("subject %q is not a user id", claims.Subject)
	}
	return uint(id), nil
}

// authenticate resolves the caller from the Authorization header. The token
// subject is the only source of the acting identity.
func authenticate(secret []byte, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Code: "unauthenticated", Message: "bearer token required"})
			return
		}
		id, err := parseToken(secret, issuer, strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Code: "invalid_token", Message: "token rejected"})
			return
		}
		c.Set(callerKey, id)
		c.Next()
	}
}

func caller(c *gin.Context) uint {
	return c.GetUint(callerKey)
}

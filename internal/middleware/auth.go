package middleware

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/botgrid/hosting/pkg/config"
)

// NodeClaims is the JWT payload of a per-node secret
type NodeClaims struct {
	NodeID string `json:"node_id"`
	jwt.RegisteredClaims
}

// IssueNodeSecret signs a long-lived per-node credential. Returned to the
// agent once, on first registration against the bootstrap token.
func IssueNodeSecret(cfg *config.Config, nodeID string) (string, error) {
	claims := NodeClaims{
		NodeID: nodeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  nodeID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
			Issuer:   cfg.AppName,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.NodeSecretKey))
}

// ValidateNodeSecret parses a per-node credential and returns its node id
func ValidateNodeSecret(cfg *config.Config, tokenString string) (string, error) {
	claims := &NodeClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(cfg.NodeSecretKey), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.NodeID == "" {
		return "", fmt.Errorf("invalid node credential")
	}
	return claims.NodeID, nil
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// NodeAuth accepts either the one-time registration token or a per-node
// credential. The resolved node id, if any, is stored in the context.
func NodeAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			HandleAppError(c, NewUnauthorizedError("Missing bearer token"))
			return
		}

		if cfg.RegistrationToken != "" &&
			subtle.ConstantTimeCompare([]byte(token), []byte(cfg.RegistrationToken)) == 1 {
			c.Set("registration", true)
			c.Next()
			return
		}

		nodeID, err := ValidateNodeSecret(cfg, token)
		if err != nil {
			HandleAppError(c, NewUnauthorizedError("Invalid node credential"))
			return
		}
		c.Set("node_id", nodeID)
		c.Next()
	}
}

// AdminAuth guards the admin surface with a static bearer token
func AdminAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AdminToken == "" {
			HandleAppError(c, NewUnauthorizedError("Admin surface disabled"))
			return
		}
		token := bearerToken(c)
		if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.AdminToken)) != 1 {
			HandleAppError(c, NewUnauthorizedError("Invalid admin token"))
			return
		}
		c.Next()
	}
}

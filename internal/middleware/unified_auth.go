package middleware

import (
	"encoding/base64"
	"net/http"
	"strings"

	apperrors "gemini-oauth-proxy/internal/errors"
	"gemini-oauth-proxy/internal/httpformat"
	"github.com/gin-gonic/gin"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// RequiredKey is the expected API secret (if empty, auth is disabled).
	RequiredKey string
}

// UnifiedAuth checks the inbound request against one of the schemes listed
// in spec §4.5, in order: Authorization: Bearer <secret>, Authorization:
// Basic base64(anything:<secret>), query key=<secret>, header
// x-goog-api-key: <secret>.
func UnifiedAuth(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.RequiredKey == "" {
			c.Next()
			return
		}

		if provided, ok := extractCredential(c); ok && provided == cfg.RequiredKey {
			c.Set("api_key", provided)
			c.Next()
			return
		}

		respondUnauthorized(c, "invalid or missing credentials")
	}
}

func extractCredential(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		if rest, ok := trimCaseInsensitivePrefix(authHeader, "bearer "); ok {
			return strings.TrimSpace(rest), true
		}
		if rest, ok := trimCaseInsensitivePrefix(authHeader, "basic "); ok {
			decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest))
			if err == nil {
				if _, pass, found := strings.Cut(string(decoded), ":"); found {
					return pass, true
				}
			}
		}
	}

	if key := c.Query("key"); key != "" {
		return key, true
	}

	if key := c.GetHeader("x-goog-api-key"); key != "" {
		return key, true
	}

	return "", false
}

func trimCaseInsensitivePrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

func respondUnauthorized(c *gin.Context, message string) {
	err := apperrors.New(
		http.StatusUnauthorized,
		"invalid_api_key",
		"authentication_error",
		message,
	)
	format := httpformat.DetectFromContext(c)
	payload, marshalErr := err.ToJSON(format)
	if marshalErr != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"message": err.Message,
				"type":    err.Type,
				"code":    err.HTTPStatus,
			},
		})
		c.Abort()
		return
	}
	c.Data(http.StatusUnauthorized, "application/json", payload)
	c.Abort()
}

// Package server assembles the gin engine that implements spec §4.5's
// HTTP surface: the OpenAI-compatible route, the native Gemini routes,
// health/root, and the ambient metrics endpoint.
package server

import (
	"net/http"
	"strings"

	"gemini-oauth-proxy/internal/config"
	"gemini-oauth-proxy/internal/credential"
	"gemini-oauth-proxy/internal/middleware"
	"gemini-oauth-proxy/internal/upstream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the runtime services the HTTP layer dispatches into.
type Dependencies struct {
	Pool     *credential.Manager
	Pipeline *upstream.Pipeline
}

// BuildEngine constructs the gin engine with every route of spec §4.5.
func BuildEngine(cfg *config.Config, deps Dependencies) *gin.Engine {
	if !cfg.Security.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.RequestID(), middleware.Recovery(), middleware.CORS())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"service":  "gemini-oauth-proxy",
			"accounts": deps.Pool.Count(),
		})
	})
	engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "gemini-oauth-proxy",
			"status":  "ok",
		})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := engine.Group("")
	authed.Use(middleware.UnifiedAuth(middleware.AuthConfig{RequiredKey: cfg.Security.AuthPassword}))

	h := &handler{deps: deps}
	authed.POST("/v1/chat/completions", h.chatCompletions)
	authed.GET("/v1/models", h.listModelsOpenAI)
	authed.GET("/v1beta/models", h.listModelsNative)

	// gin can't mix a path param with a literal colon in the same segment,
	// so the whole "{model}:{action}" segment is captured by a trailing
	// wildcard and split on the colon, matching the enumerated-path
	// replacement for the native surface's catch-all route named in spec §9.
	authed.POST("/v1beta/models/*action", func(c *gin.Context) {
		model, action, _ := strings.Cut(strings.TrimPrefix(c.Param("action"), "/"), ":")
		switch action {
		case "generateContent":
			h.nativeGenerateContent(c, model)
		case "streamGenerateContent":
			h.nativeStreamGenerateContent(c, model)
		default:
			writeError(c, http.StatusNotFound, "invalid_request_error", "unknown action")
		}
	})

	return engine
}

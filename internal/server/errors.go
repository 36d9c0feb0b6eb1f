package server

import (
	"errors"
	"net/http"

	apperrors "gemini-oauth-proxy/internal/errors"
	"gemini-oauth-proxy/internal/httpformat"
	"gemini-oauth-proxy/internal/translator"
	"gemini-oauth-proxy/internal/upstream"
	"github.com/gin-gonic/gin"
)

// writeError serializes an error in the OpenAI or Gemini envelope
// depending on the request path, per spec §7.
func writeError(c *gin.Context, status int, errType, message string) {
	err := apperrors.New(status, errType, errType, message)
	format := httpformat.DetectFromContext(c)
	payload, marshalErr := err.ToJSON(format)
	if marshalErr != nil {
		c.JSON(status, gin.H{"error": gin.H{"message": message, "type": errType, "code": status}})
		return
	}
	c.Data(status, "application/json", payload)
}

// writePipelineError maps a pipeline/translator failure onto the error
// kinds enumerated in spec §7.
func writePipelineError(c *gin.Context, err error) {
	var invalid *translator.ErrInvalidRequest
	if errors.As(err, &invalid) {
		writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	var pipelineErr *upstream.Error
	if errors.As(err, &pipelineErr) {
		switch pipelineErr.Kind {
		case upstream.KindNoAccounts:
			writeError(c, http.StatusServiceUnavailable, "no_accounts_configured", pipelineErr.Message)
		case upstream.KindUpstreamUnavailable:
			writeError(c, http.StatusBadGateway, "upstream_unavailable", pipelineErr.Message)
		default:
			writeError(c, http.StatusBadGateway, "upstream_rejected", pipelineErr.Message)
		}
		return
	}

	writeError(c, http.StatusInternalServerError, "internal_error", err.Error())
}

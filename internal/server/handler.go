package server

import (
	"io"
	"net/http"
	"time"

	"gemini-oauth-proxy/internal/models"
	"gemini-oauth-proxy/internal/translator"
	"gemini-oauth-proxy/internal/upstream"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// handler dispatches HTTP requests into the translator/upstream pipeline,
// per spec §4.5's state machine: Received -> Authenticated -> Resolved ->
// Dispatched -> (Upstream-OK | Upstream-Fail) -> Responded.
type handler struct {
	deps Dependencies
}

func requestIDFrom(c *gin.Context) string {
	if v, ok := c.Get("request_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// chatCompletions implements POST /v1/chat/completions.
func (h *handler) chatCompletions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	geminiBody, resolvedModel, err := translator.FromOpenAI(body)
	if err != nil {
		writePipelineError(c, err)
		return
	}

	requestedModel := gjsonModel(body)
	stream := gjsonStream(body)
	requestID := requestIDFrom(c)

	if stream {
		result, err := h.deps.Pipeline.ExecuteStream(c.Request.Context(), requestID, resolvedModel, geminiBody)
		if err != nil {
			writePipelineError(c, err)
			return
		}
		streamOpenAI(c, result.Chunks, requestedModel)
		return
	}

	result, err := h.deps.Pipeline.ExecuteUnary(c.Request.Context(), requestID, resolvedModel, geminiBody)
	if err != nil {
		writePipelineError(c, err)
		return
	}

	out, err := translator.ToOpenAI(result.Body, requestedModel, time.Now().Unix())
	if err != nil {
		writeError(c, http.StatusBadGateway, "upstream_rejected", err.Error())
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}

// streamOpenAI bridges upstream SSE chunks, translating each to an OpenAI
// chat.completion.chunk, per spec §4.3/§4.4.
func streamOpenAI(c *gin.Context, chunks <-chan upstream.Chunk, requestedModel string) {
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	w := c.Writer
	flusher, _ := w.(http.Flusher)

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	first := true

	for chunk := range chunks {
		if chunk.Err != nil {
			writeSSEError(w, flusher, chunk.Err.Error())
			return
		}
		if chunk.Done {
			break
		}

		data, isFinal, err := translator.ChunkToOpenAI(chunk.Data, requestedModel, id, created, first)
		if err != nil {
			continue
		}
		first = false

		w.Write([]byte("data: "))
		w.Write(data)
		w.Write([]byte("\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
		if isFinal {
			break
		}
	}

	w.Write([]byte("data: [DONE]\n\n"))
	if flusher != nil {
		flusher.Flush()
	}
}

func writeSSEError(w http.ResponseWriter, flusher http.Flusher, message string) {
	w.Write([]byte(`data: {"error":{"message":"` + message + `"}}` + "\n\n"))
	w.Write([]byte("data: [DONE]\n\n"))
	if flusher != nil {
		flusher.Flush()
	}
}

// listModelsOpenAI implements GET /v1/models.
func (h *handler) listModelsOpenAI(c *gin.Context) {
	var data []gin.H
	for _, d := range models.List() {
		data = append(data, gin.H{
			"id":       d.Name,
			"object":   "model",
			"owned_by": "google",
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// listModelsNative implements GET /v1beta/models.
func (h *handler) listModelsNative(c *gin.Context) {
	var entries []gin.H
	for _, d := range models.List() {
		entries = append(entries, gin.H{
			"name":                       "models/" + d.Name,
			"displayName":                d.DisplayName,
			"inputTokenLimit":            d.InputTokenLimit,
			"outputTokenLimit":           d.OutputTokenLimit,
			"supportedGenerationMethods": []string{"generateContent", "streamGenerateContent"},
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": entries})
}

// nativeGenerateContent implements POST /v1beta/models/{model}:generateContent.
func (h *handler) nativeGenerateContent(c *gin.Context, model string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	desc, _, resolveErr := models.Resolve(model)
	if resolveErr != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", resolveErr.Error())
		return
	}

	requestID := requestIDFrom(c)
	result, err := h.deps.Pipeline.ExecuteUnary(c.Request.Context(), requestID, desc.Name, body)
	if err != nil {
		writePipelineError(c, err)
		return
	}

	unwrapped, err := translator.UnwrapNative(result.Body)
	if err != nil {
		writeError(c, http.StatusBadGateway, "upstream_rejected", err.Error())
		return
	}
	c.Data(http.StatusOK, "application/json", unwrapped)
}

// nativeStreamGenerateContent implements
// POST /v1beta/models/{model}:streamGenerateContent.
func (h *handler) nativeStreamGenerateContent(c *gin.Context, model string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	desc, _, resolveErr := models.Resolve(model)
	if resolveErr != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", resolveErr.Error())
		return
	}

	requestID := requestIDFrom(c)
	result, err := h.deps.Pipeline.ExecuteStream(c.Request.Context(), requestID, desc.Name, body)
	if err != nil {
		writePipelineError(c, err)
		return
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	w := c.Writer
	flusher, _ := w.(http.Flusher)

	for chunk := range result.Chunks {
		if chunk.Err != nil {
			writeSSEError(w, flusher, chunk.Err.Error())
			return
		}
		if chunk.Done {
			break
		}
		unwrapped, err := translator.UnwrapNative(chunk.Data)
		if err != nil {
			continue
		}
		w.Write([]byte("data: "))
		w.Write(unwrapped)
		w.Write([]byte("\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func gjsonModel(body []byte) string {
	return gjson.GetBytes(body, "model").String()
}

func gjsonStream(body []byte) bool {
	return gjson.GetBytes(body, "stream").Bool()
}

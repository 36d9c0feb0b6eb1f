package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"gemini-oauth-proxy/internal/constants"
	"gemini-oauth-proxy/internal/credential"
	"gemini-oauth-proxy/internal/metrics"
	"gemini-oauth-proxy/internal/tracing"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// Kind classifies a pipeline failure for the HTTP layer's error mapping,
// per spec §7.
type Kind string

const (
	KindNoAccounts          Kind = "no_accounts_configured"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamRejected    Kind = "upstream_rejected"
)

// Error is a pipeline failure with the status code to surface to the
// client and the kind for the OpenAI error envelope's `type`.
type Error struct {
	Kind       Kind
	HTTPStatus int
	Message    string
}

func (e *Error) Error() string { return e.Message }

// UnaryResult is the outcome of a non-streaming Execute call.
type UnaryResult struct {
	Body         []byte
	ResolvedModel string
}

// StreamResult is the outcome of a streaming Execute call: Chunks yields
// raw upstream SSE data lines until the channel closes.
type StreamResult struct {
	Chunks        <-chan Chunk
	ResolvedModel string
}

// Pipeline executes the fail-over algorithm of spec §4.4 over a rotating
// credential pool.
type Pipeline struct {
	Pool   *credential.Manager
	Client *Client
}

// NewPipeline constructs a Pipeline.
func NewPipeline(pool *credential.Manager, client *Client) *Pipeline {
	return &Pipeline{Pool: pool, Client: client}
}

const maxAttemptsCap = constants.MaxAttemptsPerPoolSize

// ExecuteUnary runs the attempt loop for a non-streaming generateContent
// call. payload is the translator-produced inner body (contents,
// systemInstruction, generationConfig, ...); Execute wraps it into the
// per-account CodeAssist envelope before sending.
func (p *Pipeline) ExecuteUnary(ctx context.Context, requestID, resolvedModel string, payload []byte) (*UnaryResult, error) {
	body, _, err := p.execute(ctx, requestID, resolvedModel, payload, false)
	if err != nil {
		return nil, err
	}
	return &UnaryResult{Body: body, ResolvedModel: resolvedModel}, nil
}

// ExecuteStream runs the attempt loop for a streaming streamGenerateContent
// call and returns a channel bridging upstream SSE chunks to the caller.
func (p *Pipeline) ExecuteStream(ctx context.Context, requestID, resolvedModel string, payload []byte) (*StreamResult, error) {
	_, chunks, err := p.execute(ctx, requestID, resolvedModel, payload, true)
	if err != nil {
		return nil, err
	}
	return &StreamResult{Chunks: chunks, ResolvedModel: resolvedModel}, nil
}

func (p *Pipeline) execute(ctx context.Context, requestID, resolvedModel string, payload []byte, stream bool) ([]byte, <-chan Chunk, error) {
	entry := log.WithFields(log.Fields{"request_id": requestID, "model": resolvedModel, "stream": stream})

	poolSize := p.Pool.Count()
	if poolSize == 0 {
		return nil, nil, &Error{Kind: KindNoAccounts, HTTPStatus: http.StatusServiceUnavailable, Message: "no accounts configured"}
	}

	attempts := poolSize
	if attempts > maxAttemptsCap {
		attempts = maxAttemptsCap
	}

	entry.Infof("new request: pool_size=%d", poolSize)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		acc, err := p.Pool.Lease(ctx)
		if err != nil {
			return nil, nil, &Error{Kind: KindNoAccounts, HTTPStatus: http.StatusServiceUnavailable, Message: "no accounts configured"}
		}
		metrics.Leases.Inc()
		if attempt > 1 {
			metrics.FailOvers.Inc()
		}

		if err := p.Pool.EnsureOnboarded(ctx, acc); err != nil {
			entry.WithError(err).WithField("attempt", attempt).Warn("onboarding failed, trying next account")
			p.Pool.Release(acc, credential.Outcome{Success: false, HTTPStatus: http.StatusInternalServerError})
			lastErr = &Error{Kind: KindUpstreamRejected, HTTPStatus: http.StatusBadGateway, Message: err.Error()}
			continue
		}

		accountPayload, err := wrapCodeAssistEnvelope(payload, resolvedModel, acc.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("upstream: wrap envelope: %w", err)
		}

		action := "generateContent"
		if stream {
			action = "streamGenerateContent"
		}

		// The span's account index is the attempt's zero-based position in
		// this loop, not the leased account's position in the pool.
		spanCtx, span := tracing.StartSpan(ctx, requestID, attempt-1, attempt)
		start := time.Now()
		resp, doErr := p.Client.Do(spanCtx, action, acc.AccessToken, accountPayload, stream)
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		tracing.EndSpan(span, statusCode, attempt-1, time.Since(start))
		latency := time.Since(start)
		metrics.UpstreamLatency.WithLabelValues(action, statusLabel(statusCode, doErr)).Observe(latency.Seconds())
		if doErr != nil {
			entry.WithError(doErr).WithField("attempt", attempt).Warn("transport error, surfacing without rotation")
			p.Pool.Release(acc, credential.Outcome{Success: false, HTTPStatus: 0})
			return nil, nil, &Error{Kind: KindUpstreamUnavailable, HTTPStatus: http.StatusBadGateway, Message: doErr.Error()}
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			p.Pool.Release(acc, credential.Outcome{Success: true})
			if stream {
				return nil, BridgeSSE(ctx, resp.Body), nil
			}
			defer resp.Body.Close()
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, nil, &Error{Kind: KindUpstreamUnavailable, HTTPStatus: http.StatusBadGateway, Message: err.Error()}
			}
			return data, nil, nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			msg := readAndClose(resp.Body)
			entry.WithField("attempt", attempt).WithField("status", resp.StatusCode).Warn("account-scoped failure, rotating")
			p.Pool.Release(acc, credential.Outcome{Success: false, HTTPStatus: resp.StatusCode})
			lastErr = &Error{Kind: KindUpstreamRejected, HTTPStatus: http.StatusBadGateway, Message: msg}
			continue

		default: // 429 / 5xx / other — surface without rotation
			msg := readAndClose(resp.Body)
			p.Pool.Release(acc, credential.Outcome{Success: false, HTTPStatus: resp.StatusCode})
			return nil, nil, &Error{Kind: KindUpstreamRejected, HTTPStatus: http.StatusBadGateway, Message: msg}
		}
	}

	if lastErr == nil {
		lastErr = &Error{Kind: KindUpstreamRejected, HTTPStatus: http.StatusBadGateway, Message: "all configured accounts rejected this request"}
	} else if pErr, ok := lastErr.(*Error); ok {
		pErr.Message = "all configured accounts rejected this request: " + pErr.Message
	}
	return nil, nil, lastErr
}

// wrapCodeAssistEnvelope nests the translator-produced body under `request`
// alongside the per-account `model`/`project`, matching the Code Assist
// API's CodeAssistRequest{Model, Project, Request} envelope (spec §4.3/§6).
func wrapCodeAssistEnvelope(payload []byte, model, project string) ([]byte, error) {
	out, err := sjson.SetBytes([]byte("{}"), "model", model)
	if err != nil {
		return nil, err
	}
	out, err = sjson.SetBytes(out, "project", project)
	if err != nil {
		return nil, err
	}
	out, err = sjson.SetRawBytes(out, "request", payload)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func readAndClose(body io.ReadCloser) string {
	defer body.Close()
	data, _ := io.ReadAll(body)
	return string(data)
}

func statusLabel(statusCode int, doErr error) string {
	if doErr != nil {
		return "transport_error"
	}
	return fmt.Sprintf("%d", statusCode)
}

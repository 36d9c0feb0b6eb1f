// Package upstream implements the request pipeline that leases a
// credential, issues the CodeAssist HTTP call, and bridges streaming
// responses back to the client, per spec §4.4.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"gemini-oauth-proxy/internal/constants"
)

const defaultCodeAssistEndpoint = "https://cloudcode-pa.googleapis.com"
const userAgent = "gemini-oauth-proxy/1.0"

// Client issues HTTP calls to the Google Code Assist generation endpoints.
type Client struct {
	Endpoint string
	unary    *http.Client
	stream   *http.Client
}

// NewClient builds a Client with the connect/read timeouts of spec §5:
// connect 30s, unary read 300s, stream read 600s.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = defaultCodeAssistEndpoint
	}
	dialer := &net.Dialer{Timeout: constants.DialTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
		ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
		ExpectContinueTimeout: constants.ExpectContinueTimeout,
		MaxIdleConns:          constants.MaxIdleConns,
		MaxIdleConnsPerHost:   constants.MaxIdleConnsPerHost,
		IdleConnTimeout:       constants.IdleConnTimeout,
	}
	return &Client{
		Endpoint: endpoint,
		unary:    &http.Client{Transport: transport, Timeout: constants.DialTimeout + constants.UnaryReadTimeout},
		stream:   &http.Client{Transport: transport, Timeout: constants.DialTimeout + constants.StreamReadTimeout},
	}
}

// Do issues the CodeAssist request. For streaming==false it returns the
// full response body; for streaming==true the caller is responsible for
// reading resp.Body incrementally and closing it.
func (c *Client) Do(ctx context.Context, action string, accessToken string, payload []byte, streaming bool) (*http.Response, error) {
	endpoint := c.Endpoint + "/v1internal:" + action
	if streaming {
		endpoint += "?alt=sse"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", userAgent)

	client := c.unary
	if streaming {
		client = c.stream
	}
	return client.Do(req)
}

// ReadTimeoutFor returns the read timeout spec §4.4/§5 assigns to a call.
func ReadTimeoutFor(streaming bool) time.Duration {
	if streaming {
		return constants.StreamReadTimeout
	}
	return constants.UnaryReadTimeout
}

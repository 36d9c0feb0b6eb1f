package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gemini-oauth-proxy/internal/config"
	"gemini-oauth-proxy/internal/credential"
	"gemini-oauth-proxy/internal/oauth"
	"gemini-oauth-proxy/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeSource struct{ accounts []*credential.Account }

func (f *fakeSource) Load(ctx context.Context) ([]*credential.Account, error) { return f.accounts, nil }
func (f *fakeSource) Persist(ctx context.Context, acc *credential.Account) error { return nil }
func (f *fakeSource) Add(ctx context.Context, path string) (*credential.Account, error) {
	return &credential.Account{SourceFile: path}, nil
}

func testDeps(t *testing.T, upstreamURL string) Dependencies {
	t.Helper()
	accounts := []*credential.Account{{
		SourceFile:   "acct",
		AccessToken:  "tok",
		RefreshToken: "rt",
		Expiry:       time.Now().Add(time.Hour),
		ProjectID:    "proj",
		Onboarded:    true,
	}}
	oauthMgr := oauth.NewManager("c", "s")
	pool := credential.NewManager(&fakeSource{accounts: accounts}, oauthMgr, false)
	require.NoError(t, pool.Load(context.Background()))

	pipeline := upstream.NewPipeline(pool, upstream.NewClient(upstreamURL))
	return Dependencies{Pool: pool, Pipeline: pipeline}
}

func testEngine(t *testing.T, upstreamURL, authKey string) http.Handler {
	cfg := &config.Config{Security: config.Security{AuthPassword: authKey, Debug: true}}
	return BuildEngine(cfg, testDeps(t, upstreamURL))
}

func TestEngine_Health(t *testing.T) {
	engine := testEngine(t, "http://unused", "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestEngine_ChatCompletions_RequiresAuth(t *testing.T) {
	engine := testEngine(t, "http://unused", "secret")
	body := strings.NewReader(`{"model":"gemini-2.5-flash","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEngine_ChatCompletions_Unary(t *testing.T) {
	var gotBody []byte
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"hello back"}]},"finishReason":"STOP"}]}}`))
	}))
	defer upstreamSrv.Close()

	engine := testEngine(t, upstreamSrv.URL, "secret")
	body := strings.NewReader(`{"model":"gemini-2.5-flash","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Choices []struct {
			Message struct{ Content string } `json:"message"`
		} `json:"choices"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello back", resp.Choices[0].Message.Content)

	assert.Equal(t, "gemini-2.5-flash", gjson.GetBytes(gotBody, "model").String())
	assert.Equal(t, "proj", gjson.GetBytes(gotBody, "project").String())
	assert.True(t, gjson.GetBytes(gotBody, "request.contents").Exists(), "translated contents must be nested under request")
}

func TestEngine_ListModelsOpenAI(t *testing.T) {
	engine := testEngine(t, "http://unused", "")
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"object":"list"`)
}

func TestEngine_NativeGenerateContent(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"native ok"}]}}]}}`))
	}))
	defer upstreamSrv.Close()

	engine := testEngine(t, upstreamSrv.URL, "")
	body := strings.NewReader(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-2.5-flash:generateContent", body)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "native ok")
}

func TestEngine_NativeUnknownActionIs404(t *testing.T) {
	engine := testEngine(t, "http://unused", "")
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-2.5-flash:bogusAction", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEngine_ChatCompletions_UnknownModelIsBadRequest(t *testing.T) {
	engine := testEngine(t, "http://unused", "")
	body := strings.NewReader(`{"model":"not-a-model","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request_error")
}

package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gemini-oauth-proxy/internal/credential"
	"gemini-oauth-proxy/internal/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeSource struct {
	accounts []*credential.Account
}

func (f *fakeSource) Load(ctx context.Context) ([]*credential.Account, error) { return f.accounts, nil }
func (f *fakeSource) Persist(ctx context.Context, acc *credential.Account) error { return nil }
func (f *fakeSource) Add(ctx context.Context, path string) (*credential.Account, error) {
	return &credential.Account{SourceFile: path}, nil
}

func newPool(t *testing.T, codeAssistURL string, n int) *credential.Manager {
	t.Helper()
	var accounts []*credential.Account
	for i := 0; i < n; i++ {
		accounts = append(accounts, &credential.Account{
			SourceFile:   "acct",
			AccessToken:  "tok",
			RefreshToken: "rt",
			Expiry:       time.Now().Add(time.Hour),
			ProjectID:    "proj",
			Onboarded:    true,
		})
	}
	oauthMgr := oauth.NewManager("c", "s", oauth.WithCodeAssistURL(codeAssistURL))
	pool := credential.NewManager(&fakeSource{accounts: accounts}, oauthMgr, false)
	require.NoError(t, pool.Load(context.Background()))
	return pool
}

func TestPipeline_ExecuteUnary_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}}`))
	}))
	defer srv.Close()

	pool := newPool(t, srv.URL, 1)
	pipeline := NewPipeline(pool, NewClient(srv.URL))

	result, err := pipeline.ExecuteUnary(context.Background(), "req-1", "gemini-2.5-flash", []byte(`{"contents":[]}`))
	require.NoError(t, err)
	assert.Contains(t, string(result.Body), "hi")
}

func TestPipeline_ExecuteUnary_WrapsOutboundEnvelope(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}}`))
	}))
	defer srv.Close()

	pool := newPool(t, srv.URL, 1)
	pipeline := NewPipeline(pool, NewClient(srv.URL))

	_, err := pipeline.ExecuteUnary(context.Background(), "req-1", "gemini-2.5-flash", []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`))
	require.NoError(t, err)

	root := gjson.ParseBytes(gotBody)
	assert.Equal(t, "gemini-2.5-flash", root.Get("model").String())
	assert.Equal(t, "proj", root.Get("project").String())
	assert.Equal(t, "user", root.Get("request.contents.0.role").String())
	assert.False(t, root.Get("contents").Exists(), "contents must be nested under request, not flattened onto the envelope")
}

func TestPipeline_ExecuteUnary_NoAccounts(t *testing.T) {
	pool := newPool(t, "http://unused", 0)
	pipeline := NewPipeline(pool, NewClient("http://unused"))

	_, err := pipeline.ExecuteUnary(context.Background(), "req-1", "gemini-2.5-flash", []byte(`{}`))
	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, KindNoAccounts, pErr.Kind)
}

func TestPipeline_ExecuteUnary_RotatesOn401ThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`unauthorized`))
			return
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	pool := newPool(t, srv.URL, 2)
	pipeline := NewPipeline(pool, NewClient(srv.URL))

	result, err := pipeline.ExecuteUnary(context.Background(), "req-1", "gemini-2.5-flash", []byte(`{}`))
	require.NoError(t, err)
	assert.Contains(t, string(result.Body), "ok")
	assert.Equal(t, 2, calls)
}

func TestPipeline_ExecuteUnary_AllAccountsRejectedSurfacesLastError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`forbidden forever`))
	}))
	defer srv.Close()

	pool := newPool(t, srv.URL, 2)
	pipeline := NewPipeline(pool, NewClient(srv.URL))

	_, err := pipeline.ExecuteUnary(context.Background(), "req-1", "gemini-2.5-flash", []byte(`{}`))
	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, KindUpstreamRejected, pErr.Kind)
	assert.Contains(t, pErr.Message, "forbidden forever")
}

func TestPipeline_ExecuteUnary_RateLimitSurfacesWithoutRotation(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`slow down`))
	}))
	defer srv.Close()

	pool := newPool(t, srv.URL, 3)
	pipeline := NewPipeline(pool, NewClient(srv.URL))

	_, err := pipeline.ExecuteUnary(context.Background(), "req-1", "gemini-2.5-flash", []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, 1, calls, "a 429 should surface immediately, not rotate through every account")
}

func TestPipeline_ExecuteStream_BridgesChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"a\"}]}}]}\n"))
	}))
	defer srv.Close()

	pool := newPool(t, srv.URL, 1)
	pipeline := NewPipeline(pool, NewClient(srv.URL))

	result, err := pipeline.ExecuteStream(context.Background(), "req-1", "gemini-2.5-flash", []byte(`{}`))
	require.NoError(t, err)

	var gotChunk bool
	for c := range result.Chunks {
		if c.Done {
			break
		}
		gotChunk = true
		assert.Contains(t, string(c.Data), "\"a\"")
	}
	assert.True(t, gotChunk)
}

package api

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/google/uuid"
	"github.com/kamilpajak/diffscope/internal/analysis"
	"github.com/kamilpajak/diffscope/internal/analyzer"
	"github.com/kamilpajak/diffscope/internal/auth"
	"github.com/kamilpajak/diffscope/internal/background"
	"github.com/kamilpajak/diffscope/internal/cache"
	"github.com/kamilpajak/diffscope/internal/database"
	"github.com/kamilpajak/diffscope/internal/docs"
	"github.com/kamilpajak/diffscope/internal/gitdiff"
	"github.com/kamilpajak/diffscope/internal/llm"
	"github.com/kamilpajak/diffscope/internal/progress"
	"github.com/kamilpajak/diffscope/internal/store"
	"github.com/kamilpajak/diffscope/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExtractor struct{ text string }

func (s stubExtractor) Extract(ctx context.Context, repoPath string, t gitdiff.Target) (gitdiff.Content, error) {
	return gitdiff.Content{Text: s.text, Description: t.Describe()}, nil
}

type stubReviewer struct {
	release chan struct{}
}

func (s stubReviewer) Analyze(ctx context.Context, in analyzer.Input) analyzer.Outcome {
	if s.release != nil {
		<-s.release
	}
	return analyzer.Outcome{
		Text:      "1. Warning: missing nil check in handler.go line 12\nSuggestion: return early",
		ModelUsed: in.Model,
	}
}

type stubHistory struct {
	analyses []database.Analysis
	err      error
}

func (s stubHistory) ListRecentAnalyses(ctx context.Context, limit int) ([]database.Analysis, error) {
	return s.analyses, s.err
}

type testEnv struct {
	server *Server
	http   *httptest.Server
	runner *background.Runner
	store  *store.MemoryStore
	repo   string
}

func newTestEnv(t *testing.T, cfg Config, reviewer analysis.Reviewer) *testEnv {
	t.Helper()
	repo := t.TempDir()
	_, err := git.PlainInit(repo, false)
	require.NoError(t, err)

	c := cache.NewAnalysisCache(cache.Options{}, nil)
	runner := background.NewRunner(context.Background(), nil)
	st := store.NewMemoryStore()
	if reviewer == nil {
		reviewer = stubReviewer{}
	}

	cfg.Service = analysis.NewService(analysis.Deps{
		Cache:       c,
		Broadcaster: progress.NewBroadcaster(progress.NewHub(), c),
		Runner:      runner,
		Extractor:   stubExtractor{text: "+if err != nil {}\n"},
		Documents:   docs.NewRetriever(nil),
		Reviewers:   func(llm.Provider) (analysis.Reviewer, error) { return reviewer, nil },
		Store:       st,
		Defaults:    models.Settings{Provider: "openai", Model: "gpt-4o", FallbackModel: "gpt-4o-mini"},
		APIKeys:     func(string) string { return "sk-test" },
	})
	cfg.Store = st
	if cfg.Documents == nil {
		cfg.Documents = docs.NewRetriever(nil)
	}

	s := NewServer(cfg)
	srv := httptest.NewServer(s)
	t.Cleanup(func() {
		srv.Close()
		runner.Wait()
	})
	return &testEnv{server: s, http: srv, runner: runner, store: st, repo: repo}
}

func (e *testEnv) post(t *testing.T, session string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/api/analyses", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) getStatus(t *testing.T, id string) models.StatusResponse {
	t.Helper()
	resp, err := http.Get(e.http.URL + "/api/analyses/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status models.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	return status
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	resp, err := http.Get(env.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, resp))
}

func TestStartAnalysis_RoundTrip(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	resp := env.post(t, "s1", map[string]any{"repoPath": env.repo, "language": "go"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	id := body["analysisId"]
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return env.getStatus(t, id).IsComplete
	}, 2*time.Second, 10*time.Millisecond)

	status := env.getStatus(t, id)
	assert.Equal(t, models.StatusComplete, status.Status)
	assert.Equal(t, "gpt-4o", status.ModelUsed)
	require.NotNil(t, status.Result)
	require.Len(t, status.Result.Items, 1)
	assert.Equal(t, models.SeverityWarning, status.Result.Items[0].Severity)
	assert.Equal(t, 12, status.Result.Items[0].LineNumber)

	content, err := http.Get(env.http.URL + "/api/analyses/" + id + "/content")
	require.NoError(t, err)
	defer content.Body.Close()
	assert.Equal(t, http.StatusOK, content.StatusCode)
	assert.Contains(t, decode[models.CachedContent](t, content).Content, "err != nil")
}

func TestStartAnalysis_ValidationError(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	resp := env.post(t, "s1", map[string]any{"repoPath": filepath.Join(env.repo, "missing")})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["error"], "does not exist")
}

func TestStartAnalysis_InvalidBody(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	resp, err := http.Post(env.http.URL+"/api/analyses", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartAnalysis_RateLimited(t *testing.T) {
	env := newTestEnv(t, Config{RatePerMinute: 1, Burst: 2}, nil)
	req := map[string]any{"repoPath": env.repo}

	assert.Equal(t, http.StatusAccepted, env.post(t, "busy", req).StatusCode)
	assert.Equal(t, http.StatusAccepted, env.post(t, "busy", req).StatusCode)

	resp := env.post(t, "busy", req)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, decode[map[string]string](t, resp)["error"])

	assert.Equal(t, http.StatusAccepted, env.post(t, "other", req).StatusCode, "buckets are per session")
}

func TestGetStatus_UnknownIsNotFoundPayload(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	status := env.getStatus(t, "does-not-exist")
	assert.Equal(t, models.StatusNotFound, status.Status)
	assert.False(t, status.IsComplete)
}

func TestGetContent_Missing(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	resp, err := http.Get(env.http.URL + "/api/analyses/nope/content")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvents_DeliversTerminalEvent(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, Config{}, stubReviewer{release: release})

	resp := env.post(t, "s1", map[string]any{"repoPath": env.repo})
	id := decode[map[string]string](t, resp)["analysisId"]

	stream, err := http.Get(env.http.URL + "/api/analyses/" + id + "/events")
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	close(release)

	reader := bufio.NewReader(stream.Body)
	var last progress.Event
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.HasPrefix(line, "data: ") {
			last = progress.Event{}
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &last))
		}
	}
	assert.Equal(t, progress.KindComplete, last.Kind)
	assert.Equal(t, id, last.AnalysisID)
	assert.True(t, last.IsComplete)
}

func TestListDocuments(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(folder, "style.md"), []byte("# Style"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "logo.png"), []byte{0x89}, 0o644))

	env := newTestEnv(t, Config{}, nil)

	resp, err := http.Get(env.http.URL + "/api/documents?folder=" + folder)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[struct {
		Folder    string   `json:"folder"`
		Documents []string `json:"documents"`
	}](t, resp)
	assert.Equal(t, folder, body.Folder)
	assert.Equal(t, []string{"style.md"}, body.Documents)
}

func TestListDocuments_FallsBackToSessionFolder(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(folder, "a.md"), []byte("a"), 0o644))
	env := newTestEnv(t, Config{}, nil)
	require.NoError(t, env.store.SaveDefaults("s1", models.Settings{DocsFolder: folder}))

	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/api/documents", nil)
	req.Header.Set(SessionHeader, "s1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	noSession, err := http.Get(env.http.URL + "/api/documents")
	require.NoError(t, err)
	defer noSession.Body.Close()
	assert.Equal(t, http.StatusBadRequest, noSession.StatusCode)
}

func TestHistory(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, Config{}, nil)
		resp, err := http.Get(env.http.URL + "/api/history")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("lists archived analyses", func(t *testing.T) {
		env := newTestEnv(t, Config{History: stubHistory{analyses: []database.Analysis{
			{ID: uuid.New(), Status: models.StatusComplete, Summary: "No issues found"},
		}}}, nil)
		resp, err := http.Get(env.http.URL + "/api/history?limit=5")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode[map[string][]database.Analysis](t, resp)
		require.Len(t, body["analyses"], 1)
		assert.Equal(t, "No issues found", body["analyses"][0].Summary)
	})

	t.Run("archive error", func(t *testing.T) {
		env := newTestEnv(t, Config{History: stubHistory{err: errors.New("down")}}, nil)
		resp, err := http.Get(env.http.URL + "/api/history")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, Config{AllowedOrigins: []string{"http://localhost:3000"}}, nil)

	req, _ := http.NewRequest(http.MethodOptions, env.http.URL+"/api/analyses", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCORS_DefaultsToLocalOrigins(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	preflight := func(origin string) string {
		req, _ := http.NewRequest(http.MethodOptions, env.http.URL+"/api/analyses", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.Header.Get("Access-Control-Allow-Origin")
	}

	assert.Equal(t, "http://localhost:5173", preflight("http://localhost:5173"))
	assert.Equal(t, "http://127.0.0.1:8080", preflight("http://127.0.0.1:8080"))
	assert.Empty(t, preflight("https://attacker.example"))
}

func TestAuth_RequiresTokenWhenConfigured(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	b64 := base64.RawURLEncoding.EncodeToString
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"keys": []map[string]string{{
			"kty": "RSA", "kid": "k1", "alg": "RS256", "use": "sig",
			"n": b64(key.N.Bytes()), "e": b64(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer jwks.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	verifier, err := auth.NewVerifier(ctx, auth.Config{Issuer: jwks.URL, JWKSURL: jwks.URL})
	require.NoError(t, err)

	env := newTestEnv(t, Config{AuthVerifier: verifier}, nil)

	resp, err := http.Get(env.http.URL + "/api/analyses/x")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	health, err := http.Get(env.http.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestSessionKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "default", sessionKey(r))

	r.Header.Set(SessionHeader, "abc")
	assert.Equal(t, "abc", sessionKey(r))

	r = r.WithContext(auth.WithClaims(r.Context(), &auth.TokenClaims{}))
	assert.Equal(t, "abc", sessionKey(r), "claims without a subject fall back to the header")
}

func TestSessionLimiter_Refills(t *testing.T) {
	l := newSessionLimiter(60, 1)
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("k"))
}

func TestSessionLimiter_PrunesIdle(t *testing.T) {
	l := newSessionLimiter(60, 1)
	now := time.Now()
	l.now = func() time.Time { return now }
	l.Allow("old")

	now = now.Add(limiterIdle + time.Minute)
	l.Allow("new")

	assert.NotContains(t, l.limiters, "old")
	assert.Contains(t, l.limiters, "new")
}

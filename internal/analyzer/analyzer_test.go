package analyzer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kamilpajak/diffscope/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient answers per model; a nil entry blocks until the context ends.
type fakeClient struct {
	mu      sync.Mutex
	replies map[string]func(ctx context.Context) (*llm.Response, error)
	calls   []llm.Request
}

func (f *fakeClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	reply := f.replies[req.Model]
	f.mu.Unlock()

	if reply == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return reply(ctx)
}

func (f *fakeClient) Provider() llm.Provider { return llm.ProviderOpenAI }

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func ok(text string) func(context.Context) (*llm.Response, error) {
	return func(context.Context) (*llm.Response, error) { return &llm.Response{Content: text}, nil }
}

func fail(err error) func(context.Context) (*llm.Response, error) {
	return func(context.Context) (*llm.Response, error) { return nil, err }
}

func baseInput() Input {
	return Input{Content: "diff", APIKey: "k", Model: "primary", Language: "go"}
}

func TestAnalyze_PrimarySucceeds(t *testing.T) {
	c := &fakeClient{replies: map[string]func(context.Context) (*llm.Response, error){"primary": ok("1. Warning: x")}}

	out := New(c).Analyze(context.Background(), baseInput())

	assert.False(t, out.Failed)
	assert.Equal(t, "1. Warning: x", out.Text)
	assert.Equal(t, "primary", out.ModelUsed)
	assert.Equal(t, 1, c.callCount())
}

func TestAnalyze_TimeoutFallsBack(t *testing.T) {
	c := &fakeClient{replies: map[string]func(context.Context) (*llm.Response, error){
		"primary":  nil,
		"fallback": ok("1. Style: naming"),
	}}
	in := baseInput()
	in.FallbackModel = "fallback"

	out := New(c, WithTimeout(30*time.Millisecond)).Analyze(context.Background(), in)

	assert.False(t, out.Failed)
	assert.Equal(t, "fallback", out.ModelUsed)
	assert.Equal(t, "1. Style: naming", out.Text)
	assert.Equal(t, 2, c.callCount())
}

func TestAnalyze_NoFallbackMakesOneCall(t *testing.T) {
	c := &fakeClient{replies: map[string]func(context.Context) (*llm.Response, error){
		"primary": fail(&llm.Error{Kind: llm.KindTransport, Provider: llm.ProviderOpenAI, Message: "connection refused"}),
	}}

	out := New(c).Analyze(context.Background(), baseInput())

	assert.True(t, out.Failed)
	assert.Contains(t, out.ErrorMessage, "connection refused")
	assert.Equal(t, 1, c.callCount())
}

func TestAnalyze_SameFallbackIsNotRetried(t *testing.T) {
	c := &fakeClient{replies: map[string]func(context.Context) (*llm.Response, error){
		"primary": fail(errors.New("boom")),
	}}
	in := baseInput()
	in.FallbackModel = "primary"

	out := New(c).Analyze(context.Background(), in)

	assert.True(t, out.Failed)
	assert.Equal(t, 1, c.callCount())
}

func TestAnalyze_AuthErrorFailsFast(t *testing.T) {
	c := &fakeClient{replies: map[string]func(context.Context) (*llm.Response, error){
		"primary":  fail(&llm.Error{Kind: llm.KindAuth, Provider: llm.ProviderOpenAI, Status: 401, Message: "bad key"}),
		"fallback": ok("never"),
	}}
	in := baseInput()
	in.FallbackModel = "fallback"

	out := New(c).Analyze(context.Background(), in)

	assert.True(t, out.Failed)
	assert.Contains(t, out.ErrorMessage, "API key")
	assert.Equal(t, 1, c.callCount())
}

func TestAnalyze_MalformedResponseFallsBack(t *testing.T) {
	c := &fakeClient{replies: map[string]func(context.Context) (*llm.Response, error){
		"primary":  fail(&llm.Error{Kind: llm.KindMalformed, Provider: llm.ProviderOpenAI, Message: "no choices"}),
		"fallback": ok("fine"),
	}}
	in := baseInput()
	in.FallbackModel = "fallback"

	out := New(c).Analyze(context.Background(), in)

	assert.False(t, out.Failed)
	assert.Equal(t, "fallback", out.ModelUsed)
}

func TestAnalyze_BothFail(t *testing.T) {
	c := &fakeClient{replies: map[string]func(context.Context) (*llm.Response, error){
		"primary":  nil,
		"fallback": fail(errors.New("upstream 503")),
	}}
	in := baseInput()
	in.FallbackModel = "fallback"

	out := New(c, WithTimeout(20*time.Millisecond)).Analyze(context.Background(), in)

	assert.True(t, out.Failed)
	assert.Contains(t, out.ErrorMessage, "timed out")
	assert.Contains(t, out.ErrorMessage, "upstream 503")
	assert.Equal(t, 2, c.callCount())
}

func TestAnalyze_EachCallCarriesItsOwnRequest(t *testing.T) {
	c := &fakeClient{replies: map[string]func(context.Context) (*llm.Response, error){
		"primary": fail(errors.New("x")), "fallback": ok("y"),
	}}
	in := baseInput()
	in.FallbackModel = "fallback"
	in.APIKey = "secret"

	New(c).Analyze(context.Background(), in)

	require.Len(t, c.calls, 2)
	for _, call := range c.calls {
		assert.Equal(t, "secret", call.APIKey)
		assert.NotEmpty(t, call.System)
		assert.Contains(t, call.Prompt, "--- BEGIN DIFF ---")
	}
	assert.Equal(t, "primary", c.calls[0].Model)
	assert.Equal(t, "fallback", c.calls[1].Model)
}

func TestEcosystemFor(t *testing.T) {
	assert.Equal(t, EcosystemStatic, EcosystemFor("CSharp"))
	assert.Equal(t, EcosystemStatic, EcosystemFor("go"))
	assert.Equal(t, EcosystemDynamic, EcosystemFor("python"))
	assert.Equal(t, EcosystemDynamic, EcosystemFor(""))
	assert.NotEqual(t, SystemPrompt(EcosystemStatic), SystemPrompt(EcosystemDynamic))
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(Input{
		Content:       "package main",
		Documents:     []string{"Use early returns."},
		Requirements:  "focus on errors",
		IsFileContent: true,
		Language:      "go",
	})

	assert.Contains(t, p, "Review the following source file.")
	assert.Contains(t, p, "focus on errors")
	assert.Contains(t, p, "### Standard 1\nUse early returns.")
	assert.Contains(t, p, "--- BEGIN FILE ---\npackage main")
}

// Package llm provides clients for the hosted LLM providers used to review code.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Provider identifies an LLM vendor.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// ParseProvider normalizes a provider name.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(name))); p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle:
		return p, nil
	case "":
		return ProviderOpenAI, nil
	default:
		return "", fmt.Errorf("unknown provider %q (expected openai, anthropic or google)", name)
	}
}

// DefaultModels returns the primary and fallback models used when none are configured.
func DefaultModels(p Provider) (primary, fallback string) {
	switch p {
	case ProviderAnthropic:
		return "claude-sonnet-4-5", "claude-3-5-haiku-latest"
	case ProviderGoogle:
		return "gemini-2.5-pro", "gemini-2.5-flash"
	default:
		return "gpt-4o", "gpt-4o-mini"
	}
}

// Request is a single completion call. Everything a call needs travels with
// the request, so clients can be shared across concurrent analyses.
type Request struct {
	APIKey    string
	Model     string
	System    string
	Prompt    string
	MaxTokens int
}

// Response is the text returned by a provider.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client sends completion requests to a provider.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Provider() Provider
}

const defaultMaxTokens = 4096

func maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}

// Option customizes a client.
type Option func(*options)

type options struct {
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL points the client at a different endpoint (tests, proxies).
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func buildOptions(defaultBaseURL string, opts []Option) options {
	o := options{baseURL: defaultBaseURL, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient returns the client for provider.
func NewClient(provider Provider, opts ...Option) (Client, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(opts...), nil
	case ProviderAnthropic:
		return NewAnthropicClient(opts...), nil
	case ProviderGoogle:
		return NewGoogleClient(opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

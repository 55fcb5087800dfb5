package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// GoogleClient calls the Gemini generateContent API.
type GoogleClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewGoogleClient creates a new Google Gemini client
func NewGoogleClient(opts ...Option) *GoogleClient {
	o := buildOptions("https://generativelanguage.googleapis.com/v1beta", opts)
	return &GoogleClient{httpClient: o.httpClient, baseURL: o.baseURL}
}

type googleRequest struct {
	Contents          []googleContent        `json:"contents"`
	SystemInstruction *googleContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  googleGenerationConfig `json:"generationConfig"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type googleResponse struct {
	Candidates []struct {
		Content      googleContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Complete sends a request to Google Gemini
func (c *GoogleClient) Complete(ctx context.Context, r Request) (*Response, error) {
	if r.APIKey == "" {
		return nil, missingKey(ProviderGoogle)
	}

	body := googleRequest{
		Contents: []googleContent{{Role: "user", Parts: []googlePart{{Text: r.Prompt}}}},
		GenerationConfig: googleGenerationConfig{
			Temperature:     0.1,
			MaxOutputTokens: maxTokens(r),
		},
	}
	if r.System != "" {
		body.SystemInstruction = &googleContent{Parts: []googlePart{{Text: r.System}}}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(r.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", r.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, requestError(ProviderGoogle, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, requestError(ProviderGoogle, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(ProviderGoogle, resp.StatusCode, string(respBody))
	}

	var parsed googleResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, malformed(ProviderGoogle, "failed to parse response: %v", err)
	}
	if len(parsed.Candidates) == 0 {
		return nil, malformed(ProviderGoogle, "no response candidates")
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return nil, malformed(ProviderGoogle, "empty candidate (finish reason %q)", parsed.Candidates[0].FinishReason)
	}

	return &Response{
		Content:      text.String(),
		Model:        r.Model,
		InputTokens:  parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// Provider returns the provider name
func (c *GoogleClient) Provider() Provider {
	return ProviderGoogle
}

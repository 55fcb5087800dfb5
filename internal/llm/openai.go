package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient calls the OpenAI chat completions API.
type OpenAIClient struct {
	opts options
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(opts ...Option) *OpenAIClient {
	return &OpenAIClient{opts: buildOptions("https://api.openai.com/v1", opts)}
}

// Complete sends a request to OpenAI. A fresh SDK client is configured for
// every call so the API key never lives on shared state.
func (c *OpenAIClient) Complete(ctx context.Context, r Request) (*Response, error) {
	if r.APIKey == "" {
		return nil, missingKey(ProviderOpenAI)
	}

	cfg := openai.DefaultConfig(r.APIKey)
	cfg.BaseURL = c.opts.baseURL
	cfg.HTTPClient = c.opts.httpClient
	client := openai.NewClientWithConfig(cfg)

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if r.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: r.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: r.Prompt})

	req := openai.ChatCompletionRequest{
		Model:    r.Model,
		Messages: messages,
	}
	// Reasoning models reject max_tokens and custom temperatures.
	if isReasoningModel(r.Model) {
		req.MaxCompletionTokens = maxTokens(r)
	} else {
		req.MaxTokens = maxTokens(r)
		req.Temperature = 0.1
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, malformed(ProviderOpenAI, "no response choices")
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, malformed(ProviderOpenAI, "empty message content (finish reason %q)", resp.Choices[0].FinishReason)
	}

	model := resp.Model
	if model == "" {
		model = r.Model
	}
	return &Response{
		Content:      content,
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Provider returns the provider name
func (c *OpenAIClient) Provider() Provider {
	return ProviderOpenAI
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(ProviderOpenAI, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusError(ProviderOpenAI, reqErr.HTTPStatusCode, string(reqErr.Body))
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return malformed(ProviderOpenAI, "failed to parse response: %v", err)
	}
	return requestError(ProviderOpenAI, err)
}

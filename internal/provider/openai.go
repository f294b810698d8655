package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OpenAIConfig configures an OpenAI-compatible chat-completions client.
// Most hosted gateways (OpenAI, Groq, OpenRouter, local vLLM) speak this
// shape, so one client covers them all.
type OpenAIConfig struct {
	Name     string
	Endpoint string
	APIKey   string
	Model    string
}

// OpenAIClient implements Client over the chat-completions API.
type OpenAIClient struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAIClient builds a client. Per-call deadlines come from the
// context, so the embedded http.Client carries no timeout of its own.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai client %q: model is required", cfg.Name)
	}
	return &OpenAIClient{cfg: cfg, client: &http.Client{}}, nil
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string {
	return c.cfg.Name
}

// Complete sends one chat completion request. The conversation context
// rides in a system message ahead of the user prompt.
func (c *OpenAIClient) Complete(ctx context.Context, prompt, contextText string) (*Completion, error) {
	start := time.Now()

	apiReq := chatCompletionRequest{Model: c.cfg.Model}
	if contextText != "" {
		apiReq.Messages = append(apiReq.Messages, chatMessage{
			Role:    "system",
			Content: "Relevant conversation memory:\n" + contextText,
		})
	}
	apiReq.Messages = append(apiReq.Messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, fmt.Errorf("%s error (status %d): %s", c.cfg.Name, resp.StatusCode, string(errBody))
	}

	var apiResp chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &Completion{
		Text: apiResp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}

// chat-completions wire types
type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

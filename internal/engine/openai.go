package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	openAIAPIURL       = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAICompleter talks to the OpenAI chat completions API, or any
// OpenAI-compatible endpoint (Ollama, vLLM) via BaseURL.
type OpenAICompleter struct {
	apiKey  string
	baseURL string
	local   bool // OpenAI-compatible local endpoint, no key required
	client  *http.Client
}

// NewOpenAICompleter creates a completer for an OpenAI-compatible API.
// Falls back to the OPENAI_API_KEY environment variable when no key is
// configured. The "ollama" provider is served here with a local base URL
// and no credential requirement.
func NewOpenAICompleter(cfg ClientConfig) *OpenAICompleter {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	local := cfg.Provider == "ollama"
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if local {
			baseURL = "http://localhost:11434/v1/chat/completions"
		} else {
			baseURL = openAIAPIURL
		}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &OpenAICompleter{
		apiKey:  apiKey,
		baseURL: baseURL,
		local:   local,
		client:  &http.Client{Timeout: timeout},
	}
}

// Available reports whether the completer can send requests.
func (c *OpenAICompleter) Available() bool {
	return c.local || c.apiKey != ""
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends the prompt as a single user message and returns the
// first choice's content.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string, params Params) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("openai API key not configured")
	}

	model := params.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	reqBody := openAIChatRequest{
		Model:       model,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Messages: []openAIMessage{
			{Role: "user", Content: prompt},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp openAIChatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("API error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 || apiResp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty response from API")
	}
	return apiResp.Choices[0].Message.Content, nil
}

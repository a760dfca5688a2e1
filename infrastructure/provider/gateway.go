package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

// gatewayAPIVersion is the messages API revision the client speaks.
const gatewayAPIVersion = "2023-06-01"

// GatewayConfig configures the gateway completion client. Endpoint is the
// API root (the client appends /v1/messages).
type GatewayConfig struct {
	Endpoint      string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	HTTPClient    *http.Client
}

// GatewayCompletion generates chat completions through an Anthropic-style
// messages API. The gateway has no embedding support; it exists for the
// hosted fallback tier when local models cannot produce valid output.
type GatewayCompletion struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	retry      retryPolicy
}

// NewGatewayCompletion creates a gateway client.
func NewGatewayCompletion(cfg GatewayConfig) *GatewayCompletion {
	return &GatewayCompletion{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: httpClientFor(cfg.HTTPClient, cfg.Timeout),
		retry:      newRetryPolicy(cfg.MaxRetries, cfg.InitialDelay, cfg.BackoffFactor),
	}
}

type gatewayRequest struct {
	Model       string           `json:"model"`
	MaxTokens   int              `json:"max_tokens"`
	Messages    []gatewayMessage `json:"messages"`
	System      string           `json:"system,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

type gatewayMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type gatewayResponse struct {
	Content    []gatewayBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      gatewayUsage   `json:"usage"`
}

type gatewayBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type gatewayUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type gatewayError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ChatCompletion generates one completion. The messages API keeps the system
// prompt out of the message list, so any system message is lifted into the
// request's system field.
func (g *GatewayCompletion) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error) {
	messages := req.Messages()
	if len(messages) == 0 {
		return ChatCompletionResponse{}, NewError("chat_completion", 0, "no messages provided", nil)
	}

	var system string
	apiMessages := make([]gatewayMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role() == "system" {
			system = m.Content()
			continue
		}
		apiMessages = append(apiMessages, gatewayMessage{Role: m.Role(), Content: m.Content()})
	}

	maxTokens := req.MaxTokens()
	if maxTokens == 0 {
		maxTokens = 4096
	}
	model := req.Model()
	if model == "" {
		model = g.model
	}

	apiReq := gatewayRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    apiMessages,
		System:      system,
		Temperature: req.Temperature(),
	}

	var resp gatewayResponse
	err := g.retry.do(ctx, isRetryableGateway, func() error {
		var callErr error
		resp, callErr = g.doRequest(ctx, apiReq)
		return callErr
	})
	if err != nil {
		return ChatCompletionResponse{}, err
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	usage := NewUsage(
		resp.Usage.InputTokens,
		resp.Usage.OutputTokens,
		resp.Usage.InputTokens+resp.Usage.OutputTokens,
	)
	return NewChatCompletionResponse(content, resp.StopReason, usage), nil
}

func (g *GatewayCompletion) doRequest(ctx context.Context, apiReq gatewayRequest) (gatewayResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return gatewayResponse{}, NewError("chat_completion", 0, "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return gatewayResponse{}, NewError("chat_completion", 0, "create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", g.apiKey)
	httpReq.Header.Set("anthropic-version", gatewayAPIVersion)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return gatewayResponse{}, NewError("chat_completion", 0, "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return gatewayResponse{}, NewError("chat_completion", resp.StatusCode, "read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr gatewayError
		if jsonErr := json.Unmarshal(respBody, &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
			return gatewayResponse{}, NewError("chat_completion", resp.StatusCode, apiErr.Error.Message, nil)
		}
		return gatewayResponse{}, NewError("chat_completion", resp.StatusCode, string(respBody), nil)
	}

	var apiResp gatewayResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return gatewayResponse{}, NewError("chat_completion", 0, "unmarshal response", err)
	}
	return apiResp, nil
}

func isRetryableGateway(err error) bool {
	if IsTimeout(err) {
		return true
	}
	var provErr *Error
	if errors.As(err, &provErr) {
		return retryableStatus(provErr.StatusCode())
	}
	return false
}

var _ TextGenerator = (*GatewayCompletion)(nil)

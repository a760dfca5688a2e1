// Package provider holds the LLM transport clients: chat completion against
// an OpenAI-compatible local server, chat completion against an
// Anthropic-style gateway, and embedding backends (remote OpenAI-compatible
// and in-process hugot). All failures are normalized into *Error so callers
// can classify without knowing which backend produced them.
package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Message is one chat message.
type Message struct {
	role    string
	content string
}

// NewMessage creates a message with an explicit role.
func NewMessage(role, content string) Message {
	return Message{role: role, content: content}
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return NewMessage("system", content)
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return NewMessage("user", content)
}

// Role returns the message role.
func (m Message) Role() string { return m.role }

// Content returns the message content.
func (m Message) Content() string { return m.content }

// ChatCompletionRequest is a request for one completion. Model overrides the
// client's default; zero MaxTokens and Temperature defer to the backend.
type ChatCompletionRequest struct {
	messages    []Message
	model       string
	maxTokens   int
	temperature float64
}

// NewChatCompletionRequest creates a request for the given messages.
func NewChatCompletionRequest(messages []Message) ChatCompletionRequest {
	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	return ChatCompletionRequest{messages: msgs}
}

// WithModel returns a copy requesting a specific model.
func (r ChatCompletionRequest) WithModel(model string) ChatCompletionRequest {
	r.model = model
	return r
}

// WithMaxTokens returns a copy with an output token budget.
func (r ChatCompletionRequest) WithMaxTokens(n int) ChatCompletionRequest {
	r.maxTokens = n
	return r
}

// WithTemperature returns a copy with an explicit sampling temperature.
func (r ChatCompletionRequest) WithTemperature(t float64) ChatCompletionRequest {
	r.temperature = t
	return r
}

// Messages returns the request messages.
func (r ChatCompletionRequest) Messages() []Message {
	msgs := make([]Message, len(r.messages))
	copy(msgs, r.messages)
	return msgs
}

// Model returns the requested model, empty for the client default.
func (r ChatCompletionRequest) Model() string { return r.model }

// MaxTokens returns the output token budget, zero for the backend default.
func (r ChatCompletionRequest) MaxTokens() int { return r.maxTokens }

// Temperature returns the sampling temperature, zero for the backend default.
func (r ChatCompletionRequest) Temperature() float64 { return r.temperature }

// ChatCompletionResponse is one completion. FinishReason is the backend's
// verbatim value ("stop", "length", "end_turn", "max_tokens", ...); callers
// that care about truncation inspect it themselves.
type ChatCompletionResponse struct {
	content      string
	finishReason string
	usage        Usage
}

// NewChatCompletionResponse creates a completion response.
func NewChatCompletionResponse(content, finishReason string, usage Usage) ChatCompletionResponse {
	return ChatCompletionResponse{content: content, finishReason: finishReason, usage: usage}
}

// Content returns the generated text.
func (r ChatCompletionResponse) Content() string { return r.content }

// FinishReason returns why generation stopped.
func (r ChatCompletionResponse) FinishReason() string { return r.finishReason }

// Usage returns the token accounting.
func (r ChatCompletionResponse) Usage() Usage { return r.usage }

// Usage is token accounting for one call.
type Usage struct {
	promptTokens     int
	completionTokens int
	totalTokens      int
}

// NewUsage creates a Usage.
func NewUsage(prompt, completion, total int) Usage {
	return Usage{promptTokens: prompt, completionTokens: completion, totalTokens: total}
}

// PromptTokens returns the prompt token count.
func (u Usage) PromptTokens() int { return u.promptTokens }

// CompletionTokens returns the completion token count.
func (u Usage) CompletionTokens() int { return u.completionTokens }

// TotalTokens returns the total token count.
func (u Usage) TotalTokens() int { return u.totalTokens }

// TextGenerator generates chat completions.
type TextGenerator interface {
	ChatCompletion(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error)
}

// Embedder turns texts into vectors. Passage and query sides are separate
// because embedding profiles can prescribe different instruction prefixes
// for each.
type Embedder interface {
	EmbedPassages(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQueries(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Close() error
}

// Error is a normalized provider failure.
type Error struct {
	operation  string
	statusCode int
	message    string
	cause      error
}

// NewError creates a provider error. statusCode is zero when the failure
// never reached an HTTP response.
func NewError(operation string, statusCode int, message string, cause error) *Error {
	return &Error{operation: operation, statusCode: statusCode, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Operation returns the operation that failed.
func (e *Error) Operation() string { return e.operation }

// StatusCode returns the HTTP status, zero when unknown.
func (e *Error) StatusCode() int { return e.statusCode }

// Message returns the failure message.
func (e *Error) Message() string { return e.message }

// IsRateLimited reports whether the backend rejected the call with 429.
func (e *Error) IsRateLimited() bool { return e.statusCode == http.StatusTooManyRequests }

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRetryable reports whether err is worth retrying: rate limits, upstream
// 5xx, network timeouts, and partial embedding responses.
func IsRetryable(err error) bool {
	if IsTimeout(err) {
		return true
	}
	if errors.Is(err, errEmbeddingCountMismatch) {
		return true
	}
	var provErr *Error
	if errors.As(err, &provErr) {
		return retryableStatus(provErr.StatusCode())
	}
	return false
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryPolicy is the shared exponential-backoff loop for provider calls.
type retryPolicy struct {
	maxRetries    int
	initialDelay  time.Duration
	backoffFactor float64
}

func newRetryPolicy(maxRetries int, initialDelay time.Duration, backoffFactor float64) retryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if initialDelay <= 0 {
		initialDelay = 2 * time.Second
	}
	if backoffFactor <= 1 {
		backoffFactor = 2.0
	}
	return retryPolicy{maxRetries: maxRetries, initialDelay: initialDelay, backoffFactor: backoffFactor}
}

// do runs fn until it succeeds, fails permanently, or retries are spent.
func (rp retryPolicy) do(ctx context.Context, retryable func(error) bool, fn func() error) error {
	delay := rp.initialDelay
	var lastErr error

	for attempt := 0; attempt <= rp.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}

		if attempt < rp.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * rp.backoffFactor)
			}
		}
	}

	return lastErr
}

// prefixTexts prepends an instruction prefix to every text. A blank prefix
// returns the input unchanged.
func prefixTexts(prefix string, texts []string) []string {
	if prefix == "" {
		return texts
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = prefix + t
	}
	return out
}

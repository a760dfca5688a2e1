package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// defaultEmbedBatch is the number of texts sent per embedding API call.
const defaultEmbedBatch = 10

// errEmbeddingCountMismatch indicates the API returned fewer vectors than
// texts. Retryable: transient upstream load can produce partial responses
// behind a 200 status.
var errEmbeddingCountMismatch = errors.New("embedding response count mismatch")

// errUpstreamFailure indicates HTTP 200 with an error body instead of
// embedding data. Routing layers (e.g. OpenRouter) answer this way when every
// upstream is down, so retrying is futile.
var errUpstreamFailure = errors.New("upstream provider failure")

// CompletionConfig configures an OpenAI-compatible chat completion client.
// BaseURL points at the server's /v1 root; APIKey may be empty for local
// servers that skip auth.
type CompletionConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	HTTPClient    *http.Client
}

// OpenAICompletion generates chat completions against any server speaking
// the OpenAI chat completions protocol (llama.cpp, vLLM, Ollama, or the real
// thing).
type OpenAICompletion struct {
	client *openai.Client
	model  string
	retry  retryPolicy
}

// NewOpenAICompletion creates a completion client.
func NewOpenAICompletion(cfg CompletionConfig) *OpenAICompletion {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = httpClientFor(cfg.HTTPClient, cfg.Timeout)

	return &OpenAICompletion{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		retry:  newRetryPolicy(cfg.MaxRetries, cfg.InitialDelay, cfg.BackoffFactor),
	}
}

// ChatCompletion generates one completion, retrying transient failures.
func (c *OpenAICompletion) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages()))
	for _, m := range req.Messages() {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role(),
			Content: m.Content(),
		})
	}

	model := req.Model()
	if model == "" {
		model = c.model
	}

	apiReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens() > 0 {
		apiReq.MaxTokens = req.MaxTokens()
	}
	if req.Temperature() > 0 {
		apiReq.Temperature = float32(req.Temperature())
	}

	var resp openai.ChatCompletionResponse
	err := c.retry.do(ctx, isRetryableOpenAI, func() error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, apiReq)
		return callErr
	})
	if err != nil {
		return ChatCompletionResponse{}, wrapOpenAIError("chat_completion", err)
	}

	if len(resp.Choices) == 0 {
		return ChatCompletionResponse{}, NewError("chat_completion", 0, "no choices in response", nil)
	}

	usage := NewUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	return NewChatCompletionResponse(
		resp.Choices[0].Message.Content,
		string(resp.Choices[0].FinishReason),
		usage,
	), nil
}

// EmbedderConfig configures an OpenAI-compatible embedding client for one
// embedding profile.
type EmbedderConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	Dimension     int
	QueryPrefix   string
	PassagePrefix string
	BatchSize     int
	Timeout       time.Duration
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	HTTPClient    *http.Client
}

// OpenAIEmbedder embeds texts via an OpenAI-compatible embeddings endpoint.
// Inputs are chunked into fixed-size batches; a failed batch fails the whole
// call so callers never see a partial result.
type OpenAIEmbedder struct {
	client        *openai.Client
	model         string
	dimension     int
	queryPrefix   string
	passagePrefix string
	batchSize     int
	retry         retryPolicy
}

// NewOpenAIEmbedder creates an embedding client for one profile.
func NewOpenAIEmbedder(cfg EmbedderConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = httpClientFor(cfg.HTTPClient, cfg.Timeout)

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultEmbedBatch
	}

	return &OpenAIEmbedder{
		client:        openai.NewClientWithConfig(clientCfg),
		model:         cfg.Model,
		dimension:     cfg.Dimension,
		queryPrefix:   cfg.QueryPrefix,
		passagePrefix: cfg.PassagePrefix,
		batchSize:     batch,
		retry:         newRetryPolicy(cfg.MaxRetries, cfg.InitialDelay, cfg.BackoffFactor),
	}
}

// EmbedPassages embeds document-side texts.
func (e *OpenAIEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, prefixTexts(e.passagePrefix, texts))
}

// EmbedQueries embeds query-side texts.
func (e *OpenAIEmbedder) EmbedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, prefixTexts(e.queryPrefix, texts))
}

// Dimension returns the profile's vector width.
func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

// Close is a no-op for the remote embedder.
func (e *OpenAIEmbedder) Close() error { return nil }

func (e *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	apiReq := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	}

	var resp openai.EmbeddingResponse
	err := e.retry.do(ctx, isRetryableOpenAI, func() error {
		var callErr error
		resp, callErr = e.client.CreateEmbeddings(ctx, apiReq)
		if callErr != nil {
			return callErr
		}
		// A 200 with zero data, zero usage, and no model is a routing layer
		// reporting that every upstream failed; the library parses it as an
		// empty response instead of an error.
		if len(resp.Data) == 0 && string(resp.Model) == "" && resp.Usage.TotalTokens == 0 {
			return fmt.Errorf("%w: empty response with no model and zero usage", errUpstreamFailure)
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d texts", errEmbeddingCountMismatch, len(resp.Data), len(texts))
		}
		return nil
	})
	if err != nil {
		return nil, wrapOpenAIError("embedding", err)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = data.Embedding
	}
	return vectors, nil
}

// isRetryableOpenAI classifies go-openai client errors.
func isRetryableOpenAI(err error) bool {
	if errors.Is(err, errUpstreamFailure) {
		return false
	}
	if errors.Is(err, errEmbeddingCountMismatch) || IsTimeout(err) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}

	// Request-level errors are connection problems; worth another try.
	var reqErr *openai.RequestError
	return errors.As(err, &reqErr)
}

// wrapOpenAIError normalizes a go-openai error into *Error.
func wrapOpenAIError(operation string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewError(operation, apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewError(operation, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	return NewError(operation, 0, err.Error(), err)
}

// httpClientFor returns the injected client, or one with the given timeout.
func httpClientFor(injected *http.Client, timeout time.Duration) *http.Client {
	if injected != nil {
		return injected
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

var (
	_ TextGenerator = (*OpenAICompletion)(nil)
	_ Embedder      = (*OpenAIEmbedder)(nil)
)

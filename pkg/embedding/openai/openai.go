// Package openai implements the embedding.Embedder contract against any
// OpenAI-compatible /embeddings endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const (
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultEmbeddingModel = "text-embedding-3-small"
)

// ErrEmptyResponse is returned when the API reports success but carries no
// embedding data.
var ErrEmptyResponse = errors.New("empty embedding response")

// HTTPError carries a non-200 status and the response body.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("embedding request failed: status %d: %s", e.StatusCode, e.Body)
}

// Embedder calls an OpenAI-compatible embeddings API.
type Embedder struct {
	token      string
	baseURL    string
	model      string
	httpClient *http.Client
}

// Option configures the Embedder.
type Option func(*Embedder)

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(e *Embedder) {
		e.token = token
	}
}

// WithBaseURL points the client at a different OpenAI-compatible server.
func WithBaseURL(baseURL string) Option {
	return func(e *Embedder) {
		e.baseURL = baseURL
	}
}

// WithModel sets the embedding model.
func WithModel(model string) Option {
	return func(e *Embedder) {
		e.model = model
	}
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Embedder) {
		e.httpClient = client
	}
}

// New creates an embedder with the given options.
func New(opts ...Option) (*Embedder, error) {
	e := &Embedder{
		baseURL:    defaultBaseURL,
		model:      defaultEmbeddingModel,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type embeddingPayload struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponsePayload struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// EmbedDocuments embeds a batch of texts in one request. The result keeps
// the input order.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	response, err := e.createEmbedding(ctx, &embeddingPayload{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(response.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// EmbedQuery embeds a single text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	response, err := e.createEmbedding(ctx, &embeddingPayload{
		Model: e.model,
		Input: []string{text},
	})
	if err != nil {
		return nil, err
	}
	if len(response.Data) == 0 {
		return nil, ErrEmptyResponse
	}
	return response.Data[0].Embedding, nil
}

func (e *Embedder) createEmbedding(ctx context.Context, payload *embeddingPayload) (*embeddingResponsePayload, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var response embeddingResponsePayload
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arcp-io/arcp/internal/config"
)

// callTimeout is the hard per-call ceiling on embedding requests. A slow
// provider must not hold up registration.
const callTimeout = 10 * time.Second

// AzureProvider calls the Azure OpenAI embeddings REST API.
type AzureProvider struct {
	endpoint   string
	deployment string
	apiVersion string
	apiKey     string
	client     *http.Client
	logger     *zap.Logger
}

// NewAzureProvider creates an AzureProvider from configuration.
func NewAzureProvider(cfg config.AzureConfig, logger *zap.Logger) *AzureProvider {
	return &AzureProvider{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		deployment: cfg.Deployment,
		apiVersion: cfg.APIVersion,
		apiKey:     cfg.APIKey,
		client:     &http.Client{Timeout: callTimeout},
		logger:     logger,
	}
}

// Available implements Provider.
func (p *AzureProvider) Available() bool {
	return p.apiKey != "" && p.endpoint != ""
}

type embeddingRequest struct {
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Provider. The call honors both ctx cancellation and the
// provider's own hard timeout.
func (p *AzureProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if !p.Available() {
		return nil, ErrUnavailable
	}

	body, err := json.Marshal(embeddingRequest{Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		p.endpoint, url.PathEscape(p.deployment), url.QueryEscape(p.apiVersion))

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("embedding call failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("embedding call rejected", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrUnavailable)
	}
	return out.Data[0].Embedding, nil
}

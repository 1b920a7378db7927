package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://127.0.0.1:8000"
	DefaultTimeout = 30 * time.Second

	biasPath    = "/check_bias_data"
	relatedPath = "/related_articles_by_text"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Gateway is a stateless client for the bias and similarity backend. Each
// call is a single best-effort request; nothing is retried.
type Gateway struct {
	baseURL string
	client  *http.Client
}

func New(cfg Config) *Gateway {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// FetchBias returns the first record the backend holds for domain. An empty
// result list is ErrNoBiasData, distinct from a *BackendError.
func (g *Gateway) FetchBias(ctx context.Context, domain string) (BiasRecord, error) {
	var parsed biasResponse
	if err := g.post(ctx, "check bias", biasPath, biasRequest{Domain: domain}, &parsed); err != nil {
		return BiasRecord{}, err
	}
	if len(parsed.Data) == 0 {
		return BiasRecord{}, ErrNoBiasData
	}
	return parsed.Data[0], nil
}

func (g *Gateway) FetchRelatedArticles(ctx context.Context, title string, text string, domain string) (RelatedArticleSet, error) {
	var parsed relatedResponse
	payload := relatedRequest{Title: title, InnerText: text, Domain: domain}
	if err := g.post(ctx, "related articles", relatedPath, payload, &parsed); err != nil {
		return nil, err
	}
	if parsed.Data == nil {
		return RelatedArticleSet{}, nil
	}
	return parsed.Data, nil
}

// Ping checks that the backend root answers.
func (g *Gateway) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/", nil)
	if err != nil {
		return &BackendError{Op: "ping", Err: err}
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return &BackendError{Op: "ping", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &BackendError{Op: "ping", StatusCode: resp.StatusCode}
	}
	return nil
}

func (g *Gateway) post(ctx context.Context, op string, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &BackendError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &BackendError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return &BackendError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &BackendError{Op: op, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &BackendError{Op: op, Err: errors.Join(errors.New("decode response"), err)}
	}
	return nil
}

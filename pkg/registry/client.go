package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Default base URL for the public registry API.
const defaultBaseURL = "https://api.casadosdados.com.br/v5"

// MaxPageSize is the largest page the registry accepts. Larger requests are
// clamped, not rejected.
const MaxPageSize = 1000

// Client defines the registry API operations.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
	Count(ctx context.Context, req SearchRequest) (int, error)
	CreateExport(ctx context.Context, req SearchRequest) (*ExportJobResponse, error)
	GetExport(ctx context.Context, id string) (*ExportStatusResponse, error)
	DownloadExport(ctx context.Context, url string) (io.ReadCloser, error)
}

// SearchRequest is the body for POST /cnpj/pesquisa.
type SearchRequest struct {
	State        string   `json:"uf,omitempty"`
	Municipality string   `json:"municipio,omitempty"`
	Activities   []string `json:"cnae,omitempty"`
	Status       string   `json:"situacao_cadastral,omitempty"`
	LegalNatures []string `json:"natureza_juridica,omitempty"`
	Page         int      `json:"pagina,omitempty"`
	PageSize     int      `json:"itens_por_pagina,omitempty"`
}

// Record is a single company as returned by the registry.
type Record struct {
	TaxID       string  `json:"cnpj"`
	LegalName   string  `json:"razao_social"`
	TradeName   string  `json:"nome_fantasia"`
	Activity    string  `json:"cnae_fiscal"`
	ActivityDsc string  `json:"cnae_fiscal_descricao"`
	Email       string  `json:"email"`
	Phone1      string  `json:"telefone_1"`
	Phone2      string  `json:"telefone_2"`
	City        string  `json:"municipio"`
	State       string  `json:"uf"`
	SizeClass   string  `json:"porte"`
	LegalNature string  `json:"natureza_juridica"`
	Capital     float64 `json:"capital_social"`
	Status      string  `json:"situacao_cadastral"`
	OpenedAt    string  `json:"data_abertura"`
}

// SearchResponse is the response from POST /cnpj/pesquisa.
type SearchResponse struct {
	Total int      `json:"total"`
	Data  []Record `json:"cnpjs"`

	// RequestID is the X-Request-ID header from the response, when present.
	RequestID string `json:"-"`
}

// ExportJobResponse is the response from POST /cnpj/exportar.
type ExportJobResponse struct {
	ID string `json:"id"`
}

// ExportStatusResponse is the response from GET /cnpj/exportar/{id}.
type ExportStatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	URL    string `json:"url"`
}

// Export job statuses reported by the registry.
const (
	ExportStatusPending = "pending"
	ExportStatusReady   = "ready"
	ExportStatusError   = "error"
)

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the sustained request rate and burst for the limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = NewAdaptiveLimiter(rate.Limit(rps), burst)
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *AdaptiveLimiter
}

// NewClient creates a new registry client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: NewAdaptiveLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.PageSize > MaxPageSize {
		req.PageSize = MaxPageSize
	}
	if req.Page < 1 {
		req.Page = 1
	}

	var resp SearchResponse
	reqID, err := c.post(ctx, "/cnpj/pesquisa", req, &resp)
	if err != nil {
		return nil, eris.Wrap(err, "registry: search")
	}
	resp.RequestID = reqID
	return &resp, nil
}

// Count probes the registry for the total match count without pulling records.
func (c *httpClient) Count(ctx context.Context, req SearchRequest) (int, error) {
	req.Page = 1
	req.PageSize = 1

	var resp SearchResponse
	if _, err := c.post(ctx, "/cnpj/pesquisa", req, &resp); err != nil {
		return 0, eris.Wrap(err, "registry: count")
	}
	return resp.Total, nil
}

func (c *httpClient) CreateExport(ctx context.Context, req SearchRequest) (*ExportJobResponse, error) {
	req.Page = 0
	req.PageSize = 0

	var resp ExportJobResponse
	if _, err := c.post(ctx, "/cnpj/exportar", req, &resp); err != nil {
		return nil, eris.Wrap(err, "registry: create export")
	}
	if resp.ID == "" {
		return nil, newMalformedError("export job response missing id", nil)
	}
	return &resp, nil
}

func (c *httpClient) GetExport(ctx context.Context, id string) (*ExportStatusResponse, error) {
	var resp ExportStatusResponse
	if _, err := c.get(ctx, fmt.Sprintf("/cnpj/exportar/%s", id), &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("registry: get export %s", id))
	}
	return &resp, nil
}

// DownloadExport streams the finished export file. The URL comes from a ready
// ExportStatusResponse and is already signed, so no API key is sent.
func (c *httpClient) DownloadExport(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "registry: create download request")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "registry: rate limiter wait")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "registry: download export")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode, resp.Header, "download returned "+strconv.Itoa(resp.StatusCode))
	}
	return resp.Body, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) (string, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return "", eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return "", eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", eris.Wrap(err, "create request")
	}
	req.Header.Set("api-key", c.apiKey)

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) (string, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return "", eris.Wrap(err, "rate limiter wait")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	requestID := resp.Header.Get("X-Request-ID")

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return requestID, eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests {
			c.limiter.OnRateLimit()
		}
		return requestID, classifyStatus(resp.StatusCode, resp.Header, string(data))
	}
	c.limiter.OnSuccess()

	if err := json.Unmarshal(data, out); err != nil {
		return requestID, newMalformedError("decode response", err)
	}

	return requestID, nil
}

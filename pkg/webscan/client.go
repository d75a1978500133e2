package webscan

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hunter-cli/internal/resilience"
)

// Default base URL for the web presence lookup API.
const defaultBaseURL = "https://api.webscan.sells.dev/v1"

// Client defines the web presence lookup operations.
type Client interface {
	Lookup(ctx context.Context, req LookupRequest) (*LookupResponse, error)
}

// LookupRequest is the body for POST /lookup.
type LookupRequest struct {
	BusinessName string `json:"business_name"`
	Locality     string `json:"locality,omitempty"`
}

// LookupResponse is the response from POST /lookup.
type LookupResponse struct {
	SiteURL      string  `json:"site_url"`
	Instagram    string  `json:"instagram"`
	LinkedIn     string  `json:"linkedin"`
	WhatsAppLink string  `json:"whatsapp_link"`
	Confidence   float64 `json:"confidence"`
}

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

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new web presence lookup client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Lookup(ctx context.Context, req LookupRequest) (*LookupResponse, error) {
	if req.BusinessName == "" {
		return nil, eris.New("webscan: business name is required")
	}

	buf, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "webscan: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/lookup", bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "webscan: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "webscan: lookup")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "webscan: read response body")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &resilience.AuthError{Service: "webscan", Err: eris.Errorf("HTTP %d: %s", resp.StatusCode, data)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &resilience.RateLimitError{Service: "webscan", Err: eris.Errorf("HTTP 429: %s", data)}
	case resp.StatusCode == http.StatusNotFound:
		// No web presence found is a normal outcome, not an error.
		return &LookupResponse{}, nil
	case resp.StatusCode >= 500:
		return nil, resilience.NewTransientError(eris.Errorf("HTTP %d: %s", resp.StatusCode, data), resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, eris.Errorf("webscan: HTTP %d: %s", resp.StatusCode, data)
	}

	var out LookupResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &resilience.MalformedResponseError{Service: "webscan", Detail: "decode response", Err: err}
	}
	return &out, nil
}

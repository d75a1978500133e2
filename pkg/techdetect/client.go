package techdetect

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hunter-cli/internal/resilience"
)

// Default base URL for the technology detection API.
const defaultBaseURL = "https://api.techdetect.sells.dev/v1"

// Client defines the technology detection operations.
type Client interface {
	Detect(ctx context.Context, siteURL string) (*DetectResponse, error)
}

// DetectResponse is the response from GET /detect.
type DetectResponse struct {
	Technologies   []string `json:"technologies"`
	HasContactPage bool     `json:"has_contact_page"`
	HasForm        bool     `json:"has_form"`
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
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

// NewClient creates a new technology detection client.
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

func (c *httpClient) Detect(ctx context.Context, siteURL string) (*DetectResponse, error) {
	if siteURL == "" {
		return nil, eris.New("techdetect: site url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/detect?url="+url.QueryEscape(siteURL), nil)
	if err != nil {
		return nil, eris.Wrap(err, "techdetect: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "techdetect: detect")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "techdetect: read response body")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &resilience.AuthError{Service: "techdetect", Err: eris.Errorf("HTTP %d: %s", resp.StatusCode, data)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &resilience.RateLimitError{Service: "techdetect", Err: eris.Errorf("HTTP 429: %s", data)}
	case resp.StatusCode >= 500:
		return nil, resilience.NewTransientError(eris.Errorf("HTTP %d: %s", resp.StatusCode, data), resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, eris.Errorf("techdetect: HTTP %d: %s", resp.StatusCode, data)
	}

	var out DetectResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &resilience.MalformedResponseError{Service: "techdetect", Detail: "decode response", Err: err}
	}
	return &out, nil
}

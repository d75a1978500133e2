package webscan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hunter-cli/internal/resilience"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-api-key", WithBaseURL(srv.URL))
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, resp *LookupResponse, err error)
	}{
		{
			name: "happy path",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/lookup", r.URL.Path)
				assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

				var req LookupRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "Clinica Sorriso", req.BusinessName)
				assert.Equal(t, "campinas/SP", req.Locality)

				json.NewEncoder(w).Encode(LookupResponse{
					SiteURL:      "https://clinicasorriso.com.br",
					Instagram:    "https://instagram.com/clinicasorriso",
					WhatsAppLink: "https://wa.me/5519999990000",
					Confidence:   0.92,
				})
			},
			check: func(t *testing.T, resp *LookupResponse, err error) {
				require.NoError(t, err)
				assert.Equal(t, "https://clinicasorriso.com.br", resp.SiteURL)
				assert.NotEmpty(t, resp.WhatsAppLink)
			},
		},
		{
			name: "not found is empty result",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			check: func(t *testing.T, resp *LookupResponse, err error) {
				require.NoError(t, err)
				assert.Empty(t, resp.SiteURL)
			},
		},
		{
			name: "auth error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			check: func(t *testing.T, resp *LookupResponse, err error) {
				require.Error(t, err)
				assert.True(t, resilience.IsAuth(err))
			},
		},
		{
			name: "server error is retryable",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			check: func(t *testing.T, resp *LookupResponse, err error) {
				require.Error(t, err)
				assert.True(t, resilience.Retryable(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, tt.handler)
			resp, err := c.Lookup(context.Background(), LookupRequest{
				BusinessName: "Clinica Sorriso",
				Locality:     "campinas/SP",
			})
			tt.check(t, resp, err)
		})
	}
}

func TestLookupRequiresName(t *testing.T) {
	c := NewClient("test-api-key")
	_, err := c.Lookup(context.Background(), LookupRequest{})
	require.Error(t, err)
}

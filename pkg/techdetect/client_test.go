package techdetect

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

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, resp *DetectResponse, err error)
	}{
		{
			name: "happy path",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/detect", r.URL.Path)
				assert.Equal(t, "https://example.com.br", r.URL.Query().Get("url"))
				assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

				json.NewEncoder(w).Encode(DetectResponse{
					Technologies:   []string{"wordpress", "google-analytics"},
					HasContactPage: true,
					HasForm:        true,
				})
			},
			check: func(t *testing.T, resp *DetectResponse, err error) {
				require.NoError(t, err)
				assert.Len(t, resp.Technologies, 2)
				assert.True(t, resp.HasContactPage)
			},
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			check: func(t *testing.T, resp *DetectResponse, err error) {
				require.Error(t, err)
				assert.True(t, resilience.IsRateLimited(err))
			},
		},
		{
			name: "malformed response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`not json`))
			},
			check: func(t *testing.T, resp *DetectResponse, err error) {
				require.Error(t, err)
				var mal *resilience.MalformedResponseError
				assert.ErrorAs(t, err, &mal)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)
			c := NewClient("test-api-key", WithBaseURL(srv.URL))

			resp, err := c.Detect(context.Background(), "https://example.com.br")
			tt.check(t, resp, err)
		})
	}
}

func TestDetectRequiresURL(t *testing.T) {
	c := NewClient("test-api-key")
	_, err := c.Detect(context.Background(), "")
	require.Error(t, err)
}

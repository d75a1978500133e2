package registry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hunter-cli/internal/resilience"
)

// classifyStatus maps a non-2xx registry response to the error taxonomy so
// callers can decide whether to retry, back off, or fail the run.
func classifyStatus(statusCode int, header http.Header, body string) error {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &resilience.AuthError{
			Service: "registry",
			Err:     eris.Errorf("HTTP %d: %s", statusCode, body),
		}
	case statusCode == http.StatusTooManyRequests:
		return &resilience.RateLimitError{
			Service:    "registry",
			RetryAfter: parseRetryAfter(header),
			Err:        eris.Errorf("HTTP 429: %s", body),
		}
	case statusCode >= 500:
		return resilience.NewTransientError(
			eris.Errorf("HTTP %d: %s", statusCode, body), statusCode)
	default:
		return eris.Errorf("registry: HTTP %d: %s", statusCode, body)
	}
}

func newMalformedError(detail string, err error) error {
	return &resilience.MalformedResponseError{
		Service: "registry",
		Detail:  detail,
		Err:     err,
	}
}

func parseRetryAfter(header http.Header) time.Duration {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

package shortener

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediavault/internal/vault"
)

// HTTPShortener calls a shorten-API over HTTP: GET <endpoint><escaped-url>,
// expecting the short link as the plain-text response body. Callers treat
// every failure as non-fatal and fall back to the long link.
type HTTPShortener struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

var _ vault.Shortener = (*HTTPShortener)(nil)

// NewHTTPShortener creates a shortener client with a bounded timeout.
func NewHTTPShortener(endpoint, apiKey string, timeout time.Duration) *HTTPShortener {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPShortener{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *HTTPShortener) Shorten(ctx context.Context, longURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+url.QueryEscape(longURL), nil)
	if err != nil {
		return "", fmt.Errorf("building shorten request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling shortener: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("shortener returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("reading shortener response: %w", err)
	}

	short := strings.TrimSpace(string(body))
	if short == "" || !strings.HasPrefix(short, "http") {
		return "", fmt.Errorf("shortener returned unusable body %q", short)
	}
	return short, nil
}

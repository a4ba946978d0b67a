package vault

import "context"

// Shortener is the external link-shortening service. Failures are never
// fatal: callers fall back to the original URL on any error or timeout.
type Shortener interface {
	Shorten(ctx context.Context, longURL string) (string, error)
}

package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// expirySlack refreshes tokens slightly before they actually expire.
const expirySlack = 30 * time.Second

type tokenFetch func(ctx context.Context) (token string, expiry time.Time, err error)

// tokenCache holds one partner's bearer token. Refresh is single-flight:
// concurrent callers share one refresh attempt, which itself retries with
// exponential backoff up to a fixed cap before reporting ErrAuthFailed.
type tokenCache struct {
	fetch    tokenFetch
	attempts int
	backoff  time.Duration

	sf singleflight.Group

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func newTokenCache(fetch tokenFetch, attempts int, backoff time.Duration) *tokenCache {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &tokenCache{fetch: fetch, attempts: attempts, backoff: backoff}
}

func (c *tokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Until(c.expiry) > expirySlack {
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call refreshes, e.g. after a
// partner rejects it with 401 before its advertised expiry.
func (c *tokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiry = time.Time{}
	c.mu.Unlock()
}

func (c *tokenCache) refresh(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrAuthFailed, ctx.Err())
			case <-time.After(delay):
			}
		}
		token, expiry, err := c.fetch(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		c.mu.Lock()
		c.token = token
		c.expiry = expiry
		c.mu.Unlock()
		return token, nil
	}
	return "", fmt.Errorf("%w after %d attempts: %v", ErrAuthFailed, c.attempts, lastErr)
}

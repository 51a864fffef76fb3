package adapter

import (
	"context"
	"time"
)

func RetryForTest(ctx context.Context, maxRetries int, backoff time.Duration, fn func() error) error {
	g := &GeminiClient{maxRetries: maxRetries, backoff: backoff}
	return g.retry(ctx, "test", fn)
}

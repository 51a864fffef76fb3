package adapter_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"google.golang.org/genai"
)

func newTestGemini(t *testing.T) *adapter.GeminiClient {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	client, err := adapter.NewGemini(context.Background(), projectID, "us-central1")
	gt.NoError(t, err)
	return client
}

func TestGenerateContent(t *testing.T) {
	client := newTestGemini(t)
	ctx := context.Background()

	contents := []*genai.Content{
		genai.NewContentFromText("Name one common reason employees leave a job.", genai.RoleUser),
	}

	resp, err := client.GenerateContent(ctx, contents, nil)
	gt.NoError(t, err)

	if resp == nil ||
		len(resp.Candidates) == 0 ||
		resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 ||
		resp.Candidates[0].Content.Parts[0].Text == "" {
		t.Fatal("unexpected response")
	}

	t.Log("response:", resp.Candidates[0].Content.Parts[0].Text)
}

func TestEmbedding(t *testing.T) {
	client := newTestGemini(t)
	ctx := context.Background()

	vec, err := client.Embedding(ctx, "The commute was too long", 256)
	gt.NoError(t, err)
	gt.A(t, vec).Length(256)
}

func TestRetryTransientErrors(t *testing.T) {
	ctx := context.Background()
	rateLimited := genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}

	t.Run("no retry by default", func(t *testing.T) {
		calls := 0
		err := adapter.RetryForTest(ctx, adapter.DefaultMaxRetries, time.Millisecond, func() error {
			calls++
			return rateLimited
		})
		gt.Error(t, err)
		gt.Equal(t, calls, 1)
	})

	t.Run("recovers after rate limit", func(t *testing.T) {
		calls := 0
		err := adapter.RetryForTest(ctx, 2, time.Millisecond, func() error {
			calls++
			if calls < 2 {
				return rateLimited
			}
			return nil
		})
		gt.NoError(t, err)
		gt.Equal(t, calls, 2)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := adapter.RetryForTest(ctx, 2, time.Millisecond, func() error {
			calls++
			return rateLimited
		})
		gt.Error(t, err)
		gt.Equal(t, calls, 3)
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		calls := 0
		err := adapter.RetryForTest(ctx, 2, time.Millisecond, func() error {
			calls++
			return genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "bad schema"}
		})
		gt.Error(t, err)
		gt.Equal(t, calls, 1)
	})

	t.Run("stops when context is canceled", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		err := adapter.RetryForTest(canceled, 5, time.Hour, func() error { return rateLimited })
		gt.True(t, errors.Is(err, context.Canceled))
	})
}

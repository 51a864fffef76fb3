package chat

import (
	"context"

	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"google.golang.org/genai"
)

func CompressHistoryForTest(ctx context.Context, gemini adapter.Gemini, contents []*genai.Content) ([]*genai.Content, error) {
	return compressHistory(ctx, gemini, contents)
}

func SummarizeContentsForTest(ctx context.Context, gemini adapter.Gemini, contents []*genai.Content) (string, error) {
	return summarizeContents(ctx, gemini, contents)
}

func TokenLimitForTest(err error) (int64, int64, bool) {
	return tokenLimit(err)
}

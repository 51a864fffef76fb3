package chat

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"google.golang.org/genai"
)

var (
	ErrEmptyHistory      = goerr.New("history is empty")
	ErrNothingToCompress = goerr.New("insufficient content to compress")
)

// share of the transcript, by encoded size, folded into the summary
const compressionRatio = 0.7

//go:embed prompt/summarize.md
var summarizePromptRaw string

// "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576)."
var tokenLimitPattern = regexp.MustCompile(`^The input token count \((\d+)\) exceeds the maximum number of tokens allowed \((\d+)\)`)

// tokenLimit reports whether err is a Gemini context window overflow and
// returns the sent and allowed token counts
func tokenLimit(err error) (sent, allowed int64, ok bool) {
	var apiErr genai.APIError
	if err == nil || !errors.As(err, &apiErr) {
		return 0, 0, false
	}
	if apiErr.Code != 400 || apiErr.Status != "INVALID_ARGUMENT" {
		return 0, 0, false
	}
	m := tokenLimitPattern.FindStringSubmatch(apiErr.Message)
	if m == nil {
		return 0, 0, false
	}
	sent, _ = strconv.ParseInt(m[1], 10, 64)
	allowed, _ = strconv.ParseInt(m[2], 10, 64)
	return sent, allowed, true
}

// startsQuestion is true for a user message that carries text, i.e. the
// beginning of a turn rather than a batch of tool observations
func startsQuestion(content *genai.Content) bool {
	if content.Role != genai.RoleUser {
		return false
	}
	for _, p := range content.Parts {
		if p.FunctionResponse != nil {
			return false
		}
	}
	return textOf(content) != ""
}

// splitIndex returns where the kept tail of the transcript begins. The tail
// always starts at a question so no tool call is separated from its response.
func splitIndex(contents []*genai.Content, ratio float64) int {
	sizes := make([]int, len(contents))
	total := 0
	for i, c := range contents {
		data, err := json.Marshal(c)
		if err == nil {
			sizes[i] = len(data)
		}
		total += sizes[i]
	}

	threshold := int(float64(total) * ratio)
	idx, cumulative := len(contents), 0
	for i, size := range sizes {
		cumulative += size
		if cumulative >= threshold {
			idx = i + 1
			break
		}
	}

	for idx < len(contents) && !startsQuestion(contents[idx]) {
		idx++
	}
	return idx
}

// compressHistory replaces the oldest part of the transcript with a model
// written summary. The input slice is not modified.
func compressHistory(ctx context.Context, gemini adapter.Gemini, contents []*genai.Content) ([]*genai.Content, error) {
	if len(contents) == 0 {
		return nil, goerr.Wrap(ErrEmptyHistory, "cannot compress")
	}

	idx := splitIndex(contents, compressionRatio)
	if idx == 0 || idx >= len(contents) {
		return nil, goerr.Wrap(ErrNothingToCompress, "no question boundary after threshold",
			goerr.V("contents", len(contents)))
	}

	summary, err := summarizeContents(ctx, gemini, contents[:idx])
	if err != nil {
		return nil, goerr.Wrap(err, "failed to summarize contents", goerr.V("summarized", idx))
	}

	header := fmt.Sprintf("=== Previous Conversation Summary (%d earlier messages) ===\n\n", idx)
	result := make([]*genai.Content, 0, len(contents)-idx+1)
	result = append(result, genai.NewContentFromText(header+summary, genai.RoleUser))
	result = append(result, contents[idx:]...)
	return result, nil
}

func summarizeContents(ctx context.Context, gemini adapter.Gemini, contents []*genai.Content) (string, error) {
	request := make([]*genai.Content, 0, len(contents)+1)
	request = append(request, contents...)
	request = append(request, genai.NewContentFromText(summarizePromptRaw, genai.RoleUser))

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText("You summarize HR exit survey analysis conversations.", ""),
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
		ToolConfig: &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeNone},
		},
	}

	resp, err := gemini.GenerateContent(ctx, request, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate summary")
	}

	content := firstContent(resp)
	if content == nil {
		return "", goerr.New("no summary generated")
	}
	summary := strings.TrimSpace(textOf(content))
	if summary == "" {
		return "", goerr.New("empty summary generated")
	}
	return summary, nil
}

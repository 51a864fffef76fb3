package sql

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/repository"
	"github.com/wwetzel/maven-demo-day/pkg/tool"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
	"google.golang.org/genai"
)

// executeQuery executes sql_db_query
func (t *Tool) executeQuery(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := tool.DecodeArgs(fc, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, goerr.New("query is required")
	}

	if err := t.validate(ctx, in.Query); err != nil {
		return tool.ErrorResponse(fc.Name, goerr.Wrap(err, "query validation failed")), nil
	}

	rows, err := t.repo.Query(ctx, in.Query)
	if err != nil {
		return tool.ErrorResponse(fc.Name, goerr.Wrap(err, "query execution failed")), nil
	}

	truncated := false
	if int64(len(rows)) > t.resultLimitRows {
		rows = rows[:t.resultLimitRows]
		truncated = true
	}

	logging.From(ctx).Debug("sql query executed", "query", in.Query, "rows", len(rows), "truncated", truncated)

	return &genai.FunctionResponse{
		Name: fc.Name,
		Response: map[string]any{
			"rows":      rows,
			"row_count": len(rows),
			"truncated": truncated,
		},
	}, nil
}

// executeQueryChecker executes sql_db_query_checker. The model reviews the
// query first, then the reviewed query goes through the same validation as
// sql_db_query.
func (t *Tool) executeQueryChecker(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := tool.DecodeArgs(fc, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, goerr.New("query is required")
	}

	checked := in.Query
	if t.gemini != nil {
		reviewed, err := t.review(ctx, in.Query)
		if err != nil {
			logging.From(ctx).Warn("query review failed, checking original query", "error", err)
		} else if reviewed != "" {
			checked = reviewed
		}
	}

	response := map[string]any{
		"query": checked,
		"valid": true,
	}
	if err := t.validate(ctx, checked); err != nil {
		response["valid"] = false
		response["error"] = err.Error()
	}

	return &genai.FunctionResponse{Name: fc.Name, Response: response}, nil
}

func (t *Tool) review(ctx context.Context, query string) (string, error) {
	schema, err := t.repo.Schema(ctx, repository.SurveyTable)
	if err != nil {
		return "", goerr.Wrap(err, "failed to get survey table schema")
	}

	prompt, err := t.renderChecker(query, schema)
	if err != nil {
		return "", err
	}

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}
	resp, err := t.gemini.GenerateContent(ctx, []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to review query")
	}

	return stripCodeFence(resp.Text()), nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

package sql

import (
	"context"
	"fmt"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/tool"
	"google.golang.org/genai"
)

// executeRunbook executes sql_db_runbook
func (t *Tool) executeRunbook(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	var in struct {
		RunBookID string `json:"runbook_id"`
	}
	if err := tool.DecodeArgs(fc, &in); err != nil {
		return nil, err
	}
	if in.RunBookID == "" {
		return nil, goerr.New("runbook_id is required")
	}

	rb, exists := t.runBooks[in.RunBookID]
	if !exists {
		availableIDs := make([]string, 0, len(t.runBooks))
		for id := range t.runBooks {
			availableIDs = append(availableIDs, id)
		}
		sort.Strings(availableIDs)

		return &genai.FunctionResponse{
			Name: fc.Name,
			Response: map[string]any{
				"error":         fmt.Sprintf("Runbook '%s' not found", in.RunBookID),
				"available_ids": availableIDs,
			},
		}, nil
	}

	return &genai.FunctionResponse{
		Name: fc.Name,
		Response: map[string]any{
			"runbook_id":  rb.ID,
			"title":       rb.Title,
			"description": rb.Description,
			"sql":         rb.SQL,
		},
	}, nil
}

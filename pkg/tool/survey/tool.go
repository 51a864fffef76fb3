package survey

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"github.com/wwetzel/maven-demo-day/pkg/tool"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
	"google.golang.org/genai"
)

const fnSearch = "survey_search"

// Tool answers qualitative questions from the semantic index of quit reasons
type Tool struct {
	maxSources int64

	retriever   tool.Retriever
	synthesizer tool.Synthesizer
}

func New() *Tool {
	return &Tool{maxSources: 10}
}

func (t *Tool) Kind() tool.Kind { return tool.KindRetrieval }

func (t *Tool) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "survey-max-sources",
			Usage:       "Maximum number of source documents returned to the model with an answer",
			Value:       10,
			Sources:     cli.EnvVars("EXITBOT_SURVEY_MAX_SOURCES"),
			Destination: &t.maxSources,
		},
	}
}

func (t *Tool) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if client == nil || client.Retriever == nil || client.Synthesizer == nil {
		return false, nil
	}
	t.retriever = client.Retriever
	t.synthesizer = client.Synthesizer
	return true, nil
}

func (t *Tool) Prompt(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("### Survey Search\n\n")
	b.WriteString("`" + fnSearch + "` searches the free-text quit reasons semantically and can filter on these attributes:\n")
	for _, f := range model.MetadataFields {
		fmt.Fprintf(&b, "- `%s`: %s\n", f.Name, f.Description)
	}
	return b.String()
}

func (t *Tool) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        fnSearch,
				Description: "Search exit survey responses by meaning and answer a qualitative question from them. Use it to summarize or explain why employees leave. Attribute constraints written in the question (job title, business unit, year, sentiment, NPS) are applied as filters.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"question": {
							Type:        genai.TypeString,
							Description: "Self-contained natural-language question including every attribute constraint",
						},
						"limit": {
							Type:        genai.TypeInteger,
							Description: "Number of responses to consider, 0 for the default",
						},
					},
					Required: []string{"question"},
				},
			},
		},
	}
}

func (t *Tool) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	if fc.Name != fnSearch {
		return nil, goerr.New("unknown function", goerr.V("name", fc.Name))
	}

	var in struct {
		Question string `json:"question"`
		Limit    int    `json:"limit"`
	}
	if err := tool.DecodeArgs(fc, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Question) == "" {
		return nil, goerr.New("question is required")
	}

	result, err := t.retriever.Retrieve(ctx, in.Question, in.Limit)
	if err != nil {
		return tool.ErrorResponse(fc.Name, goerr.Wrap(err, "survey retrieval failed")), nil
	}

	answer, err := t.synthesizer.Answer(ctx, in.Question, result.Documents)
	if err != nil {
		return tool.ErrorResponse(fc.Name, goerr.Wrap(err, "failed to answer from survey responses")), nil
	}

	sources := make([]map[string]any, 0, len(answer.Sources))
	for i, d := range answer.Sources {
		if int64(i) >= t.maxSources {
			break
		}
		sources = append(sources, map[string]any{
			"id":       d.ID,
			"score":    d.Score,
			"content":  d.Content,
			"metadata": d.Metadata,
		})
	}

	logging.From(ctx).Debug("survey search answered",
		"question", in.Question,
		"filter", result.Filter.String(),
		"fallback", result.Fallback,
		"documents", len(result.Documents))

	return &genai.FunctionResponse{
		Name: fc.Name,
		Response: map[string]any{
			"answer":          answer.Text,
			"filter":          result.Filter.String(),
			"filter_fallback": result.Fallback,
			"matched":         len(result.Documents),
			"sources":         sources,
		},
	}, nil
}

package chat_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"github.com/wwetzel/maven-demo-day/pkg/repository"
	"github.com/wwetzel/maven-demo-day/pkg/retriever"
	"github.com/wwetzel/maven-demo-day/pkg/sandbox"
	"github.com/wwetzel/maven-demo-day/pkg/synth"
	"github.com/wwetzel/maven-demo-day/pkg/tool"
	"github.com/wwetzel/maven-demo-day/pkg/tool/python"
	sqltool "github.com/wwetzel/maven-demo-day/pkg/tool/sql"
	"github.com/wwetzel/maven-demo-day/pkg/tool/survey"
	"github.com/wwetzel/maven-demo-day/pkg/usecase/chat"
	"google.golang.org/genai"
)

type request struct {
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

// scriptedGemini replays one response per GenerateContent call and records the requests
type scriptedGemini struct {
	mockGemini
	steps    []func(req request) (*genai.GenerateContentResponse, error)
	requests []request
}

func newScripted(steps ...func(req request) (*genai.GenerateContentResponse, error)) *scriptedGemini {
	s := &scriptedGemini{steps: steps}
	s.generateFunc = func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		req := request{contents: append([]*genai.Content(nil), contents...), config: config}
		s.requests = append(s.requests, req)
		if len(s.requests) > len(s.steps) {
			return nil, errors.New("unexpected model call")
		}
		return s.steps[len(s.requests)-1](req)
	}
	return s
}

func reply(resp *genai.GenerateContentResponse) func(request) (*genai.GenerateContentResponse, error) {
	return func(request) (*genai.GenerateContentResponse, error) { return resp, nil }
}

type mockRetriever struct {
	question string
}

func (m *mockRetriever) Retrieve(ctx context.Context, question string, limit int) (*retriever.Result, error) {
	m.question = question
	return &retriever.Result{
		Query:  "reasons for leaving",
		Filter: &model.Filter{Conditions: []model.Condition{{Field: model.ColumnJobTitle, Op: model.OpEq, Value: "design engineer"}}},
		Limit:  retriever.DefaultLimit,
		Documents: []*model.ScoredDocument{
			{Document: model.Document{ID: model.NewRecordID(1), Content: "No growth path", Metadata: map[string]any{model.ColumnJobTitle: "design engineer"}}, Score: 0.8},
		},
	}, nil
}

type mockSynthesizer struct{}

func (m *mockSynthesizer) Answer(ctx context.Context, question string, docs []*model.ScoredDocument) (*synth.Answer, error) {
	return &synth.Answer{Text: "Design engineers mostly cite a lack of growth.", Sources: docs}, nil
}

type mockSandbox struct {
	code   string
	result *sandbox.Result
}

func (m *mockSandbox) Execute(ctx context.Context, code string, timeout time.Duration) (*sandbox.Result, error) {
	m.code = code
	return m.result, nil
}

func (m *mockSandbox) Close() error { return nil }

func newRepo(t *testing.T) repository.Repository {
	t.Helper()
	ctx := context.Background()
	repo, err := repository.NewSQLite(filepath.Join(t.TempDir(), "hr.db"))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	gt.NoError(t, repo.Migrate(ctx))
	gt.NoError(t, repo.PutRecords(ctx, []*model.SurveyRecord{
		{ID: model.NewRecordID(1), TermYear: 2022, TermMonth: 2, JobTitle: "design engineer", BusinessUnit: "business unit A", Gender: "female", QuitReason: "No growth path", Sentiment: "Negative", NPS: 3},
		{ID: model.NewRecordID(2), TermYear: 2022, TermMonth: 6, JobTitle: "field engineer 1", BusinessUnit: "business unit B", Gender: "male", QuitReason: "Relocated", Sentiment: "Neutral", NPS: 6},
		{ID: model.NewRecordID(3), TermYear: 2023, TermMonth: 9, JobTitle: "project manager 1", BusinessUnit: "business unit A", Gender: "female", QuitReason: "Burnout", Sentiment: "Very Negative", NPS: 2},
	}))
	return repo
}

// newRegistry applies flag defaults through a command, then initializes the tools
func newRegistry(t *testing.T, client *tool.Client, tools ...tool.Tool) *tool.Registry {
	t.Helper()
	ctx := context.Background()
	reg, err := tool.New(tools...)
	gt.NoError(t, err)

	cmd := &cli.Command{
		Name:   "test",
		Flags:  reg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error { return nil },
	}
	gt.NoError(t, cmd.Run(ctx, []string{"test"}))
	gt.NoError(t, reg.Init(ctx, client))
	return reg
}

func newSession(t *testing.T, gemini *scriptedGemini, reg *tool.Registry, opts ...func(*chat.NewInput)) *chat.Session {
	t.Helper()
	input := chat.NewInput{Gemini: gemini, Registry: reg, Model: "gemini-2.5-flash"}
	for _, opt := range opts {
		opt(&input)
	}
	s, err := chat.New(context.Background(), input)
	gt.NoError(t, err)
	return s
}

func functionResponses(c *genai.Content) []*genai.FunctionResponse {
	var out []*genai.FunctionResponse
	for _, p := range c.Parts {
		if p.FunctionResponse != nil {
			out = append(out, p.FunctionResponse)
		}
	}
	return out
}

func TestSQLCount(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	reg := newRegistry(t, &tool.Client{Repo: repo}, sqltool.New())

	gemini := newScripted(
		reply(callResponse(&genai.FunctionCall{
			ID:   "call-1",
			Name: "sql_db_query",
			Args: map[string]any{"query": "SELECT COUNT(*) AS n FROM exit_survey WHERE term_year = 2022"},
		})),
		func(req request) (*genai.GenerateContentResponse, error) {
			last := req.contents[len(req.contents)-1]
			frs := functionResponses(last)
			if len(frs) != 1 || frs[0].ID != "call-1" {
				return nil, errors.New("missing observation")
			}
			return textResponse("2 employees left in 2022."), nil
		},
	)
	s := newSession(t, gemini, reg)

	r, err := s.Send(ctx, "How many employees left in 2022?")
	gt.NoError(t, err)
	gt.Equal(t, r.Text, "2 employees left in 2022.")
	gt.Equal(t, r.Invocation.Iterations, 2)
	gt.False(t, r.Invocation.LimitReached)
	gt.A(t, r.Invocation.ToolCalls).Length(1)
	gt.Equal(t, r.Invocation.ToolCalls[0].Kind, string(tool.KindSQL))
	gt.S(t, r.Invocation.ToolCalls[0].Result).Contains(`"n":2`)

	gt.A(t, gemini.requests[0].config.Tools).Longer(0)
	gt.S(t, gemini.requests[0].config.SystemInstruction.Parts[0].Text).Contains("sql_db_query")
	gt.Equal(t, *gemini.requests[0].config.Temperature, float32(0))
	gt.Equal(t, gemini.requests[0].config.MaxOutputTokens, int32(0))
	gt.Equal(t, s.Settings().MaxTokens, int32(250))

	// user, call, observation, answer
	gt.A(t, s.Contents()).Length(4)
}

func TestSurveySearchWithFilter(t *testing.T) {
	ctx := context.Background()
	ret := &mockRetriever{}
	reg := newRegistry(t, &tool.Client{Retriever: ret, Synthesizer: &mockSynthesizer{}}, survey.New())

	gemini := newScripted(
		reply(callResponse(&genai.FunctionCall{
			Name: "survey_search",
			Args: map[string]any{"question": "Why are design engineers leaving?"},
		})),
		reply(textResponse("Design engineers mostly leave for lack of growth.")),
	)
	s := newSession(t, gemini, reg)

	r, err := s.Send(ctx, "Summarize why design engineers are leaving")
	gt.NoError(t, err)
	gt.S(t, r.Text).Contains("growth")
	gt.Equal(t, ret.question, "Why are design engineers leaving?")
	gt.A(t, r.Invocation.ToolCalls).Length(1)
	gt.Equal(t, r.Invocation.ToolCalls[0].Kind, string(tool.KindRetrieval))
	gt.S(t, r.Invocation.ToolCalls[0].Result).Contains("design engineer")
}

func TestSQLThenPython(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	sb := &mockSandbox{result: &sandbox.Result{Stdout: "4.5\n"}}
	reg := newRegistry(t, &tool.Client{Repo: repo}, sqltool.New(), python.New(python.WithSandbox(sb)))

	gemini := newScripted(
		reply(callResponse(&genai.FunctionCall{
			Name: "sql_db_query",
			Args: map[string]any{"query": "SELECT nps FROM exit_survey WHERE term_year = 2022"},
		})),
		reply(callResponse(&genai.FunctionCall{
			Name: "python_repl",
			Args: map[string]any{"code": "```python\nprint(sum([3, 6]) / 2)\n```"},
		})),
		reply(textResponse("The average NPS of employees who left in 2022 is 4.5.")),
	)
	s := newSession(t, gemini, reg)

	r, err := s.Send(ctx, "What is the average NPS of people who left in 2022?")
	gt.NoError(t, err)
	gt.S(t, r.Text).Contains("4.5")
	gt.A(t, r.Invocation.ToolCalls).Length(2)
	gt.Equal(t, r.Invocation.ToolCalls[0].Kind, string(tool.KindSQL))
	gt.Equal(t, r.Invocation.ToolCalls[1].Kind, string(tool.KindCode))
	gt.Equal(t, sb.code, "print(sum([3, 6]) / 2)")
	gt.S(t, r.Invocation.ToolCalls[1].Result).Contains("4.5")
}

func TestParallelCallsGrouped(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t, &tool.Client{Repo: newRepo(t)}, sqltool.New())

	gemini := newScripted(
		reply(callResponse(
			&genai.FunctionCall{Name: "sql_db_list_tables", Args: map[string]any{}},
			&genai.FunctionCall{Name: "sql_db_schema", Args: map[string]any{"table_names": "exit_survey"}},
		)),
		func(req request) (*genai.GenerateContentResponse, error) {
			last := req.contents[len(req.contents)-1]
			if last.Role != genai.RoleUser || len(functionResponses(last)) != 2 {
				return nil, errors.New("observations are not grouped")
			}
			return textResponse("There is one table."), nil
		},
	)
	s := newSession(t, gemini, reg)

	r, err := s.Send(ctx, "What data do you have?")
	gt.NoError(t, err)
	gt.A(t, r.Invocation.ToolCalls).Length(2)
}

func TestToolErrorBecomesObservation(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	reg := newRegistry(t, &tool.Client{Repo: repo}, sqltool.New())

	gemini := newScripted(
		reply(callResponse(&genai.FunctionCall{Name: "drop_table", Args: map[string]any{}})),
		func(req request) (*genai.GenerateContentResponse, error) {
			frs := functionResponses(req.contents[len(req.contents)-1])
			if len(frs) != 1 || frs[0].Response["error"] == nil {
				return nil, errors.New("expected unknown tool observation")
			}
			return callResponse(&genai.FunctionCall{
				Name: "sql_db_query",
				Args: map[string]any{"query": "DELETE FROM exit_survey"},
			}), nil
		},
		func(req request) (*genai.GenerateContentResponse, error) {
			frs := functionResponses(req.contents[len(req.contents)-1])
			if len(frs) != 1 || frs[0].Response["error"] == nil {
				return nil, errors.New("expected error observation")
			}
			return textResponse("I cannot modify data."), nil
		},
	)
	s := newSession(t, gemini, reg)

	r, err := s.Send(ctx, "Delete every record")
	gt.NoError(t, err)
	gt.Equal(t, r.Text, "I cannot modify data.")
	gt.A(t, r.Invocation.ToolCalls).Length(2)
	gt.S(t, r.Invocation.ToolCalls[0].Error).Contains("tool not found")
	gt.S(t, r.Invocation.ToolCalls[1].Error).Contains("read-only")

	count, err := repo.CountRecords(ctx)
	gt.NoError(t, err)
	gt.Equal(t, count, 3)
}

func loopingSteps(n int) []func(request) (*genai.GenerateContentResponse, error) {
	steps := make([]func(request) (*genai.GenerateContentResponse, error), 0, n)
	for i := 0; i < n; i++ {
		steps = append(steps, reply(callResponse(&genai.FunctionCall{Name: "sql_db_list_tables", Args: map[string]any{}})))
	}
	return steps
}

func TestIterationPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("generate makes one tool-less call", func(t *testing.T) {
		reg := newRegistry(t, &tool.Client{Repo: newRepo(t)}, sqltool.New())
		steps := loopingSteps(2)
		steps = append(steps, func(req request) (*genai.GenerateContentResponse, error) {
			if req.config.ToolConfig == nil || req.config.ToolConfig.FunctionCallingConfig.Mode != genai.FunctionCallingConfigModeNone {
				return nil, errors.New("function calling is not disabled")
			}
			return textResponse("The table is exit_survey."), nil
		})
		gemini := newScripted(steps...)
		s := newSession(t, gemini, reg, func(in *chat.NewInput) { in.MaxIterations = 2 })

		r, err := s.Send(ctx, "List the tables")
		gt.NoError(t, err)
		gt.Equal(t, r.Text, "The table is exit_survey.")
		gt.True(t, r.Invocation.LimitReached)
		gt.Equal(t, r.Invocation.Iterations, 2)
		gt.A(t, gemini.requests).Length(3)
		// the base config is not modified
		gt.Nil(t, gemini.requests[0].config.ToolConfig)
	})

	t.Run("force returns the fixed message", func(t *testing.T) {
		reg := newRegistry(t, &tool.Client{Repo: newRepo(t)}, sqltool.New())
		gemini := newScripted(loopingSteps(3)...)
		s := newSession(t, gemini, reg, func(in *chat.NewInput) {
			in.MaxIterations = 3
			in.IterationPolicy = chat.IterationPolicyForce
		})

		r, err := s.Send(ctx, "List the tables")
		gt.NoError(t, err)
		gt.Equal(t, r.Text, chat.ForceStopMessage)
		gt.True(t, r.Invocation.LimitReached)
		gt.A(t, r.Invocation.ToolCalls).Length(3)
	})

	t.Run("error returns sentinel and rolls back", func(t *testing.T) {
		reg := newRegistry(t, &tool.Client{Repo: newRepo(t)}, sqltool.New())
		gemini := newScripted(loopingSteps(1)...)
		s := newSession(t, gemini, reg, func(in *chat.NewInput) {
			in.MaxIterations = 1
			in.IterationPolicy = chat.IterationPolicyError
		})

		_, err := s.Send(ctx, "List the tables")
		gt.Error(t, err)
		gt.True(t, errors.Is(err, chat.ErrIterationExceeded))
		gt.A(t, s.Contents()).Length(0)
	})

	t.Run("unknown policy", func(t *testing.T) {
		_, err := chat.New(ctx, chat.NewInput{
			Gemini:          newScripted(),
			Registry:        newRegistry(t, nil),
			IterationPolicy: "retry",
		})
		gt.Error(t, err)
	})
}

func TestEmptyAnswer(t *testing.T) {
	ctx := context.Background()
	truncated := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Role: genai.RoleModel}, FinishReason: genai.FinishReasonMaxTokens},
		},
	}

	t.Run("falls through to a tool-less final answer", func(t *testing.T) {
		gemini := newScripted(
			reply(truncated),
			func(req request) (*genai.GenerateContentResponse, error) {
				if req.config.ToolConfig == nil || req.config.ToolConfig.FunctionCallingConfig.Mode != genai.FunctionCallingConfigModeNone {
					return nil, errors.New("function calling is not disabled")
				}
				return textResponse("Most people left for growth."), nil
			},
		)
		s := newSession(t, gemini, newRegistry(t, nil))

		r, err := s.Send(ctx, "Why do people leave?")
		gt.NoError(t, err)
		gt.Equal(t, r.Text, "Most people left for growth.")
		gt.False(t, r.Invocation.LimitReached)
		gt.A(t, gemini.requests).Length(2)
		gt.Equal(t, gemini.requests[1].config.MaxOutputTokens, int32(0))

		// the empty turn is not kept in the transcript
		for _, c := range s.Contents() {
			gt.A(t, c.Parts).Longer(0)
		}
	})

	t.Run("empty final answer is an error", func(t *testing.T) {
		safety := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		}
		gemini := newScripted(reply(truncated), reply(safety))
		s := newSession(t, gemini, newRegistry(t, nil))

		_, err := s.Send(ctx, "Why do people leave?")
		gt.Error(t, err)
		gt.True(t, errors.Is(err, chat.ErrEmptyAnswer))
		gt.A(t, s.Contents()).Length(0)
	})
}

func TestMaxIterationsClamped(t *testing.T) {
	ctx := context.Background()
	gemini := newScripted(reply(textResponse("Hello.")))
	s := newSession(t, gemini, newRegistry(t, nil), func(in *chat.NewInput) { in.MaxIterations = 50 })

	_, err := s.Send(ctx, "Hi")
	gt.NoError(t, err)
	gt.S(t, gemini.requests[0].config.SystemInstruction.Parts[0].Text).Contains("at most 10 decisions")
	gt.Nil(t, gemini.requests[0].config.Tools)
}

func TestModelErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	gemini := newScripted(
		reply(textResponse("Hello.")),
		func(request) (*genai.GenerateContentResponse, error) { return nil, errors.New("quota exceeded") },
	)
	s := newSession(t, gemini, newRegistry(t, nil))

	_, err := s.Send(ctx, "Hi")
	gt.NoError(t, err)
	gt.A(t, s.Contents()).Length(2)

	_, err = s.Send(ctx, "Why do people leave?")
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("quota exceeded")
	gt.A(t, s.Contents()).Length(2)
}

func TestCompressOnTokenLimit(t *testing.T) {
	ctx := context.Background()
	tokenErr := genai.APIError{
		Code:    400,
		Status:  "INVALID_ARGUMENT",
		Message: "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576).",
	}

	gemini := newScripted(
		reply(textResponse("Noted.")),
		func(request) (*genai.GenerateContentResponse, error) { return nil, tokenErr },
		reply(textResponse("Earlier the user shared background on business unit C.")),
		func(req request) (*genai.GenerateContentResponse, error) {
			if !strings.Contains(req.contents[0].Parts[0].Text, "Previous Conversation Summary") {
				return nil, errors.New("history is not compressed")
			}
			return textResponse("business unit C lost the most people."), nil
		},
	)
	s := newSession(t, gemini, newRegistry(t, nil))

	_, err := s.Send(ctx, strings.Repeat("Background on business unit C. ", 100))
	gt.NoError(t, err)

	r, err := s.Send(ctx, "Which unit lost the most people?")
	gt.NoError(t, err)
	gt.Equal(t, r.Text, "business unit C lost the most people.")
	gt.S(t, s.Contents()[0].Parts[0].Text).Contains("Previous Conversation Summary")
}

func TestHistorySaved(t *testing.T) {
	ctx := context.Background()
	st, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	gemini := newScripted(reply(textResponse("Hello.")))
	s := newSession(t, gemini, newRegistry(t, nil), func(in *chat.NewInput) { in.Storage = st })

	_, err = s.Send(ctx, "Hi")
	gt.NoError(t, err)

	ids, err := chat.ListHistories(ctx, st)
	gt.NoError(t, err)
	gt.A(t, ids).Length(1)
	gt.Equal(t, ids[0], s.ID())

	h, err := chat.LoadHistory(ctx, st, s.ID())
	gt.NoError(t, err)
	gt.Equal(t, h.Settings.Model, "gemini-2.5-flash")
	gt.A(t, h.Contents).Length(2)
	gt.Equal(t, h.Contents[1].Parts[0].Text, "Hello.")
}

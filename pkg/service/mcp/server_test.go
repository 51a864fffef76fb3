package mcp_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"github.com/wwetzel/maven-demo-day/pkg/retriever"
	"github.com/wwetzel/maven-demo-day/pkg/service/mcp"
	"github.com/wwetzel/maven-demo-day/pkg/synth"
	"github.com/wwetzel/maven-demo-day/pkg/usecase/chat"
)

type mockSession struct {
	err error
}

func (m *mockSession) Send(ctx context.Context, message string) (*chat.Reply, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &chat.Reply{Text: "212 employees left in 2022."}, nil
}

type mockRetriever struct {
	limit int
}

func (m *mockRetriever) Retrieve(ctx context.Context, question string, limit int) (*retriever.Result, error) {
	m.limit = limit
	docs := make([]*model.ScoredDocument, 0, 3)
	for i := 1; i <= 3; i++ {
		docs = append(docs, &model.ScoredDocument{
			Document: model.Document{ID: model.NewRecordID(i), Content: "Long commute", Metadata: map[string]any{model.ColumnJobTitle: "design engineer"}},
			Score:    1 - float64(i)/10,
		})
	}
	return &retriever.Result{
		Query:     "commute",
		Filter:    &model.Filter{Conditions: []model.Condition{{Field: model.ColumnJobTitle, Op: model.OpEq, Value: "design engineer"}}},
		Limit:     limit,
		Documents: docs,
	}, nil
}

type mockSynthesizer struct{}

func (m *mockSynthesizer) Answer(ctx context.Context, question string, docs []*model.ScoredDocument) (*synth.Answer, error) {
	return &synth.Answer{Text: "Design engineers mostly cite long commutes.", Sources: docs}, nil
}

func connect(t *testing.T, input mcp.ServerInput) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	srv, err := mcp.NewServer(input)
	gt.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: ts.URL}, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func textOf(t *testing.T, result *mcpsdk.CallToolResult) string {
	t.Helper()
	gt.A(t, result.Content).Length(1)
	text, ok := result.Content[0].(*mcpsdk.TextContent)
	gt.True(t, ok)
	return text.Text
}

func TestTools(t *testing.T) {
	ctx := context.Background()
	ret := &mockRetriever{}
	session := connect(t, mcp.ServerInput{
		NewSession:  func(ctx context.Context) (mcp.Session, error) { return &mockSession{}, nil },
		Retriever:   ret,
		Synthesizer: &mockSynthesizer{},
		MaxSources:  2,
	})

	tools, err := session.ListTools(ctx, nil)
	gt.NoError(t, err)
	gt.A(t, tools.Tools).Length(2)

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "ask",
		Arguments: map[string]any{"question": "How many employees left in 2022?"},
	})
	gt.NoError(t, err)
	gt.False(t, result.IsError)
	gt.Equal(t, textOf(t, result), "212 employees left in 2022.")

	result, err = session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "search_survey",
		Arguments: map[string]any{"question": "Why do design engineers leave?", "limit": 5},
	})
	gt.NoError(t, err)
	gt.False(t, result.IsError)
	gt.Equal(t, textOf(t, result), "Design engineers mostly cite long commutes.")
	gt.Equal(t, ret.limit, 5)
	gt.NotNil(t, result.StructuredContent)
}

func TestAskFailure(t *testing.T) {
	ctx := context.Background()
	session := connect(t, mcp.ServerInput{
		NewSession: func(ctx context.Context) (mcp.Session, error) {
			return &mockSession{err: errors.New("quota exceeded")}, nil
		},
	})

	tools, err := session.ListTools(ctx, nil)
	gt.NoError(t, err)
	gt.A(t, tools.Tools).Length(1)

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "ask",
		Arguments: map[string]any{"question": "How many employees left?"},
	})
	gt.NoError(t, err)
	gt.True(t, result.IsError)
	gt.Equal(t, textOf(t, result), chat.ApologyMessage)
}

func TestNewServerRequiresSession(t *testing.T) {
	_, err := mcp.NewServer(mcp.ServerInput{})
	gt.Error(t, err)
}

func TestUnsupportedTransport(t *testing.T) {
	srv, err := mcp.NewServer(mcp.ServerInput{
		NewSession: func(ctx context.Context) (mcp.Session, error) { return &mockSession{}, nil },
	})
	gt.NoError(t, err)
	gt.Error(t, srv.Run(context.Background(), "grpc", ""))
}

package mcp

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"github.com/wwetzel/maven-demo-day/pkg/tool"
	"github.com/wwetzel/maven-demo-day/pkg/usecase/chat"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
)

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Session answers messages of one conversation
type Session interface {
	Send(ctx context.Context, message string) (*chat.Reply, error)
}

// ServerInput contains the collaborators exposed as MCP tools
type ServerInput struct {
	// NewSession creates a router session for each ask call
	NewSession func(ctx context.Context) (Session, error)

	Retriever   tool.Retriever
	Synthesizer tool.Synthesizer

	// MaxSources bounds the sources returned by search_survey
	MaxSources int
	Version    string
}

// Server exposes the assistant through the Model Context Protocol
type Server struct {
	input  ServerInput
	server *mcp.Server
}

type askParams struct {
	Question string `json:"question" jsonschema:"A natural-language question about the employee exit survey"`
}

type searchParams struct {
	Question string `json:"question" jsonschema:"A question about why employees left, optionally constrained by job title, business unit, year, sentiment or NPS"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum number of survey responses to consider"`
}

// Source is one survey response an answer is based on
type Source struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// SearchResult is the structured output of search_survey
type SearchResult struct {
	Answer   string   `json:"answer"`
	Filter   string   `json:"filter"`
	Fallback bool     `json:"filter_fallback"`
	Matched  int      `json:"matched"`
	Sources  []Source `json:"sources"`
}

func NewServer(input ServerInput) (*Server, error) {
	if input.NewSession == nil {
		return nil, goerr.New("session factory is required")
	}
	if input.MaxSources <= 0 {
		input.MaxSources = 10
	}
	if input.Version == "" {
		input.Version = "dev"
	}

	s := &Server{
		input: input,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "exitbot",
			Version: input.Version,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question about the HR exit survey. Counts and breakdowns use SQL, reasons for leaving use semantic search over free-text answers.",
	}, s.ask)

	if input.Retriever != nil && input.Synthesizer != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "search_survey",
			Description: "Search the free-text quit reasons of the exit survey and summarize what matching employees said.",
		}, s.search)
	}

	return s, nil
}

// Run serves over the given transport until ctx is canceled
func (s *Server) Run(ctx context.Context, transport, addr string) error {
	switch transport {
	case TransportStdio, "":
		logging.From(ctx).Info("mcp server started", "transport", TransportStdio)
		if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
			return goerr.Wrap(err, "mcp server stopped")
		}
		return nil

	case TransportHTTP:
		srv := &http.Server{
			Addr:              addr,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		logging.From(ctx).Info("mcp server started", "transport", TransportHTTP, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return goerr.Wrap(err, "mcp server stopped", goerr.V("addr", addr))
		}
		return nil

	default:
		return goerr.New("unsupported transport",
			goerr.V("transport", transport),
			goerr.V("supported", []string{TransportStdio, TransportHTTP}))
	}
}

// Handler returns the streamable HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func errorResult(ctx context.Context, name string, err error) *mcp.CallToolResult {
	logging.From(ctx).Error("mcp tool failed", "tool", name, "error", err)
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: chat.ApologyMessage}},
	}
}

func (s *Server) ask(ctx context.Context, req *mcp.CallToolRequest, params *askParams) (*mcp.CallToolResult, any, error) {
	question := strings.TrimSpace(params.Question)
	if question == "" {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: "question is required"}},
		}, nil, nil
	}

	session, err := s.input.NewSession(ctx)
	if err != nil {
		return errorResult(ctx, "ask", err), nil, nil
	}

	reply, err := session.Send(ctx, question)
	if err != nil {
		return errorResult(ctx, "ask", err), nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: reply.Text}},
	}, nil, nil
}

func (s *Server) search(ctx context.Context, req *mcp.CallToolRequest, params *searchParams) (*mcp.CallToolResult, SearchResult, error) {
	question := strings.TrimSpace(params.Question)
	if question == "" {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: "question is required"}},
		}, SearchResult{}, nil
	}

	result, err := s.input.Retriever.Retrieve(ctx, question, params.Limit)
	if err != nil {
		return errorResult(ctx, "search_survey", err), SearchResult{}, nil
	}

	answer, err := s.input.Synthesizer.Answer(ctx, question, result.Documents)
	if err != nil {
		return errorResult(ctx, "search_survey", err), SearchResult{}, nil
	}

	out := SearchResult{
		Answer:   answer.Text,
		Filter:   result.Filter.String(),
		Fallback: result.Fallback,
		Matched:  len(result.Documents),
		Sources:  toSources(answer.Sources, s.input.MaxSources),
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: answer.Text}},
	}, out, nil
}

func toSources(docs []*model.ScoredDocument, max int) []Source {
	sources := make([]Source, 0, min(len(docs), max))
	for _, d := range docs {
		if len(sources) >= max {
			break
		}
		sources = append(sources, Source{ID: d.ID, Score: d.Score, Content: d.Content, Metadata: d.Metadata})
	}
	return sources
}

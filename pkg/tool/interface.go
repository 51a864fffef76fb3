package tool

import (
	"context"

	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

// Kind is the closed set of tool categories the router can dispatch to
type Kind string

const (
	KindSQL       Kind = "sql"
	KindRetrieval Kind = "retrieval"
	KindCode      Kind = "code"
)

// Kinds lists every accepted tool kind
var Kinds = []Kind{KindSQL, KindRetrieval, KindCode}

// Tool represents an external tool that can be called by the LLM
type Tool interface {
	// Kind returns the category of the tool
	Kind() Kind

	// Flags returns CLI flags for this tool
	// Returns nil if no flags are needed
	Flags() []cli.Flag

	// Init prepares the tool with shared resources. It returns false when
	// the tool is not configured and must stay disabled.
	Init(ctx context.Context, client *Client) (bool, error)

	// Spec returns the tool specification for Gemini function calling
	Spec() *genai.Tool

	// Execute runs the tool with the given function call and returns the response
	Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error)

	// Prompt returns additional information to be added to the system prompt
	// Returns empty string if no additional prompt is needed
	Prompt(ctx context.Context) string
}

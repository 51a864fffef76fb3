package tool

import (
	"context"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
	"google.golang.org/genai"
)

var (
	ErrToolNotFound = goerr.New("tool not found")
	ErrUnknownKind  = goerr.New("unknown tool kind")
)

// Registry manages available tools for the LLM
type Registry struct {
	allTools []Tool
	enabled  []Tool
	tools    map[string]Tool
	names    []string
}

// New creates a new tool registry with the given tools. Tools of a kind
// outside Kinds are rejected.
func New(tools ...Tool) (*Registry, error) {
	for _, t := range tools {
		if !slices.Contains(Kinds, t.Kind()) {
			return nil, goerr.Wrap(ErrUnknownKind, "tool rejected", goerr.V("kind", t.Kind()))
		}
	}

	r := &Registry{
		allTools: tools,
		tools:    make(map[string]Tool),
	}
	// Until Init is called every tool is considered enabled
	for _, t := range tools {
		r.enable(t)
	}
	return r, nil
}

func (r *Registry) enable(t Tool) {
	r.enabled = append(r.enabled, t)
	spec := t.Spec()
	if spec == nil {
		return
	}
	for _, fd := range spec.FunctionDeclarations {
		r.tools[fd.Name] = t
		r.names = append(r.names, fd.Name)
	}
}

// Init initializes every tool and keeps only the ones that report enabled
func (r *Registry) Init(ctx context.Context, client *Client) error {
	r.enabled = nil
	r.names = nil
	r.tools = make(map[string]Tool)

	logger := logging.From(ctx)
	for _, t := range r.allTools {
		ok, err := t.Init(ctx, client)
		if err != nil {
			return goerr.Wrap(err, "failed to initialize tool", goerr.V("kind", t.Kind()))
		}
		if !ok {
			logger.Debug("tool disabled", "kind", t.Kind())
			continue
		}
		r.enable(t)
	}

	logger.Debug("tools enabled", "functions", r.names)
	return nil
}

// EnabledTools returns the function names of enabled tools in registration order
func (r *Registry) EnabledTools() []string {
	return slices.Clone(r.names)
}

// KindOf returns the kind of the tool that owns the function
func (r *Registry) KindOf(name string) (Kind, bool) {
	t, ok := r.tools[name]
	if !ok {
		return "", false
	}
	return t.Kind(), true
}

// Specs returns all tool specifications for Gemini function calling
func (r *Registry) Specs() []*genai.Tool {
	specs := make([]*genai.Tool, 0, len(r.enabled))
	for _, t := range r.enabled {
		if spec := t.Spec(); spec != nil && len(spec.FunctionDeclarations) > 0 {
			specs = append(specs, spec)
		}
	}
	return specs
}

// Prompts returns all tool prompts concatenated
func (r *Registry) Prompts(ctx context.Context) string {
	var prompts []string
	for _, t := range r.enabled {
		if prompt := t.Prompt(ctx); prompt != "" {
			prompts = append(prompts, prompt)
		}
	}
	return strings.Join(prompts, "\n\n")
}

// Flags returns all tool flags combined
func (r *Registry) Flags() []cli.Flag {
	var flags []cli.Flag
	for _, t := range r.allTools {
		if toolFlags := t.Flags(); toolFlags != nil {
			flags = append(flags, toolFlags...)
		}
	}
	return flags
}

// Execute runs the tool with the given function call
func (r *Registry) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	tool, ok := r.tools[fc.Name]
	if !ok {
		return nil, goerr.Wrap(ErrToolNotFound, "tool not found", goerr.V("name", fc.Name))
	}

	logging.From(ctx).Info("calling tool", "name", fc.Name, "kind", tool.Kind(), "args", fc.Args)
	return tool.Execute(ctx, fc)
}

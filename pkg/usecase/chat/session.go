package chat

import (
	"bytes"
	"context"
	_ "embed"
	"slices"
	"sync"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"github.com/wwetzel/maven-demo-day/pkg/tool"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/system.md
var systemPromptRaw string

var systemPromptTmpl = template.Must(template.New("system").Parse(systemPromptRaw))

// Session is one conversation. Sends are serialized; separate sessions share
// nothing mutable.
type Session struct {
	gemini   adapter.Gemini
	registry *tool.Registry
	storage  adapter.Storage

	maxIterations int
	policy        IterationPolicy

	mu      sync.Mutex
	history *model.History
}

// NewInput contains parameters for creating a new chat session
type NewInput struct {
	Gemini   adapter.Gemini
	Registry *tool.Registry

	// Storage saves the transcript after every answer when set
	Storage adapter.Storage

	// Model is recorded in the session settings
	Model string

	// MaxIterations is clamped to [1, MaxIterations]
	MaxIterations int

	// IterationPolicy defaults to IterationPolicyGenerate
	IterationPolicy IterationPolicy
}

// Reply is the final answer to one message
type Reply struct {
	Text       string      `json:"text"`
	Invocation *Invocation `json:"invocation"`
}

func New(ctx context.Context, input NewInput) (*Session, error) {
	if input.Gemini == nil {
		return nil, goerr.New("gemini client is required")
	}
	if input.Registry == nil {
		return nil, goerr.New("tool registry is required")
	}

	policy := input.IterationPolicy
	if policy == "" {
		policy = IterationPolicyGenerate
	}
	if _, err := ParseIterationPolicy(string(policy)); err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Session{
		gemini:        input.Gemini,
		registry:      input.Registry,
		storage:       input.Storage,
		maxIterations: clampIterations(input.MaxIterations),
		policy:        policy,
		history: &model.History{
			ID:        model.NewSessionID(),
			Settings:  model.DefaultSessionSettings(input.Model),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	logging.From(ctx).Debug("chat session created",
		"session_id", s.history.ID,
		"max_iterations", s.maxIterations,
		"policy", s.policy)
	return s, nil
}

func (s *Session) ID() model.SessionID {
	return s.history.ID
}

// Settings returns the model settings of the session
func (s *Session) Settings() model.SessionSettings {
	return s.history.Settings
}

// Contents returns a copy of the transcript
func (s *Session) Contents() []*genai.Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*genai.Content(nil), s.history.Contents...)
}

// Send answers one message. A failed invocation leaves the transcript as it
// was before the message.
func (s *Session) Send(ctx context.Context, message string) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = logging.WithSession(ctx, string(s.history.ID))

	systemPrompt, err := s.systemPrompt(ctx)
	if err != nil {
		return nil, err
	}

	checkpoint := slices.Clone(s.history.Contents)
	s.history.Contents = append(s.history.Contents, genai.NewContentFromText(message, genai.RoleUser))

	text, inv, err := s.route(ctx, message, systemPrompt)
	if err != nil {
		s.history.Contents = checkpoint
		return nil, err
	}

	s.history.UpdatedAt = time.Now()
	if s.storage != nil {
		if err := saveHistory(ctx, s.storage, s.history); err != nil {
			logging.From(ctx).Warn("failed to save transcript", "error", err)
		}
	}

	return &Reply{Text: text, Invocation: inv}, nil
}

func (s *Session) systemPrompt(ctx context.Context) (string, error) {
	var buf bytes.Buffer
	if err := systemPromptTmpl.Execute(&buf, map[string]any{
		"MaxIterations": s.maxIterations,
		"Tools":         s.registry.EnabledTools(),
		"ToolPrompts":   s.registry.Prompts(ctx),
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute system prompt template")
	}
	return buf.String(), nil
}

// generateConfig applies the session settings to a request. MaxTokens is
// recorded with the transcript but not sent, so a long query or script in a
// call is never cut off.
func (s *Session) generateConfig(systemPrompt string) *genai.GenerateContentConfig {
	settings := s.history.Settings
	thinkingBudget := int32(0)

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, ""),
		Temperature:       genai.Ptr(settings.Temperature),
		TopP:              genai.Ptr(settings.TopP),
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}
	// Some Gemini models reject penalty fields, so only set them when used
	if settings.FrequencyPenalty != 0 {
		config.FrequencyPenalty = genai.Ptr(settings.FrequencyPenalty)
	}
	if settings.PresencePenalty != 0 {
		config.PresencePenalty = genai.Ptr(settings.PresencePenalty)
	}
	return config
}

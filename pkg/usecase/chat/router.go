package chat

import (
	"context"
	_ "embed"
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"github.com/wwetzel/maven-demo-day/pkg/tool"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/finalize.md
var finalizePrompt string

// maxObservationBytes bounds the tool result kept in an Invocation record
const maxObservationBytes = 4096

// route runs the decide/act/observe loop for the last user message in the
// transcript and returns the final answer
func (s *Session) route(ctx context.Context, question, systemPrompt string) (string, *Invocation, error) {
	inv := &Invocation{Question: question}
	config := s.generateConfig(systemPrompt)
	if specs := s.registry.Specs(); len(specs) > 0 {
		config.Tools = specs
	}

	for inv.Iterations < s.maxIterations {
		inv.Iterations++
		logging.From(ctx).Debug("router decision", "iteration", inv.Iterations, "max", s.maxIterations)

		resp, err := s.generate(ctx, config)
		if err != nil {
			return "", nil, err
		}

		content := firstContent(resp)
		if content == nil {
			return "", nil, goerr.New("no response content from model", goerr.V("iteration", inv.Iterations))
		}

		calls := functionCalls(content)
		if len(calls) == 0 {
			if text := textOf(content); text != "" {
				s.history.Contents = append(s.history.Contents, content)
				return text, inv, nil
			}

			// Truncated or blocked turn: ask once more without tools
			logging.From(ctx).Warn("model returned neither text nor calls",
				"iteration", inv.Iterations, "finish_reason", finishReason(resp))
			text, err := s.finalize(ctx, config)
			if err != nil {
				return "", nil, err
			}
			return text, inv, nil
		}
		s.history.Contents = append(s.history.Contents, content)

		// Every response of one turn goes back as a single user content
		parts := make([]*genai.Part, 0, len(calls))
		for _, fc := range calls {
			fr := s.execute(ctx, fc, inv)
			parts = append(parts, &genai.Part{FunctionResponse: fr})
		}
		s.history.Contents = append(s.history.Contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
	}

	inv.LimitReached = true
	logging.From(ctx).Warn("iteration limit reached", "max", s.maxIterations, "policy", s.policy)

	switch s.policy {
	case IterationPolicyForce:
		s.history.Contents = append(s.history.Contents, genai.NewContentFromText(ForceStopMessage, genai.RoleModel))
		return ForceStopMessage, inv, nil

	case IterationPolicyError:
		return "", nil, goerr.Wrap(ErrIterationExceeded, "no final answer within iteration limit",
			goerr.V("max_iterations", s.maxIterations),
			goerr.V("tool_calls", len(inv.ToolCalls)))

	default:
		text, err := s.finalize(ctx, config)
		if err != nil {
			return "", nil, err
		}
		return text, inv, nil
	}
}

// finalize makes one extra call without tools so the model answers from what it has
func (s *Session) finalize(ctx context.Context, base *genai.GenerateContentConfig) (string, error) {
	config := *base
	config.ToolConfig = &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeNone},
	}

	s.history.Contents = append(s.history.Contents, genai.NewContentFromText(finalizePrompt, genai.RoleUser))
	resp, err := s.generate(ctx, &config)
	if err != nil {
		return "", err
	}

	content := firstContent(resp)
	if content == nil {
		return "", goerr.Wrap(ErrEmptyAnswer, "no response content on final answer",
			goerr.V("finish_reason", finishReason(resp)))
	}

	text := textOf(content)
	if text == "" {
		return "", goerr.Wrap(ErrEmptyAnswer, "final answer has no text",
			goerr.V("finish_reason", finishReason(resp)))
	}
	s.history.Contents = append(s.history.Contents, content)
	return text, nil
}

// generate calls the model with the transcript, compressing it once when the
// request exceeds the context window
func (s *Session) generate(ctx context.Context, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := s.gemini.GenerateContent(ctx, s.history.Contents, config)
	if err == nil {
		return resp, nil
	}
	sent, allowed, ok := tokenLimit(err)
	if !ok {
		return nil, goerr.Wrap(err, "failed to generate content")
	}

	logging.From(ctx).Warn("token limit exceeded, compressing history",
		"contents", len(s.history.Contents), "tokens", sent, "limit", allowed)
	compressed, cerr := compressHistory(ctx, s.gemini, s.history.Contents)
	if cerr != nil {
		return nil, goerr.Wrap(cerr, "failed to compress history", goerr.V("cause", err.Error()))
	}
	s.history.Contents = compressed

	resp, err = s.gemini.GenerateContent(ctx, s.history.Contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content after compression")
	}
	return resp, nil
}

// execute runs one function call and records it. Failures become error
// observations so the model can correct itself.
func (s *Session) execute(ctx context.Context, fc *genai.FunctionCall, inv *Invocation) *genai.FunctionResponse {
	record := model.ToolCall{Name: fc.Name, Args: fc.Args}
	if kind, ok := s.registry.KindOf(fc.Name); ok {
		record.Kind = string(kind)
	}

	resp, err := s.registry.Execute(ctx, *fc)
	if err != nil {
		logging.From(ctx).Warn("tool execution failed", "name", fc.Name, "error", err)
		resp = tool.ErrorResponse(fc.Name, err)
		record.Error = err.Error()
	} else if resp == nil {
		resp = &genai.FunctionResponse{Name: fc.Name, Response: map[string]any{}}
	}
	resp.ID = fc.ID
	if resp.Name == "" {
		resp.Name = fc.Name
	}

	if msg, ok := resp.Response["error"].(string); ok && record.Error == "" {
		record.Error = msg
	}
	if record.Error == "" {
		record.Result = summarizeObservation(resp.Response)
	}

	inv.ToolCalls = append(inv.ToolCalls, record)
	return resp
}

func summarizeObservation(v map[string]any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	if len(raw) > maxObservationBytes {
		return string(raw[:maxObservationBytes]) + "..."
	}
	return string(raw)
}

func firstContent(resp *genai.GenerateContentResponse) *genai.Content {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	content := resp.Candidates[0].Content
	if content.Role == "" {
		content.Role = genai.RoleModel
	}
	return content
}

func finishReason(resp *genai.GenerateContentResponse) genai.FinishReason {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	return resp.Candidates[0].FinishReason
}

func functionCalls(content *genai.Content) []*genai.FunctionCall {
	var calls []*genai.FunctionCall
	for _, p := range content.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

func textOf(content *genai.Content) string {
	var b strings.Builder
	for _, p := range content.Parts {
		if p.Text != "" && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

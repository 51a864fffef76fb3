package synth

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/answer.md
var answerPromptRaw string

var answerPromptTmpl = template.Must(template.New("answer").Parse(answerPromptRaw))

// Answer is a synthesized response with the documents it was based on
type Answer struct {
	Text    string                  `json:"text"`
	Sources []*model.ScoredDocument `json:"sources"`
}

// Synthesizer writes one answer from every retrieved document at once
type Synthesizer struct {
	gemini adapter.Gemini
	config *genai.GenerateContentConfig
}

type Option func(*Synthesizer)

// WithGenerateConfig overrides sampling settings for the answer call
func WithGenerateConfig(config *genai.GenerateContentConfig) Option {
	return func(s *Synthesizer) {
		s.config = config
	}
}

func New(gemini adapter.Gemini, opts ...Option) *Synthesizer {
	thinkingBudget := int32(0)
	s := &Synthesizer{
		gemini: gemini,
		config: &genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](0),
			ThinkingConfig: &genai.ThinkingConfig{
				IncludeThoughts: false,
				ThinkingBudget:  &thinkingBudget,
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type attribute struct {
	Key   string
	Value any
}

type promptDocument struct {
	ID         string
	Content    string
	Attributes []attribute
}

// Answer calls the model exactly once, even when docs is empty
func (s *Synthesizer) Answer(ctx context.Context, question string, docs []*model.ScoredDocument) (*Answer, error) {
	rendered := make([]promptDocument, 0, len(docs))
	for _, d := range docs {
		keys := make([]string, 0, len(d.Metadata))
		for k := range d.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pd := promptDocument{ID: d.ID, Content: d.Content}
		for _, k := range keys {
			pd.Attributes = append(pd.Attributes, attribute{Key: k, Value: d.Metadata[k]})
		}
		rendered = append(rendered, pd)
	}

	var buf bytes.Buffer
	if err := answerPromptTmpl.Execute(&buf, map[string]any{
		"Question":  question,
		"Documents": rendered,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute answer prompt template")
	}

	logger := logging.From(ctx)
	logger.Debug("synthesizing answer", "question", question, "documents", len(docs))

	contents := []*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)}
	resp, err := s.gemini.GenerateContent(ctx, contents, s.config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate answer", goerr.V("documents", len(docs)))
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, goerr.New("empty answer generated", goerr.V("question", question))
	}

	return &Answer{Text: text, Sources: docs}, nil
}

// FormatSources renders source documents as a short citation list
func FormatSources(docs []*model.ScoredDocument) string {
	var b strings.Builder
	for _, d := range docs {
		fmt.Fprintf(&b, "- [%s] (%.3f) %s\n", d.ID, d.Score, d.Content)
	}
	return b.String()
}

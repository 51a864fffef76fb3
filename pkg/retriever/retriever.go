package retriever

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"sort"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"github.com/wwetzel/maven-demo-day/pkg/utils/genaischema"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
	"google.golang.org/genai"
)

// DefaultLimit is the number of documents returned when neither the caller
// nor the question asks for a specific count
const DefaultLimit = 50

//go:embed prompt/plan.md
var planPromptRaw string

var planPromptTmpl = template.Must(template.New("plan").Parse(planPromptRaw))

// Searcher is the part of the semantic index used for retrieval
type Searcher interface {
	Search(ctx context.Context, vec []float32, filter *model.Filter, k int) ([]*model.ScoredDocument, error)
}

// Embedder converts the semantic query into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is the outcome of one retrieval
type Result struct {
	Query     string                  `json:"query"`
	Filter    *model.Filter           `json:"filter,omitempty"`
	Limit     int                     `json:"limit"`
	Fallback  bool                    `json:"fallback"`
	Documents []*model.ScoredDocument `json:"documents"`
}

type planCondition struct {
	Field  string   `json:"field" jsonschema:"metadata attribute name"`
	Op     string   `json:"op" jsonschema:"comparison operator"`
	Value  string   `json:"value,omitempty" jsonschema:"compared value for scalar operators"`
	Values []string `json:"values,omitempty" jsonschema:"compared values for the in operator"`
}

type plan struct {
	Query  string          `json:"query" jsonschema:"semantic search text about the quit reason"`
	Filter []planCondition `json:"filter" jsonschema:"conditions on metadata attributes, all must hold"`
	Limit  int             `json:"limit" jsonschema:"number of responses requested, 0 if unspecified"`
}

// Retriever turns a natural-language question into a filtered semantic search
type Retriever struct {
	gemini   adapter.Gemini
	embedder Embedder
	index    Searcher
	maxLimit int
	schema   *genai.Schema
}

type Option func(*Retriever)

// WithMaxLimit caps the number of returned documents
func WithMaxLimit(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.maxLimit = n
		}
	}
}

func New(gemini adapter.Gemini, embedder Embedder, index Searcher, opts ...Option) (*Retriever, error) {
	schema, err := planSchema()
	if err != nil {
		return nil, err
	}

	r := &Retriever{
		gemini:   gemini,
		embedder: embedder,
		index:    index,
		maxLimit: DefaultLimit,
		schema:   schema,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func planSchema() (*genai.Schema, error) {
	schema, err := genaischema.For[plan]()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build query plan schema")
	}

	cond := schema.Properties["filter"].Items
	for _, f := range model.MetadataFields {
		cond.Properties["field"].Enum = append(cond.Properties["field"].Enum, f.Name)
	}
	for _, op := range model.Ops {
		cond.Properties["op"].Enum = append(cond.Properties["op"].Enum, string(op))
	}
	return schema, nil
}

// Retrieve extracts a semantic query, a metadata filter and a limit from the
// question, then searches the index. An unusable plan degrades to an
// unfiltered search over the raw question.
func (r *Retriever) Retrieve(ctx context.Context, question string, limit int) (*Result, error) {
	logger := logging.From(ctx)

	if strings.TrimSpace(question) == "" {
		return nil, goerr.New("question is empty")
	}

	p, raw, err := r.plan(ctx, question)
	if err != nil {
		return nil, err
	}

	result := &Result{Query: question}
	filter, perr := buildFilter(p)
	if perr != nil {
		logger.Warn("query plan rejected, searching without filter",
			"error", perr, "question", question, "plan", raw)
		result.Fallback = true
	} else {
		if q := strings.TrimSpace(p.Query); q != "" {
			result.Query = q
		}
		result.Filter = filter
	}

	modelLimit := 0
	if p != nil && !result.Fallback {
		modelLimit = p.Limit
	}
	result.Limit = r.decideLimit(limit, modelLimit)

	vec, err := r.embedder.Embed(ctx, result.Query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query", goerr.V("query", result.Query))
	}

	hits, err := r.index.Search(ctx, vec, result.Filter, result.Limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search index", goerr.V("filter", result.Filter.String()))
	}

	docs := make([]*model.ScoredDocument, 0, len(hits))
	for _, h := range hits {
		if result.Filter.Match(h.Metadata) {
			docs = append(docs, h)
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})
	if len(docs) > result.Limit {
		docs = docs[:result.Limit]
	}
	result.Documents = docs

	logger.Debug("survey retrieval done",
		"query", result.Query,
		"filter", result.Filter.String(),
		"limit", result.Limit,
		"fallback", result.Fallback,
		"hits", len(docs))

	return result, nil
}

// plan asks the model for a structured query. A nil plan with nil error means
// the output could not be parsed.
func (r *Retriever) plan(ctx context.Context, question string) (*plan, string, error) {
	var buf bytes.Buffer
	if err := planPromptTmpl.Execute(&buf, map[string]any{
		"Fields":   model.MetadataFields,
		"Ops":      model.Ops,
		"MaxLimit": r.maxLimit,
		"Question": question,
	}); err != nil {
		return nil, "", goerr.Wrap(err, "failed to execute plan prompt template")
	}

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
		ResponseSchema:   r.schema,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}

	contents := []*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)}
	resp, err := r.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, "", goerr.Wrap(err, "failed to generate query plan")
	}

	raw := resp.Text()
	logging.From(ctx).Debug("query plan generated", "question", question, "plan", raw)

	var p plan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, raw, nil
	}
	return &p, raw, nil
}

func buildFilter(p *plan) (*model.Filter, error) {
	if p == nil {
		return nil, goerr.New("query plan is not valid JSON")
	}

	filter := &model.Filter{}
	for _, c := range p.Filter {
		op := model.Op(strings.ToLower(strings.TrimSpace(c.Op)))
		raw := c.Values
		if op != model.OpIn {
			raw = []string{c.Value}
		}

		cond, err := model.NewCondition(strings.TrimSpace(c.Field), op, raw...)
		if err != nil {
			return nil, err
		}
		filter.Conditions = append(filter.Conditions, cond)
	}

	if filter.IsEmpty() {
		return nil, nil
	}
	return filter, nil
}

func (r *Retriever) decideLimit(caller, fromModel int) int {
	k := DefaultLimit
	switch {
	case caller > 0:
		k = caller
	case fromModel > 0:
		k = fromModel
	}
	if k > r.maxLimit {
		k = r.maxLimit
	}
	return k
}

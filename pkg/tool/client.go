package tool

import (
	"context"

	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"github.com/wwetzel/maven-demo-day/pkg/repository"
	"github.com/wwetzel/maven-demo-day/pkg/retriever"
	"github.com/wwetzel/maven-demo-day/pkg/synth"
)

// Retriever runs a filtered semantic search for a question
type Retriever interface {
	Retrieve(ctx context.Context, question string, limit int) (*retriever.Result, error)
}

// Synthesizer writes an answer from retrieved documents
type Synthesizer interface {
	Answer(ctx context.Context, question string, docs []*model.ScoredDocument) (*synth.Answer, error)
}

// Client contains shared resources that tools can use
type Client struct {
	Repo        repository.Repository
	Gemini      adapter.Gemini
	Retriever   Retriever
	Synthesizer Synthesizer
}

package chat

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/model"
)

const (
	// MaxIterations is the upper bound of model decisions per question
	MaxIterations = 10

	// ForceStopMessage is the answer returned under IterationPolicyForce
	ForceStopMessage = "Agent stopped due to iteration limit."

	// ApologyMessage is shown to the user instead of an answer when an invocation fails
	ApologyMessage = "Sorry, I could not answer that question. Please try again or rephrase it."
)

var (
	ErrIterationExceeded = goerr.New("iteration limit exceeded")
	ErrEmptyAnswer       = goerr.New("model returned an empty answer")
)

// IterationPolicy decides what happens when a question uses up every iteration
type IterationPolicy string

const (
	// IterationPolicyGenerate makes one extra tool-less call to answer from the observations so far
	IterationPolicyGenerate IterationPolicy = "generate"
	// IterationPolicyForce returns ForceStopMessage
	IterationPolicyForce IterationPolicy = "force"
	// IterationPolicyError returns ErrIterationExceeded
	IterationPolicyError IterationPolicy = "error"
)

// IterationPolicies lists every accepted policy
var IterationPolicies = []IterationPolicy{IterationPolicyGenerate, IterationPolicyForce, IterationPolicyError}

// ParseIterationPolicy validates a policy name
func ParseIterationPolicy(s string) (IterationPolicy, error) {
	for _, p := range IterationPolicies {
		if string(p) == s {
			return p, nil
		}
	}
	return "", goerr.New("unknown iteration policy", goerr.V("policy", s))
}

// Invocation records how one question was answered
type Invocation struct {
	Question     string           `json:"question"`
	ToolCalls    []model.ToolCall `json:"tool_calls"`
	Iterations   int              `json:"iterations"`
	LimitReached bool             `json:"limit_reached"`
}

// clampIterations keeps n within [1, MaxIterations]; 0 means the maximum
func clampIterations(n int) int {
	if n <= 0 || n > MaxIterations {
		return MaxIterations
	}
	return n
}

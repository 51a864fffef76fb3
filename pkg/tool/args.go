package tool

import (
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// DecodeArgs converts function call arguments into v through JSON
func DecodeArgs(fc genai.FunctionCall, v any) error {
	paramsJSON, err := json.Marshal(fc.Args)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal function arguments", goerr.V("name", fc.Name))
	}
	if err := json.Unmarshal(paramsJSON, v); err != nil {
		return goerr.Wrap(err, "failed to parse input parameters", goerr.V("name", fc.Name))
	}
	return nil
}

// ErrorResponse builds an observation telling the model what went wrong
func ErrorResponse(name string, err error) *genai.FunctionResponse {
	return &genai.FunctionResponse{
		Name:     name,
		Response: map[string]any{"error": err.Error()},
	}
}

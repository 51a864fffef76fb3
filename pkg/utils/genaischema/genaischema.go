package genaischema

import (
	"slices"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// For infers a Gemini schema from the JSON shape of T
func For[T any]() (*genai.Schema, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to infer JSON schema")
	}
	return Convert(schema)
}

// Convert translates a JSON Schema into genai.Schema
func Convert(schema *jsonschema.Schema) (*genai.Schema, error) {
	if schema == nil {
		return nil, nil
	}

	out := &genai.Schema{
		Description: schema.Description,
		Required:    schema.Required,
	}

	typ := schema.Type
	if typ == "" && len(schema.Types) > 0 {
		// pointer fields are inferred as ["null", T]
		for _, t := range schema.Types {
			if t == "null" {
				out.Nullable = genai.Ptr(true)
				continue
			}
			typ = t
		}
	}

	switch typ {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	case "":
	default:
		return nil, goerr.New("unsupported schema type", goerr.V("type", typ))
	}

	for _, v := range schema.Enum {
		if s, ok := v.(string); ok {
			out.Enum = append(out.Enum, s)
		}
	}
	out.Minimum = schema.Minimum
	out.Maximum = schema.Maximum

	if len(schema.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(schema.Properties))
		names := make([]string, 0, len(schema.Properties))
		for name, prop := range schema.Properties {
			converted, err := Convert(prop)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert property schema", goerr.V("property", name))
			}
			out.Properties[name] = converted
			names = append(names, name)
		}
		slices.Sort(names)
		out.PropertyOrdering = names
	}

	if schema.Items != nil {
		converted, err := Convert(schema.Items)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert items schema")
		}
		out.Items = converted
	}

	return out, nil
}

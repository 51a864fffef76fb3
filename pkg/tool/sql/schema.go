package sql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/repository"
	"github.com/wwetzel/maven-demo-day/pkg/tool"
	"google.golang.org/genai"
)

// executeListTables executes sql_db_list_tables
func (t *Tool) executeListTables(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	tables, err := t.repo.Tables(ctx)
	if err != nil {
		return tool.ErrorResponse(fc.Name, goerr.Wrap(err, "failed to list tables")), nil
	}

	return &genai.FunctionResponse{
		Name:     fc.Name,
		Response: map[string]any{"tables": strings.Join(tables, ", ")},
	}, nil
}

// executeSchema executes sql_db_schema
func (t *Tool) executeSchema(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	var in struct {
		TableNames string `json:"table_names"`
	}
	if err := tool.DecodeArgs(fc, &in); err != nil {
		return nil, err
	}

	var names []string
	for _, name := range strings.Split(in.TableNames, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, goerr.New("table_names is required")
	}

	var sections []string
	for _, name := range names {
		schema, err := t.repo.Schema(ctx, name)
		if err != nil {
			if errors.Is(err, repository.ErrTableNotFound) {
				return tool.ErrorResponse(fc.Name, goerr.Wrap(err, "table does not exist, call "+fnListTables, goerr.V("table", name))), nil
			}
			return tool.ErrorResponse(fc.Name, goerr.Wrap(err, "failed to get table schema", goerr.V("table", name))), nil
		}
		sections = append(sections, formatSchema(schema))
	}

	return &genai.FunctionResponse{
		Name:     fc.Name,
		Response: map[string]any{"schema": strings.Join(sections, "\n\n")},
	}, nil
}

// formatSchema renders a table as a CREATE TABLE statement followed by sample rows
func formatSchema(schema *repository.TableSchema) string {
	var b strings.Builder

	fmt.Fprintf(&b, "CREATE TABLE %s (\n", schema.Name)
	for i, col := range schema.Columns {
		line := fmt.Sprintf("\t%s %s", col.Name, col.Type)
		if col.Required {
			line += " NOT NULL"
		}
		if i < len(schema.Columns)-1 {
			line += ","
		}
		b.WriteString(line + "\n")
	}
	b.WriteString(")")

	if len(schema.SampleRows) > 0 {
		fmt.Fprintf(&b, "\n\n/*\n%d rows from %s table:\n", len(schema.SampleRows), schema.Name)
		names := make([]string, 0, len(schema.Columns))
		for _, col := range schema.Columns {
			names = append(names, col.Name)
		}
		b.WriteString(strings.Join(names, "\t") + "\n")
		for _, row := range schema.SampleRows {
			values := make([]string, 0, len(names))
			for _, name := range names {
				values = append(values, fmt.Sprint(row[name]))
			}
			b.WriteString(strings.Join(values, "\t") + "\n")
		}
		b.WriteString("*/")
	}

	return b.String()
}

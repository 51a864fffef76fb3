package sql

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/adapter"
	"github.com/wwetzel/maven-demo-day/pkg/policy"
	"github.com/wwetzel/maven-demo-day/pkg/repository"
	"github.com/wwetzel/maven-demo-day/pkg/tool"
	"google.golang.org/genai"
)

//go:embed prompt/checker.md
var checkerPromptRaw string

var checkerPromptTmpl = template.Must(template.New("checker").Parse(checkerPromptRaw))

var ErrInvalidResultLimit = goerr.New("sql result row limit must be positive")

const (
	fnQuery        = "sql_db_query"
	fnSchema       = "sql_db_schema"
	fnListTables   = "sql_db_list_tables"
	fnQueryChecker = "sql_db_query_checker"
	fnRunbook      = "sql_db_runbook"
)

// Tool answers quantitative questions by running SQL against the survey store
type Tool struct {
	configFile      string
	runBookDir      string
	policyDir       string
	resultLimitRows int64

	repo     repository.Repository
	gemini   adapter.Gemini
	guard    *policy.Guard
	runBooks map[string]*runBook
	tables   []tableInfo
}

// New creates a new SQL tool
func New() *Tool {
	return &Tool{
		resultLimitRows: 200,
	}
}

func (t *Tool) Kind() tool.Kind { return tool.KindSQL }

// Flags returns CLI flags for the SQL tool
func (t *Tool) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "sql-runbook-dir",
			Usage:       "Directory containing SQL runbook files",
			Sources:     cli.EnvVars("EXITBOT_SQL_RUNBOOK_DIR"),
			Destination: &t.runBookDir,
		},
		&cli.StringFlag{
			Name:        "sql-config-file",
			Usage:       "YAML file describing tables for the system prompt",
			Sources:     cli.EnvVars("EXITBOT_SQL_CONFIG_FILE"),
			Destination: &t.configFile,
		},
		&cli.StringFlag{
			Name:        "sql-policy-dir",
			Usage:       "Directory of Rego files overriding the default SQL guard policy",
			Sources:     cli.EnvVars("EXITBOT_SQL_POLICY_DIR"),
			Destination: &t.policyDir,
		},
		&cli.IntFlag{
			Name:        "sql-result-limit-rows",
			Usage:       "Maximum number of rows returned to the model per query",
			Value:       200,
			Sources:     cli.EnvVars("EXITBOT_SQL_RESULT_LIMIT_ROWS"),
			Destination: &t.resultLimitRows,
		},
	}
}

// Init binds the store and loads the policy, runbooks and table descriptions
func (t *Tool) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if client == nil || client.Repo == nil {
		return false, nil
	}
	if t.resultLimitRows <= 0 {
		return false, goerr.Wrap(ErrInvalidResultLimit, "invalid --sql-result-limit-rows",
			goerr.V("value", t.resultLimitRows))
	}
	t.repo = client.Repo
	t.gemini = client.Gemini

	guard, err := policy.New(ctx, t.policyDir)
	if err != nil {
		return false, goerr.Wrap(err, "failed to load SQL policy")
	}
	t.guard = guard

	if t.runBookDir != "" {
		runBooks, err := loadRunBooks(t.runBookDir)
		if err != nil {
			return false, goerr.Wrap(err, "failed to load runBooks")
		}
		t.runBooks = runBooks
	}

	if t.configFile != "" {
		tables, err := loadTableList(t.configFile)
		if err != nil {
			return false, goerr.Wrap(err, "failed to load table list")
		}
		t.tables = tables
	}

	return true, nil
}

// Prompt returns additional information to be added to the system prompt
func (t *Tool) Prompt(ctx context.Context) string {
	var lines []string

	if t.repo != nil {
		lines = append(lines, fmt.Sprintf("### SQL Database\n\nDialect: %s. The exit survey table is `%s`.", t.repo.Dialect(), repository.SurveyTable))
	}

	if len(t.tables) > 0 {
		lines = append(lines, "", "### SQL Tables", "")
		for _, table := range t.tables {
			line := fmt.Sprintf("- **%s**", table.Name)
			if table.Description != "" {
				line += fmt.Sprintf(": %s", table.Description)
			}
			lines = append(lines, line)
		}
	}

	if len(t.runBooks) > 0 {
		ids := make([]string, 0, len(t.runBooks))
		for id := range t.runBooks {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		lines = append(lines, "", "### SQL RunBooks", "")
		for _, id := range ids {
			rb := t.runBooks[id]
			line := fmt.Sprintf("- **ID**: `%s`", rb.ID)
			if rb.Title != "" {
				line += fmt.Sprintf(", **Title**: %s", rb.Title)
			}
			if rb.Description != "" {
				line += fmt.Sprintf(", **Description**: %s", rb.Description)
			}
			lines = append(lines, line)
		}
	}

	return strings.Join(lines, "\n")
}

func stringParam(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: description}
}

// Spec returns the tool specification for Gemini function calling
func (t *Tool) Spec() *genai.Tool {
	declarations := []*genai.FunctionDeclaration{
		{
			Name:        fnQuery,
			Description: fmt.Sprintf("Execute a read-only SQL query against the survey database and get back the result rows (at most %d). If the query is not correct, an error message is returned. If an error is returned, rewrite the query, check it, and try again.", t.resultLimitRows),
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{"query": stringParam("A detailed and correct SQL query")},
				Required:   []string{"query"},
			},
		},
		{
			Name:        fnSchema,
			Description: "Get the schema and sample rows for the specified tables. Call " + fnListTables + " first to be sure the tables exist.",
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{"table_names": stringParam("A comma-separated list of table names, e.g. exit_survey")},
				Required:   []string{"table_names"},
			},
		},
		{
			Name:        fnListTables,
			Description: "List the tables in the survey database",
			Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}},
		},
		{
			Name:        fnQueryChecker,
			Description: "Double check a SQL query for correctness before executing it with " + fnQuery + ". Returns the checked query and whether it is valid.",
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{"query": stringParam("The SQL query to check")},
				Required:   []string{"query"},
			},
		},
	}

	if len(t.runBooks) > 0 {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        fnRunbook,
			Description: "Get a curated SQL query from a runBook by ID",
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{"runbook_id": stringParam("RunBook ID to retrieve")},
				Required:   []string{"runbook_id"},
			},
		})
	}

	return &genai.Tool{FunctionDeclarations: declarations}
}

// Execute runs the tool with the given function call
func (t *Tool) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	switch fc.Name {
	case fnQuery:
		return t.executeQuery(ctx, fc)
	case fnSchema:
		return t.executeSchema(ctx, fc)
	case fnListTables:
		return t.executeListTables(ctx, fc)
	case fnQueryChecker:
		return t.executeQueryChecker(ctx, fc)
	case fnRunbook:
		return t.executeRunbook(ctx, fc)
	default:
		return nil, goerr.New("unknown function", goerr.V("name", fc.Name))
	}
}

// validate runs the policy guard and the store's own prepare step
func (t *Tool) validate(ctx context.Context, query string) error {
	tables, err := t.repo.Tables(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to list tables")
	}
	if err := t.guard.Check(ctx, query, tables); err != nil {
		return err
	}
	if err := t.repo.Check(ctx, query); err != nil {
		return err
	}
	return nil
}

func (t *Tool) renderChecker(query string, schema *repository.TableSchema) (string, error) {
	var buf bytes.Buffer
	if err := checkerPromptTmpl.Execute(&buf, map[string]any{
		"Query":   query,
		"Dialect": t.repo.Dialect(),
		"Table":   schema.Name,
		"Columns": schema.Columns,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute checker prompt template")
	}
	return buf.String(), nil
}

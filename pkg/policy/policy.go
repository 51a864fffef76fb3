package policy

import (
	"context"
	_ "embed"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
)

// Query is the rule set evaluated against every SQL statement
const Query = "data.exitbot.sql.deny"

var ErrPolicyViolation = goerr.New("SQL statement violates policy")

//go:embed default.rego
var defaultPolicy string

// Input is the document passed to the policy as `input`
type Input struct {
	Statement     string   `json:"statement"`
	Kind          string   `json:"kind"`
	Tables        []string `json:"tables"`
	Statements    int      `json:"statements"`
	AllowedTables []string `json:"allowed_tables"`
}

// Guard evaluates SQL statements against a Rego policy
type Guard struct {
	query *rego.PreparedEvalQuery
}

type printHook struct{}

func (h *printHook) Print(ctx print.Context, message string) error {
	logging.From(ctx.Context).Debug("rego print", "message", message)
	return nil
}

// New loads every .rego file in dir, or the embedded default policy when dir is empty
func New(ctx context.Context, dir string) (*Guard, error) {
	var modules []func(*rego.Rego)

	if dir != "" {
		files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to glob policy files")
		}
		if len(files) == 0 {
			return nil, goerr.New("no policy file found", goerr.V("dir", dir))
		}
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
			}
			modules = append(modules, rego.Module(file, string(data)))
		}
	} else {
		modules = append(modules, rego.Module("default.rego", defaultPolicy))
	}

	options := append([]func(*rego.Rego){rego.Query(Query), rego.EnablePrintStatements(true)}, modules...)
	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare policy query", goerr.V("query", Query))
	}

	return &Guard{query: &prepared}, nil
}

// Evaluate returns the deny messages for the statement. No message means allowed.
func (g *Guard) Evaluate(ctx context.Context, sql string, allowedTables []string) ([]string, error) {
	stmt := Analyze(sql)
	input := Input{
		Statement:     sql,
		Kind:          stmt.Kind,
		Tables:        stmt.Tables,
		Statements:    stmt.Statements,
		AllowedTables: allowedTables,
	}
	if input.AllowedTables == nil {
		input.AllowedTables = []string{}
	}

	rs, err := g.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&printHook{}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate SQL policy")
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	values, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, goerr.New("invalid policy result: deny is not a set", goerr.V("value", rs[0].Expressions[0].Value))
	}

	var reasons []string
	for _, v := range values {
		if s, ok := v.(string); ok {
			reasons = append(reasons, s)
		}
	}
	return reasons, nil
}

// Check returns ErrPolicyViolation with every deny message when the statement is rejected
func (g *Guard) Check(ctx context.Context, sql string, allowedTables []string) error {
	reasons, err := g.Evaluate(ctx, sql, allowedTables)
	if err != nil {
		return err
	}
	if len(reasons) > 0 {
		return goerr.Wrap(ErrPolicyViolation, strings.Join(reasons, "; "),
			goerr.V("statement", sql))
	}
	return nil
}

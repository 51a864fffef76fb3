package policy_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/wwetzel/maven-demo-day/pkg/policy"
)

func TestAnalyze(t *testing.T) {
	testCases := []struct {
		name       string
		sql        string
		kind       string
		tables     []string
		statements int
	}{
		{
			name:       "simple count",
			sql:        "SELECT COUNT(*) FROM exit_survey WHERE business_unit = 'business unit A' AND term_year = 2023",
			kind:       "select",
			tables:     []string{"exit_survey"},
			statements: 1,
		},
		{
			name:       "trailing semicolon",
			sql:        "select avg(nps) from exit_survey;",
			kind:       "select",
			tables:     []string{"exit_survey"},
			statements: 1,
		},
		{
			name:       "cte is not a table",
			sql:        "WITH neg AS (SELECT nps FROM exit_survey WHERE main_quit_reason_text_sentiment = 'Negative') SELECT AVG(nps) FROM neg",
			kind:       "with",
			tables:     []string{"exit_survey"},
			statements: 1,
		},
		{
			name:       "join and qualified name",
			sql:        "SELECT * FROM `proj.hr.exit_survey` a JOIN hr.payroll p ON a.id = p.id",
			kind:       "select",
			tables:     []string{"proj.hr.exit_survey", "hr.payroll"},
			statements: 1,
		},
		{
			name:       "keywords in strings and comments are ignored",
			sql:        "-- FROM secrets\nSELECT id FROM exit_survey WHERE main_quit_reason_text = 'moved away from payroll; sad'",
			kind:       "select",
			tables:     []string{"exit_survey"},
			statements: 1,
		},
		{
			name:       "extract is not a table reference",
			sql:        "SELECT EXTRACT(YEAR FROM created_at) FROM exit_survey",
			kind:       "select",
			tables:     []string{"exit_survey"},
			statements: 1,
		},
		{
			name:       "multiple statements",
			sql:        "SELECT 1 FROM exit_survey; DROP TABLE exit_survey",
			kind:       "select",
			tables:     []string{"exit_survey"},
			statements: 2,
		},
		{
			name:       "delete",
			sql:        "DELETE FROM exit_survey",
			kind:       "delete",
			tables:     []string{"exit_survey"},
			statements: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stmt := policy.Analyze(tc.sql)
			gt.Equal(t, stmt.Kind, tc.kind)
			gt.Equal(t, stmt.Tables, tc.tables)
			gt.Equal(t, stmt.Statements, tc.statements)
		})
	}
}

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	guard, err := policy.New(ctx, "")
	gt.NoError(t, err)

	allowed := []string{"exit_survey"}

	t.Run("select on allowed table", func(t *testing.T) {
		gt.NoError(t, guard.Check(ctx, "SELECT COUNT(*) FROM exit_survey WHERE term_year = 2023", allowed))
	})

	t.Run("qualified allowed table", func(t *testing.T) {
		gt.NoError(t, guard.Check(ctx, "SELECT COUNT(*) FROM main.exit_survey", allowed))
	})

	t.Run("non-select is denied", func(t *testing.T) {
		err := guard.Check(ctx, "DELETE FROM exit_survey", allowed)
		gt.True(t, errors.Is(err, policy.ErrPolicyViolation))
		gt.S(t, err.Error()).Contains("read-only")
	})

	t.Run("unknown table is denied", func(t *testing.T) {
		reasons, err := guard.Evaluate(ctx, "SELECT * FROM employees", allowed)
		gt.NoError(t, err)
		gt.A(t, reasons).Length(1)
		gt.S(t, reasons[0]).Contains("employees")
	})

	t.Run("multiple statements are denied", func(t *testing.T) {
		err := guard.Check(ctx, "SELECT 1 FROM exit_survey; SELECT 2 FROM exit_survey", allowed)
		gt.True(t, errors.Is(err, policy.ErrPolicyViolation))
	})
}

func TestCustomPolicyDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rule := `package exitbot.sql

deny contains "gender breakdowns are not allowed" if {
	contains(lower(input.statement), "gender")
}
`
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "custom.rego"), []byte(rule), 0644))

	guard, err := policy.New(ctx, dir)
	gt.NoError(t, err)

	gt.NoError(t, guard.Check(ctx, "DELETE FROM anything", nil))
	err = guard.Check(ctx, "SELECT Gender, COUNT(*) FROM exit_survey GROUP BY Gender", nil)
	gt.True(t, errors.Is(err, policy.ErrPolicyViolation))
}

func TestEmptyPolicyDir(t *testing.T) {
	_, err := policy.New(context.Background(), t.TempDir())
	gt.Error(t, err)
}

package policy

import (
	"regexp"
	"slices"
	"strings"
)

// Statement is a lexical summary of a SQL text. It is not a parser: the
// store's own prepare or dry-run step remains the authority on validity.
type Statement struct {
	Kind       string   `json:"kind"`
	Tables     []string `json:"tables"`
	Statements int      `json:"statements"`
}

var (
	reLineComment  = regexp.MustCompile(`--[^\n]*`)
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reString       = regexp.MustCompile(`'(?:[^']|'')*'`)
	reFromArgFunc  = regexp.MustCompile(`(?i)\b(?:EXTRACT|TRIM|SUBSTRING|POSITION)\s*\([^()]*\)`)
	reTableRef     = regexp.MustCompile("(?i)\\b(?:FROM|JOIN)\\s+([`\"\\[]?[\\w\\-.]+[`\"\\]]?(?:\\.[`\"\\[]?[\\w\\-]+[`\"\\]]?)*)")
	reCTE          = regexp.MustCompile(`(?i)\b(\w+)\s+AS\s*\(`)
	reFirstWord    = regexp.MustCompile(`^[(\s]*([A-Za-z]+)`)
)

// Analyze extracts the statement kind, referenced tables and statement count
func Analyze(sql string) Statement {
	text := reBlockComment.ReplaceAllString(sql, " ")
	text = reLineComment.ReplaceAllString(text, " ")
	text = reString.ReplaceAllString(text, "''")

	var stmt Statement
	for _, part := range strings.Split(text, ";") {
		if strings.TrimSpace(part) != "" {
			stmt.Statements++
		}
	}

	if m := reFirstWord.FindStringSubmatch(text); m != nil {
		stmt.Kind = strings.ToLower(m[1])
	}

	body := reFromArgFunc.ReplaceAllString(text, "")

	ctes := map[string]bool{}
	for _, m := range reCTE.FindAllStringSubmatch(body, -1) {
		ctes[strings.ToLower(m[1])] = true
	}

	stmt.Tables = []string{}
	for _, m := range reTableRef.FindAllStringSubmatch(body, -1) {
		name := strings.NewReplacer("`", "", `"`, "", "[", "", "]", "").Replace(m[1])
		if name == "" || ctes[strings.ToLower(name)] {
			continue
		}
		if !slices.Contains(stmt.Tables, name) {
			stmt.Tables = append(stmt.Tables, name)
		}
	}

	return stmt
}

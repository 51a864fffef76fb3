package sql

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// runBook is a curated SQL query with metadata
type runBook struct {
	ID          string
	Title       string
	Description string
	FilePath    string
	SQL         string
}

// loadRunBooks scans a directory and loads all SQL files as runBooks
func loadRunBooks(dir string) (map[string]*runBook, error) {
	if dir == "" {
		return nil, nil
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, goerr.Wrap(err, "runbook directory does not exist", goerr.V("dir", dir))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read runbook directory", goerr.V("dir", dir))
	}

	runBooks := make(map[string]*runBook)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(filePath)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read runbook file", goerr.V("file", filePath))
		}

		title, description, sql := parseRunBook(string(content))
		id := strings.TrimSuffix(entry.Name(), ".sql")

		runBooks[id] = &runBook{
			ID:          id,
			Title:       title,
			Description: description,
			FilePath:    filePath,
			SQL:         sql,
		}
	}

	return runBooks, nil
}

// parseRunBook extracts the title and description headers and the SQL body
func parseRunBook(content string) (title, description, sql string) {
	var sqlLines []string
	inHeader := true

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if v, ok := headerValue(trimmed, "title"); ok {
			title = v
			continue
		}
		if v, ok := headerValue(trimmed, "description"); ok {
			description = v
			continue
		}

		// other leading comments are not part of the query
		if inHeader && (trimmed == "" || strings.HasPrefix(trimmed, "--")) {
			continue
		}
		inHeader = false
		sqlLines = append(sqlLines, line)
	}

	sql = strings.TrimSpace(strings.Join(sqlLines, "\n"))
	return
}

func headerValue(line, key string) (string, bool) {
	for _, prefix := range []string{"-- " + key + ":", "--" + key + ":"} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
		}
	}
	return "", false
}

// tableInfo describes a queryable table for the system prompt
type tableInfo struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type tableConfig struct {
	Tables []tableInfo `yaml:"tables"`
}

// loadTableList loads table descriptions from a YAML file
func loadTableList(filePath string) ([]tableInfo, error) {
	if filePath == "" {
		return nil, nil
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read table list file", goerr.V("file", filePath))
	}

	var config tableConfig
	if err := yaml.Unmarshal(content, &config); err != nil {
		return nil, goerr.Wrap(err, "failed to parse YAML config", goerr.V("file", filePath))
	}

	for _, t := range config.Tables {
		if t.Name == "" {
			return nil, goerr.New("table name is required", goerr.V("file", filePath))
		}
	}

	return config.Tables, nil
}

package python

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"github.com/wwetzel/maven-demo-day/pkg/repository"
	"github.com/wwetzel/maven-demo-day/pkg/sandbox"
	"github.com/wwetzel/maven-demo-day/pkg/tool"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
	"google.golang.org/genai"
)

const (
	fnREPL = "python_repl"

	// DatasetFile is the name of the exported survey table inside the sandbox
	DatasetFile = "survey.csv"

	BackendProcess   = "process"
	BackendContainer = "container"
)

// Tool runs model-written Python for derived statistics
type Tool struct {
	backend string
	python  string
	image   string
	timeout time.Duration
	dataset bool

	sandbox sandbox.Sandbox
	staged  bool
}

type Option func(*Tool)

// WithSandbox uses sb instead of creating one from flags
func WithSandbox(sb sandbox.Sandbox) Option {
	return func(t *Tool) {
		t.sandbox = sb
	}
}

func New(opts ...Option) *Tool {
	t := &Tool{
		backend: BackendProcess,
		python:  "python3",
		image:   sandbox.DefaultImage,
		timeout: sandbox.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Kind() tool.Kind { return tool.KindCode }

func (t *Tool) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "python-backend",
			Usage:       "Code execution backend (process, container, none)",
			Value:       BackendProcess,
			Sources:     cli.EnvVars("EXITBOT_PYTHON_BACKEND"),
			Destination: &t.backend,
		},
		&cli.StringFlag{
			Name:        "python-bin",
			Usage:       "Python interpreter for the process backend",
			Value:       "python3",
			Sources:     cli.EnvVars("EXITBOT_PYTHON_BIN"),
			Destination: &t.python,
		},
		&cli.StringFlag{
			Name:        "python-image",
			Usage:       "Docker image for the container backend",
			Value:       sandbox.DefaultImage,
			Sources:     cli.EnvVars("EXITBOT_PYTHON_IMAGE"),
			Destination: &t.image,
		},
		&cli.DurationFlag{
			Name:        "python-timeout",
			Usage:       "Timeout of one code execution",
			Value:       sandbox.DefaultTimeout,
			Sources:     cli.EnvVars("EXITBOT_PYTHON_TIMEOUT"),
			Destination: &t.timeout,
		},
		&cli.BoolFlag{
			Name:        "python-dataset",
			Usage:       "Export the survey table as " + DatasetFile + " into the working directory (process backend only)",
			Sources:     cli.EnvVars("EXITBOT_PYTHON_DATASET"),
			Destination: &t.dataset,
		},
	}
}

func (t *Tool) Init(ctx context.Context, client *tool.Client) (bool, error) {
	logger := logging.From(ctx)

	if t.sandbox == nil {
		switch t.backend {
		case "none", "":
			return false, nil
		case BackendProcess:
			sb, err := sandbox.NewProcess(t.python)
			if err != nil {
				logger.Warn("python tool disabled", "error", err)
				return false, nil
			}
			t.sandbox = sb
		case BackendContainer:
			sb, err := sandbox.NewContainer(sandbox.WithImage(t.image))
			if err != nil {
				logger.Warn("python tool disabled", "error", err)
				return false, nil
			}
			t.sandbox = sb
		default:
			return false, goerr.New("unknown python backend", goerr.V("backend", t.backend))
		}
	}

	if t.dataset && client != nil && client.Repo != nil {
		stager, ok := t.sandbox.(sandbox.Stager)
		if !ok {
			logger.Warn("dataset export is not supported by the python backend", "backend", t.backend)
			return true, nil
		}
		data, err := exportCSV(ctx, client.Repo)
		if err != nil {
			return false, goerr.Wrap(err, "failed to export survey dataset")
		}
		if err := stager.Stage(DatasetFile, data); err != nil {
			return false, err
		}
		t.staged = true
	}

	return true, nil
}

// exportCSV renders every survey record with a header row
func exportCSV(ctx context.Context, repo repository.Repository) ([]byte, error) {
	records, err := repo.ListRecords(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(model.SurveyColumns); err != nil {
		return nil, goerr.Wrap(err, "failed to write CSV header")
	}
	for _, r := range records {
		row := make([]string, 0, len(model.SurveyColumns))
		for _, v := range r.Values() {
			row = append(row, fmt.Sprint(v))
		}
		if err := w.Write(row); err != nil {
			return nil, goerr.Wrap(err, "failed to write CSV row", goerr.V("id", r.ID))
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, goerr.Wrap(err, "failed to flush CSV")
	}
	return buf.Bytes(), nil
}

func (t *Tool) Prompt(ctx context.Context) string {
	lines := []string{
		"### Python",
		"",
		fmt.Sprintf("`%s` runs a Python script without network access and returns its stdout. Each call starts fresh and is limited to %s. Print every value you need.", fnREPL, t.timeout),
	}
	if t.staged {
		lines = append(lines, fmt.Sprintf("The survey table is available as `%s` in the working directory with columns: %s.", DatasetFile, strings.Join(model.SurveyColumns, ", ")))
	} else {
		lines = append(lines, "Pass data obtained from other tools into the script as literals.")
	}
	return strings.Join(lines, "\n")
}

func (t *Tool) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        fnREPL,
				Description: "A Python shell. Use this to compute derived statistics (averages, ratios, percentiles) over rows you already retrieved. Input must be a valid Python script. Print the values you want to see with print(...).",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"code": {
							Type:        genai.TypeString,
							Description: "Python source code to execute",
						},
					},
					Required: []string{"code"},
				},
			},
		},
	}
}

func (t *Tool) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	if fc.Name != fnREPL {
		return nil, goerr.New("unknown function", goerr.V("name", fc.Name))
	}

	var in struct {
		Code string `json:"code"`
	}
	if err := tool.DecodeArgs(fc, &in); err != nil {
		return nil, err
	}
	code := sanitizeCode(in.Code)
	if code == "" {
		return nil, goerr.New("code is required")
	}

	result, err := t.sandbox.Execute(ctx, code, t.timeout)
	if err != nil {
		return tool.ErrorResponse(fc.Name, goerr.Wrap(err, "code execution failed")), nil
	}

	response := map[string]any{
		"stdout":    result.Stdout,
		"exit_code": result.ExitCode,
	}
	if result.Stderr != "" {
		response["stderr"] = result.Stderr
	}
	if result.TimedOut {
		response["error"] = fmt.Sprintf("execution timed out after %s", t.timeout)
	}

	logging.From(ctx).Debug("python executed", "exit_code", result.ExitCode, "timed_out", result.TimedOut)

	return &genai.FunctionResponse{Name: fc.Name, Response: response}, nil
}

// sanitizeCode strips surrounding whitespace and markdown code fences
func sanitizeCode(code string) string {
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "```") {
		code = strings.TrimPrefix(code, "```python")
		code = strings.TrimPrefix(code, "```py")
		code = strings.TrimPrefix(code, "```")
		code = strings.TrimSuffix(strings.TrimSpace(code), "```")
	}
	return strings.TrimSpace(code)
}

package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
)

// Process runs code with a local interpreter in a fresh temporary directory
type Process struct {
	python string

	mu    sync.RWMutex
	files map[string][]byte
}

func NewProcess(python string) (*Process, error) {
	if python == "" {
		python = "python3"
	}
	path, err := exec.LookPath(python)
	if err != nil {
		return nil, goerr.Wrap(err, "python interpreter not found", goerr.V("python", python))
	}
	return &Process{
		python: path,
		files:  make(map[string][]byte),
	}, nil
}

// Stage registers a file copied into the working directory of each execution
func (p *Process) Stage(name string, data []byte) error {
	if name != filepath.Base(name) {
		return goerr.New("staged file name must not contain a directory", goerr.V("name", name))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[name] = data
	return nil
}

func (p *Process) Execute(ctx context.Context, code string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	workDir, err := os.MkdirTemp("", "exitbot-python-")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create sandbox workdir")
	}
	defer os.RemoveAll(workDir)

	p.mu.RLock()
	for name, data := range p.files {
		if err := os.WriteFile(filepath.Join(workDir, name), data, 0600); err != nil {
			p.mu.RUnlock()
			return nil, goerr.Wrap(err, "failed to stage file", goerr.V("name", name))
		}
	}
	p.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.python, "-c", code)
	cmd.Dir = workDir
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + workDir,
		"LANG=C.UTF-8",
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONIOENCODING=utf-8",
	}

	logging.From(ctx).Debug("running python in process sandbox", "workdir", workDir, "timeout", timeout)
	return run(ctx, cmd, timeout)
}

func (p *Process) Close() error { return nil }

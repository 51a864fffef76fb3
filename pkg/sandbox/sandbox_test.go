package sandbox_test

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/wwetzel/maven-demo-day/pkg/sandbox"
)

func newProcess(t *testing.T) *sandbox.Process {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 is not available")
	}
	p, err := sandbox.NewProcess("python3")
	gt.NoError(t, err)
	return p
}

func TestProcessExecute(t *testing.T) {
	p := newProcess(t)
	ctx := context.Background()

	t.Run("stdout", func(t *testing.T) {
		result, err := p.Execute(ctx, "print(sum([3, 4, 5]) / 3)", time.Second*5)
		gt.NoError(t, err)
		gt.Equal(t, result.ExitCode, 0)
		gt.Equal(t, strings.TrimSpace(result.Stdout), "4.0")
		gt.False(t, result.TimedOut)
	})

	t.Run("exception is reported, not returned", func(t *testing.T) {
		result, err := p.Execute(ctx, "raise ValueError('boom')", time.Second*5)
		gt.NoError(t, err)
		gt.Equal(t, result.ExitCode, 1)
		gt.S(t, result.Stderr).Contains("ValueError: boom")
	})

	t.Run("timeout", func(t *testing.T) {
		result, err := p.Execute(ctx, "import time\ntime.sleep(10)", time.Millisecond*300)
		gt.NoError(t, err)
		gt.True(t, result.TimedOut)
	})

	t.Run("timeout kills spawned children", func(t *testing.T) {
		if _, err := exec.LookPath("sleep"); err != nil {
			t.Skip("sleep is not available")
		}
		code := "import subprocess, time\nsubprocess.Popen(['sleep', '20'])\ntime.sleep(60)"

		start := time.Now()
		result, err := p.Execute(ctx, code, time.Second)
		gt.NoError(t, err)
		gt.True(t, result.TimedOut)
		gt.True(t, time.Since(start) < 5*time.Second)
	})

	t.Run("leftover child does not block the result", func(t *testing.T) {
		if _, err := exec.LookPath("sleep"); err != nil {
			t.Skip("sleep is not available")
		}
		code := "import subprocess\nsubprocess.Popen(['sleep', '20'])\nprint('done')"

		start := time.Now()
		result, err := p.Execute(ctx, code, time.Second*10)
		gt.NoError(t, err)
		gt.False(t, result.TimedOut)
		gt.Equal(t, result.ExitCode, 0)
		gt.Equal(t, strings.TrimSpace(result.Stdout), "done")
		gt.True(t, time.Since(start) < 5*time.Second)
	})

	t.Run("output is truncated", func(t *testing.T) {
		result, err := p.Execute(ctx, "print('x' * 100000)", time.Second*5)
		gt.NoError(t, err)
		gt.S(t, result.Stdout).Contains("(output truncated)")
		gt.True(t, len(result.Stdout) < 17*1024)
	})
}

func TestProcessStage(t *testing.T) {
	p := newProcess(t)

	gt.NoError(t, p.Stage("survey.csv", []byte("id,nps\nrec-00001,3\nrec-00002,5\n")))
	gt.Error(t, p.Stage("../escape.csv", nil))

	code := `import csv
rows = list(csv.DictReader(open("survey.csv")))
print(sum(int(r["nps"]) for r in rows) / len(rows))`
	result, err := p.Execute(context.Background(), code, time.Second*5)
	gt.NoError(t, err)
	gt.Equal(t, strings.TrimSpace(result.Stdout), "4.0")
}

func TestContainerArgs(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker is not available")
	}
	c, err := sandbox.NewContainer(sandbox.WithImage("python:3.11-alpine"))
	gt.NoError(t, err)

	args := strings.Join(c.Args("job"), " ")
	gt.S(t, args).Contains("--network none")
	gt.S(t, args).Contains("--memory 256m")
	gt.S(t, args).Contains("python:3.11-alpine python -")
}

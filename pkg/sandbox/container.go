package sandbox

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/utils/logging"
)

const DefaultImage = "python:3.12-slim"

// Container runs code in a throwaway docker container without network access
type Container struct {
	docker string
	image  string
	memory string
}

type ContainerOption func(*Container)

func WithImage(image string) ContainerOption {
	return func(c *Container) {
		if image != "" {
			c.image = image
		}
	}
}

func WithMemory(memory string) ContainerOption {
	return func(c *Container) {
		if memory != "" {
			c.memory = memory
		}
	}
}

func NewContainer(opts ...ContainerOption) (*Container, error) {
	docker, err := exec.LookPath("docker")
	if err != nil {
		return nil, goerr.Wrap(err, "docker command not found")
	}

	c := &Container{
		docker: docker,
		image:  DefaultImage,
		memory: "256m",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Args returns the docker arguments for a container with the given name
func (c *Container) Args(name string) []string {
	return []string{
		"run", "--rm", "-i",
		"--name", name,
		"--network", "none",
		"--memory", c.memory,
		"--read-only",
		c.image, "python", "-",
	}
}

func (c *Container) Execute(ctx context.Context, code string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	name := "exitbot-" + uuid.NewString()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.docker, c.Args(name)...)
	cmd.Stdin = strings.NewReader(code)

	logger := logging.From(ctx)
	logger.Debug("running python in container sandbox", "image", c.image, "name", name, "timeout", timeout)

	result, err := run(runCtx, cmd, timeout)
	if result != nil && result.TimedOut {
		// killing the docker client leaves the container running
		if out, kerr := exec.Command(c.docker, "kill", name).CombinedOutput(); kerr != nil {
			logger.Warn("failed to kill timed out container", "name", name, "error", kerr, "output", string(out))
		}
	}
	return result, err
}

func (c *Container) Close() error { return nil }

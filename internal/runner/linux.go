package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/osbuild/disk-stager/pkg/slogger"
	"github.com/osbuild/disk-stager/pkg/slogger/noop"
)

// Linux runs commands with os/exec on the local host.
type Linux struct {
	Logger slogger.SimpleLogger
}

func NewLinux(logger slogger.SimpleLogger) *Linux {
	if logger == nil {
		logger = noop.NewNoopLogger()
	}
	return &Linux{Logger: logger}
}

func (r *Linux) String() string {
	return "linux"
}

func (r *Linux) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Logger.Info("running command", "command", CommandLine(name, args...))
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return stdout.Bytes(), fmt.Errorf("running %s failed: %w", name, err)
		}
		return stdout.Bytes(), fmt.Errorf("running %s failed: %w: %s", name, err, msg)
	}

	return stdout.Bytes(), nil
}

// Package runner executes the host tools the disk providers are built on.
package runner

import (
	"context"
	"strings"
)

// Runner runs a command on the host and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	String() string
}

// CommandLine joins a command and its arguments the way they are logged and
// matched by Fake.
func CommandLine(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

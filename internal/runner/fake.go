package runner

import (
	"context"
	"sync"
)

// FakeResult is the canned outcome of a command run by Fake.
type FakeResult struct {
	Stdout string
	Err    error
}

// Fake is a Runner for tests. It records every command and answers with
// the result registered for the exact command line, or with an empty
// successful result.
type Fake struct {
	mu       sync.Mutex
	results  map[string][]FakeResult
	Commands []string
}

func NewFake() *Fake {
	return &Fake{results: make(map[string][]FakeResult)}
}

func (f *Fake) String() string {
	return "fake"
}

// AddResult registers a result for a command line. Several results for the
// same command line are returned in order; the last one is repeated.
func (f *Fake) AddResult(cmdline string, res FakeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[cmdline] = append(f.results[cmdline], res)
}

// SetResult replaces every registered result of a command line.
func (f *Fake) SetResult(cmdline string, res FakeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[cmdline] = []FakeResult{res}
}

func (f *Fake) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmdline := CommandLine(name, args...)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.Commands = append(f.Commands, cmdline)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queue := f.results[cmdline]
	if len(queue) == 0 {
		return nil, nil
	}
	res := queue[0]
	if len(queue) > 1 {
		f.results[cmdline] = queue[1:]
	}
	return []byte(res.Stdout), res.Err
}

// Ran reports whether the command line was run at least once.
func (f *Fake) Ran(cmdline string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Commands {
		if c == cmdline {
			return true
		}
	}
	return false
}

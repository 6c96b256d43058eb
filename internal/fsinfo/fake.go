package fsinfo

import (
	"context"
	"sync"

	"github.com/osbuild/disk-stager/internal/disk"
)

// Fake is an in-memory Provider for tests. Created filesystems become
// visible to the probe methods.
type Fake struct {
	mu       sync.Mutex
	labels   map[string]string
	types    map[string]string
	ratios   map[string]float64
	failures map[string]error

	// Created holds the filesystems created per partition path, in order.
	Created []Created
	// Probes counts the used space measurements per partition path.
	Probes map[string]int
}

type Created struct {
	Path       string
	Filesystem disk.Filesystem
}

func NewFake() *Fake {
	return &Fake{
		labels:   make(map[string]string),
		types:    make(map[string]string),
		ratios:   make(map[string]float64),
		failures: make(map[string]error),
		Probes:   make(map[string]int),
	}
}

// SetFilesystem registers the filesystem found on a partition.
func (f *Fake) SetFilesystem(path, fsType, label string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types[path] = fsType
	f.labels[path] = label
}

// SetUsedRatio registers the used fraction reported for a partition.
func (f *Fake) SetUsedRatio(path string, ratio float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratios[path] = ratio
}

// Fail makes every operation on path fail with err.
func (f *Fake) Fail(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[path] = err
}

func (f *Fake) ProbeLabel(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[path]; err != nil {
		return "", err
	}
	return f.labels[path], nil
}

func (f *Fake) ProbeType(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[path]; err != nil {
		return "", err
	}
	return f.types[path], nil
}

func (f *Fake) ProbeUsedRatio(_ context.Context, path, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Probes[path]++
	if err := f.failures[path]; err != nil {
		return 0, err
	}
	return f.ratios[path], nil
}

func (f *Fake) CreateFilesystem(ctx context.Context, path string, fs *disk.Filesystem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[path]; err != nil {
		return err
	}
	f.Created = append(f.Created, Created{Path: path, Filesystem: *fs})
	f.types[path] = fs.Type.String()
	f.labels[path] = fs.Label
	return nil
}

// Package usedspace caches the used space of partitions.
//
// Measuring the used space of a filesystem may need a temporary mount, so
// every partition is measured at most once per session. The value is not
// refreshed afterwards, even when the partition is re-read: within a session
// a stale value is accepted.
package usedspace

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/osbuild/disk-stager/internal/disk"
	"github.com/osbuild/disk-stager/internal/fsinfo"
	"github.com/osbuild/disk-stager/internal/prometheus"
)

type entry struct {
	used uint64
	err  error
}

// Cache maps partition identities to their used space in bytes.
type Cache struct {
	mu      sync.Mutex
	entries map[disk.Identity]entry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[disk.Identity]entry)}
}

// GetOrCompute returns the cached value for id, or runs compute and caches
// its result. Failures are cached as well.
func (c *Cache) GetOrCompute(id disk.Identity, compute func() (uint64, error)) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id]; ok {
		return e.used, e.err
	}

	used, err := compute()
	prometheus.UsedSpaceScan(err)
	c.entries[id] = entry{used: used, err: err}
	return used, err
}

// Lookup returns the cached value for id without computing it.
func (c *Cache) Lookup(id disk.Identity) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || e.err != nil {
		return 0, false
	}
	return e.used, true
}

// Invalidate drops the value of a deleted partition, so that a partition
// created later at the same sectors is measured again.
func (c *Cache) Invalidate(id disk.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Retain drops every entry whose identity is not in ids.
func (c *Cache) Retain(ids []disk.Identity) {
	keep := make(map[disk.Identity]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		if !keep[id] {
			delete(c.entries, id)
		}
	}
}

// RetainDevices is Retain with the identities of every partition of devices.
func (c *Cache) RetainDevices(devices map[string]*disk.Device) {
	var ids []disk.Identity
	for _, dev := range devices {
		for _, p := range dev.Partitions {
			if id, ok := disk.IdentityOf(p); ok {
				ids = append(ids, id)
			}
		}
	}
	c.Retain(ids)
}

func (c *Cache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// MeasureFunc returns the used bytes of a partition.
type MeasureFunc func(p *disk.Partition) (uint64, error)

// Measure returns a MeasureFunc that asks the filesystem-info provider for
// the used ratio of a partition and scales it to the partition size.
func Measure(ctx context.Context, provider fsinfo.Provider) MeasureFunc {
	return func(p *disk.Partition) (uint64, error) {
		if p.Path == "" || p.FSType == "" {
			return 0, fmt.Errorf("partition %s has no filesystem to measure", p)
		}
		ratio, err := provider.ProbeUsedRatio(ctx, p.Path, p.FSType)
		if err != nil {
			return 0, err
		}
		return uint64(math.Round(ratio * float64(p.SizeBytes()))), nil
	}
}

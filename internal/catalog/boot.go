package catalog

import (
	"fmt"

	"github.com/osbuild/images/pkg/datasizes"

	"github.com/osbuild/disk-stager/internal/disk"
)

// BootCandidate is a whole disk a boot loader can be installed to.
type BootCandidate struct {
	Path  string
	Model string
	Size  uint64 // Bytes
}

// String renders the candidate as "<model> [<N> GB] (<path>)".
func (b BootCandidate) String() string {
	return fmt.Sprintf("%s [%d GB] (%s)", b.Model, b.Size/datasizes.GigaByte, b.Path)
}

// BootCandidates lists the devices a boot loader can be installed to,
// sorted by path.
func BootCandidates(devices map[string]*disk.Device) []BootCandidate {
	res := make([]BootCandidate, 0, len(devices))
	for _, path := range SortedPaths(devices) {
		dev := devices[path]
		res = append(res, BootCandidate{
			Path:  dev.Path,
			Model: dev.Model,
			Size:  dev.SizeBytes(),
		})
	}
	return res
}

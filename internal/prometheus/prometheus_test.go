package prometheus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/disk-stager/internal/disk"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "geometry_range", ErrorKind(&disk.GeometryRangeError{RequestedMB: 2, MaxMB: 1}))
	assert.Equal(t, "structural_ineligible", ErrorKind(fmt.Errorf("create: %w", &disk.StructuralIneligibleError{})))
	assert.Equal(t, "mount_conflict", ErrorKind(&disk.MountConflictError{Mountpoint: "/"}))
	assert.Equal(t, "invalid_mountpoint", ErrorKind(&disk.InvalidMountpointError{}))
	assert.Equal(t, "unmount_required", ErrorKind(&disk.UnmountRequiredError{}))
	assert.Equal(t, "device_read", ErrorKind(&disk.DeviceReadError{}))
	assert.Equal(t, "other", ErrorKind(errors.New("boom")))
}

func TestStagingMetrics(t *testing.T) {
	before := counterValue(t, StagedOperations.WithLabelValues("create"))
	StagingMetrics("create", nil)
	assert.Equal(t, before+1, counterValue(t, StagedOperations.WithLabelValues("create")))

	rejected := counterValue(t, RejectedOperations.WithLabelValues("edit", "mount_conflict"))
	StagingMetrics("edit", &disk.MountConflictError{Mountpoint: "/"})
	assert.Equal(t, rejected+1, counterValue(t, RejectedOperations.WithLabelValues("edit", "mount_conflict")))
}

func TestWriteTextfile(t *testing.T) {
	UsedSpaceScan(nil)
	CommitMetrics(Timer(), "DONE")

	path := filepath.Join(t.TempDir(), "disk_stager.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "disk_stager_catalog_used_space_scans_total")
	assert.Contains(t, string(data), `disk_stager_commit_total{state="DONE"}`)
}

package prometheus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "disk_stager"

	CatalogSubsystem = "catalog"
	StagingSubsystem = "staging"
	CommitSubsystem  = "commit"
)

// WriteTextfile writes every registered metric to path in the text format
// read by the node_exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

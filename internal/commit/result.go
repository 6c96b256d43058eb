package commit

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

// FormattedPartition is a partition that got a new filesystem during the
// commit. Its contents have to be populated by the installer.
type FormattedPartition struct {
	Path       string `toml:"path"`
	Mountpoint string `toml:"mountpoint,omitempty"`
	FSType     string `toml:"fstype"`
	Label      string `toml:"label,omitempty"`
	UUID       string `toml:"uuid,omitempty"`
}

// Result is handed to the installer after a successful commit.
type Result struct {
	OperationID string `toml:"operation_id"`
	BootDevice  string `toml:"boot_device,omitempty"`

	// Mounts maps every claimed mount point to a device node, for
	// partitions created by the plan as well as pre-existing ones.
	Mounts    map[string]string    `toml:"mounts"`
	Formatted []FormattedPartition `toml:"formatted,omitempty"`
	Swap      []string             `toml:"swap,omitempty"`
}

func (r *Result) WriteTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(r)
}

// WriteFile writes the result as TOML to path.
func (r *Result) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := r.WriteTOML(&buf); err != nil {
		return fmt.Errorf("encoding commit result: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing commit result: %w", err)
	}
	return nil
}

// ReadResult decodes a result written by WriteTOML.
func ReadResult(r io.Reader) (*Result, error) {
	var res Result
	if _, err := toml.NewDecoder(r).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

package staging

import (
	"fmt"

	"github.com/osbuild/disk-stager/internal/disk"
)

type OpType uint64

const (
	OpReplaceTable OpType = iota
	OpCreate
	OpDelete
)

func (t OpType) String() string {
	switch t {
	case OpReplaceTable:
		return "replace-table"
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	default:
		panic(fmt.Sprintf("unknown operation type with enum value %d", t))
	}
}

func (t OpType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Operation is a structural change of a partition table.
type Operation struct {
	Type   OpType
	Device string

	// ReplaceTable only
	Table disk.PartitionTableType

	// Create and Delete only
	Kind     disk.PartitionKind
	Geometry disk.Geometry
}

// Identity returns the identity of the partition a create or delete
// operates on.
func (op Operation) Identity() disk.Identity {
	return disk.Identity{Device: op.Device, Start: op.Geometry.Start, End: op.Geometry.End}
}

func (op Operation) String() string {
	switch op.Type {
	case OpReplaceTable:
		return fmt.Sprintf("%s %s %s", op.Type, op.Device, op.Table)
	case OpCreate, OpDelete:
		return fmt.Sprintf("%s %s %s %s", op.Type, op.Kind, op.Device, op.Geometry)
	default:
		panic(fmt.Sprintf("unknown operation type with enum value %d", op.Type))
	}
}

func (op Operation) apply(dev *disk.Device) error {
	switch op.Type {
	case OpReplaceTable:
		dev.Table = op.Table
		dev.MaxPrimary = op.Table.MaxPrimary()
		dev.MaxLogical = op.Table.MaxLogical()
		dev.Partitions = nil
		return nil
	case OpCreate:
		_, err := dev.AddPartition(op.Kind, op.Geometry)
		return err
	case OpDelete:
		_, err := dev.RemovePartition(op.Geometry)
		return err
	default:
		panic(fmt.Sprintf("unknown operation type with enum value %d", op.Type))
	}
}

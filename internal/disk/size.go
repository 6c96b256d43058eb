package disk

import (
	"fmt"

	"github.com/osbuild/images/pkg/datasizes"
)

// HumanSize renders a byte count with decimal units: "512 b", "3.2 K",
// "20.0 M", "1.5 G".
func HumanSize(bytes uint64) string {
	switch {
	case bytes < datasizes.KiloByte:
		return fmt.Sprintf("%d b", bytes)
	case bytes < datasizes.MegaByte:
		return fmt.Sprintf("%.1f K", float64(bytes)/datasizes.KiloByte)
	case bytes < datasizes.GigaByte:
		return fmt.Sprintf("%.1f M", float64(bytes)/datasizes.MegaByte)
	default:
		return fmt.Sprintf("%.1f G", float64(bytes)/datasizes.GigaByte)
	}
}

// SizeMB returns the size in whole decimal megabytes, rounded down.
func SizeMB(bytes uint64) uint64 {
	return bytes / datasizes.MegaByte
}

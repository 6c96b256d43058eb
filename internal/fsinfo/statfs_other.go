//go:build !linux

package fsinfo

import (
	"context"
	"errors"
)

func usedRatio(_ string) (float64, error) {
	return 0, errors.New("measuring used space is only supported on linux")
}

func (h *Host) usedRatioReadOnly(_ context.Context, _, _ string) (float64, error) {
	return usedRatio("")
}

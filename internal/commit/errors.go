package commit

import (
	"fmt"

	"github.com/osbuild/disk-stager/internal/common"
)

// CommitFatalError is returned when applying a plan to the devices fails.
// Changes made before the failure are not rolled back.
type CommitFatalError struct {
	State     common.CommitState // State the commit was in when it failed
	Op        string
	Device    string
	Partition string
	Err       error
}

func (e *CommitFatalError) Error() string {
	target := e.Device
	if e.Partition != "" {
		target = fmt.Sprintf("%s (%s)", e.Device, e.Partition)
	}
	if target == "" {
		return fmt.Sprintf("commit failed while %s: %s: %v", e.State, e.Op, e.Err)
	}
	return fmt.Sprintf("commit failed while %s: %s on %s: %v", e.State, e.Op, target, e.Err)
}

func (e *CommitFatalError) Unwrap() error {
	return e.Err
}

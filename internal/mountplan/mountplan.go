// Package mountplan derives the mount points claimed by a staged layout and
// decides whether the layout can be committed.
package mountplan

import (
	"sort"

	"github.com/osbuild/disk-stager/internal/disk"
	"github.com/osbuild/disk-stager/internal/staging"
)

// RootMountpoint must be claimed exactly once.
const RootMountpoint = "/"

// Claim is a mount point used by a partition, either because the partition
// is mounted on the live system or because an edit assigns it.
type Claim struct {
	Identity   disk.Identity
	Mountpoint string
	Staged     bool
}

// Collect returns the claims of a staged layout, sorted by mount point.
// devices are the devices with the journal applied, so partitions deleted
// by the plan no longer claim their live mount point. An edit shadows the
// live mount point of its partition, also when it clears it.
func Collect(devices map[string]*disk.Device, edits []staging.Entry) []Claim {
	var claims []Claim

	shadowed := make(map[disk.Identity]bool, len(edits))
	for _, e := range edits {
		shadowed[e.Identity] = true
		if e.Edit.Mountpoint == "" || e.Edit.FSType.IsSwap() {
			continue
		}
		claims = append(claims, Claim{
			Identity:   e.Identity,
			Mountpoint: e.Edit.Mountpoint,
			Staged:     true,
		})
	}

	for _, dev := range devices {
		for _, p := range dev.Partitions {
			id, ok := disk.IdentityOf(p)
			if !ok || shadowed[id] || p.Mountpoint == "" {
				continue
			}
			claims = append(claims, Claim{Identity: id, Mountpoint: p.Mountpoint})
		}
	}

	sortClaims(claims)
	return claims
}

func sortClaims(claims []Claim) {
	sort.Slice(claims, func(i, j int) bool {
		if claims[i].Mountpoint != claims[j].Mountpoint {
			return claims[i].Mountpoint < claims[j].Mountpoint
		}
		return claims[i].Identity.Less(claims[j].Identity)
	})
}

// Check returns a *disk.MountConflictError for the first mount point that is
// claimed more than once, or when no partition claims "/".
func Check(claims []Claim) error {
	byMountpoint := make(map[string][]string)
	var mountpoints []string
	for _, c := range claims {
		if _, ok := byMountpoint[c.Mountpoint]; !ok {
			mountpoints = append(mountpoints, c.Mountpoint)
		}
		byMountpoint[c.Mountpoint] = append(byMountpoint[c.Mountpoint], c.Identity.String())
	}
	sort.Strings(mountpoints)

	for _, mp := range mountpoints {
		if claimants := byMountpoint[mp]; len(claimants) > 1 {
			return &disk.MountConflictError{Mountpoint: mp, Claimants: claimants}
		}
	}

	if _, ok := byMountpoint[RootMountpoint]; !ok {
		return &disk.MountConflictError{Mountpoint: RootMountpoint}
	}
	return nil
}

// IsCommittable reports whether Check passes.
func IsCommittable(claims []Claim) bool {
	return Check(claims) == nil
}

// Conflict reports whether a partition other than proposer already claims
// the mount point.
func Conflict(claims []Claim, mountpoint string, proposer disk.Identity) bool {
	if mountpoint == "" {
		return false
	}
	for _, c := range claims {
		if c.Mountpoint == mountpoint && c.Identity != proposer {
			return true
		}
	}
	return false
}

// Validate checks the syntax and policy of a mount point proposed for a
// filesystem. Swap areas take no mount point; an empty mount point is
// always valid.
func Validate(mountpoint string, fsType disk.FSType) error {
	if mountpoint == "" {
		return nil
	}
	if fsType.IsSwap() {
		return &disk.InvalidMountpointError{Mountpoint: mountpoint, Reason: "swap areas are not mounted"}
	}
	return disk.MountpointPolicies.Check(mountpoint)
}

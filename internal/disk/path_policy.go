package disk

import (
	"fmt"
	"path"
)

type PathPolicy struct {
	Deny  bool // explicitly do not allow this entry
	Exact bool // require and exact match, no subdirs
}

type PathPolicies = PathTrie

// Create a new PathPolicies trie from a map of path to PathPolicy
func NewPathPolicies(entries map[string]PathPolicy) *PathPolicies {

	noType := make(map[string]interface{}, len(entries))

	for k, v := range entries {
		noType[k] = v
	}

	return NewPathTrieFromMap(noType)
}

// MountpointPolicies is the set of mount points a partition can be assigned
// to. Everything below "/" is allowed except the directories the running
// system and the installed packages own.
var MountpointPolicies = NewPathPolicies(map[string]PathPolicy{
	"/":           {},
	"/bin":        {Deny: true},
	"/boot":       {},
	"/dev":        {Deny: true},
	"/etc":        {Deny: true},
	"/lib":        {Deny: true},
	"/lib64":      {Deny: true},
	"/lost+found": {Deny: true},
	"/proc":       {Deny: true},
	"/root":       {Exact: true},
	"/run":        {Deny: true},
	"/sbin":       {Deny: true},
	"/sys":        {Deny: true},
	"/usr":        {Exact: true},
})

// Check a given mount point against the PathPolicies. Violations are
// returned as *InvalidMountpointError.
func (pol *PathPolicies) Check(dir string) error {
	invalid := func(reason string) error {
		return &InvalidMountpointError{Mountpoint: dir, Reason: reason}
	}

	// Quickly check we have a mountpoint and it is absolute
	if dir == "" || dir[0] != '/' {
		return invalid("mountpoint must be absolute path")
	}

	// ensure that only clean mountpoints are valid
	if dir != path.Clean(dir) {
		return invalid("mountpoint must be a canonical path")
	}

	node, left := pol.Lookup(dir)
	policy, ok := node.Payload.(PathPolicy)
	if !ok {
		panic("programming error: invalid path trie payload")
	}

	// 1) path is explicitly not allowed or
	// 2) a subpath was match but an explicit match is required
	if policy.Deny || (policy.Exact && len(left) > 0) {
		return invalid(fmt.Sprintf("path '%s' is not allowed", dir))
	}

	return nil
}

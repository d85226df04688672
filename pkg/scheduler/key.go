package scheduler

import (
	"crypto/md5"
)

// DefaultGroup is the group assigned to triggers and jobs that do not
// specify one.
const DefaultGroup = "DEFAULT"

// Key identifies a trigger or a job by its (name, group) pair. Two keys are
// equal exactly when both name and group match; this is the identity by
// which the job store addresses triggers and jobs.
type Key struct {
	Name  string
	Group string
}

// NewKey builds a key, substituting DefaultGroup for an empty group.
func NewKey(name, group string) Key {
	if group == "" {
		group = DefaultGroup
	}
	return Key{Name: name, Group: group}
}

// FullName returns the key in "group.name" form.
func (k Key) FullName() string {
	return k.Group + "." + k.Name
}

func (k Key) String() string {
	return k.FullName()
}

// IsEmpty reports whether the key has no name. A group alone does not
// identify anything.
func (k Key) IsEmpty() bool {
	return k.Name == ""
}

// Hash derives a stable int64 from the full name. Equal keys always hash
// equal. The value doubles as the advisory-lock id used for cross-process
// job exclusion, so the derivation must not change between releases.
func (k Key) Hash() int64 {
	sum := md5.Sum([]byte(k.FullName()))

	id := int64(0)
	for i := 0; i < 8; i++ {
		id = id<<8 + int64(sum[i])
	}
	if id < 0 {
		id = -id
	}
	return id
}

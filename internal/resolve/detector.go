// Package resolve detects divergent writes and collapses conflicting
// entries into one authoritative entry.
package resolve

import "github.com/rcliao/consensus-memory/internal/model"

// Partition splits existing entries for a key into those whose checksum
// equals sum and those that differ. A write conflicts iff different is
// non-empty.
func Partition(sum string, existing []*model.Entry) (same, different []*model.Entry) {
	for _, e := range existing {
		if e.Checksum == sum {
			same = append(same, e)
		} else {
			different = append(different, e)
		}
	}
	return same, different
}

// Diverged reports whether the entries do not all share one checksum.
func Diverged(entries []*model.Entry) bool {
	for i := 1; i < len(entries); i++ {
		if entries[i].Checksum != entries[0].Checksum {
			return true
		}
	}
	return false
}

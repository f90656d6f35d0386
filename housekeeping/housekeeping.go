// Package housekeeping implements forge's prebuild sweep: evicting
// stale entries from the prebuild store that did not take part in the
// run just completed.
package housekeeping

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Policy selects a sweep strategy over the prebuild store.
type Policy interface {
	// ShouldDelete reports whether the file at path, with the given
	// os.FileInfo, should be evicted. path is never one that appears
	// in current.
	ShouldDelete(path string, info os.FileInfo) bool
}

// AllUnused deletes every prebuild entry not in the current set.
type AllUnused struct{}

// ShouldDelete always reports true: every file passed to it is, by
// construction, already known not to be current (see Sweep).
func (AllUnused) ShouldDelete(_ string, _ os.FileInfo) bool {
	return true
}

// OlderThan deletes prebuild entries not in the current set whose
// access time is older than Age before now.
//
// Access time, not modification time: any read refreshes a file's
// eviction window, not only the write that made it current again.
type OlderThan struct {
	Age time.Duration
	Now time.Time
}

// ShouldDelete reports whether info's access time is older than
// o.Age before o.Now.
func (o OlderThan) ShouldDelete(path string, info os.FileInfo) bool {
	atime, err := accessTime(info)
	if err != nil {
		return false
	}
	return o.Now.Sub(atime) > o.Age
}

// accessTime recovers a file's access time from the platform-specific
// Stat_t embedded in info.Sys(), which os.FileInfo doesn't expose
// directly.
func accessTime(info os.FileInfo) (time.Time, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, fmt.Errorf("housekeeping: could not read raw stat for %s", info.Name())
	}
	return time.Unix(stat.Atim.Sec, stat.Atim.Nsec), nil
}

// Sweep walks dir's entries and deletes every file matching policy
// that is not named in current. current holds full paths as produced
// by prebuild.Store.PathFor; Sweep never deletes a path present there,
// regardless of what the policy would otherwise say.
func Sweep(dir string, current map[string]struct{}, policy Policy) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("housekeeping: could not read prebuild folder %s: %w", dir, err)
	}

	var deleted []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, ok := current[path]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return deleted, fmt.Errorf("housekeeping: could not stat %s: %w", path, err)
		}
		if !policy.ShouldDelete(path, info) {
			continue
		}

		if err := os.Remove(path); err != nil {
			return deleted, fmt.Errorf("housekeeping: could not remove %s: %w", path, err)
		}
		deleted = append(deleted, path)
	}

	return deleted, nil
}

// Package atomicfile provides the stage-then-commit file write pattern
// used throughout the trust center's export paths: write every file to a
// ".tmp" sibling first, then rename each into place, so a crash mid-export
// never leaves a half-written certificate or key on disk.
package atomicfile

import (
	"fmt"
	"os"
)

// Write stages data at path+".tmp" and renames it into place. On failure
// the temporary file is removed and the caller's data directory is left
// exactly as it was before the call.
func Write(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

// Batch stages several (path, data, perm) writes and commits them only
// once every write has staged successfully, in the order given. If any
// stage fails, all temporary files created so far are cleaned up and no
// rename occurs.
type Batch struct {
	paths []string
	data  [][]byte
	perms []os.FileMode
}

// Add queues a file to be written as part of the batch.
func (b *Batch) Add(path string, data []byte, perm os.FileMode) {
	b.paths = append(b.paths, path)
	b.data = append(b.data, data)
	b.perms = append(b.perms, perm)
}

// Commit stages every queued file, then renames them into place in the
// order they were added. On the first failure — staging or renaming — all
// ".tmp" files created during this call are removed before the error is
// returned.
func (b *Batch) Commit() error {
	tmpPaths := make([]string, len(b.paths))
	for i, p := range b.paths {
		tmpPaths[i] = p + ".tmp"
	}

	cleanup := func() {
		for _, p := range tmpPaths {
			os.Remove(p)
		}
	}

	for i, p := range b.paths {
		if err := os.WriteFile(tmpPaths[i], b.data[i], b.perms[i]); err != nil {
			cleanup()
			return fmt.Errorf("failed to stage %s: %w", p, err)
		}
	}
	for i, p := range b.paths {
		if err := os.Rename(tmpPaths[i], p); err != nil {
			cleanup()
			return fmt.Errorf("failed to commit %s: %w", p, err)
		}
	}
	return nil
}

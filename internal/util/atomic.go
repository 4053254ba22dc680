// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriteFile writes data through a temp file in the target's
// directory, fsyncs it, then renames it over path. A crash leaves either
// the old file or the new complete one; the target is never observed
// partially written. The caller owns the parent directory.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	// Same directory keeps the rename on one filesystem.
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := f.Name()

	cleanup := func(err error) error {
		f.Close()
		os.Remove(tempPath)
		return err
	}

	if err := f.Chmod(perm); err != nil {
		return cleanup(fmt.Errorf("failed to set file permissions: %w", err))
	}
	if _, err := f.Write(data); err != nil {
		return cleanup(fmt.Errorf("failed to write data: %w", err))
	}
	if err := f.Sync(); err != nil {
		return cleanup(fmt.Errorf("failed to sync data to disk: %w", err))
	}
	// Close before rename; Windows will not rename an open file.
	if err := f.Close(); err != nil {
		return cleanup(fmt.Errorf("failed to close temp file: %w", err))
	}
	if err := os.Rename(tempPath, path); err != nil {
		return cleanup(fmt.Errorf("failed to rename temp file: %w", err))
	}
	return nil
}

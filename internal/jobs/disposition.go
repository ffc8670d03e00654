package jobs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// RemuxedDir is the folder, inside each source directory, that moved
// originals go to.
const RemuxedDir = "Remuxed"

// Dispose applies action to the original file at path. It returns the new
// location for a move and "" otherwise. Errors never change a file's
// classification; callers report them as warnings.
func Dispose(path string, action FileAction) (string, error) {
	switch action {
	case ActionKeep, "":
		return "", nil
	case ActionDelete:
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("delete original: %w", err)
		}
		return "", nil
	case ActionMove:
		return moveOriginal(path)
	default:
		return "", fmt.Errorf("unknown file action %q", action)
	}
}

func moveOriginal(path string) (string, error) {
	dir := filepath.Join(filepath.Dir(path), RemuxedDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create %s folder: %w", RemuxedDir, err)
	}

	dest := uniquePath(filepath.Join(dir, filepath.Base(path)))
	if err := os.Rename(path, dest); err == nil {
		return dest, nil
	}

	// Rename fails across filesystems; copy then remove instead.
	if err := copyFile(path, dest); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("move original: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return dest, fmt.Errorf("remove original after copy: %w", err)
	}
	return dest, nil
}

// uniquePath appends " (n)" before the extension until nothing exists at
// the returned path.
func uniquePath(p string) string {
	if _, err := os.Lstat(p); os.IsNotExist(err) {
		return p
	}
	ext := filepath.Ext(p)
	stem := strings.TrimSuffix(p, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// copyFile copies src to dst, keeping the source's mode and times.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// PreserveTimestamps copies the source's access and modification times onto
// the output. Where the platform hides the access time, the modification
// time is used for both.
func PreserveTimestamps(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if err := os.Chtimes(dst, accessTime(info), info.ModTime()); err != nil {
		return fmt.Errorf("set output times: %w", err)
	}
	return nil
}

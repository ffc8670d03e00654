package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gwlsn/remuxer/internal/media"
)

// CollectVideoFiles expands the given paths into an ordered, de-duplicated
// file list. Files are kept as given. A directory contributes the video files
// directly inside it, in lexical order, skipping hidden entries. Subfolders
// are not entered, so the Remuxed folder filled by move is never re-read.
func CollectVideoFiles(paths []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, path := range paths {
		cleanPath, err := filepath.Abs(path)
		if err != nil {
			cleanPath = filepath.Clean(path)
		}

		info, err := os.Stat(cleanPath)
		if err != nil || !info.IsDir() {
			// Missing files stay in the list so the scan reports them.
			add(cleanPath)
			continue
		}

		entries, err := os.ReadDir(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("read folder %s: %w", cleanPath, err)
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			p := filepath.Join(cleanPath, e.Name())
			if media.IsVideoFile(p) {
				add(p)
			}
		}
	}
	return out, nil
}

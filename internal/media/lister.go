package media

import (
	"fmt"
	"os"
	"sort"

	"lanmedia/internal/fsutil"
)

// List returns the regular files directly inside dir, sorted by name. dir must
// already be confined. Subdirectories and symlinks are never returned, so
// nothing that points elsewhere is surfaced as a file.
func List(dir string) ([]FileEntry, error) {
	st, err := os.Stat(dir)
	if err != nil {
		if fsutil.IsNotExist(err) {
			return nil, fmt.Errorf("list %s: %w", dir, fsutil.ErrNotFound)
		}
		return nil, fmt.Errorf("list %s: %v: %w", dir, err, fsutil.ErrRead)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("list %s: not a directory: %w", dir, fsutil.ErrNotFound)
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %v: %w", dir, err, fsutil.ErrRead)
	}
	items := make([]FileEntry, 0, len(ents))
	for _, e := range ents {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed since ReadDir
			continue
		}
		items = append(items, FileEntry{
			Name:  e.Name(),
			Size:  info.Size(),
			Mtime: info.ModTime().Unix(),
			Mime:  ContentTypeForName(e.Name()),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
	return items, nil
}

// Names returns just the file names of items, in order.
func Names(items []FileEntry) []string {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return names
}

package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Entry is one directory listing row returned by Browse, backing the
// BrowseDirectory command.
type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

// Browse lists the immediate children of path, directories first then files,
// both alphabetical. Hidden entries (dotfiles) other than ".." are omitted.
func Browse(path string) ([]Entry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var dirs, files []Entry
	for _, e := range dirEntries {
		name := e.Name()
		if len(name) > 0 && name[0] == '.' {
			continue
		}
		entry := Entry{Name: name, Path: filepath.Join(abs, name), IsDir: e.IsDir()}
		if e.IsDir() {
			dirs = append(dirs, entry)
		} else {
			files = append(files, entry)
		}
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	if parent := filepath.Dir(abs); parent != abs {
		dirs = append([]Entry{{Name: "..", Path: parent, IsDir: true}}, dirs...)
	}

	return append(dirs, files...), nil
}

package diffview

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// CreateDirectoriesForFile creates the missing ancestors of absPath and
// returns the directories it created, shallowest first. Directories that
// already existed are never included. On error the directories created so
// far are returned along with it.
func CreateDirectoriesForFile(absPath string) ([]string, error) {
	var missing []string
	dir := filepath.Dir(absPath)
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		missing = append(missing, dir)
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	created := make([]string, 0, len(missing))
	for i := len(missing) - 1; i >= 0; i-- {
		if err := os.Mkdir(missing[i], 0755); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return created, err
		}
		created = append(created, missing[i])
	}
	return created, nil
}

// RemoveDirectories removes dirs deepest first, that is in reverse order of
// creation. It stops at the first failure; directories already removed are
// not recreated.
func RemoveDirectories(dirs []string) error {
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Remove(dirs[i]); err != nil {
			return err
		}
	}
	return nil
}

package script

import (
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/schaermu/b6psync/internal/location"
)

// DiscoverFiles walks a zone of the root and returns the locations of all
// regular files. skipDir receives each directory's path relative to the
// zone (slash separated) and prunes it when it returns true. A missing zone
// directory yields no files.
func (r *Root) DiscoverFiles(zone location.Zone, skipDir func(rel string) bool) ([]location.Location, error) {
	dir := r.Zone(zone).Path()
	var files []location.Location

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != dir && skipDir != nil && skipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type().IsRegular() {
			files = append(files, r.loc.WithZone(zone, rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// DraftSkip prunes the build output and the info/objects folders, which
// are never compiled or pushed as regular sources.
func DraftSkip(rel string) bool {
	switch rel {
	case BuildDirName, InfoDir, ObjectsDir:
		return true
	}
	return false
}

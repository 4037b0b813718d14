package script

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Files the draft/info folder must contain, and nothing else
var requiredInfoFiles = []string{"metadata.json", "permissions.json", ConfigFileName}

// ImportsFileName is the single file draft/objects must contain
const ImportsFileName = "imports.ts"

// Problem describes a deviation from the expected draft layout
type Problem struct {
	Path    string
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Path, p.Message)
}

// CheckStructure verifies the draft layout: info/ holds exactly the
// required metadata files and objects/ holds exactly one imports file. An
// empty result means the script is structurally valid.
func (r *Root) CheckStructure() ([]Problem, error) {
	var problems []Problem

	infoDir := filepath.Join(r.DraftPath(), InfoDir)
	infoFiles, err := listFiles(infoDir)
	if err != nil {
		return nil, err
	}
	if infoFiles == nil {
		problems = append(problems, Problem{Path: "draft/" + InfoDir, Message: "folder is missing"})
	} else {
		present := make(map[string]bool, len(infoFiles))
		for _, name := range infoFiles {
			present[name] = true
		}
		for _, name := range requiredInfoFiles {
			if !present[name] {
				problems = append(problems, Problem{Path: "draft/" + InfoDir + "/" + name, Message: "required file is missing"})
			}
			delete(present, name)
		}
		for _, name := range sortedKeys(present) {
			problems = append(problems, Problem{Path: "draft/" + InfoDir + "/" + name, Message: "unexpected entry"})
		}
	}

	objectsDir := filepath.Join(r.DraftPath(), ObjectsDir)
	objectFiles, err := listFiles(objectsDir)
	if err != nil {
		return nil, err
	}
	switch {
	case objectFiles == nil:
		problems = append(problems, Problem{Path: "draft/" + ObjectsDir, Message: "folder is missing"})
	case len(objectFiles) != 1 || objectFiles[0] != ImportsFileName:
		problems = append(problems, Problem{
			Path:    "draft/" + ObjectsDir,
			Message: fmt.Sprintf("expected exactly %s, found %v", ImportsFileName, objectFiles),
		})
	}

	return problems, nil
}

// listFiles returns the entry names of dir, or nil if dir does not exist
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// Organization and script used by fixtures unless a test needs others
const (
	OrgID      = "U1001"
	ScriptName = "MyScript"
)

// ValidDraft is a structurally complete draft tree
var ValidDraft = map[string]string{
	"draft/info/metadata.json":    `{"name":"MyScript"}`,
	"draft/info/permissions.json": `{}`,
	"draft/info/config.json":      `{"models":[{"name":"Customer"}]}`,
	"draft/objects/imports.ts":    "export {};\n",
	"draft/scripts/main.ts":       "export const main = () => 1;\n",
}

// WriteTree creates files below base. Keys are slash separated paths.
func WriteTree(t testing.TB, base string, files map[string]string) {
	t.Helper()

	for rel, content := range files {
		path := filepath.Join(base, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", rel, err)
		}
	}
}

// NewScript creates <tmp>/work/U1001/MyScript populated with files (paths
// relative to the script root) and returns the script root path.
func NewScript(t testing.TB, files map[string]string) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), "work", OrgID, ScriptName)
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("failed to create script root: %v", err)
	}
	WriteTree(t, root, files)
	return root
}

// Merge returns a new map holding all entries, later maps winning
func Merge(trees ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, tree := range trees {
		for k, v := range tree {
			out[k] = v
		}
	}
	return out
}

// ReadTree returns every regular file below base keyed by its slash
// separated relative path.
func ReadTree(t testing.TB, base string) map[string]string {
	t.Helper()

	out := make(map[string]string)
	err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to read tree %s: %v", base, err)
	}
	return out
}

// SortedKeys returns the keys of m in order
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

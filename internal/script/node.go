package script

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/schaermu/b6psync/internal/location"
)

// Node is a file or folder inside a script root
type Node interface {
	Location() location.Location
	Root() *Root
	Path() string
	IsFolder() bool
	Exists() (bool, error)
	Stat() (fs.FileInfo, error)
	RemoteURL() (string, error)
}

type node struct {
	loc  location.Location
	root *Root
}

func (n node) Location() location.Location { return n.loc }
func (n node) Root() *Root                 { return n.root }
func (n node) Path() string                { return n.loc.Path() }

func (n node) Stat() (fs.FileInfo, error) {
	return os.Stat(n.Path())
}

func (n node) Exists() (bool, error) {
	_, err := n.Stat()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (n node) RemoteURL() (string, error) {
	return n.root.RemoteURL(n.loc)
}

// File is a regular file node
type File struct {
	node
}

// NewFile creates a file node. root may differ from the root the location
// was parsed from, e.g. when pushing to another script.
func NewFile(loc location.Location, root *Root) *File {
	return &File{node{loc: loc, root: root}}
}

func (f *File) IsFolder() bool { return false }

// Read returns the file content
func (f *File) Read() ([]byte, error) {
	return os.ReadFile(f.Path())
}

// Folder is a directory node
type Folder struct {
	node
}

// NewFolder creates a folder node
func NewFolder(loc location.Location, root *Root) *Folder {
	return &Folder{node{loc: loc, root: root}}
}

func (f *Folder) IsFolder() bool { return true }

// Children lists the folder's direct entries sorted by name
func (f *Folder) Children() ([]Node, error) {
	if f.loc.Zone == location.ZoneRoot {
		return nil, fmt.Errorf("listing the script root is not supported; list a zone instead")
	}

	entries, err := os.ReadDir(f.Path())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", f.Path(), err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	children := make([]Node, 0, len(entries))
	for _, e := range entries {
		loc := f.loc.Child(e.Name())
		if e.IsDir() {
			children = append(children, NewFolder(loc, f.root))
		} else {
			children = append(children, NewFile(loc, f.root))
		}
	}
	return children, nil
}

// Node returns a File or Folder for loc depending on what is on disk. A
// missing path yields a File; the script root and zone directories always
// yield a Folder.
func (r *Root) Node(loc location.Location) (Node, error) {
	if loc.IsRoot() {
		return NewFolder(loc, r), nil
	}

	info, err := os.Stat(loc.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if loc.RelativePath == "" && !loc.Zone.IsFile() {
				return NewFolder(loc, r), nil
			}
			return NewFile(loc, r), nil
		}
		return nil, err
	}
	if info.IsDir() {
		return NewFolder(loc, r), nil
	}
	return NewFile(loc, r), nil
}

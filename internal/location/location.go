package location

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// Well-known names inside a script root.
const (
	MetadataFileName = ".b6p_metadata.json"
	IgnoreFileName   = ".gitignore"
)

var organizationPattern = regexp.MustCompile(`^U\d+$`)

// Zone is the subregion of a script a location falls into
type Zone int

const (
	ZoneRoot Zone = iota
	ZoneDraft
	ZoneDeclarations
	ZoneSnapshot
	ZoneMetadataFile
	ZoneIgnoreFile
)

// String returns the on-disk segment for the zone ("" for the root)
func (z Zone) String() string {
	switch z {
	case ZoneRoot:
		return ""
	case ZoneDraft:
		return "draft"
	case ZoneDeclarations:
		return "declarations"
	case ZoneSnapshot:
		return "snapshot"
	case ZoneMetadataFile:
		return MetadataFileName
	case ZoneIgnoreFile:
		return IgnoreFileName
	default:
		return fmt.Sprintf("zone(%d)", int(z))
	}
}

// IsFile reports whether the zone names a single file rather than a tree
func (z Zone) IsFile() bool {
	switch z {
	case ZoneMetadataFile, ZoneIgnoreFile:
		return true
	case ZoneRoot, ZoneDraft, ZoneDeclarations, ZoneSnapshot:
		return false
	default:
		return false
	}
}

func zoneFromSegment(segment string) (Zone, bool) {
	switch segment {
	case "draft":
		return ZoneDraft, true
	case "declarations":
		return ZoneDeclarations, true
	case "snapshot":
		return ZoneSnapshot, true
	case MetadataFileName:
		return ZoneMetadataFile, true
	case IgnoreFileName:
		return ZoneIgnoreFile, true
	}
	return ZoneRoot, false
}

// Location is a parsed script path. It is derived from a filesystem path and
// never persisted.
type Location struct {
	PrependingPath string // everything before the organization segment
	OrganizationID string
	ScriptName     string
	Zone           Zone
	RelativePath   string // slash separated, relative to the zone
}

// Parse classifies a raw filesystem path. Both '/' and '\' are accepted as
// separators. ".." segments are resolved lexically before classification.
func Parse(raw string) (Location, error) {
	normalized := path.Clean(strings.ReplaceAll(raw, `\`, "/"))
	absolute := strings.HasPrefix(normalized, "/")

	var segments []string
	for _, s := range strings.Split(normalized, "/") {
		if s == "" || s == "." {
			continue
		}
		segments = append(segments, s)
	}

	orgIdx := -1
	for i, s := range segments {
		if organizationPattern.MatchString(s) {
			orgIdx = i
			break
		}
	}
	if orgIdx < 0 {
		return Location{}, &PathFormatError{Path: raw, Reason: "no organization segment (U<digits>) found"}
	}
	if orgIdx+1 >= len(segments) {
		return Location{}, &PathFormatError{Path: raw, Reason: "missing script name after organization segment"}
	}

	prepending := strings.Join(segments[:orgIdx], "/")
	if absolute {
		prepending = "/" + prepending
	}

	loc := Location{
		PrependingPath: filepath.FromSlash(prepending),
		OrganizationID: segments[orgIdx],
		ScriptName:     segments[orgIdx+1],
		Zone:           ZoneRoot,
	}

	rest := segments[orgIdx+2:]
	if len(rest) == 0 {
		return loc, nil
	}

	zone, ok := zoneFromSegment(rest[0])
	if !ok {
		return Location{}, &PathFormatError{Path: raw, Reason: fmt.Sprintf("unrecognized zone %q", rest[0])}
	}
	if zone.IsFile() && len(rest) > 1 {
		return Location{}, &PathFormatError{Path: raw, Reason: fmt.Sprintf("%s cannot contain further segments", rest[0])}
	}

	loc.Zone = zone
	loc.RelativePath = strings.Join(rest[1:], "/")
	return loc, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// constant paths.
func MustParse(raw string) Location {
	loc, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return loc
}

// ShavedName identifies the script root independently of zone and relative
// path.
func (l Location) ShavedName() string {
	return l.PrependingPath + string(filepath.Separator) + l.ScriptName
}

// RootPath returns the filesystem path of the script root directory
func (l Location) RootPath() string {
	if l.PrependingPath == "" {
		return filepath.Join(l.OrganizationID, l.ScriptName)
	}
	return filepath.Join(l.PrependingPath, l.OrganizationID, l.ScriptName)
}

// Path reconstructs the filesystem path of the location
func (l Location) Path() string {
	rel := l.Rel()
	if rel == "" {
		return l.RootPath()
	}
	return filepath.Join(l.RootPath(), filepath.FromSlash(rel))
}

// Rel returns the path relative to the script root in slash form, e.g.
// "draft/scripts/a.ts". The root itself yields "".
func (l Location) Rel() string {
	zone := l.Zone.String()
	switch {
	case zone == "":
		return ""
	case l.RelativePath == "":
		return zone
	default:
		return zone + "/" + l.RelativePath
	}
}

// Name returns the final path element
func (l Location) Name() string {
	if l.RelativePath != "" {
		return l.RelativePath[strings.LastIndex(l.RelativePath, "/")+1:]
	}
	if l.Zone == ZoneRoot {
		return l.ScriptName
	}
	return l.Zone.String()
}

// IsRoot reports whether the location is the script root directory itself
func (l Location) IsRoot() bool {
	return l.Zone == ZoneRoot && l.RelativePath == ""
}

// SameRoot reports whether both locations belong to the same script root
func (l Location) SameRoot(other Location) bool {
	return l.PrependingPath == other.PrependingPath &&
		l.OrganizationID == other.OrganizationID &&
		l.ScriptName == other.ScriptName
}

// Equal reports whether both locations address the same path
func (l Location) Equal(other Location) bool {
	return l.SameRoot(other) && l.Zone == other.Zone && l.RelativePath == other.RelativePath
}

// Root returns the location of the script root
func (l Location) Root() Location {
	return Location{
		PrependingPath: l.PrependingPath,
		OrganizationID: l.OrganizationID,
		ScriptName:     l.ScriptName,
		Zone:           ZoneRoot,
	}
}

// WithZone returns a location in the same root pointing into zone at rel
func (l Location) WithZone(zone Zone, rel string) Location {
	root := l.Root()
	root.Zone = zone
	root.RelativePath = strings.Trim(filepath.ToSlash(rel), "/")
	return root
}

// Child returns the location of name beneath l. Children of the root are
// not supported since they must name a zone; use WithZone instead.
func (l Location) Child(name string) Location {
	child := l
	if child.RelativePath == "" {
		child.RelativePath = name
	} else {
		child.RelativePath = child.RelativePath + "/" + name
	}
	return child
}

// HasPrefix reports whether the relative path lies at or below prefix
// (slash separated) within the location's zone.
func (l Location) HasPrefix(prefix string) bool {
	if prefix == "" {
		return true
	}
	return l.RelativePath == prefix || strings.HasPrefix(l.RelativePath, prefix+"/")
}

func (l Location) String() string {
	return l.Path()
}

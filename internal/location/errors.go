package location

import "fmt"

// PathFormatError reports a path that cannot be classified as a script
// location. Callers must not proceed with such a path.
type PathFormatError struct {
	Path   string
	Reason string
}

func (e *PathFormatError) Error() string {
	return fmt.Sprintf("invalid script path %q: %s", e.Path, e.Reason)
}

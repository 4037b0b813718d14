// Package integrity compares local file content with the integrity
// information a remote store reports in its ETag header.
package integrity

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Kind classifies an ETag header
type Kind int

const (
	// KindStrict is a quoted SHA-512 hex digest
	KindStrict Kind = iota + 1
	// KindWeak is a W/ prefixed, quoted SHA-512 hex digest
	KindWeak
	// KindComplex is an opaque document key; its integrity cannot be checked
	KindComplex
)

func (k Kind) String() string {
	switch k {
	case KindStrict:
		return "strict"
	case KindWeak:
		return "weak"
	case KindComplex:
		return "complex"
	default:
		return "invalid"
	}
}

var (
	strictPattern  = regexp.MustCompile(`^"([0-9a-fA-F]{128})"$`)
	weakPattern    = regexp.MustCompile(`^W/"([0-9a-fA-F]{128})"$`)
	complexPattern = regexp.MustCompile(`^(?:W/)?"[A-Za-z0-9_-]+(?::[A-Za-z0-9_.-]+)+"$`)
)

// RemoteHash is a parsed ETag. Hash is empty for KindComplex.
type RemoteHash struct {
	Kind Kind
	Hash string
}

// Known reports whether the remote hash carries a concrete digest
func (r RemoteHash) Known() bool {
	return (r.Kind == KindStrict || r.Kind == KindWeak) && r.Hash != ""
}

func (r RemoteHash) String() string {
	if !r.Known() {
		return "unknown"
	}
	return r.Hash
}

// LocalHash returns the lowercase hex SHA-512 digest of data
func LocalHash(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:])
}

// ParseETag classifies an ETag header value
func ParseETag(header string) (RemoteHash, error) {
	header = strings.TrimSpace(header)

	if m := strictPattern.FindStringSubmatch(header); m != nil {
		return RemoteHash{Kind: KindStrict, Hash: strings.ToLower(m[1])}, nil
	}
	if m := weakPattern.FindStringSubmatch(header); m != nil {
		return RemoteHash{Kind: KindWeak, Hash: strings.ToLower(m[1])}, nil
	}
	if complexPattern.MatchString(header) {
		return RemoteHash{Kind: KindComplex}, nil
	}

	return RemoteHash{}, &EtagFormatError{Header: header}
}

// Matches reports whether local equals a concrete remote hash. An unknown
// remote hash never matches.
func Matches(local string, remote RemoteHash) bool {
	return remote.Known() && local != "" && strings.EqualFold(local, remote.Hash)
}

// Verify returns a *MismatchError when remote carries a concrete hash that
// differs from local. Unknown remote hashes are not checked.
func Verify(local string, remote RemoteHash) error {
	if !remote.Known() {
		return nil
	}
	if !Matches(local, remote) {
		return &MismatchError{Local: local, Remote: remote.Hash, Kind: remote.Kind}
	}
	return nil
}

// EtagFormatError reports an ETag header none of the supported shapes match
type EtagFormatError struct {
	Header string
}

func (e *EtagFormatError) Error() string {
	return fmt.Sprintf("unrecognized etag format: %q", e.Header)
}

// MismatchError reports content whose hash differs from the remote ETag
type MismatchError struct {
	Path   string
	Local  string
	Remote string
	Kind   Kind
}

func (e *MismatchError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("integrity mismatch for %s: local %s, remote %s (%s etag)", e.Path, short(e.Local), short(e.Remote), e.Kind)
	}
	return fmt.Sprintf("integrity mismatch: local %s, remote %s (%s etag)", short(e.Local), short(e.Remote), e.Kind)
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

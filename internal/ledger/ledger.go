// Package ledger persists the per-script record of pushes and pulls in
// .b6p_metadata.json.
package ledger

import (
	"encoding/json"
	"sort"
	"time"
)

// Kind selects which timestamp Touch refreshes
type Kind int

const (
	Push Kind = iota
	Pull
)

func (k Kind) String() string {
	if k == Pull {
		return "pull"
	}
	return "push"
}

// Ledger is the on-disk document
type Ledger struct {
	ScriptName      string   `json:"scriptName"`
	OrganizationRef string   `json:"organizationRef"`
	WebdavID        string   `json:"webdavId"`
	Revision        int64    `json:"revision,omitempty"`
	Records         []Record `json:"pushPullRecords"`
}

// Record tracks a single file. DownstairsPath is relative to the script
// root, slash separated.
type Record struct {
	DownstairsPath   string     `json:"downstairsPath"`
	LastPushed       *time.Time `json:"lastPushed"`
	LastPulled       *time.Time `json:"lastPulled"`
	LastVerifiedHash string     `json:"lastVerifiedHash"`
}

// Record returns the record for path, if any
func (l *Ledger) Record(path string) (Record, bool) {
	for _, r := range l.Records {
		if r.DownstairsPath == path {
			return r, true
		}
	}
	return Record{}, false
}

// Touch upserts the record for path
func (l *Ledger) Touch(path string, kind Kind, hash string, at time.Time) {
	at = at.UTC()
	for i := range l.Records {
		if l.Records[i].DownstairsPath != path {
			continue
		}
		l.Records[i].stamp(kind, at)
		l.Records[i].LastVerifiedHash = hash
		return
	}

	r := Record{DownstairsPath: path, LastVerifiedHash: hash}
	r.stamp(kind, at)
	l.Records = append(l.Records, r)
}

// Forget removes the record for path. It reports whether one existed.
func (l *Ledger) Forget(path string) bool {
	for i, r := range l.Records {
		if r.DownstairsPath == path {
			l.Records = append(l.Records[:i], l.Records[i+1:]...)
			return true
		}
	}
	return false
}

// Prune drops every record keep rejects and returns the removed paths
func (l *Ledger) Prune(keep func(path string) bool) []string {
	var removed []string
	kept := l.Records[:0]
	for _, r := range l.Records {
		if keep(r.DownstairsPath) {
			kept = append(kept, r)
		} else {
			removed = append(removed, r.DownstairsPath)
		}
	}
	l.Records = kept
	return removed
}

// Paths returns the recorded paths in sorted order
func (l *Ledger) Paths() []string {
	paths := make([]string, 0, len(l.Records))
	for _, r := range l.Records {
		paths = append(paths, r.DownstairsPath)
	}
	sort.Strings(paths)
	return paths
}

func (l *Ledger) clone() *Ledger {
	c := *l
	c.Records = make([]Record, len(l.Records))
	for i, r := range l.Records {
		c.Records[i] = Record{
			DownstairsPath:   r.DownstairsPath,
			LastPushed:       cloneTime(r.LastPushed),
			LastPulled:       cloneTime(r.LastPulled),
			LastVerifiedHash: r.LastVerifiedHash,
		}
	}
	return &c
}

// timestampLayouts are tried in order when reading lastPushed/lastPulled.
// Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC1123Z,
	time.RFC1123,
}

// UnmarshalJSON reads timestamps leniently. A timestamp in none of the
// known layouts, or of the wrong JSON type, becomes null instead of failing
// the whole document.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		DownstairsPath   string          `json:"downstairsPath"`
		LastPushed       json.RawMessage `json:"lastPushed"`
		LastPulled       json.RawMessage `json:"lastPulled"`
		LastVerifiedHash string          `json:"lastVerifiedHash"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.DownstairsPath = raw.DownstairsPath
	r.LastPushed = parseTimestamp(raw.LastPushed)
	r.LastPulled = parseTimestamp(raw.LastPulled)
	r.LastVerifiedHash = raw.LastVerifiedHash
	return nil
}

func parseTimestamp(data json.RawMessage) *time.Time {
	var s string
	if len(data) == 0 || json.Unmarshal(data, &s) != nil || s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func (r *Record) stamp(kind Kind, at time.Time) {
	switch kind {
	case Push:
		r.LastPushed = &at
	case Pull:
		r.LastPulled = &at
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

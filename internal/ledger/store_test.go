package ledger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".b6p_metadata.json")
	defaults := Ledger{ScriptName: "MyScript", OrganizationRef: "U1001", WebdavID: "dav-42"}
	opts = append([]Option{WithClock(func() time.Time { return fixedTime }), WithRetryDelay(time.Millisecond)}, opts...)
	return NewStore(path, defaults, testLogger(), opts...)
}

func TestLoad_MissingFileIsFresh(t *testing.T) {
	s := newTestStore(t)

	l, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "MyScript", l.ScriptName)
	assert.Equal(t, "U1001", l.OrganizationRef)
	assert.Equal(t, "dav-42", l.WebdavID)
	assert.NotNil(t, l.Records)
	assert.Empty(t, l.Records)
}

func TestLoad_CorruptFileSelfHeals(t *testing.T) {
	for name, content := range map[string]string{
		"invalid json": "{ invalid",
		"empty":        "",
		"whitespace":   "  \n\t",
		"wrong shape":  `{"pushPullRecords": "nope"}`,
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0644))

			l, err := s.Load()
			require.NoError(t, err)
			assert.Empty(t, l.Records)
			assert.Equal(t, "MyScript", l.ScriptName)
		})
	}
}

func TestLoad_FillsMissingIdentity(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"pushPullRecords":[{"downstairsPath":"draft/a.ts","lastPushed":null,"lastPulled":null,"lastVerifiedHash":"h"}]}`), 0644))

	l, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "dav-42", l.WebdavID)
	require.Len(t, l.Records, 1)
	assert.Equal(t, "draft/a.ts", l.Records[0].DownstairsPath)
}

func TestLoad_LenientTimestamps(t *testing.T) {
	s := newTestStore(t)
	content := `{"webdavId":"dav-42","pushPullRecords":[
		{"downstairsPath":"draft/a.ts","lastPushed":"yesterday","lastPulled":"2024-01-02 03:04:05","lastVerifiedHash":"ha"},
		{"downstairsPath":"draft/b.ts","lastPushed":1704164645,"lastPulled":"2024-01-02T04:04:05+01:00","lastVerifiedHash":"hb"}
	]}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0644))

	l, err := s.Load()
	require.NoError(t, err)
	require.Len(t, l.Records, 2)

	a, _ := l.Record("draft/a.ts")
	assert.Nil(t, a.LastPushed)
	require.NotNil(t, a.LastPulled)
	assert.True(t, a.LastPulled.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Equal(t, "ha", a.LastVerifiedHash)

	b, _ := l.Record("draft/b.ts")
	assert.Nil(t, b.LastPushed)
	require.NotNil(t, b.LastPulled)
	assert.True(t, b.LastPulled.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	// a later write keeps the records it could not fully read
	require.NoError(t, s.Touch("draft/c.ts", Push, "hc"))
	l, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"draft/a.ts", "draft/b.ts", "draft/c.ts"}, l.Paths())
}

func TestLoad_RetriesTransientErrors(t *testing.T) {
	s := newTestStore(t)

	attempts := 0
	s.readFile = func(string) ([]byte, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("device busy")
		}
		return []byte(`{"webdavId":"dav-42","pushPullRecords":[]}`), nil
	}

	l, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "dav-42", l.WebdavID)
}

func TestLoad_TransientErrorAfterRetries(t *testing.T) {
	s := newTestStore(t)

	attempts := 0
	s.readFile = func(string) ([]byte, error) {
		attempts++
		return nil, errors.New("input/output error")
	}

	_, err := s.Load()
	var tioe *TransientIOError
	require.ErrorAs(t, err, &tioe)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, tioe.Attempts)
}

func TestLoad_DirectoryIsTransientError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.Mkdir(s.Path(), 0755))

	_, err := s.Load()
	var tioe *TransientIOError
	require.ErrorAs(t, err, &tioe)
}

func TestTouch_Idempotent(t *testing.T) {
	now := fixedTime
	s := newTestStore(t, WithClock(func() time.Time { return now }))

	require.NoError(t, s.Touch("draft/scripts/a.ts", Push, "h1"))
	now = now.Add(time.Minute)
	require.NoError(t, s.Touch("draft/scripts/a.ts", Push, "h2"))

	l, err := s.Load()
	require.NoError(t, err)
	require.Len(t, l.Records, 1)

	r := l.Records[0]
	assert.Equal(t, "h2", r.LastVerifiedHash)
	require.NotNil(t, r.LastPushed)
	assert.True(t, r.LastPushed.Equal(now))
	assert.Nil(t, r.LastPulled)
}

func TestTouch_PullKeepsPushTimestamp(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Touch("draft/a.ts", Push, "h1"))
	require.NoError(t, s.Touch("draft/a.ts", Pull, "h2"))

	l, err := s.Load()
	require.NoError(t, err)
	r, ok := l.Record("draft/a.ts")
	require.True(t, ok)
	assert.NotNil(t, r.LastPushed)
	assert.NotNil(t, r.LastPulled)
	assert.Equal(t, "h2", r.LastVerifiedHash)
}

func TestModify_NoChangeDoesNotPersist(t *testing.T) {
	s := newTestStore(t)

	changed, err := s.Modify(func(*Ledger) error { return nil })
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err), "ledger should not have been written")
}

func TestModify_CallbackErrorAborts(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("boom")

	_, err := s.Modify(func(l *Ledger) error {
		l.Touch("draft/a.ts", Push, "h", fixedTime)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, statErr := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestModify_RetriesOnRevisionConflict(t *testing.T) {
	s := newTestStore(t)

	calls := 0
	changed, err := s.Modify(func(l *Ledger) error {
		calls++
		if calls == 1 {
			// another process writes in between our read and our write
			other := `{"scriptName":"MyScript","revision":7,"pushPullRecords":[{"downstairsPath":"draft/other.ts","lastPushed":null,"lastPulled":null,"lastVerifiedHash":"x"}]}`
			require.NoError(t, os.WriteFile(s.Path(), []byte(other), 0644))
		}
		l.Touch("draft/a.ts", Push, "h", fixedTime)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, calls)

	l, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(8), l.Revision)
	assert.Equal(t, []string{"draft/a.ts", "draft/other.ts"}, l.Paths())
}

func TestModify_GivesUpAfterRepeatedConflicts(t *testing.T) {
	s := newTestStore(t)

	rev := 0
	_, err := s.Modify(func(l *Ledger) error {
		rev += 10
		require.NoError(t, os.WriteFile(s.Path(), []byte(fmt.Sprintf(`{"revision":%d,"pushPullRecords":[]}`, rev)), 0644))
		l.Touch("draft/a.ts", Push, "h", fixedTime)
		return nil
	})
	require.ErrorIs(t, err, ErrConcurrentModification)
}

func TestTouch_ConcurrentCallsAreSerialised(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Touch(fmt.Sprintf("draft/f%02d.ts", i), Push, "h"))
		}(i)
	}
	wg.Wait()

	l, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, l.Records, 20)
	assert.Equal(t, int64(20), l.Revision)
}

func TestForgetAndPrune(t *testing.T) {
	s := newTestStore(t)
	for _, p := range []string{"draft/a.ts", "draft/b.ts", "declarations/c.d.ts"} {
		require.NoError(t, s.Touch(p, Pull, "h"))
	}

	removed, err := s.Forget("draft/a.ts")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Forget("draft/a.ts")
	require.NoError(t, err)
	assert.False(t, removed)

	pruned, err := s.Prune(func(p string) bool { return p != "draft/b.ts" })
	require.NoError(t, err)
	assert.Equal(t, []string{"draft/b.ts"}, pruned)

	l, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"declarations/c.d.ts"}, l.Paths())
}

func TestSetWebdavID(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".b6p_metadata.json")
	s := NewStore(path, Ledger{ScriptName: "S", OrganizationRef: "U1"}, testLogger())

	require.NoError(t, s.SetWebdavID("dav-1"))

	l, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "dav-1", l.WebdavID)
}

func TestLedgerFileFormat(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Touch("draft/scripts/a.ts", Push, "abc"))
	require.NoError(t, s.Touch("declarations/index.d.ts", Pull, "def"))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "ledger", data)
}

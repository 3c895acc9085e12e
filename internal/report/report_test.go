package report

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(kind Kind) *Record {
	code := 0
	return &Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Command:   "ccextractor /in.ts --stdout",
		Args:      []string{"/in.ts", "--stdout"},
		ExitCode:  &code,
		Stdout:    "1\n00:00:01,000 --> 00:00:02,000\nHELLO\n",
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// countingStore records how often the backing store is hit.
type countingStore struct {
	mu    sync.Mutex
	recs  map[string]*Record
	loads int
}

func newCountingStore() *countingStore {
	return &countingStore{recs: make(map[string]*Record)}
}

func (s *countingStore) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = rec
	return nil
}

func (s *countingStore) Load(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	rec, ok := s.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func TestDiskStore_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	s := NewDiskStore(dir)
	rec := newRecord(Extract)
	rec.OutputFile = "/out/in.srt"

	require.NoError(t, s.Save(rec))
	assert.FileExists(t, filepath.Join(dir, rec.ID+".json"))

	got, err := s.Load(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestDiskStore_TempDir(t *testing.T) {
	s := NewDiskStore("")
	rec := newRecord(Version)
	require.NoError(t, s.Save(rec))
	dir := s.dir
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	assert.Contains(t, filepath.Base(dir), "ccxmcp-runs-")
	got, err := s.Load(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, Version, got.Kind)

	require.NoError(t, s.Close())
	assert.NoDirExists(t, dir)
	_, err = s.Load(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Close())
}

func TestDiskStore_CloseKeepsGivenDir(t *testing.T) {
	dir := t.TempDir()
	s := NewDiskStore(dir)
	rec := newRecord(Extract)
	require.NoError(t, s.Save(rec))

	require.NoError(t, s.Close())
	assert.FileExists(t, filepath.Join(dir, rec.ID+".json"))
}

func TestDiskStore_NotFound(t *testing.T) {
	s := NewDiskStore(t.TempDir())

	_, err := s.Load(uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Load("../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLRUStore_HitDoesNotTouchBackingStore(t *testing.T) {
	back := newCountingStore()
	s := NewLRUStore(2, back)
	rec := newRecord(Extract)
	require.NoError(t, s.Save(rec))

	got, err := s.Load(rec.ID)
	require.NoError(t, err)
	assert.Same(t, rec, got)
	assert.Zero(t, back.loads)
}

func TestLRUStore_EvictionFallsBackToDisk(t *testing.T) {
	back := NewDiskStore(t.TempDir())
	s := NewLRUStore(2, back)

	first := newRecord(Extract)
	require.NoError(t, s.Save(first))
	require.NoError(t, s.Save(newRecord(Extract)))
	require.NoError(t, s.Save(newRecord(Extract)))

	_, cached := s.cache.Peek(first.ID)
	assert.False(t, cached, "oldest record evicted")

	got, err := s.Load(first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, first.Stdout, got.Stdout)

	_, cached = s.cache.Peek(first.ID)
	assert.True(t, cached, "loaded record promoted")
}

func TestLRUStore_Recent(t *testing.T) {
	s := NewLRUStore(3, newCountingStore())
	a, b, c := newRecord(Extract), newRecord(Extract), newRecord(Version)
	for _, r := range []*Record{a, b, c} {
		require.NoError(t, s.Save(r))
	}
	_, err := s.Load(a.ID)
	require.NoError(t, err)

	recent := s.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, []string{a.ID, c.ID, b.ID}, []string{recent[0].ID, recent[1].ID, recent[2].ID})
}

func TestLRUStore_MissingPropagatesError(t *testing.T) {
	s := NewLRUStore(1, newCountingStore())
	_, err := s.Load("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLRUStore_MemoryOnly(t *testing.T) {
	s := NewLRUStore(1, nil)
	first, second := newRecord(Extract), newRecord(Version)
	require.NoError(t, s.Save(first))

	got, err := s.Load(first.ID)
	require.NoError(t, err)
	assert.Same(t, first, got)

	require.NoError(t, s.Save(second))
	_, err = s.Load(first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecord_Expect(t *testing.T) {
	rec := newRecord(Version)
	assert.NoError(t, rec.Expect(Version))
	err := rec.Expect(Extract)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a version run, not a extract run")
}

func TestKind_Valid(t *testing.T) {
	assert.True(t, Extract.Valid())
	assert.True(t, Version.Valid())
	assert.False(t, Kind("").Valid())
	assert.False(t, Kind("subtitle").Valid())
}

func TestRecord_Succeeded(t *testing.T) {
	rec := newRecord(Extract)
	assert.True(t, rec.Succeeded())

	rec.TimedOut = true
	assert.False(t, rec.Succeeded())

	rec.TimedOut = false
	rec.ExitCode = nil
	assert.False(t, rec.Succeeded())
}

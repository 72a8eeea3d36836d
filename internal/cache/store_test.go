package cache_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bowen577/KNMI-EPW-Generator/internal/cache"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/observability"
)

// --- helpers ---

func makeStore(t *testing.T, dir string, maxSizeMB int) *cache.Store {
	t.Helper()
	s, err := cache.NewStore(dir, maxSizeMB, time.Hour, slog.Default(), observability.NewMetricsForTesting())
	require.NoError(t, err)
	return s
}

func freezeClock(t *testing.T) *clockwork.FakeClock {
	t.Helper()
	fake := clockwork.NewFakeClockAt(time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC))
	cache.SetClock(fake)
	t.Cleanup(func() { cache.SetClock(nil) })
	return fake
}

// payloadFiles lists cached payload files, excluding the index itself.
func payloadFiles(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	for _, ext := range []string{".bin", ".csv", ".json"} {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+ext))
		require.NoError(t, err)
		for _, m := range matches {
			if filepath.Base(m) != "cache_metadata.json" {
				files = append(files, m)
			}
		}
	}
	return files
}

// --- tests ---

func TestStore_MissOnUnknownKey(t *testing.T) {
	s := makeStore(t, t.TempDir(), 10)

	_, ok := s.Get("never_set")
	assert.False(t, ok)
	assert.False(t, s.Has("never_set"))
}

func TestStore_Roundtrip(t *testing.T) {
	s := makeStore(t, t.TempDir(), 10)
	payload := []byte("station,year\n260,2023\n")

	s.Set("raw_260_2023", payload, 0, cache.TypeTable)

	got, ok := s.Get("raw_260_2023")
	require.True(t, ok)
	assert.Equal(t, payload, got)
	assert.True(t, s.Has("raw_260_2023"))
}

func TestStore_TTLExpiry(t *testing.T) {
	fake := freezeClock(t)
	dir := t.TempDir()
	s := makeStore(t, dir, 10)

	s.Set("short", []byte("soon gone"), 30*time.Minute, cache.TypeBlob)
	s.Set("long", []byte("still here"), 0, cache.TypeBlob) // store default, 1h

	fake.Advance(30*time.Minute + time.Second)

	t.Run("expired entry misses without being deleted", func(t *testing.T) {
		_, ok := s.Get("short")
		assert.False(t, ok)
		assert.False(t, s.Has("short"))
		// Lazy expiry: the payload file is untouched until the next Set sweeps.
		assert.Len(t, payloadFiles(t, dir), 2)

		st := s.Stats()
		assert.Equal(t, 2, st.Entries)
		assert.Equal(t, 1, st.Expired)
	})

	t.Run("unexpired entry still hits", func(t *testing.T) {
		got, ok := s.Get("long")
		require.True(t, ok)
		assert.Equal(t, []byte("still here"), got)
	})

	t.Run("next Set sweeps expired entries off disk", func(t *testing.T) {
		s.Set("fresh", []byte("new"), 0, cache.TypeBlob)

		st := s.Stats()
		assert.Equal(t, 2, st.Entries) // long + fresh
		assert.Equal(t, 0, st.Expired)
		assert.Len(t, payloadFiles(t, dir), 2)
	})
}

func TestStore_CorruptPayloadIsAMiss(t *testing.T) {
	dir := t.TempDir()
	s := makeStore(t, dir, 10)

	s.Set("tampered", []byte("original payload"), 0, cache.TypeBlob)

	files := payloadFiles(t, dir)
	require.Len(t, files, 1)
	require.NoError(t, os.WriteFile(files[0], []byte("flipped bits"), 0o644))

	_, ok := s.Get("tampered")
	assert.False(t, ok, "integrity mismatch must read as a miss, not an error")
	assert.False(t, s.Has("tampered"))
}

func TestStore_MissingPayloadIsAMiss(t *testing.T) {
	dir := t.TempDir()
	s := makeStore(t, dir, 10)

	s.Set("vanished", []byte("payload"), 0, cache.TypeBlob)
	for _, f := range payloadFiles(t, dir) {
		require.NoError(t, os.Remove(f))
	}

	_, ok := s.Get("vanished")
	assert.False(t, ok)
}

func TestStore_LRUEviction(t *testing.T) {
	fake := freezeClock(t)
	dir := t.TempDir()
	s := makeStore(t, dir, 1) // 1 MiB cap

	pad := func(n int) []byte { return make([]byte, n) }
	const small = 300 * 1024

	s.Set("a", pad(small), 0, cache.TypeBlob)
	fake.Advance(time.Second)
	s.Set("b", pad(small), 0, cache.TypeBlob)
	fake.Advance(time.Second)
	s.Set("c", pad(small), 0, cache.TypeBlob)
	fake.Advance(time.Second)

	// Freshen a so its last access beats b and c.
	_, ok := s.Get("a")
	require.True(t, ok)
	fake.Advance(time.Second)

	// 600 KiB pushes the total past 1 MiB; b and c carry the oldest
	// last-access stamps and must be the exact eviction set.
	s.Set("d", pad(600*1024), 0, cache.TypeBlob)

	assert.True(t, s.Has("a"), "freshened entry must survive")
	assert.False(t, s.Has("b"))
	assert.False(t, s.Has("c"))
	assert.True(t, s.Has("d"), "newly written entry must survive")

	st := s.Stats()
	assert.Equal(t, 2, st.Entries)
	assert.LessOrEqual(t, st.TotalBytes, int64(1024*1024))
	assert.Len(t, payloadFiles(t, dir), 2)
}

func TestStore_EvictionStopsInsideLimit(t *testing.T) {
	fake := freezeClock(t)
	s := makeStore(t, t.TempDir(), 1)

	s.Set("a", make([]byte, 400*1024), 0, cache.TypeBlob)
	fake.Advance(time.Second)
	s.Set("b", make([]byte, 400*1024), 0, cache.TypeBlob)
	fake.Advance(time.Second)
	s.Set("c", make([]byte, 400*1024), 0, cache.TypeBlob)

	// Only a, the oldest, needs to go: b and c fit the cap.
	assert.False(t, s.Has("a"))
	assert.True(t, s.Has("b"))
	assert.True(t, s.Has("c"))
}

func TestStore_DeleteAndClear(t *testing.T) {
	dir := t.TempDir()
	s := makeStore(t, dir, 10)

	s.Set("one", []byte("1"), 0, cache.TypeBlob)
	s.Set("two", []byte("2"), 0, cache.TypeTable)
	s.Set("three", []byte("3"), 0, cache.TypeRecord)

	s.Delete("two")
	assert.False(t, s.Has("two"))
	assert.True(t, s.Has("one"))
	s.Delete("two") // absent key is a no-op

	s.Clear()
	assert.False(t, s.Has("one"))
	assert.False(t, s.Has("three"))
	assert.Empty(t, payloadFiles(t, dir))
	assert.Equal(t, 0, s.Stats().Entries)
}

func TestStore_JSONRoundtrip(t *testing.T) {
	s := makeStore(t, t.TempDir(), 10)

	type outcome struct {
		Station string `json:"station"`
		Year    int    `json:"year"`
		Success bool   `json:"success"`
	}
	s.SetJSON("batch_result_260_2023", outcome{Station: "260", Year: 2023, Success: true}, 0)

	var got outcome
	require.True(t, s.GetJSON("batch_result_260_2023", &got))
	assert.Equal(t, outcome{Station: "260", Year: 2023, Success: true}, got)

	t.Run("non-JSON payload does not decode", func(t *testing.T) {
		s.Set("binary", []byte{0x01, 0x02}, 0, cache.TypeBlob)
		var v outcome
		assert.False(t, s.GetJSON("binary", &v))
	})
}

func TestStore_IndexPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s1 := makeStore(t, dir, 10)
	s1.Set("persisted", []byte("survives reopen"), 0, cache.TypeBlob)

	s2 := makeStore(t, dir, 10)
	got, ok := s2.Get("persisted")
	require.True(t, ok)
	assert.Equal(t, []byte("survives reopen"), got)
}

func TestStore_CorruptIndexStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cache_metadata.json"), []byte("{not json"), 0o644))

	s := makeStore(t, dir, 10)
	assert.Equal(t, 0, s.Stats().Entries)

	// Store remains usable.
	s.Set("k", []byte("v"), 0, cache.TypeBlob)
	assert.True(t, s.Has("k"))
}

func TestStore_HasDoesNotFreshen(t *testing.T) {
	fake := freezeClock(t)
	s := makeStore(t, t.TempDir(), 1)

	s.Set("a", make([]byte, 400*1024), 0, cache.TypeBlob)
	fake.Advance(time.Second)
	s.Set("b", make([]byte, 400*1024), 0, cache.TypeBlob)
	fake.Advance(time.Second)

	// Has must not update a's last access, so a stays the eviction victim.
	require.True(t, s.Has("a"))
	fake.Advance(time.Second)

	s.Set("c", make([]byte, 400*1024), 0, cache.TypeBlob)

	assert.False(t, s.Has("a"))
	assert.True(t, s.Has("b"))
	assert.True(t, s.Has("c"))
}

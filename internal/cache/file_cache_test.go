package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tile struct {
	ContentType string
	Body        []byte
}

func TestFileCache_RoundTrip(t *testing.T) {
	fc := NewFileCacheAt[tile](t.TempDir(), 0)
	key := fc.GenerateKey("INDICES", 0, 1, "2025-01-01")

	_, ok := fc.Get(key)
	assert.False(t, ok)

	want := tile{ContentType: "image/tiff", Body: []byte{1, 2, 3}}
	require.NoError(t, fc.Set(key, want))

	got, ok := fc.Get(key)
	require.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, fc.Delete(key))
	_, ok = fc.Get(key)
	assert.False(t, ok)
	assert.NoError(t, fc.Delete(key))
}

func TestFileCache_KeysAreStable(t *testing.T) {
	fc := NewFileCacheAt[tile](t.TempDir(), 0)
	assert.Equal(t, fc.GenerateKey("a", 1), fc.GenerateKey("a", 1))
	assert.NotEqual(t, fc.GenerateKey("a", 1), fc.GenerateKey("a", 2))
}

func TestFileCache_Corruption(t *testing.T) {
	dir := t.TempDir()
	fc := NewFileCacheAt[tile](dir, 0)
	require.NoError(t, fc.Set("k", tile{Body: []byte("payload")}))

	path := filepath.Join(dir, "k.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(raw[:len(raw)-2], []byte("x}")...), 0o644))

	_, ok := fc.Get("k")
	assert.False(t, ok)
}

func TestFileCache_Expiry(t *testing.T) {
	fc := NewFileCacheAt[tile](t.TempDir(), time.Hour)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	fc.now = func() time.Time { return now }
	require.NoError(t, fc.Set("k", tile{Body: []byte("x")}))

	_, ok := fc.Get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	_, ok = fc.Get("k")
	assert.False(t, ok)
}

package mods

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func md5Hex(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestHashCacheComputesDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wad")
	require.NoError(t, os.WriteFile(path, []byte("content-A"), 0644))

	h, err := OpenHashCache("")
	require.NoError(t, err)
	defer h.Close()

	digest, err := h.MD5(path)
	require.NoError(t, err)
	assert.Equal(t, md5Hex("content-A"), digest)

	again, err := h.MD5(path)
	require.NoError(t, err)
	assert.Equal(t, digest, again)
}

func TestHashCachePersistsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.wad")
	dbPath := filepath.Join(dir, "hashcache.db")
	require.NoError(t, os.WriteFile(path, []byte("content-A"), 0644))
	info, err := os.Stat(path)
	require.NoError(t, err)

	h1, err := OpenHashCache(dbPath)
	require.NoError(t, err)
	first, err := h1.MD5(path)
	require.NoError(t, err)
	require.NoError(t, h1.Close())

	// Same size and mtime but different bytes: a fresh process must trust
	// the persisted digest instead of re-hashing.
	require.NoError(t, os.WriteFile(path, []byte("content-B"), 0644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	h2, err := OpenHashCache(dbPath)
	require.NoError(t, err)
	defer h2.Close()

	second, err := h2.MD5(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHashCacheInvalidatesOnModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.wad")
	require.NoError(t, os.WriteFile(path, []byte("content-A"), 0644))

	h, err := OpenHashCache(filepath.Join(dir, "hashcache.db"))
	require.NoError(t, err)
	defer h.Close()

	first, err := h.MD5(path)
	require.NoError(t, err)
	assert.Equal(t, md5Hex("content-A"), first)

	require.NoError(t, os.WriteFile(path, []byte("content-A plus more"), 0644))

	second, err := h.MD5(path)
	require.NoError(t, err)
	assert.Equal(t, md5Hex("content-A plus more"), second)
	assert.NotEqual(t, first, second)
}

func TestHashCacheMissingFile(t *testing.T) {
	h, err := OpenHashCache("")
	require.NoError(t, err)
	defer h.Close()

	_, err = h.MD5(filepath.Join(t.TempDir(), "nope.wad"))
	assert.Error(t, err)
}

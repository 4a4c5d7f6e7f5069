package mods

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cloudflare/golibs/lrucache"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	hashCacheCapacity = 4096
	hashCacheTTL      = time.Hour
)

// HashCache memoizes file digests across scans. Lookups hit an in-process
// LRU first and a persistent sqlite table second, both keyed by the file's
// path, size and mtime, so a rewritten file is always re-hashed.
type HashCache struct {
	cache *lrucache.LRUCache
	db    *sql.DB // nil when running memory-only
}

// OpenHashCache opens the digest cache at dbPath, creating it as needed.
// An empty dbPath keeps the cache memory-only.
func OpenHashCache(dbPath string) (*HashCache, error) {
	h := &HashCache{cache: lrucache.NewLRUCache(hashCacheCapacity)}
	if dbPath == "" {
		return h, nil
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open hash cache")
	}
	schema := `
	CREATE TABLE IF NOT EXISTS file_md5 (
		path TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		mtime_ns INTEGER NOT NULL,
		md5 TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "cannot initialize hash cache schema")
	}
	h.db = db
	return h, nil
}

func (h *HashCache) Close() error {
	if h.db == nil {
		return nil
	}
	return h.db.Close()
}

// MD5 returns the hex digest of the file at path, from cache when the
// file's size and mtime are unchanged since it was last hashed.
func (h *HashCache) MD5(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	size := info.Size()
	mtimeNS := info.ModTime().UnixNano()
	key := fmt.Sprintf("%s|%d|%d", path, size, mtimeNS)

	if cached, ok := h.cache.GetNotStale(key); ok {
		if digest, ok := cached.(string); ok {
			return digest, nil
		}
	}
	if digest, ok := h.lookupPersistent(path, size, mtimeNS); ok {
		h.cache.Set(key, digest, time.Now().Add(hashCacheTTL))
		return digest, nil
	}

	digest, err := fileMD5(path)
	if err != nil {
		return "", err
	}
	h.cache.Set(key, digest, time.Now().Add(hashCacheTTL))
	h.storePersistent(path, size, mtimeNS, digest)
	return digest, nil
}

func (h *HashCache) lookupPersistent(path string, size, mtimeNS int64) (string, bool) {
	if h.db == nil {
		return "", false
	}
	var (
		gotSize  int64
		gotMtime int64
		digest   string
	)
	err := h.db.QueryRow(
		"SELECT size, mtime_ns, md5 FROM file_md5 WHERE path = ?", path,
	).Scan(&gotSize, &gotMtime, &digest)
	if err != nil || gotSize != size || gotMtime != mtimeNS {
		return "", false
	}
	return digest, true
}

// storePersistent is best-effort: a write failure only costs a re-hash on
// some later scan.
func (h *HashCache) storePersistent(path string, size, mtimeNS int64, digest string) {
	if h.db == nil {
		return
	}
	_, _ = h.db.Exec(
		"INSERT INTO file_md5 (path, size, mtime_ns, md5) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(path) DO UPDATE SET size = excluded.size, mtime_ns = excluded.mtime_ns, md5 = excluded.md5",
		path, size, mtimeNS, digest,
	)
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

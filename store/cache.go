// Package store caches compiled program images in SQLite, keyed by the
// source they were compiled from.
package store

import (
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chazu/jary/compiler"
	"github.com/chazu/jary/vm/dist"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("jary.store")

// ErrNotFound indicates no image is cached under the key.
var ErrNotFound = errors.New("program not cached")

// Key identifies cached source. It covers the image version, so images
// from an incompatible build are never returned.
type Key [32]byte

// SourceKey derives the cache key for src compiled under name.
func SourceKey(name, src string) Key {
	h := sha256.New()
	h.Write([]byte{dist.ImageVersion})
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(src))
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// Entry describes one cached program.
type Entry struct {
	Key     Key
	Name    string
	Hash    [32]byte
	Size    int
	Hits    int
	Created time.Time
}

// Cache is a SQLite-backed program cache.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		key     BLOB PRIMARY KEY,
		name    TEXT NOT NULL,
		hash    BLOB NOT NULL,
		image   BLOB NOT NULL,
		hits    INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &Cache{db: db, path: path}, nil
}

// Path returns the database path.
func (c *Cache) Path() string {
	return c.path
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Put stores img under key, replacing any previous entry.
func (c *Cache) Put(key Key, name string, img *dist.Image) error {
	data, err := dist.MarshalImage(img)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO programs (key, name, hash, image, hits, created) VALUES (?, ?, ?, ?, 0, ?)",
		key[:], name, img.Hash[:], data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	return nil
}

// Get returns the image cached under key. Images that fail verification are
// evicted and reported as not found.
func (c *Cache) Get(key Key) (*dist.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte
	err := c.db.QueryRow("SELECT image FROM programs WHERE key = ?", key[:]).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying program: %w", err)
	}

	img, err := dist.UnmarshalImage(data)
	if err != nil {
		log.Warningf("evicting cached program %x: %s", key[:8], err)
		if _, derr := c.db.Exec("DELETE FROM programs WHERE key = ?", key[:]); derr != nil {
			return nil, fmt.Errorf("evicting program: %w", derr)
		}
		return nil, ErrNotFound
	}
	if _, err := c.db.Exec("UPDATE programs SET hits = hits + 1 WHERE key = ?", key[:]); err != nil {
		return nil, fmt.Errorf("counting hit: %w", err)
	}
	return img, nil
}

// Compile returns the cached image for src, compiling and caching it on a
// miss. hit reports whether the cache answered.
func (c *Cache) Compile(name, src string, opts ...compiler.Option) (img *dist.Image, hit bool, err error) {
	key := SourceKey(name, src)
	img, err = c.Get(key)
	if err == nil {
		return img, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	prog, err := compiler.CompileSource(name, src, opts...)
	if err != nil {
		return nil, false, err
	}
	img, err = dist.FromProgram(prog)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(key, name, img); err != nil {
		return nil, false, err
	}
	log.Debugf("cached %s as %x", name, img.Hash[:8])
	return img, false, nil
}

// List returns every cached entry, newest first.
func (c *Cache) List() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query("SELECT key, name, hash, length(image), hits, created FROM programs ORDER BY created DESC, name")
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var key, hash []byte
		var created int64
		if err := rows.Scan(&key, &e.Name, &hash, &e.Size, &e.Hits, &created); err != nil {
			return nil, fmt.Errorf("scanning program: %w", err)
		}
		copy(e.Key[:], key)
		copy(e.Hash[:], hash)
		e.Created = time.Unix(created, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries created before cutoff and returns how many went.
func (c *Cache) Prune(cutoff time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM programs WHERE created < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning programs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

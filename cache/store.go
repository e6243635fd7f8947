// Package cache persists compiled function bodies between runs. Bodies
// live in files under a cache directory; a sqlite index maps each
// function name and body hash to its file.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/2b45/zeek/vm"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("zam.cache")

// IndexFile is the name of the index database inside the cache directory.
const IndexFile = "index.db"

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	func    TEXT NOT NULL,
	hash    TEXT NOT NULL,
	file    TEXT NOT NULL,
	size    INTEGER NOT NULL,
	created INTEGER NOT NULL,
	PRIMARY KEY (func, hash)
)`

// ErrNoResolver is returned by Load before SetResolver was called.
var ErrNoResolver = errors.New("cache: no resolver set")

// Entry describes one cached body.
type Entry struct {
	Func    string
	Hash    string
	File    string
	Size    int64
	Created time.Time
}

// Store is a directory of compiled bodies. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	dir      string
	db       *sql.DB
	resolver Resolver
}

// Open opens the cache in dir, creating the directory and its index as
// needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, fmt.Errorf("cache: open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Several processes may share one cache directory.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create index: %w", err)
	}
	log.Debugf("opened cache in %s", dir)
	return &Store{dir: dir, db: db}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// SetResolver sets the names Load resolves persisted bodies against.
func (s *Store) SetResolver(r Resolver) {
	s.mu.Lock()
	s.resolver = r
	s.mu.Unlock()
}

// Close closes the index.
func (s *Store) Close() error { return s.db.Close() }

// Load returns the body cached for fn with the given hash and the file it
// was read from. A miss returns a nil body. A missing file or one written
// by another format version counts as a miss and is dropped from the index.
func (s *Store) Load(fn, hash string) (*vm.Code, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolver == nil {
		return nil, "", ErrNoResolver
	}

	var file string
	err := s.db.QueryRow(`SELECT file FROM entries WHERE func = ? AND hash = ?`, fn, hash).Scan(&file)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("cache: lookup %s: %w", fn, err)
	}

	path := filepath.Join(s.dir, file)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warningf("cache entry for %s lost its file %s", fn, file)
		return nil, "", s.deleteLocked(fn, hash)
	}
	if err != nil {
		return nil, "", fmt.Errorf("cache: %w", err)
	}

	code, err := UnmarshalCode(data, s.resolver)
	if errors.Is(err, ErrVersion) {
		log.Infof("dropping %s: %s", file, err)
		return nil, "", s.deleteLocked(fn, hash)
	}
	if err != nil {
		return nil, "", err
	}
	return code, path, nil
}

// Save writes code for fn under hash, replacing any earlier entry, and
// returns the file it was written to.
func (s *Store) Save(fn, hash string, code *vm.Code) (string, error) {
	data, err := MarshalCode(code)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file := fileName(fn, hash)
	path := filepath.Join(s.dir, file)
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("cache: %w", err)
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO entries (func, hash, file, size, created) VALUES (?, ?, ?, ?, ?)`,
		fn, hash, file, len(data), time.Now().Unix())
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("cache: index %s: %w", fn, err)
	}
	return path, nil
}

// Delete removes the entry for fn under hash. Deleting a missing entry is
// not an error.
func (s *Store) Delete(fn, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(fn, hash)
}

func (s *Store) deleteLocked(fn, hash string) error {
	var file string
	err := s.db.QueryRow(`SELECT file FROM entries WHERE func = ? AND hash = ?`, fn, hash).Scan(&file)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache: lookup %s: %w", fn, err)
	}
	if err := os.Remove(filepath.Join(s.dir, file)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cache: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM entries WHERE func = ? AND hash = ?`, fn, hash); err != nil {
		return fmt.Errorf("cache: unindex %s: %w", fn, err)
	}
	return nil
}

// List returns every entry ordered by function name and creation time.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT func, hash, file, size, created FROM entries ORDER BY func, created, hash`)
	if err != nil {
		return nil, fmt.Errorf("cache: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.Func, &e.Hash, &e.File, &e.Size, &created); err != nil {
			return nil, fmt.Errorf("cache: list: %w", err)
		}
		e.Created = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Purge removes every entry for fn, or every entry when fn is empty, and
// returns how many were removed.
func (s *Store) Purge(fn string) (int, error) {
	entries, err := s.List()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range entries {
		if fn != "" && e.Func != fn {
			continue
		}
		if err := s.deleteLocked(e.Func, e.Hash); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		log.Infof("purged %d cache entries", n)
	}
	return n, nil
}

// fileName derives a file name from the function name and hash. Script
// names may contain "::", which is not safe in every file system, so the
// name is sanitized and a digest of the raw name keeps names that sanitize
// alike apart.
func fileName(fn, hash string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		}
		return '_'
	}, fn)
	if len(hash) > 16 {
		hash = hash[:16]
	}
	sum := sha256.Sum256([]byte(fn))
	return safe + "-" + hex.EncodeToString(sum[:4]) + "-" + hash + ".zam"
}

// writeAtomic writes data to a temporary file next to path and renames it
// into place.
func writeAtomic(path string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(path), ".tmp-"+uuid.New().String())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Package vfs provides the SQLite-backed virtual filesystem mounted by
// the FS, File and Directory prototypes. One database holds a flat `files`
// table keyed by path, with CBOR-encoded metadata and the content blob.
package vfs

import (
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/m8rgo/vm"
)

var log = commonlog.GetLogger("m8r.vfs")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborEncMode = em
}

// ErrNotFound indicates the requested file doesn't exist.
var ErrNotFound = errors.New("file not found")

// fileMeta is the CBOR-encoded metadata record stored beside each blob.
type fileMeta struct {
	Name     string `cbor:"1,keyasint"`
	Size     int64  `cbor:"2,keyasint"`
	Created  int64  `cbor:"3,keyasint"`
	Modified int64  `cbor:"4,keyasint"`
}

// FS is a mounted filesystem. It satisfies vm.FileSystem.
type FS struct {
	db *sql.DB
	mu sync.Mutex
}

// Open mounts (creating if needed) the filesystem at dbPath. Use
// ":memory:" for an ephemeral filesystem.
func Open(dbPath string) (*FS, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening filesystem database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		meta BLOB NOT NULL,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating files table: %w", err)
	}
	log.Infof("mounted filesystem at %s", dbPath)
	return &FS{db: db}, nil
}

// Close unmounts the filesystem.
func (fs *FS) Close() error {
	return fs.db.Close()
}

func cleanPath(p string) string {
	p = path.Clean("/" + p)
	return p
}

func (fs *FS) load(p string) (fileMeta, []byte, error) {
	var metaBlob, data []byte
	err := fs.db.QueryRow("SELECT meta, data FROM files WHERE path = ?", p).Scan(&metaBlob, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return fileMeta{}, nil, ErrNotFound
	}
	if err != nil {
		return fileMeta{}, nil, fmt.Errorf("loading %s: %w", p, err)
	}
	var meta fileMeta
	if err := cbor.Unmarshal(metaBlob, &meta); err != nil {
		return fileMeta{}, nil, fmt.Errorf("decoding metadata for %s: %w", p, err)
	}
	return meta, data, nil
}

func (fs *FS) store(p string, meta fileMeta, data []byte) error {
	meta.Size = int64(len(data))
	meta.Modified = time.Now().Unix()
	metaBlob, err := cborEncMode.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding metadata for %s: %w", p, err)
	}
	_, err = fs.db.Exec(
		"INSERT INTO files (path, meta, data) VALUES (?, ?, ?) "+
			"ON CONFLICT(path) DO UPDATE SET meta = excluded.meta, data = excluded.data",
		p, metaBlob, data)
	if err != nil {
		return fmt.Errorf("storing %s: %w", p, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// vm.FileSystem implementation
// ---------------------------------------------------------------------------

// Open opens a file. Modes: "r" read, "w" truncate, "a" append, "r+"
// read/write.
func (fs *FS) Open(p, mode string) (vm.FileHandle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p = cleanPath(p)
	meta, data, err := fs.load(p)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		if mode == "r" {
			return nil, err
		}
		meta = fileMeta{Name: path.Base(p), Created: time.Now().Unix()}
		data = nil
	default:
		return nil, err
	}

	f := &file{fs: fs, path: p, meta: meta, data: data}
	switch mode {
	case "r":
		f.readOnly = true
	case "w":
		f.data = nil
		f.dirty = true
	case "a":
		f.pos = int64(len(f.data))
	case "r+":
	default:
		return nil, fmt.Errorf("unsupported mode %q", mode)
	}
	return f, nil
}

// ReadDir lists the files directly under a directory path.
func (fs *FS) ReadDir(dir string) ([]vm.DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir = cleanPath(dir)
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	rows, err := fs.db.Query("SELECT path, meta FROM files WHERE path LIKE ? ORDER BY path", prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	defer rows.Close()

	var entries []vm.DirEntry
	for rows.Next() {
		var p string
		var metaBlob []byte
		if err := rows.Scan(&p, &metaBlob); err != nil {
			return nil, err
		}
		// Skip entries in subdirectories.
		if strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			continue
		}
		var meta fileMeta
		if err := cbor.Unmarshal(metaBlob, &meta); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", p, err)
		}
		entries = append(entries, vm.DirEntry{Name: meta.Name, Size: meta.Size})
	}
	return entries, rows.Err()
}

// Remove deletes a file.
func (fs *FS) Remove(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	res, err := fs.db.Exec("DELETE FROM files WHERE path = ?", cleanPath(p))
	if err != nil {
		return fmt.Errorf("removing %s: %w", p, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Format erases every file.
func (fs *FS) Format() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := fs.db.Exec("DELETE FROM files"); err != nil {
		return fmt.Errorf("formatting: %w", err)
	}
	log.Notice("filesystem formatted")
	return nil
}

// ReadFile is a host convenience used by the module loader.
func (fs *FS) ReadFile(p string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, data, err := fs.load(cleanPath(p))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile is a host convenience used by the CLI to seed scripts.
func (fs *FS) WriteFile(p string, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p = cleanPath(p)
	meta, _, err := fs.load(p)
	if errors.Is(err, ErrNotFound) {
		meta = fileMeta{Name: path.Base(p), Created: time.Now().Unix()}
	} else if err != nil {
		return err
	}
	return fs.store(p, meta, data)
}

// ---------------------------------------------------------------------------
// file: an open handle
// ---------------------------------------------------------------------------

type file struct {
	fs       *FS
	path     string
	meta     fileMeta
	data     []byte
	pos      int64
	readOnly bool
	dirty    bool
	closed   bool
}

func (f *file) Read(n int) ([]byte, error) {
	if f.closed {
		return nil, errors.New("file is closed")
	}
	if f.pos >= int64(len(f.data)) {
		return nil, nil
	}
	end := f.pos + int64(n)
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}
	out := make([]byte, end-f.pos)
	copy(out, f.data[f.pos:end])
	f.pos = end
	return out, nil
}

func (f *file) Write(data []byte) (int, error) {
	if f.closed {
		return 0, errors.New("file is closed")
	}
	if f.readOnly {
		return 0, errors.New("file is read-only")
	}
	end := f.pos + int64(len(data))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[f.pos:end], data)
	f.pos = end
	f.dirty = true
	return len(data), nil
}

func (f *file) Seek(offset int64) (int64, error) {
	if offset < 0 || offset > int64(len(f.data)) {
		return f.pos, errors.New("seek out of range")
	}
	f.pos = offset
	return f.pos, nil
}

func (f *file) Size() int64 { return int64(len(f.data)) }

func (f *file) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if !f.dirty {
		return nil
	}
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	return f.fs.store(f.path, f.meta, f.data)
}

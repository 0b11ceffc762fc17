package vm

// ---------------------------------------------------------------------------
// FileSystem: the host filesystem contract behind the FS prototypes
// ---------------------------------------------------------------------------

// FileHandle is an open file exposed to scripts through the File
// prototype.
type FileHandle interface {
	Read(n int) ([]byte, error)
	Write(data []byte) (int, error)
	Seek(offset int64) (int64, error)
	Size() int64
	Close() error
}

// DirEntry describes one directory listing entry.
type DirEntry struct {
	Name string
	Size int64
}

// FileSystem is implemented by the host's mounted filesystem; the vfs
// package provides the SQLite-backed implementation.
type FileSystem interface {
	// Open opens a file. Modes: "r", "w", "a", "r+".
	Open(path, mode string) (FileHandle, error)
	// ReadDir lists a directory.
	ReadDir(path string) ([]DirEntry, error)
	// Remove deletes a file.
	Remove(path string) error
	// Format erases the filesystem.
	Format() error
}

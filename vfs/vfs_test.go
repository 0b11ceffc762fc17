package vfs

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *FS {
	t.Helper()
	fs, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	t.Cleanup(func() { fs.Close() })
	return fs
}

func TestWriteReadRoundTrip(t *testing.T) {
	fs := openTemp(t)

	f, err := fs.Open("/data/hello.txt", "w")
	if err != nil {
		t.Fatalf("open for write: %s", err)
	}
	if n, err := f.Write([]byte("hello world")); err != nil || n != 11 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}

	r, err := fs.Open("/data/hello.txt", "r")
	if err != nil {
		t.Fatalf("open for read: %s", err)
	}
	data, err := r.Read(100)
	if err != nil {
		t.Fatalf("read: %s", err)
	}
	if string(data) != "hello world" {
		t.Errorf("read back %q", data)
	}
	if r.Size() != 11 {
		t.Errorf("Size = %d, want 11", r.Size())
	}
	r.Close()
}

func TestOpenMissingFile(t *testing.T) {
	fs := openTemp(t)
	if _, err := fs.Open("/absent", "r"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendMode(t *testing.T) {
	fs := openTemp(t)
	w, _ := fs.Open("/log", "w")
	w.Write([]byte("one"))
	w.Close()

	a, err := fs.Open("/log", "a")
	if err != nil {
		t.Fatalf("open append: %s", err)
	}
	a.Write([]byte("two"))
	a.Close()

	got, err := fs.ReadFile("/log")
	if err != nil {
		t.Fatal(err)
	}
	if got != "onetwo" {
		t.Errorf("appended content = %q", got)
	}
}

func TestSeek(t *testing.T) {
	fs := openTemp(t)
	w, _ := fs.Open("/f", "w")
	w.Write([]byte("abcdef"))
	if _, err := w.Seek(2); err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("XY"))
	w.Close()

	got, _ := fs.ReadFile("/f")
	if got != "abXYef" {
		t.Errorf("content after seek-write = %q", got)
	}
	w2, _ := fs.Open("/f", "r")
	if _, err := w2.Seek(100); err == nil {
		t.Error("seek past end must fail")
	}
	w2.Close()
}

func TestReadOnly(t *testing.T) {
	fs := openTemp(t)
	fs.WriteFile("/ro", []byte("x"))
	r, _ := fs.Open("/ro", "r")
	if _, err := r.Write([]byte("y")); err == nil {
		t.Error("write to read-only handle must fail")
	}
	r.Close()
}

func TestReadDir(t *testing.T) {
	fs := openTemp(t)
	fs.WriteFile("/dir/a.txt", []byte("aa"))
	fs.WriteFile("/dir/b.txt", []byte("bbbb"))
	fs.WriteFile("/dir/sub/c.txt", []byte("c"))
	fs.WriteFile("/other", []byte("o"))

	entries, err := fs.ReadDir("/dir")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %v, want 2 direct children", entries)
	}
	if entries[0].Name != "a.txt" || entries[0].Size != 2 {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Name != "b.txt" || entries[1].Size != 4 {
		t.Errorf("entry 1 = %+v", entries[1])
	}
}

func TestRemoveAndFormat(t *testing.T) {
	fs := openTemp(t)
	fs.WriteFile("/a", []byte("1"))
	fs.WriteFile("/b", []byte("2"))

	if err := fs.Remove("/a"); err != nil {
		t.Fatalf("remove: %s", err)
	}
	if err := fs.Remove("/a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove: %v", err)
	}

	if err := fs.Format(); err != nil {
		t.Fatalf("format: %s", err)
	}
	if _, err := fs.ReadFile("/b"); !errors.Is(err, ErrNotFound) {
		t.Error("format left files behind")
	}
}

func TestMetadataSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.db")

	fs, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	fs.WriteFile("/keep", []byte("data"))
	fs.Close()

	fs2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fs2.Close()
	got, err := fs2.ReadFile("/keep")
	if err != nil || got != "data" {
		t.Errorf("reopened read = (%q, %v)", got, err)
	}
	entries, _ := fs2.ReadDir("/")
	if len(entries) != 1 || entries[0].Name != "keep" || entries[0].Size != 4 {
		t.Errorf("reopened metadata = %+v", entries)
	}
}

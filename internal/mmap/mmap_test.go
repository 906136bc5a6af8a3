package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(path, []byte("conejo blanco"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if string(m.Data) != "conejo blanco" {
		t.Errorf("Data = %q", m.Data)
	}
	buf := make([]byte, 6)
	if _, err := m.ReadAt(buf, 7); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "blanco" {
		t.Errorf("ReadAt = %q", buf)
	}
	if _, err := m.ReadAt(buf, 10); err != io.EOF {
		t.Errorf("short ReadAt err = %v, want EOF", err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestOpen_EmptyAndMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	m, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d", m.Len())
	}
	_ = m.Close()

	if _, err := Open(filepath.Join(dir, "nope")); !os.IsNotExist(err) {
		t.Errorf("missing file err = %v", err)
	}
	if _, err := Open(dir); err == nil {
		t.Error("expected error for directory")
	}
}

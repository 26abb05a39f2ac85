package eeprom

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nuclearlighters/portald/internal/database"
)

func TestMemoryReadWriteCommit(t *testing.T) {
	m := NewMemory(64)

	if _, err := m.WriteAt([]byte("hello"), 10); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}
	got := make([]byte, 5)
	m.ReadAt(got, 10)
	if string(got) != "hello" {
		t.Errorf("ReadAt() before commit = %q, want buffered write", got)
	}

	m.Reboot()
	m.ReadAt(got, 10)
	if !bytes.Equal(got, make([]byte, 5)) {
		t.Errorf("uncommitted write survived reboot: %q", got)
	}

	m.WriteAt([]byte("hello"), 10)
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	m.Reboot()
	m.ReadAt(got, 10)
	if string(got) != "hello" {
		t.Errorf("committed write lost on reboot: %q", got)
	}
	if m.Commits() != 1 {
		t.Errorf("Commits() = %d, want 1", m.Commits())
	}
}

func TestMemoryCommitWithoutChangesIsFree(t *testing.T) {
	m := NewMemory(16)
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if m.Commits() != 0 {
		t.Errorf("Commits() = %d, want 0", m.Commits())
	}
}

func TestMemoryOutOfRange(t *testing.T) {
	m := NewMemory(16)

	tests := []struct {
		name string
		n    int
		off  int64
	}{
		{"negative offset", 1, -1},
		{"past end", 1, 16},
		{"straddles end", 4, 14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.WriteAt(make([]byte, tt.n), tt.off); !errors.Is(err, ErrOutOfRange) {
				t.Errorf("WriteAt() error = %v, want ErrOutOfRange", err)
			}
			if _, err := m.ReadAt(make([]byte, tt.n), tt.off); !errors.Is(err, ErrOutOfRange) {
				t.Errorf("ReadAt() error = %v, want ErrOutOfRange", err)
			}
		})
	}
}

func TestMemoryFailAfterPersistsPrefix(t *testing.T) {
	m := NewMemory(16)
	m.WriteAt([]byte("abcdefgh"), 4)
	m.FailAfter(3)

	if err := m.Commit(); !errors.Is(err, ErrCommit) {
		t.Fatalf("Commit() error = %v, want ErrCommit", err)
	}

	got := make([]byte, 8)
	m.ReadAt(got, 4)
	want := []byte{'a', 'b', 'c', 0, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("after interrupted commit = %q, want %q", got, want)
	}

	// The failure is one-shot.
	m.WriteAt([]byte("abcdefgh"), 4)
	if err := m.Commit(); err != nil {
		t.Fatalf("second Commit() error = %v", err)
	}
}

func TestSQLiteRegionSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eeprom.db")

	db, err := database.Open(path)
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	dev, err := OpenSQLite(db, 1, 128)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	if dev.Size() != 128 {
		t.Fatalf("Size() = %d, want 128", dev.Size())
	}

	dev.WriteAt([]byte("credential"), 32)
	if err := dev.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if n, _ := dev.Commits(); n != 1 {
		t.Errorf("Commits() = %d, want 1", n)
	}
	// Uncommitted data must not reach the database.
	dev.WriteAt([]byte("scratch"), 0)
	db.Close()

	db, err = database.Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()
	dev, err = OpenSQLite(db, 1, 128)
	if err != nil {
		t.Fatalf("OpenSQLite() reopen error = %v", err)
	}

	got := make([]byte, 10)
	dev.ReadAt(got, 32)
	if string(got) != "credential" {
		t.Errorf("ReadAt() after reopen = %q", got)
	}
	head := make([]byte, 7)
	dev.ReadAt(head, 0)
	if !bytes.Equal(head, make([]byte, 7)) {
		t.Errorf("uncommitted bytes persisted: %q", head)
	}
}

func TestSQLiteFailedCommitDiscardsWrites(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "eeprom.db"))
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()
	dev, err := OpenSQLite(db, 1, 64)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}

	dev.WriteAt([]byte("keep"), 0)
	if err := dev.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	// Without its row the region cannot be written.
	if _, err := db.Exec("DELETE FROM storage_regions WHERE id = 1"); err != nil {
		t.Fatal(err)
	}
	dev.WriteAt([]byte("lost"), 16)
	if err := dev.Commit(); !errors.Is(err, ErrCommit) {
		t.Fatalf("Commit() error = %v, want ErrCommit", err)
	}

	got := make([]byte, 4)
	dev.ReadAt(got, 16)
	if !bytes.Equal(got, make([]byte, 4)) {
		t.Errorf("ReadAt() after failed commit = %q, want the committed bytes", got)
	}
	dev.ReadAt(got, 0)
	if string(got) != "keep" {
		t.Errorf("ReadAt() lost committed bytes: %q", got)
	}

	restored := make([]byte, 64)
	copy(restored, "keep")
	if _, err := db.Exec("INSERT INTO storage_regions (id, size, data) VALUES (1, 64, ?)", restored); err != nil {
		t.Fatal(err)
	}
	dev.WriteAt([]byte("next"), 32)
	if err := dev.Commit(); err != nil {
		t.Fatalf("Commit() after restore error = %v", err)
	}

	reopened, err := OpenSQLite(db, 1, 64)
	if err != nil {
		t.Fatalf("OpenSQLite() reopen error = %v", err)
	}
	tests := []struct {
		off  int64
		want []byte
	}{
		{0, []byte("keep")},
		{16, make([]byte, 4)},
		{32, []byte("next")},
	}
	for _, tt := range tests {
		reopened.ReadAt(got, tt.off)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("stored bytes at %d = %q, want %q", tt.off, got, tt.want)
		}
	}
}

func TestSQLiteCommitOnClosedDatabase(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "eeprom.db"))
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	dev, err := OpenSQLite(db, 0, 32)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	db.Close()

	dev.WriteAt([]byte("orphan"), 0)
	if err := dev.Commit(); !errors.Is(err, ErrCommit) {
		t.Fatalf("Commit() error = %v, want ErrCommit", err)
	}
	got := make([]byte, 6)
	dev.ReadAt(got, 0)
	if !bytes.Equal(got, make([]byte, 6)) {
		t.Errorf("ReadAt() = %q, uncommitted bytes still visible", got)
	}
	if err := dev.Commit(); err != nil {
		t.Errorf("Commit() with nothing pending = %v", err)
	}
}

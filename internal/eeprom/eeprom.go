// Package eeprom models the byte-addressable persistent storage region that
// holds credential records. Writes are buffered and reach the media only on
// Commit, so callers control exactly how many physical writes happen.
package eeprom

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned for accesses beyond the region.
	ErrOutOfRange = errors.New("eeprom: access out of range")
	// ErrCommit is returned when the media rejected a commit.
	ErrCommit = errors.New("eeprom: commit failed")
)

// Device is a fixed-size byte region with buffered writes.
type Device interface {
	// Size returns the region length in bytes.
	Size() int
	ReadAt(p []byte, off int64) (int, error)
	// WriteAt modifies the write buffer only.
	WriteAt(p []byte, off int64) (int, error)
	// Commit persists the write buffer in one physical write.
	Commit() error
}

// buffer is the shared write-back cache used by the concrete devices.
type buffer struct {
	data  []byte
	dirty bool
	lo    int // dirty range [lo, hi)
	hi    int
}

func newBuffer(size int) buffer {
	return buffer{data: make([]byte, size)}
}

func (b *buffer) check(n int, off int64) error {
	if off < 0 || int64(n) > int64(len(b.data))-off {
		return fmt.Errorf("%w: %d bytes at %d, size %d", ErrOutOfRange, n, off, len(b.data))
	}
	return nil
}

func (b *buffer) readAt(p []byte, off int64) (int, error) {
	if err := b.check(len(p), off); err != nil {
		return 0, err
	}
	return copy(p, b.data[off:]), nil
}

func (b *buffer) writeAt(p []byte, off int64) (int, error) {
	if err := b.check(len(p), off); err != nil {
		return 0, err
	}
	n := copy(b.data[off:], p)
	if n == 0 {
		return 0, nil
	}
	start, end := int(off), int(off)+n
	if !b.dirty {
		b.lo, b.hi = start, end
	} else {
		b.lo = min(b.lo, start)
		b.hi = max(b.hi, end)
	}
	b.dirty = true
	return n, nil
}

func (b *buffer) clean() {
	b.dirty = false
	b.lo, b.hi = 0, 0
}

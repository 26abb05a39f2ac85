package eeprom

// Memory is a RAM-backed Device. Committed bytes live in a separate media
// slice so an interrupted commit can be simulated with FailAfter.
type Memory struct {
	buf     buffer
	media   []byte
	failAt  int // bytes persisted by the next commit before it fails, -1 for none
	commits int
}

// NewMemory returns an erased region of the given size.
func NewMemory(size int) *Memory {
	return &Memory{
		buf:    newBuffer(size),
		media:  make([]byte, size),
		failAt: -1,
	}
}

func (m *Memory) Size() int { return len(m.media) }

func (m *Memory) ReadAt(p []byte, off int64) (int, error) { return m.buf.readAt(p, off) }

func (m *Memory) WriteAt(p []byte, off int64) (int, error) { return m.buf.writeAt(p, off) }

// Commit copies the dirty range to media in ascending address order.
func (m *Memory) Commit() error {
	if !m.buf.dirty {
		return nil
	}
	m.commits++
	lo, hi := m.buf.lo, m.buf.hi
	if m.failAt >= 0 {
		n := min(m.failAt, hi-lo)
		copy(m.media[lo:lo+n], m.buf.data[lo:lo+n])
		m.failAt = -1
		// The cache now reflects what actually reached the media.
		copy(m.buf.data, m.media)
		m.buf.clean()
		return ErrCommit
	}
	copy(m.media[lo:hi], m.buf.data[lo:hi])
	m.buf.clean()
	return nil
}

// FailAfter makes the next commit persist only n bytes and then fail, the
// way a power cut in the middle of a flash write would.
func (m *Memory) FailAfter(n int) { m.failAt = n }

// Reboot drops uncommitted writes, as a restart would.
func (m *Memory) Reboot() {
	copy(m.buf.data, m.media)
	m.buf.clean()
}

// Commits returns the number of physical writes performed.
func (m *Memory) Commits() int { return m.commits }

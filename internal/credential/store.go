package credential

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/nuclearlighters/portald/internal/eeprom"
)

// Store reads and writes credential records. Records are addressed by byte
// offset; a store created with more than one slot lays them out back to back
// starting at its base offset.
type Store struct {
	dev   eeprom.Device
	base  int
	slots int
}

// Entry is a stored credential together with where it lives.
type Entry struct {
	Slot   int
	Offset int
	Credential
}

// NewStore returns a store over dev with slots records starting at base.
func NewStore(dev eeprom.Device, base, slots int) *Store {
	if slots < 1 {
		slots = 1
	}
	return &Store{dev: dev, base: base, slots: slots}
}

// Base returns the offset of the first slot.
func (s *Store) Base() int { return s.base }

// Slots returns the number of configured slots.
func (s *Store) Slots() int { return s.slots }

// SlotOffset returns the storage offset of slot i.
func (s *Store) SlotOffset(i int) int { return s.base + i*RecordSize }

func (s *Store) fits(off int) bool {
	return off >= 0 && off+RecordSize <= s.dev.Size()
}

func (s *Store) read(off int) ([]byte, error) {
	if !s.fits(off) {
		return nil, ErrNotFound
	}
	rec := make([]byte, RecordSize)
	if _, err := s.dev.ReadAt(rec, int64(off)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFault, err)
	}
	return rec, nil
}

// Exists reports whether a record marker is present at off. It does not
// verify the checksum; Load does.
func (s *Store) Exists(off int) bool {
	rec, err := s.read(off)
	if err != nil {
		return false
	}
	_, err = decode(rec)
	return !errors.Is(err, ErrNotFound)
}

// Load reads and validates the record at off.
func (s *Store) Load(off int) (Credential, error) {
	rec, err := s.read(off)
	if err != nil {
		return Credential{}, err
	}
	return decode(rec)
}

// Save writes c at off with a single commit.
func (s *Store) Save(off int, c Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !s.fits(off) {
		return fmt.Errorf("%w: offset %d, region %d bytes", ErrStorageFull, off, s.dev.Size())
	}
	if _, err := s.dev.WriteAt(c.encode(), int64(off)); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFault, err)
	}
	if err := s.dev.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFault, err)
	}
	log.Debug().Int("offset", off).Str("ssid", c.SSID).Msg("Credential saved")
	return nil
}

// Erase invalidates the record at off by clearing its marker. The payload
// bytes are left in place.
func (s *Store) Erase(off int) error {
	if !s.Exists(off) {
		return nil
	}
	if _, err := s.dev.WriteAt(make([]byte, len(marker)), int64(off+markOffset)); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFault, err)
	}
	if err := s.dev.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFault, err)
	}
	log.Debug().Int("offset", off).Msg("Credential erased")
	return nil
}

// Entries returns every slot holding a valid record. Corrupt slots are
// skipped and logged.
func (s *Store) Entries() []Entry {
	var entries []Entry
	for i := 0; i < s.slots; i++ {
		off := s.SlotOffset(i)
		c, err := s.Load(off)
		switch {
		case err == nil:
			entries = append(entries, Entry{Slot: i, Offset: off, Credential: c})
		case errors.Is(err, ErrCorrupt):
			log.Warn().Int("slot", i).Int("offset", off).Msg("Skipping corrupt credential slot")
		}
	}
	return entries
}

// Find returns the entry for ssid.
func (s *Store) Find(ssid string) (Entry, bool) {
	for _, e := range s.Entries() {
		if e.SSID == ssid {
			return e, true
		}
	}
	return Entry{}, false
}

// Put stores c in the slot already holding its SSID, or else in the first
// slot without a valid record.
func (s *Store) Put(c Credential) (Entry, error) {
	if e, ok := s.Find(c.SSID); ok {
		if e.Credential == c {
			return e, nil
		}
		if err := s.Save(e.Offset, c); err != nil {
			return Entry{}, err
		}
		return Entry{Slot: e.Slot, Offset: e.Offset, Credential: c}, nil
	}

	for i := 0; i < s.slots; i++ {
		off := s.SlotOffset(i)
		if _, err := s.Load(off); err == nil {
			continue
		}
		if err := s.Save(off, c); err != nil {
			return Entry{}, err
		}
		return Entry{Slot: i, Offset: off, Credential: c}, nil
	}
	return Entry{}, fmt.Errorf("%w: all %d slots in use", ErrStorageFull, s.slots)
}

// Delete erases the record for ssid. Deleting an unknown SSID is not an error.
func (s *Store) Delete(ssid string) error {
	e, ok := s.Find(ssid)
	if !ok {
		return nil
	}
	return s.Erase(e.Offset)
}

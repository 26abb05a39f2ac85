package eeprom

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// SQLite keeps a region as one BLOB row. Commit rewrites the row inside a
// transaction, which gives the all-or-nothing write a flash page offers.
type SQLite struct {
	db  *sqlx.DB
	id  int
	buf buffer

	// image is the region as last committed.
	image []byte
}

// OpenSQLite loads region id from db, creating an erased region of size
// bytes when it does not exist. An existing region keeps its stored size.
func OpenSQLite(db *sql.DB, id, size int) (*SQLite, error) {
	if size <= 0 {
		return nil, fmt.Errorf("eeprom: invalid region size %d", size)
	}
	xdb := sqlx.NewDb(db, "sqlite")

	var row struct {
		Size int    `db:"size"`
		Data []byte `db:"data"`
	}
	err := xdb.Get(&row, "SELECT size, data FROM storage_regions WHERE id = ?", id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		row.Size = size
		row.Data = make([]byte, size)
		if _, err := xdb.Exec("INSERT INTO storage_regions (id, size, data) VALUES (?, ?, ?)", id, size, row.Data); err != nil {
			return nil, fmt.Errorf("eeprom: create region %d: %w", id, err)
		}
		log.Info().Int("region", id).Int("size", size).Msg("Created storage region")
	case err != nil:
		return nil, fmt.Errorf("eeprom: load region %d: %w", id, err)
	}

	if row.Size != size {
		log.Warn().Int("region", id).Int("stored", row.Size).Int("requested", size).Msg("Storage region size differs, keeping stored size")
	}

	s := &SQLite{db: xdb, id: id, buf: newBuffer(row.Size)}
	copy(s.buf.data, row.Data)
	s.image = bytes.Clone(s.buf.data)
	return s, nil
}

func (s *SQLite) Size() int { return len(s.buf.data) }

func (s *SQLite) ReadAt(p []byte, off int64) (int, error) { return s.buf.readAt(p, off) }

func (s *SQLite) WriteAt(p []byte, off int64) (int, error) { return s.buf.writeAt(p, off) }

// Commit writes the buffer back when it changed. A failed commit drops the
// uncommitted writes so reads match the stored row again.
func (s *SQLite) Commit() error {
	if !s.buf.dirty {
		return nil
	}
	if err := s.write(); err != nil {
		log.Warn().Err(err).Int("region", s.id).Msg("Storage region commit failed, discarding writes")
		copy(s.buf.data, s.image)
		s.buf.clean()
		return fmt.Errorf("%w: %v", ErrCommit, err)
	}

	log.Debug().Int("region", s.id).Int("from", s.buf.lo).Int("to", s.buf.hi).Msg("Storage region committed")
	copy(s.image, s.buf.data)
	s.buf.clean()
	return nil
}

func (s *SQLite) write() error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"UPDATE storage_regions SET data = ?, commits = commits + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		s.buf.data, s.id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("region %d missing", s.id)
	}
	return tx.Commit()
}

// Commits returns how many times the region has been written.
func (s *SQLite) Commits() (int, error) {
	var n int
	err := s.db.Get(&n, "SELECT commits FROM storage_regions WHERE id = ?", s.id)
	return n, err
}

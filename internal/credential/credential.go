// Package credential persists station credentials in fixed-size records
// inside an eeprom.Device.
//
// Record layout, in address order:
//
//	ssid        33 bytes, NUL padded
//	passphrase  65 bytes, NUL padded
//	bssid        6 bytes
//	channel      1 byte
//	crc32        4 bytes, IEEE, little endian, over the fields above
//	marker       4 bytes, "ACR1"
//
// The marker is the last field so a commit interrupted by power loss leaves
// either the previous marker over a payload that fails the checksum or no
// marker at all. Both load as absent, never as a silently damaged record.
package credential

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"net"
	"strings"
)

const (
	MaxSSID       = 32
	MaxPassphrase = 64

	ssidField  = MaxSSID + 1
	passField  = MaxPassphrase + 1
	bssidField = 6

	payloadSize = ssidField + passField + bssidField + 1
	crcOffset   = payloadSize
	markOffset  = crcOffset + 4

	// RecordSize is the number of storage bytes one credential occupies.
	RecordSize = markOffset + 4
)

var marker = [4]byte{'A', 'C', 'R', '1'}

var (
	// ErrNotFound means no record marker is present at the offset.
	ErrNotFound = errors.New("credential not found")
	// ErrCorrupt means a marker is present but the payload fails its checksum.
	ErrCorrupt = errors.New("credential corrupt")
	// ErrStorageFull means the record does not fit in the storage region.
	ErrStorageFull = errors.New("credential storage full")
	// ErrStorageFault means the storage device rejected the write.
	ErrStorageFault = errors.New("credential storage fault")
	// ErrInvalid means the credential cannot be represented in a record.
	ErrInvalid = errors.New("invalid credential")
)

// Credential is everything needed to join a wireless network.
type Credential struct {
	SSID       string
	Passphrase string
	BSSID      [6]byte
	Channel    uint8
}

// HardwareAddr returns the BSSID, or nil when none was recorded.
func (c Credential) HardwareAddr() net.HardwareAddr {
	if c.BSSID == [6]byte{} {
		return nil
	}
	return net.HardwareAddr(c.BSSID[:])
}

// Validate checks that c fits the bounded record fields.
func (c Credential) Validate() error {
	switch {
	case c.SSID == "":
		return fmt.Errorf("%w: empty ssid", ErrInvalid)
	case len(c.SSID) > MaxSSID:
		return fmt.Errorf("%w: ssid longer than %d bytes", ErrInvalid, MaxSSID)
	case len(c.Passphrase) > MaxPassphrase:
		return fmt.Errorf("%w: passphrase longer than %d bytes", ErrInvalid, MaxPassphrase)
	case strings.IndexByte(c.SSID, 0) >= 0 || strings.IndexByte(c.Passphrase, 0) >= 0:
		return fmt.Errorf("%w: embedded NUL", ErrInvalid)
	}
	return nil
}

func (c Credential) encode() []byte {
	rec := make([]byte, RecordSize)
	copy(rec[0:], c.SSID)
	copy(rec[ssidField:], c.Passphrase)
	copy(rec[ssidField+passField:], c.BSSID[:])
	rec[payloadSize-1] = c.Channel
	binary.LittleEndian.PutUint32(rec[crcOffset:], crc32.ChecksumIEEE(rec[:payloadSize]))
	copy(rec[markOffset:], marker[:])
	return rec
}

func decode(rec []byte) (Credential, error) {
	if !bytes.Equal(rec[markOffset:RecordSize], marker[:]) {
		return Credential{}, ErrNotFound
	}
	if binary.LittleEndian.Uint32(rec[crcOffset:]) != crc32.ChecksumIEEE(rec[:payloadSize]) {
		return Credential{}, ErrCorrupt
	}
	var c Credential
	c.SSID = cstring(rec[:ssidField])
	c.Passphrase = cstring(rec[ssidField : ssidField+passField])
	copy(c.BSSID[:], rec[ssidField+passField:])
	c.Channel = rec[payloadSize-1]
	return c, nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Package wifi coordinates the access-point and station roles of a single
// radio and owns the connection state machine.
package wifi

import (
	"context"
	"net"
)

// Mode is the radio operating mode.
type Mode uint8

const (
	ModeOff Mode = iota
	ModeStation
	ModeAP
	ModeAPStation
)

// String returns the mode name shown on the status page.
func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "OFF"
	case ModeStation:
		return "STA"
	case ModeAP:
		return "AP"
	case ModeAPStation:
		return "AP_STA"
	default:
		return "UNKNOWN"
	}
}

// HasAP reports whether the soft access point is part of the mode.
func (m Mode) HasAP() bool { return m == ModeAP || m == ModeAPStation }

// HasStation reports whether the station role is part of the mode.
func (m Mode) HasStation() bool { return m == ModeStation || m == ModeAPStation }

// LinkStatus is the association state reported by the radio for the station.
type LinkStatus uint8

const (
	LinkIdle LinkStatus = iota
	LinkNoSSID
	LinkScanCompleted
	LinkConnected
	LinkConnectFailed
	LinkConnectionLost
	LinkDisconnected
	LinkWrongPassword
)

var linkNames = [...]string{
	LinkIdle:           "IDLE",
	LinkNoSSID:         "NO_SSID_AVAIL",
	LinkScanCompleted:  "SCAN_COMPLETED",
	LinkConnected:      "CONNECTED",
	LinkConnectFailed:  "CONNECT_FAILED",
	LinkConnectionLost: "CONNECTION_LOST",
	LinkDisconnected:   "DISCONNECTED",
	LinkWrongPassword:  "WRONG_PASSWORD",
}

func (s LinkStatus) String() string {
	if int(s) < len(linkNames) {
		return linkNames[s]
	}
	return "UNKNOWN"
}

// terminal reports whether an association attempt has ended.
func (s LinkStatus) terminal() bool {
	switch s {
	case LinkConnected, LinkConnectFailed, LinkNoSSID, LinkWrongPassword:
		return true
	}
	return false
}

// Capabilities describes what the radio hardware can do.
type Capabilities struct {
	// DualMode means the AP can stay up while the station associates.
	DualMode bool
}

// JoinRequest describes one association attempt.
type JoinRequest struct {
	SSID       string
	Passphrase string
	BSSID      net.HardwareAddr
	Channel    uint8
}

// StaticAddress configures fixed station addressing.
type StaticAddress struct {
	IP      net.IP
	Gateway net.IP
	Netmask net.IP
	DNS1    net.IP
	DNS2    net.IP
}

// APSettings configures the soft access point.
type APSettings struct {
	SSID       string
	Passphrase string
	Channel    uint8
	Hidden     bool
	IP         net.IP
	Gateway    net.IP
	Netmask    net.IP
}

// Interface is the addressing of one radio role.
type Interface struct {
	IP      net.IP
	Gateway net.IP
	Netmask net.IP
	MAC     net.HardwareAddr
	SSID    string
	BSSID   net.HardwareAddr
	Channel uint8
	RSSI    int // dBm, station only
}

// Network is one scan result. Hidden networks have an empty SSID.
type Network struct {
	SSID    string
	BSSID   net.HardwareAddr
	RSSI    int
	Channel uint8
	Secured bool
}

// SplitHidden returns the networks that broadcast their SSID and how many
// did not.
func SplitHidden(networks []Network) (named []Network, hidden int) {
	named = make([]Network, 0, len(networks))
	for _, n := range networks {
		if n.SSID == "" {
			hidden++
			continue
		}
		named = append(named, n)
	}
	return named, hidden
}

// Radio is the low-level WiFi driver. Join only starts an association; its
// outcome is observed through LinkStatus.
type Radio interface {
	Capabilities() Capabilities
	Mode(ctx context.Context) (Mode, error)
	SetMode(ctx context.Context, m Mode) error
	Join(ctx context.Context, req JoinRequest) error
	LinkStatus(ctx context.Context) (LinkStatus, error)
	Leave(ctx context.Context, radioOff bool) error
	StartAP(ctx context.Context, ap APSettings) error
	StopAP(ctx context.Context) error
	Scan(ctx context.Context) ([]Network, error)
	Station(ctx context.Context) (Interface, error)
	AccessPoint(ctx context.Context) (Interface, error)
	SetHostname(ctx context.Context, name string) error
	ConfigureStation(ctx context.Context, addr *StaticAddress) error
}

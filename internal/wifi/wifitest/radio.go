// Package wifitest provides an in-memory wifi.Radio for tests.
package wifitest

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/nuclearlighters/portald/internal/wifi"
)

// Radio simulates a radio and a set of reachable networks. The zero value is
// a single-mode radio that can see nothing.
type Radio struct {
	mu sync.Mutex

	// Caps is returned by Capabilities.
	Caps wifi.Capabilities
	// Networks maps reachable SSIDs to their passphrase.
	Networks map[string]string
	// Visible is returned by Scan.
	Visible []wifi.Network
	// Hang keeps every association pending forever.
	Hang bool
	// StationIP is handed out on a successful association.
	StationIP net.IP
	// StartAPErr makes StartAP fail.
	StartAPErr error

	mode    wifi.Mode
	link    wifi.LinkStatus
	ssid    string
	apUp    bool
	ap      wifi.APSettings
	joins   []wifi.JoinRequest
	host    string
	static  *wifi.StaticAddress
	apStops int
}

// New returns a radio that can reach the given ssid/passphrase pairs.
func New(networks map[string]string) *Radio {
	return &Radio{Networks: networks, StationIP: net.IPv4(192, 168, 1, 50)}
}

func (r *Radio) Capabilities() wifi.Capabilities { return r.Caps }

func (r *Radio) Mode(context.Context) (wifi.Mode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode, nil
}

func (r *Radio) SetMode(_ context.Context, m wifi.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = m
	if !m.HasStation() {
		r.link = wifi.LinkIdle
		r.ssid = ""
	}
	return nil
}

func (r *Radio) Join(_ context.Context, req wifi.JoinRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.mode.HasStation() {
		return errors.New("wifitest: station role not enabled")
	}
	r.joins = append(r.joins, req)
	r.ssid = req.SSID
	pass, ok := r.Networks[req.SSID]
	switch {
	case r.Hang:
		r.link = wifi.LinkIdle
	case !ok:
		r.link = wifi.LinkNoSSID
	case pass != req.Passphrase:
		r.link = wifi.LinkWrongPassword
	default:
		r.link = wifi.LinkConnected
	}
	return nil
}

func (r *Radio) LinkStatus(context.Context) (wifi.LinkStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.link, nil
}

func (r *Radio) Leave(_ context.Context, radioOff bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.link = wifi.LinkDisconnected
	r.ssid = ""
	if radioOff {
		r.mode = wifi.ModeOff
	}
	return nil
}

func (r *Radio) StartAP(_ context.Context, ap wifi.APSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartAPErr != nil {
		return r.StartAPErr
	}
	r.apUp = true
	r.ap = ap
	return nil
}

func (r *Radio) StopAP(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apUp = false
	r.apStops++
	if r.mode == wifi.ModeAPStation {
		r.mode = wifi.ModeStation
	} else if r.mode == wifi.ModeAP {
		r.mode = wifi.ModeOff
	}
	return nil
}

func (r *Radio) Scan(context.Context) ([]wifi.Network, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wifi.Network(nil), r.Visible...), nil
}

func (r *Radio) Station(context.Context) (wifi.Interface, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	iface := wifi.Interface{
		MAC:  net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
		SSID: r.ssid,
	}
	if r.link == wifi.LinkConnected {
		iface.IP = r.StationIP
		iface.Gateway = net.IPv4(192, 168, 1, 1)
		iface.Netmask = net.IPv4(255, 255, 255, 0)
		iface.RSSI = -55
		iface.Channel = 6
	}
	return iface, nil
}

func (r *Radio) AccessPoint(context.Context) (wifi.Interface, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.apUp {
		return wifi.Interface{}, nil
	}
	return wifi.Interface{
		IP:      r.ap.IP,
		Gateway: r.ap.Gateway,
		Netmask: r.ap.Netmask,
		MAC:     net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
		SSID:    r.ap.SSID,
		Channel: r.ap.Channel,
	}, nil
}

func (r *Radio) SetHostname(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.host = name
	return nil
}

func (r *Radio) ConfigureStation(_ context.Context, addr *wifi.StaticAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static = addr
	return nil
}

// Drop simulates the access point of the joined network going away.
func (r *Radio) Drop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.link = wifi.LinkConnectionLost
}

// APUp reports whether the soft access point is running.
func (r *Radio) APUp() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apUp
}

// APStops counts StopAP calls.
func (r *Radio) APStops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apStops
}

// Joins returns every association request seen so far.
func (r *Radio) Joins() []wifi.JoinRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wifi.JoinRequest(nil), r.joins...)
}

// Hostname returns the last name passed to SetHostname.
func (r *Radio) Hostname() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host
}

// Static returns the last static station configuration.
func (r *Radio) Static() *wifi.StaticAddress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.static
}

var _ wifi.Radio = (*Radio)(nil)

package hal

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nuclearlighters/portald/internal/wifi"
)

// Radio drives the station and soft-AP interfaces through HAL and local
// netlink addressing.
type Radio struct {
	hal     *Client
	addr    Addressing
	station string
	ap      string

	mu     sync.Mutex
	mode   wifi.Mode
	apConf wifi.APSettings
}

// NewRadio returns a radio using station for client associations and ap for
// the soft access point. Distinct interfaces mean the two roles can run at
// the same time.
func NewRadio(c *Client, addr Addressing, station, ap string) *Radio {
	return &Radio{hal: c, addr: addr, station: station, ap: ap}
}

func (r *Radio) Capabilities() wifi.Capabilities {
	return wifi.Capabilities{DualMode: r.station != r.ap}
}

func (r *Radio) Mode(context.Context) (wifi.Mode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode, nil
}

func (r *Radio) SetMode(_ context.Context, m wifi.Mode) error {
	if r.station == r.ap {
		if err := r.addr.SetUp(r.station, m != wifi.ModeOff); err != nil {
			return err
		}
	} else {
		if err := r.addr.SetUp(r.station, m.HasStation()); err != nil {
			return err
		}
		if err := r.addr.SetUp(r.ap, m.HasAP()); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.mode = m
	r.mu.Unlock()
	return nil
}

func (r *Radio) Join(ctx context.Context, req wifi.JoinRequest) error {
	cr := ConnectRequest{
		Interface: r.station,
		SSID:      req.SSID,
		Password:  req.Passphrase,
		Channel:   int(req.Channel),
	}
	if req.BSSID != nil {
		cr.BSSID = req.BSSID.String()
	}
	return r.hal.ConnectWiFi(ctx, cr)
}

func (r *Radio) LinkStatus(ctx context.Context) (wifi.LinkStatus, error) {
	st, err := r.hal.GetWiFiStatus(ctx, r.station)
	if err != nil {
		return wifi.LinkIdle, err
	}
	link := linkFromStatus(st)
	if link == wifi.LinkConnected {
		// Associated but still waiting for an address.
		a, err := r.addr.Lookup(r.station)
		if err != nil || a.IP == nil {
			return wifi.LinkIdle, nil
		}
	}
	return link, nil
}

// linkFromStatus maps a wpa_supplicant state and HAL failure reason.
func linkFromStatus(st *WiFiStatus) wifi.LinkStatus {
	switch st.Reason {
	case "":
	case "wrong_key":
		return wifi.LinkWrongPassword
	case "no_ssid":
		return wifi.LinkNoSSID
	default:
		return wifi.LinkConnectFailed
	}
	switch strings.ToUpper(st.State) {
	case "COMPLETED":
		return wifi.LinkConnected
	case "DISCONNECTED":
		return wifi.LinkDisconnected
	case "SCANNING":
		return wifi.LinkScanCompleted
	default:
		return wifi.LinkIdle
	}
}

func (r *Radio) Leave(ctx context.Context, radioOff bool) error {
	if err := r.hal.DisconnectWiFi(ctx, r.station); err != nil {
		return err
	}
	if radioOff {
		return r.SetMode(ctx, wifi.ModeOff)
	}
	return nil
}

func (r *Radio) StartAP(ctx context.Context, ap wifi.APSettings) error {
	if err := r.addr.Assign(r.ap, ap.IP, ap.Netmask); err != nil {
		return err
	}
	err := r.hal.ConfigureAP(ctx, APConfig{
		Interface:  r.ap,
		SSID:       ap.SSID,
		Passphrase: ap.Passphrase,
		Channel:    int(ap.Channel),
		Hidden:     ap.Hidden,
	})
	if err != nil {
		return fmt.Errorf("configure %s: %w", APService, err)
	}
	if err := r.hal.StartService(ctx, APService); err != nil {
		return fmt.Errorf("start %s: %w", APService, err)
	}

	r.mu.Lock()
	r.apConf = ap
	r.mu.Unlock()
	log.Debug().Str("interface", r.ap).Str("ssid", ap.SSID).Msg("Access point service started")
	return nil
}

func (r *Radio) StopAP(ctx context.Context) error {
	if err := r.hal.StopService(ctx, APService); err != nil {
		return fmt.Errorf("stop %s: %w", APService, err)
	}
	return nil
}

// Scan lists the networks in range. Hidden ones keep their empty SSID.
func (r *Radio) Scan(ctx context.Context) ([]wifi.Network, error) {
	found, err := r.hal.ScanWiFi(ctx, r.station)
	if err != nil {
		return nil, err
	}
	networks := make([]wifi.Network, 0, len(found))
	for _, n := range found {
		bssid, _ := net.ParseMAC(n.BSSID)
		ch := n.Channel
		if ch == 0 {
			ch = channelFromFrequency(n.Frequency)
		}
		networks = append(networks, wifi.Network{
			SSID:    n.SSID,
			BSSID:   bssid,
			RSSI:    n.Signal,
			Channel: uint8(ch),
			Secured: n.Security != "" && !strings.EqualFold(n.Security, "open"),
		})
	}
	return networks, nil
}

func (r *Radio) Station(ctx context.Context) (wifi.Interface, error) {
	a, err := r.addr.Lookup(r.station)
	if err != nil {
		return wifi.Interface{}, err
	}
	iface := wifi.Interface{IP: a.IP, Gateway: a.Gateway, Netmask: a.Netmask, MAC: a.MAC}

	st, err := r.hal.GetWiFiStatus(ctx, r.station)
	if err != nil {
		return iface, err
	}
	if strings.EqualFold(st.State, "COMPLETED") {
		iface.SSID = st.SSID
		iface.BSSID, _ = net.ParseMAC(st.BSSID)
		iface.RSSI = st.Signal
		iface.Channel = uint8(channelFromFrequency(st.Frequency))
	}
	return iface, nil
}

func (r *Radio) AccessPoint(context.Context) (wifi.Interface, error) {
	a, err := r.addr.Lookup(r.ap)
	if err != nil {
		return wifi.Interface{}, err
	}
	r.mu.Lock()
	conf := r.apConf
	r.mu.Unlock()
	return wifi.Interface{
		IP:      a.IP,
		Gateway: conf.Gateway,
		Netmask: a.Netmask,
		MAC:     a.MAC,
		SSID:    conf.SSID,
		Channel: conf.Channel,
	}, nil
}

func (r *Radio) SetHostname(ctx context.Context, name string) error {
	return r.hal.SetHostname(ctx, name)
}

func (r *Radio) ConfigureStation(ctx context.Context, sa *wifi.StaticAddress) error {
	if sa == nil {
		return nil
	}
	if err := r.addr.Assign(r.station, sa.IP, sa.Netmask); err != nil {
		return err
	}
	if sa.Gateway != nil {
		if err := r.addr.SetGateway(r.station, sa.Gateway); err != nil {
			return err
		}
	}
	var servers []string
	for _, ip := range []net.IP{sa.DNS1, sa.DNS2} {
		if ip != nil && !ip.IsUnspecified() {
			servers = append(servers, ip.String())
		}
	}
	if len(servers) > 0 {
		return r.hal.SetDNS(ctx, r.station, servers)
	}
	return nil
}

// channelFromFrequency converts a center frequency in MHz to a channel number.
func channelFromFrequency(mhz int) int {
	switch {
	case mhz == 2484:
		return 14
	case mhz >= 2412 && mhz <= 2472:
		return (mhz - 2407) / 5
	case mhz >= 5000 && mhz <= 5900:
		return (mhz - 5000) / 5
	}
	return 0
}

var _ wifi.Radio = (*Radio)(nil)

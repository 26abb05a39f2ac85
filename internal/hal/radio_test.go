package hal

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nuclearlighters/portald/internal/wifi"
)

type fakeAddressing struct {
	mu    sync.Mutex
	addrs map[string]Address
	up    map[string]bool
	gw    net.IP
}

func newFakeAddressing() *fakeAddressing {
	return &fakeAddressing{addrs: map[string]Address{}, up: map[string]bool{}}
}

func (f *fakeAddressing) Lookup(name string) (Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addrs[name], nil
}

func (f *fakeAddressing) Assign(name string, ip, mask net.IP) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.addrs[name]
	a.IP, a.Netmask = ip, mask
	f.addrs[name] = a
	return nil
}

func (f *fakeAddressing) SetGateway(_ string, gw net.IP) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gw = gw
	return nil
}

func (f *fakeAddressing) SetUp(name string, up bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.up[name] = up
	return nil
}

// fakeHAL records calls and answers like the HAL service.
type fakeHAL struct {
	mu       sync.Mutex
	calls    []string
	status   WiFiStatus
	connect  ConnectRequest
	apConfig APConfig
	dns      []string
}

func (f *fakeHAL) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
	}
	mux.HandleFunc("POST /network/wifi/connect", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		f.mu.Lock()
		json.NewDecoder(r.Body).Decode(&f.connect)
		f.status = WiFiStatus{State: "COMPLETED", SSID: f.connect.SSID, BSSID: "aa:bb:cc:dd:ee:ff", Signal: -61, Frequency: 2437}
		f.mu.Unlock()
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /network/wifi/status/{iface}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(f.status)
	})
	mux.HandleFunc("GET /network/wifi/scan/{iface}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Write([]byte(`{"interface":"wlan0","networks":[
			{"ssid":"HomeNet","bssid":"aa:bb:cc:dd:ee:ff","signal":-48,"frequency":2412,"security":"WPA2"},
			{"ssid":"","bssid":"aa:bb:cc:dd:ee:00","signal":-80,"channel":6},
			{"ssid":"Cafe","bssid":"11:22:33:44:55:66","signal":-72,"channel":36,"security":"open"}]}`))
	})
	mux.HandleFunc("POST /network/ap/config", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		f.mu.Lock()
		json.NewDecoder(r.Body).Decode(&f.apConfig)
		f.mu.Unlock()
	})
	mux.HandleFunc("POST /network/dns", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		var body struct {
			Servers []string `json:"servers"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.dns = body.Servers
		f.mu.Unlock()
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		record(r)
	})
	return mux
}

func (f *fakeHAL) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeHAL) snapshot() (ConnectRequest, APConfig, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connect, f.apConfig, f.dns
}

func newTestRadio(t *testing.T, station, ap string) (*Radio, *fakeHAL, *fakeAddressing) {
	t.Helper()
	fh := &fakeHAL{status: WiFiStatus{State: "DISCONNECTED"}}
	srv := httptest.NewServer(fh.handler())
	t.Cleanup(srv.Close)

	addr := newFakeAddressing()
	return NewRadio(NewClient(srv.URL), addr, station, ap), fh, addr
}

func TestRadioJoinAndLinkStatus(t *testing.T) {
	r, fh, addr := newTestRadio(t, "wlan0", "uap0")
	ctx := context.Background()

	if !r.Capabilities().DualMode {
		t.Error("Capabilities().DualMode = false with separate interfaces")
	}

	err := r.Join(ctx, wifi.JoinRequest{
		SSID:       "HomeNet",
		Passphrase: "secret123",
		BSSID:      net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		Channel:    6,
	})
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if cr, _, _ := fh.snapshot(); cr.Interface != "wlan0" || cr.Password != "secret123" || cr.BSSID != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("connect request = %+v", cr)
	}

	// Associated without an address yet.
	if st, _ := r.LinkStatus(ctx); st != wifi.LinkIdle {
		t.Errorf("LinkStatus() before DHCP = %v, want IDLE", st)
	}

	addr.Assign("wlan0", net.IPv4(192, 168, 1, 20), net.IPv4(255, 255, 255, 0))
	if st, _ := r.LinkStatus(ctx); st != wifi.LinkConnected {
		t.Errorf("LinkStatus() = %v, want CONNECTED", st)
	}

	iface, err := r.Station(ctx)
	if err != nil {
		t.Fatalf("Station() error = %v", err)
	}
	if iface.SSID != "HomeNet" || iface.RSSI != -61 || iface.Channel != 6 {
		t.Errorf("Station() = %+v", iface)
	}
}

func TestLinkFromStatus(t *testing.T) {
	tests := []struct {
		status WiFiStatus
		want   wifi.LinkStatus
	}{
		{WiFiStatus{State: "COMPLETED"}, wifi.LinkConnected},
		{WiFiStatus{State: "completed"}, wifi.LinkConnected},
		{WiFiStatus{State: "ASSOCIATING"}, wifi.LinkIdle},
		{WiFiStatus{State: "4WAY_HANDSHAKE"}, wifi.LinkIdle},
		{WiFiStatus{State: "SCANNING"}, wifi.LinkScanCompleted},
		{WiFiStatus{State: "DISCONNECTED"}, wifi.LinkDisconnected},
		{WiFiStatus{State: "DISCONNECTED", Reason: "wrong_key"}, wifi.LinkWrongPassword},
		{WiFiStatus{State: "DISCONNECTED", Reason: "no_ssid"}, wifi.LinkNoSSID},
		{WiFiStatus{State: "DISCONNECTED", Reason: "auth timeout"}, wifi.LinkConnectFailed},
	}
	for _, tt := range tests {
		if got := linkFromStatus(&tt.status); got != tt.want {
			t.Errorf("linkFromStatus(%+v) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestRadioStartStopAP(t *testing.T) {
	r, fh, addr := newTestRadio(t, "wlan0", "uap0")
	ctx := context.Background()

	ap := wifi.APSettings{
		SSID:       "portald",
		Passphrase: "12345678",
		Channel:    3,
		Hidden:     true,
		IP:         net.IPv4(172, 217, 28, 1),
		Gateway:    net.IPv4(172, 217, 28, 1),
		Netmask:    net.IPv4(255, 255, 255, 0),
	}
	if err := r.StartAP(ctx, ap); err != nil {
		t.Fatalf("StartAP() error = %v", err)
	}
	if got := addr.addrs["uap0"].IP; !got.Equal(ap.IP) {
		t.Errorf("uap0 address = %v, want %v", got, ap.IP)
	}
	if _, conf, _ := fh.snapshot(); conf.SSID != "portald" || conf.Channel != 3 || !conf.Hidden {
		t.Errorf("ap config = %+v", conf)
	}
	if !fh.called("POST /system/service/hostapd/start") {
		t.Error("hostapd not started")
	}

	info, _ := r.AccessPoint(ctx)
	if info.SSID != "portald" || !info.IP.Equal(ap.IP) {
		t.Errorf("AccessPoint() = %+v", info)
	}

	if err := r.StopAP(ctx); err != nil {
		t.Fatalf("StopAP() error = %v", err)
	}
	if !fh.called("POST /system/service/hostapd/stop") {
		t.Error("hostapd not stopped")
	}
}

func TestRadioScan(t *testing.T) {
	r, _, _ := newTestRadio(t, "wlan0", "wlan0")

	if r.Capabilities().DualMode {
		t.Error("Capabilities().DualMode = true with a shared interface")
	}

	got, err := r.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Scan() = %d networks, want 3", len(got))
	}
	if _, hidden := wifi.SplitHidden(got); hidden != 1 {
		t.Errorf("hidden networks = %d, want 1", hidden)
	}
	if got[0].SSID != "HomeNet" || got[0].Channel != 1 || !got[0].Secured {
		t.Errorf("Scan()[0] = %+v", got[0])
	}
	if got[2].Channel != 36 || got[2].Secured {
		t.Errorf("Scan()[2] = %+v", got[2])
	}
}

func TestRadioSetModeAndStatic(t *testing.T) {
	r, fh, addr := newTestRadio(t, "wlan0", "uap0")
	ctx := context.Background()

	if err := r.SetMode(ctx, wifi.ModeStation); err != nil {
		t.Fatal(err)
	}
	if !addr.up["wlan0"] || addr.up["uap0"] {
		t.Errorf("interfaces up = %v, want only wlan0", addr.up)
	}
	if m, _ := r.Mode(ctx); m != wifi.ModeStation {
		t.Errorf("Mode() = %v", m)
	}

	err := r.ConfigureStation(ctx, &wifi.StaticAddress{
		IP:      net.IPv4(10, 0, 0, 9),
		Gateway: net.IPv4(10, 0, 0, 1),
		Netmask: net.IPv4(255, 255, 255, 0),
		DNS1:    net.IPv4(1, 1, 1, 1),
	})
	if err != nil {
		t.Fatalf("ConfigureStation() error = %v", err)
	}
	if !addr.addrs["wlan0"].IP.Equal(net.IPv4(10, 0, 0, 9)) || !addr.gw.Equal(net.IPv4(10, 0, 0, 1)) {
		t.Errorf("static address not applied: %+v gw %v", addr.addrs["wlan0"], addr.gw)
	}
	if _, _, dns := fh.snapshot(); len(dns) != 1 || dns[0] != "1.1.1.1" {
		t.Errorf("dns = %v", dns)
	}

	if err := r.ConfigureStation(ctx, nil); err != nil {
		t.Errorf("ConfigureStation(nil) error = %v", err)
	}
}

func TestChannelFromFrequency(t *testing.T) {
	tests := map[int]int{2412: 1, 2437: 6, 2472: 13, 2484: 14, 5180: 36, 5825: 165, 900: 0}
	for mhz, want := range tests {
		if got := channelFromFrequency(mhz); got != want {
			t.Errorf("channelFromFrequency(%d) = %d, want %d", mhz, got, want)
		}
	}
}

func TestClientErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"radio busy"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Reboot(context.Background())
	if err == nil || err.Error() != "HAL error: radio busy" {
		t.Errorf("Reboot() error = %v, want HAL error: radio busy", err)
	}
}

func TestClientBreakerTrips(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	for i := 0; i < 10; i++ {
		c.Health(context.Background())
	}
	if n := hits.Load(); n != 5 {
		t.Errorf("HAL contacted %d times, want 5 before the breaker opens", n)
	}
	if c.Breaker().State() != BreakerOpen {
		t.Errorf("Breaker().State() = %s, want open", c.Breaker().State())
	}
}

package dhcpd

import (
	"net"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

var (
	apIP   = net.IPv4(172, 217, 28, 1)
	apMask = net.IPv4(255, 255, 255, 0)
	client = net.HardwareAddr{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}
	other  = net.HardwareAddr{0x02, 0x11, 0x22, 0x33, 0x44, 0x66}
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(Config{
		Interface: "uap0",
		ServerIP:  apIP,
		Netmask:   apMask,
		Lease:     30 * time.Minute,
		PortalURL: "http://172.217.28.1/_ac",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestDiscoverRequestAck(t *testing.T) {
	s := newTestServer(t)

	discover, err := dhcpv4.NewDiscovery(client)
	if err != nil {
		t.Fatal(err)
	}
	offer, err := s.Reply(discover)
	if err != nil {
		t.Fatalf("Reply(discover) error = %v", err)
	}
	if offer.MessageType() != dhcpv4.MessageTypeOffer {
		t.Fatalf("reply type = %s, want OFFER", offer.MessageType())
	}
	if !offer.YourIPAddr.Equal(net.IPv4(172, 217, 28, 2)) {
		t.Errorf("offered %v, want first free address 172.217.28.2", offer.YourIPAddr)
	}
	if dns := offer.DNS(); len(dns) != 1 || !dns[0].Equal(apIP) {
		t.Errorf("DNS option = %v, want portal address", dns)
	}
	if r := offer.Router(); len(r) != 1 || !r[0].Equal(apIP) {
		t.Errorf("router option = %v", r)
	}
	if got := net.IP(offer.SubnetMask()); !got.Equal(apMask.To4()) {
		t.Errorf("netmask option = %v", got)
	}
	if got := string(offer.Options.Get(dhcpv4.GenericOptionCode(OptionCaptivePortal))); got != "http://172.217.28.1/_ac" {
		t.Errorf("captive portal option = %q", got)
	}

	request, err := dhcpv4.NewRequestFromOffer(offer)
	if err != nil {
		t.Fatal(err)
	}
	ack, err := s.Reply(request)
	if err != nil {
		t.Fatalf("Reply(request) error = %v", err)
	}
	if ack.MessageType() != dhcpv4.MessageTypeAck || !ack.YourIPAddr.Equal(offer.YourIPAddr) {
		t.Errorf("ack = %s %v", ack.MessageType(), ack.YourIPAddr)
	}
	if lt := ack.IPAddressLeaseTime(0); lt != 30*time.Minute {
		t.Errorf("lease time = %v, want 30m", lt)
	}
	if s.Pool().Active() != 1 {
		t.Errorf("Pool().Active() = %d, want 1", s.Pool().Active())
	}
}

func TestRequestForeignAddressNaks(t *testing.T) {
	s := newTestServer(t)

	req, err := dhcpv4.New(
		dhcpv4.WithHwAddr(client),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(net.IPv4(192, 168, 1, 77))),
	)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := s.Reply(req)
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if resp.MessageType() != dhcpv4.MessageTypeNak {
		t.Errorf("reply type = %s, want NAK", resp.MessageType())
	}
}

func TestRequestForOtherServerIgnored(t *testing.T) {
	s := newTestServer(t)

	req, _ := dhcpv4.New(
		dhcpv4.WithHwAddr(client),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(net.IPv4(10, 0, 0, 1))),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(net.IPv4(10, 0, 0, 5))),
	)
	resp, err := s.Reply(req)
	if resp != nil || err != nil {
		t.Errorf("Reply() = %v, %v, want no answer", resp, err)
	}
}

func TestReleaseFreesAddress(t *testing.T) {
	s := newTestServer(t)

	d1, _ := dhcpv4.NewDiscovery(client)
	o1, _ := s.Reply(d1)

	release, _ := dhcpv4.New(
		dhcpv4.WithHwAddr(client),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRelease),
	)
	if resp, err := s.Reply(release); resp != nil || err != nil {
		t.Fatalf("Reply(release) = %v, %v", resp, err)
	}

	d2, _ := dhcpv4.NewDiscovery(other)
	o2, _ := s.Reply(d2)
	if !o2.YourIPAddr.Equal(o1.YourIPAddr) {
		t.Errorf("released address not reused: got %v, want %v", o2.YourIPAddr, o1.YourIPAddr)
	}
}

func TestPoolExhaustionAndExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := NewPool(net.IPv4(10, 0, 0, 1), net.IPv4(255, 255, 255, 252), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	p.now = func() time.Time { return now }

	ip, ok := p.Offer(client)
	if !ok || !ip.Equal(net.IPv4(10, 0, 0, 2)) {
		t.Fatalf("Offer() = %v, %v", ip, ok)
	}
	if again, _ := p.Offer(client); !again.Equal(ip) {
		t.Errorf("second Offer() = %v, want stable %v", again, ip)
	}
	if _, ok := p.Offer(other); ok {
		t.Error("Offer() succeeded on an exhausted pool")
	}
	if p.Ack(other, ip) {
		t.Error("Ack() granted an address bound to another client")
	}

	now = now.Add(2 * time.Minute)
	if got, ok := p.Offer(other); !ok || !got.Equal(ip) {
		t.Errorf("Offer() after expiry = %v, %v", got, ok)
	}
}

func TestPoolRejectsTinySubnet(t *testing.T) {
	if _, err := NewPool(net.IPv4(10, 0, 0, 1), net.IPv4(255, 255, 255, 254), time.Minute); err == nil {
		t.Error("NewPool() accepted a /31")
	}
	if _, err := NewPool(net.ParseIP("fe80::1"), apMask, time.Minute); err == nil {
		t.Error("NewPool() accepted an IPv6 server")
	}
}

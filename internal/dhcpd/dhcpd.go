// Package dhcpd leases addresses to clients of the soft access point and
// points their resolver and captive-portal option at the portal.
package dhcpd

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"github.com/rs/zerolog/log"
)

// OptionCaptivePortal is the DHCPv4 captive-portal URI option (RFC 8910).
const OptionCaptivePortal = 114

// Config describes the access point subnet.
type Config struct {
	Interface string
	ServerIP  net.IP
	Gateway   net.IP
	Netmask   net.IP
	Lease     time.Duration
	// PortalURL is announced in option 114 when set.
	PortalURL string
	// Listen defaults to 0.0.0.0:67.
	Listen *net.UDPAddr
}

// Server is a minimal DHCPv4 responder bound to the access point interface.
type Server struct {
	cfg  Config
	pool *Pool

	mu  sync.Mutex
	srv *server4.Server
}

// New validates cfg and builds the address pool.
func New(cfg Config) (*Server, error) {
	if cfg.Lease <= 0 {
		cfg.Lease = time.Hour
	}
	if cfg.Gateway == nil {
		cfg.Gateway = cfg.ServerIP
	}
	pool, err := NewPool(cfg.ServerIP, cfg.Netmask, cfg.Lease)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, pool: pool}, nil
}

// Pool exposes the lease table.
func (s *Server) Pool() *Pool { return s.pool }

// Start binds the DHCP port and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	laddr := s.cfg.Listen
	if laddr == nil {
		laddr = &net.UDPAddr{IP: net.IPv4zero, Port: dhcpv4.ServerPort}
	}
	srv, err := server4.NewServer(s.cfg.Interface, laddr, s.handle)
	if err != nil {
		return fmt.Errorf("dhcp server on %s: %w", s.cfg.Interface, err)
	}
	s.srv = srv
	go func() {
		if err := srv.Serve(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Warn().Err(err).Msg("DHCP server stopped")
		}
	}()
	log.Info().Str("interface", s.cfg.Interface).Str("server", s.cfg.ServerIP.String()).Msg("DHCP server started")
	return nil
}

// Stop closes the socket.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	err := s.srv.Close()
	s.srv = nil
	log.Info().Msg("DHCP server stopped")
	return err
}

// Running reports whether the responder is bound.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

func (s *Server) handle(conn net.PacketConn, peer net.Addr, req *dhcpv4.DHCPv4) {
	resp, err := s.Reply(req)
	if err != nil {
		log.Debug().Err(err).Str("client", req.ClientHWAddr.String()).Msg("DHCP request ignored")
		return
	}
	if resp == nil {
		return
	}

	dst := peer
	if ua, ok := peer.(*net.UDPAddr); !ok || ua.IP.IsUnspecified() {
		dst = &net.UDPAddr{IP: net.IPv4bcast, Port: dhcpv4.ClientPort}
	}
	if _, err := conn.WriteTo(resp.ToBytes(), dst); err != nil {
		log.Warn().Err(err).Msg("DHCP reply failed")
		return
	}
	log.Debug().
		Str("client", req.ClientHWAddr.String()).
		Str("type", resp.MessageType().String()).
		Str("ip", resp.YourIPAddr.String()).
		Msg("DHCP reply sent")
}

// Reply answers one client message. A nil reply with a nil error means the
// message needs no answer.
func (s *Server) Reply(req *dhcpv4.DHCPv4) (*dhcpv4.DHCPv4, error) {
	if req.OpCode != dhcpv4.OpcodeBootRequest {
		return nil, errors.New("not a boot request")
	}
	mac := req.ClientHWAddr

	switch req.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		ip, ok := s.pool.Offer(mac)
		if !ok {
			return nil, errors.New("address pool exhausted")
		}
		return s.build(req, dhcpv4.MessageTypeOffer, ip)

	case dhcpv4.MessageTypeRequest:
		if sid := req.ServerIdentifier(); sid != nil && !sid.Equal(s.cfg.ServerIP) {
			// The client chose another server.
			s.pool.Release(mac)
			return nil, nil
		}
		ip := req.RequestedIPAddress()
		if ip == nil || ip.IsUnspecified() {
			ip = req.ClientIPAddr
		}
		if !s.pool.Ack(mac, ip) {
			return dhcpv4.NewReplyFromRequest(req,
				dhcpv4.WithMessageType(dhcpv4.MessageTypeNak),
				dhcpv4.WithOption(dhcpv4.OptServerIdentifier(s.cfg.ServerIP)),
			)
		}
		return s.build(req, dhcpv4.MessageTypeAck, ip)

	case dhcpv4.MessageTypeInform:
		return s.build(req, dhcpv4.MessageTypeAck, nil)

	case dhcpv4.MessageTypeRelease, dhcpv4.MessageTypeDecline:
		s.pool.Release(mac)
		return nil, nil
	}
	return nil, fmt.Errorf("unhandled message type %s", req.MessageType())
}

func (s *Server) build(req *dhcpv4.DHCPv4, mt dhcpv4.MessageType, yiaddr net.IP) (*dhcpv4.DHCPv4, error) {
	mods := []dhcpv4.Modifier{
		dhcpv4.WithMessageType(mt),
		dhcpv4.WithServerIP(s.cfg.ServerIP),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(s.cfg.ServerIP)),
		dhcpv4.WithRouter(s.cfg.Gateway),
		dhcpv4.WithDNS(s.cfg.ServerIP),
		dhcpv4.WithNetmask(net.IPMask(s.cfg.Netmask.To4())),
	}
	if yiaddr != nil {
		mods = append(mods,
			dhcpv4.WithYourIP(yiaddr),
			dhcpv4.WithLeaseTime(uint32(s.cfg.Lease/time.Second)),
		)
	}
	if s.cfg.PortalURL != "" {
		mods = append(mods, dhcpv4.WithOption(
			dhcpv4.OptGeneric(dhcpv4.GenericOptionCode(OptionCaptivePortal), []byte(s.cfg.PortalURL)),
		))
	}
	return dhcpv4.NewReplyFromRequest(req, mods...)
}

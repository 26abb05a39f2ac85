// Package dnsredir answers every DNS query with the captive portal's address
// so that clients of the soft access point resolve all names to the portal.
package dnsredir

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog/log"
)

const (
	// TTL of every answer. Short so clients re-resolve once the portal is gone.
	TTL = 60

	// DefaultPollTimeout bounds one ProcessNextRequest call.
	DefaultPollTimeout = 5 * time.Millisecond

	maxPacket = 512
)

// ErrMalformed is returned by Reply for packets that are not a DNS query.
var ErrMalformed = errors.New("malformed dns query")

// Server is a UDP redirector driven by the caller's loop. It does no caching,
// recursion or forwarding.
type Server struct {
	listen      string
	pollTimeout time.Duration

	mu   sync.Mutex
	conn net.PacketConn
	ip   net.IP

	answered atomic.Uint64
	dropped  atomic.Uint64
	buf      []byte
}

// New returns a stopped redirector that will listen on addr, e.g. ":53".
func New(addr string) *Server {
	return &Server{
		listen:      addr,
		pollTimeout: DefaultPollTimeout,
		buf:         make([]byte, maxPacket),
	}
}

// SetPollTimeout changes how long ProcessNextRequest waits for a packet.
func (s *Server) SetPollTimeout(d time.Duration) {
	if d > 0 {
		s.pollTimeout = d
	}
}

// Start opens the socket and answers with ip. Starting a running server only
// changes the address handed out.
func (s *Server) Start(ip net.IP) error {
	ip4 := ip.To4()
	if ip4 == nil {
		return fmt.Errorf("dns redirect address %v is not IPv4", ip)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ip = ip4
	if s.conn != nil {
		return nil
	}
	conn, err := net.ListenPacket("udp4", s.listen)
	if err != nil {
		return fmt.Errorf("dns listen %s: %w", s.listen, err)
	}
	s.conn = conn
	log.Info().Str("addr", conn.LocalAddr().String()).Str("answer", ip4.String()).Msg("DNS redirector started")
	return nil
}

// Stop closes the socket. Stopping a stopped server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	log.Info().Msg("DNS redirector stopped")
	return err
}

// Active reports whether the redirector is listening.
func (s *Server) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Addr returns the bound address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Answered is the number of queries answered since construction.
func (s *Server) Answered() uint64 { return s.answered.Load() }

// Dropped is the number of malformed packets ignored.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// ProcessNextRequest handles at most one pending datagram, waiting no longer
// than the poll timeout. It reports whether a query was answered.
func (s *Server) ProcessNextRequest() (bool, error) {
	s.mu.Lock()
	conn, ip := s.conn, s.ip
	s.mu.Unlock()
	if conn == nil {
		return false, nil
	}

	if err := conn.SetReadDeadline(time.Now().Add(s.pollTimeout)); err != nil {
		return false, err
	}
	n, peer, err := conn.ReadFrom(s.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return false, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return false, nil
		}
		return false, fmt.Errorf("dns read: %w", err)
	}

	reply, err := Reply(s.buf[:n], ip)
	if err != nil {
		s.dropped.Add(1)
		log.Debug().Err(err).Str("peer", peer.String()).Msg("Dropped DNS packet")
		return false, nil
	}
	if _, err := conn.WriteTo(reply, peer); err != nil {
		return false, fmt.Errorf("dns write: %w", err)
	}
	s.answered.Add(1)
	return true, nil
}

// Reply builds the authoritative answer to packet, pointing the first
// question at ip whatever its type.
func Reply(packet []byte, ip net.IP) ([]byte, error) {
	var req dns.Msg
	if err := req.Unpack(packet); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.Response || req.Opcode != dns.OpcodeQuery || len(req.Question) == 0 {
		return nil, ErrMalformed
	}

	resp := new(dns.Msg)
	resp.SetReply(&req)
	resp.Authoritative = true
	resp.RecursionAvailable = false
	resp.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{
			Name:   resp.Question[0].Name,
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    TTL,
		},
		A: ip.To4(),
	}}
	return resp.Pack()
}

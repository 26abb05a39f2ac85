package dhcpd

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
)

type lease struct {
	ip      uint32
	expires time.Time
}

// Pool hands out addresses of the access point subnet, skipping the network,
// broadcast and server addresses.
type Pool struct {
	mu     sync.Mutex
	first  uint32
	last   uint32
	server uint32
	ttl    time.Duration
	byMAC  map[string]lease
	byIP   map[uint32]string
	now    func() time.Time
}

// NewPool derives the address range from the server address and netmask.
func NewPool(server, netmask net.IP, ttl time.Duration) (*Pool, error) {
	s4, m4 := server.To4(), netmask.To4()
	if s4 == nil || m4 == nil {
		return nil, fmt.Errorf("dhcp pool needs IPv4 server and netmask, got %v/%v", server, netmask)
	}
	srv := ip2u(s4)
	mask := ip2u(m4)
	network := srv & mask
	broadcast := network | ^mask
	if broadcast-network < 3 {
		return nil, fmt.Errorf("subnet %v/%v too small for a pool", server, netmask)
	}
	return &Pool{
		first:  network + 1,
		last:   broadcast - 1,
		server: srv,
		ttl:    ttl,
		byMAC:  make(map[string]lease),
		byIP:   make(map[uint32]string),
		now:    time.Now,
	}, nil
}

// Offer returns the address reserved for mac, allocating one if needed.
func (p *Pool) Offer(mac net.HardwareAddr) (net.IP, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := mac.String()
	if l, ok := p.byMAC[key]; ok {
		l.expires = p.now().Add(p.ttl)
		p.byMAC[key] = l
		return u2ip(l.ip), true
	}
	for ip := p.first; ip <= p.last; ip++ {
		if ip == p.server || !p.freeLocked(ip) {
			continue
		}
		p.bindLocked(key, ip)
		return u2ip(ip), true
	}
	return nil, false
}

// Ack confirms ip for mac. It fails when ip is outside the pool or bound to
// another client.
func (p *Pool) Ack(mac net.HardwareAddr, ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	u := ip2u(ip4)
	if u < p.first || u > p.last || u == p.server {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	key := mac.String()
	if owner, ok := p.byIP[u]; ok && owner != key && !p.freeLocked(u) {
		return false
	}
	if l, ok := p.byMAC[key]; ok && l.ip != u {
		delete(p.byIP, l.ip)
	}
	p.bindLocked(key, u)
	return true
}

// Release drops the lease held by mac.
func (p *Pool) Release(mac net.HardwareAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := mac.String()
	if l, ok := p.byMAC[key]; ok {
		delete(p.byIP, l.ip)
		delete(p.byMAC, key)
	}
}

// Active counts unexpired leases.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	now := p.now()
	for _, l := range p.byMAC {
		if now.Before(l.expires) {
			n++
		}
	}
	return n
}

func (p *Pool) freeLocked(ip uint32) bool {
	owner, ok := p.byIP[ip]
	if !ok {
		return true
	}
	if p.now().Before(p.byMAC[owner].expires) {
		return false
	}
	delete(p.byMAC, owner)
	delete(p.byIP, ip)
	return true
}

func (p *Pool) bindLocked(key string, ip uint32) {
	p.byMAC[key] = lease{ip: ip, expires: p.now().Add(p.ttl)}
	p.byIP[ip] = key
}

func ip2u(ip net.IP) uint32 { return binary.BigEndian.Uint32(ip.To4()) }

func u2ip(u uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, u)
	return ip
}

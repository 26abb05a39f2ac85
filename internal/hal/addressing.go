package hal

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// Address is the IPv4 configuration of one interface.
type Address struct {
	IP      net.IP
	Netmask net.IP
	Gateway net.IP
	MAC     net.HardwareAddr
}

// Addressing reads and changes local interface addresses.
type Addressing interface {
	Lookup(name string) (Address, error)
	Assign(name string, ip, netmask net.IP) error
	SetGateway(name string, gw net.IP) error
	SetUp(name string, up bool) error
}

// Netlink implements Addressing with rtnetlink on the local host.
type Netlink struct {
	h *netlink.Handle
}

// NewNetlink opens a netlink handle in the current network namespace.
func NewNetlink() (*Netlink, error) {
	h, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("netlink handle: %w", err)
	}
	return &Netlink{h: h}, nil
}

// Close releases the netlink socket.
func (n *Netlink) Close() { n.h.Close() }

func (n *Netlink) Lookup(name string) (Address, error) {
	link, err := n.h.LinkByName(name)
	if err != nil {
		return Address{}, fmt.Errorf("link lookup %s: %w", name, err)
	}
	a := Address{MAC: link.Attrs().HardwareAddr}

	addrs, err := n.h.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return a, fmt.Errorf("addr list %s: %w", name, err)
	}
	if len(addrs) > 0 && addrs[0].IPNet != nil {
		a.IP = addrs[0].IP.To4()
		a.Netmask = net.IP(addrs[0].Mask)
	}

	routes, err := n.h.RouteList(link, netlink.FAMILY_V4)
	if err != nil {
		return a, fmt.Errorf("route list %s: %w", name, err)
	}
	for _, r := range routes {
		if r.Gw != nil && isDefault(r.Dst) {
			a.Gateway = r.Gw
			break
		}
	}
	return a, nil
}

func isDefault(dst *net.IPNet) bool {
	if dst == nil {
		return true
	}
	ones, _ := dst.Mask.Size()
	return ones == 0 && dst.IP.IsUnspecified()
}

func (n *Netlink) Assign(name string, ip, netmask net.IP) error {
	link, err := n.h.LinkByName(name)
	if err != nil {
		return fmt.Errorf("link lookup %s: %w", name, err)
	}
	addr := &netlink.Addr{IPNet: &net.IPNet{IP: ip.To4(), Mask: net.IPMask(netmask.To4())}}
	if err := n.h.AddrReplace(link, addr); err != nil {
		return fmt.Errorf("addr replace %s: %w", name, err)
	}
	return nil
}

func (n *Netlink) SetGateway(name string, gw net.IP) error {
	link, err := n.h.LinkByName(name)
	if err != nil {
		return fmt.Errorf("link lookup %s: %w", name, err)
	}
	route := &netlink.Route{LinkIndex: link.Attrs().Index, Gw: gw.To4()}
	if err := n.h.RouteReplace(route); err != nil {
		return fmt.Errorf("default route via %s: %w", gw, err)
	}
	return nil
}

func (n *Netlink) SetUp(name string, up bool) error {
	link, err := n.h.LinkByName(name)
	if err != nil {
		return fmt.Errorf("link lookup %s: %w", name, err)
	}
	if up {
		err = n.h.LinkSetUp(link)
	} else {
		err = n.h.LinkSetDown(link)
	}
	if err != nil {
		return fmt.Errorf("set %s up=%v: %w", name, up, err)
	}
	return nil
}

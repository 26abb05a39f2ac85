// Package config provides application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix processed by Load.
const Prefix = "PORTALD"

// Settings holds all application configuration.
type Settings struct {
	// Application metadata
	Version  string `envconfig:"VERSION" default:"0.9.7"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Portal web server settings
	HTTPHost string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"80"`

	// Captive DNS responder
	DNSListen string `envconfig:"DNS_LISTEN" default:":53"`

	// Prometheus endpoint, empty disables it
	MetricsAddr string `envconfig:"METRICS_ADDR" default:""`

	// Hardware abstraction layer
	HALURL string `envconfig:"HAL_URL" default:"http://cubeos-hal:6005"`

	// Radio interfaces
	StationInterface string `envconfig:"STA_INTERFACE" default:"wlan0"`
	APInterface      string `envconfig:"AP_INTERFACE" default:"uap0"`

	// Soft-AP DHCP responder
	DHCPEnabled bool          `envconfig:"DHCP_ENABLED" default:"true"`
	DHCPLease   time.Duration `envconfig:"DHCP_LEASE" default:"1h"`

	// Persistent credential region
	StoragePath string `envconfig:"STORAGE_PATH" default:"/var/lib/portald/eeprom.db"`
	StorageSize int    `envconfig:"STORAGE_SIZE" default:"4096"`
	Volatile    bool   `envconfig:"VOLATILE" default:"false"`

	// Loop pacing
	TickInterval time.Duration `envconfig:"TICK_INTERVAL" default:"10ms"`

	// Optional extension page document (JSON or YAML)
	PagesFile string `envconfig:"PAGES_FILE" default:""`

	Portal Portal `envconfig:"PORTAL"`
}

// ListenAddr returns the address string for the HTTP server to bind to.
func (s *Settings) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.HTTPHost, s.HTTPPort)
}

// Load creates a new Settings instance from environment variables.
func Load() (*Settings, error) {
	s := &Settings{}
	if err := envconfig.Process(Prefix, s); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := s.Portal.Validate(); err != nil {
		return nil, fmt.Errorf("invalid portal config: %w", err)
	}
	return s, nil
}

// SaveCredential selects when an established credential is persisted.
type SaveCredential string

const (
	SaveNever SaveCredential = "never"
	SaveAuto  SaveCredential = "auto"
)

// BootURI selects the page a client lands on after the device restarts.
type BootURI string

const (
	BootRoot BootURI = "root"
	BootHome BootURI = "home"
)

// Portal is the connection manager configuration bundle. It is built once
// before the portal starts and copied by value into it; changes only take
// effect through an explicit reconfiguration before the next start.
type Portal struct {
	// Soft access point
	APID    string `envconfig:"APID" default:"portald"`
	PSK     string `envconfig:"PSK" default:"12345678"`
	APIP    net.IP `envconfig:"APIP" default:"172.217.28.1"`
	Gateway net.IP `envconfig:"GATEWAY" default:"172.217.28.1"`
	Netmask net.IP `envconfig:"NETMASK" default:"255.255.255.0"`
	Channel uint8  `envconfig:"CHANNEL" default:"1"`
	Hidden  bool   `envconfig:"HIDDEN" default:"false"`

	AutoSave SaveCredential `envconfig:"AUTO_SAVE" default:"auto"`
	BootURI  BootURI        `envconfig:"BOOT_URI" default:"root"`

	// Credential region placement
	StorageOffset int `envconfig:"STORAGE_OFFSET" default:"0"`
	Slots         int `envconfig:"SLOTS" default:"1"`

	// Lifecycle policy
	AutoRise       bool          `envconfig:"AUTO_RISE" default:"true"`
	AutoReset      bool          `envconfig:"AUTO_RESET" default:"true"`
	AutoReconnect  bool          `envconfig:"AUTO_RECONNECT" default:"false"`
	ImmediateStart bool          `envconfig:"IMMEDIATE_START" default:"false"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	PortalTimeout  time.Duration `envconfig:"PORTAL_TIMEOUT" default:"0s"`
	LinkCheck      time.Duration `envconfig:"LINK_CHECK" default:"5s"`

	HostName string `envconfig:"HOST_NAME" default:""`
	HomeURI  string `envconfig:"HOME_URI" default:"/"`

	// Station static addressing, unset means DHCP
	StaticIP   net.IP `envconfig:"STA_IP"`
	StaGW      net.IP `envconfig:"STA_GATEWAY"`
	StaNetmask net.IP `envconfig:"STA_NETMASK"`
	DNS1       net.IP `envconfig:"DNS1"`
	DNS2       net.IP `envconfig:"DNS2"`
}

// DefaultPortal returns the configuration used when nothing is overridden.
func DefaultPortal() Portal {
	return Portal{
		APID:           "portald",
		PSK:            "12345678",
		APIP:           net.IPv4(172, 217, 28, 1).To4(),
		Gateway:        net.IPv4(172, 217, 28, 1).To4(),
		Netmask:        net.IPv4(255, 255, 255, 0).To4(),
		Channel:        1,
		AutoSave:       SaveAuto,
		BootURI:        BootRoot,
		Slots:          1,
		AutoRise:       true,
		AutoReset:      true,
		ConnectTimeout: 30 * time.Second,
		LinkCheck:      5 * time.Second,
		HomeURI:        "/",
	}
}

// WithAP returns a copy of p using the given access point name and passphrase.
func (p Portal) WithAP(apid, psk string) Portal {
	p.APID = apid
	p.PSK = psk
	return p
}

// StaticStation reports whether station mode uses fixed addressing.
func (p Portal) StaticStation() bool {
	return p.StaticIP != nil && !p.StaticIP.IsUnspecified()
}

// BootPage returns the URI a client should land on after a restart.
func (p Portal) BootPage() string {
	if p.BootURI == BootHome && p.HomeURI != "" {
		return p.HomeURI
	}
	return "/"
}

// Validate checks the bundle for values the radio would reject.
func (p Portal) Validate() error {
	var errs []error
	if p.APID == "" || len(p.APID) > 32 {
		errs = append(errs, fmt.Errorf("apid must be 1..32 bytes, got %d", len(p.APID)))
	}
	if p.PSK != "" && (len(p.PSK) < 8 || len(p.PSK) > 63) {
		errs = append(errs, errors.New("psk must be empty or 8..63 bytes"))
	}
	if p.APIP.To4() == nil {
		errs = append(errs, errors.New("apip must be an IPv4 address"))
	}
	if p.Gateway.To4() == nil {
		errs = append(errs, errors.New("gateway must be an IPv4 address"))
	}
	if m := p.Netmask.To4(); m == nil {
		errs = append(errs, errors.New("netmask must be an IPv4 mask"))
	} else if ones, bits := net.IPMask(m).Size(); bits == 0 || ones == 0 {
		errs = append(errs, fmt.Errorf("netmask %s is not contiguous", p.Netmask))
	}
	if p.Channel < 1 || p.Channel > 14 {
		errs = append(errs, fmt.Errorf("channel %d out of range 1..14", p.Channel))
	}
	switch p.AutoSave {
	case SaveNever, SaveAuto:
	default:
		errs = append(errs, fmt.Errorf("unknown auto save policy %q", p.AutoSave))
	}
	switch p.BootURI {
	case BootRoot, BootHome:
	default:
		errs = append(errs, fmt.Errorf("unknown boot uri policy %q", p.BootURI))
	}
	if p.StorageOffset < 0 {
		errs = append(errs, errors.New("storage offset must not be negative"))
	}
	if p.Slots < 1 {
		errs = append(errs, errors.New("at least one credential slot is required"))
	}
	if p.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect timeout must be positive"))
	}
	return errors.Join(errs...)
}

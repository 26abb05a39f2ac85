// Package portal drives the connection manager: it classifies HTTP requests,
// serves the configuration pages, runs the DNS redirector while the captive
// portal is up and performs the connection policy on a single loop
// goroutine.
package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/nuclearlighters/portald/internal/auxpage"
	"github.com/nuclearlighters/portald/internal/config"
	"github.com/nuclearlighters/portald/internal/credential"
	"github.com/nuclearlighters/portald/internal/dhcpd"
	"github.com/nuclearlighters/portald/internal/dnsredir"
	"github.com/nuclearlighters/portald/internal/render"
	"github.com/nuclearlighters/portald/internal/system"
	"github.com/nuclearlighters/portald/internal/wifi"
)

// Prefix is the root of the built-in pages.
const Prefix = "/_ac"

var (
	// ErrRunning is returned when the portal is reconfigured or begun twice.
	ErrRunning = errors.New("portal already running")
	// ErrNoRestarter is logged when a reset is due but nothing can restart.
	ErrNoRestarter = errors.New("no restarter configured")
)

// Sampler reads live host counters for the status page.
type Sampler interface {
	Sample(ctx context.Context) system.Snapshot
}

// Options carries the optional collaborators of a Portal.
type Options struct {
	// DNS defaults to a redirector on :53.
	DNS *dnsredir.Server
	// DHCP, when set, runs alongside the access point.
	DHCP *dhcpd.Server
	// Sampler defaults to a system.Sampler for "/".
	Sampler Sampler
	// Restarter performs resets. Without one, resets are only logged.
	Restarter system.Restarter
	// Metrics defaults to a fresh set.
	Metrics *Metrics
}

// Portal is the connection manager. All methods except Handler, State and
// Metrics must be called from the goroutine that calls Handle.
type Portal struct {
	cfg   config.Portal
	ctl   *wifi.Controller
	store *credential.Store

	dns       *dnsredir.Server
	dhcp      *dhcpd.Server
	sampler   Sampler
	restarter system.Restarter
	metrics   *Metrics

	pages    *auxpage.Registry
	renderer *render.Renderer
	router   chi.Router
	notFound http.Handler

	jobs    chan *job
	current *job
	pending []action

	mu   sync.Mutex
	quit chan struct{}

	state        atomic.Uint32
	begun        bool
	portalSince  time.Time
	lastActivity time.Time
	lastCheck    time.Time
	outcome      outcome
	nowFunc      func() time.Time
}

// outcome is the result of the last connection requested from the portal.
type outcome struct {
	ssid    string
	err     error
	saveErr error
	// reported is false only while a success awaits the result page.
	reported bool
}

// New builds a portal for cfg driving radio and remembering networks in store.
func New(cfg config.Portal, radio wifi.Radio, store *credential.Store, opts Options) (*Portal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid portal config: %w", err)
	}
	renderer, err := render.New()
	if err != nil {
		return nil, err
	}

	p := &Portal{
		cfg:       cfg,
		ctl:       wifi.NewController(radio, apSettings(cfg)),
		store:     store,
		dns:       opts.DNS,
		dhcp:      opts.DHCP,
		sampler:   opts.Sampler,
		restarter: opts.Restarter,
		metrics:   opts.Metrics,
		pages:     auxpage.NewRegistry(builtin),
		renderer:  renderer,
		jobs:      make(chan *job),
		quit:      make(chan struct{}),
		nowFunc:   time.Now,
	}
	if p.dns == nil {
		p.dns = dnsredir.New(":53")
	}
	if p.sampler == nil {
		p.sampler = system.NewSampler("/")
	}
	if p.metrics == nil {
		p.metrics = NewMetrics()
	}
	p.metrics.watch(p)
	p.metrics.setState(wifi.StateIdle)

	p.router = p.newRouter()
	p.ctl.OnTransition(p.onTransition)
	return p, nil
}

func builtin(uri string) bool {
	return uri == Prefix || strings.HasPrefix(uri, Prefix+"/")
}

func apSettings(cfg config.Portal) wifi.APSettings {
	return wifi.APSettings{
		SSID:       cfg.APID,
		Passphrase: cfg.PSK,
		Channel:    cfg.Channel,
		Hidden:     cfg.Hidden,
		IP:         cfg.APIP,
		Gateway:    cfg.Gateway,
		Netmask:    cfg.Netmask,
	}
}

func (p *Portal) now() time.Time { return p.nowFunc() }

func (p *Portal) quitChan() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quit
}

// Configure replaces the configuration. It is only allowed before Begin or
// after End.
func (p *Portal) Configure(cfg config.Portal) error {
	if p.begun {
		return ErrRunning
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid portal config: %w", err)
	}
	p.cfg = cfg
	p.ctl.SetAP(apSettings(cfg))
	return nil
}

// Config returns a copy of the active configuration.
func (p *Portal) Config() config.Portal { return p.cfg }

// State is safe to call from any goroutine.
func (p *Portal) State() wifi.State { return wifi.State(p.state.Load()) }

// Metrics returns the portal's collectors.
func (p *Portal) Metrics() *Metrics { return p.metrics }

// Controller exposes the network role controller.
func (p *Portal) Controller() *wifi.Controller { return p.ctl }

// OnDetect installs a predicate that may veto an acquired station address.
func (p *Portal) OnDetect(fn func(ip net.IP) bool) { p.ctl.SetDetect(fn) }

// OnNotFound installs the handler for unmatched requests while no portal is
// active.
func (p *Portal) OnNotFound(h http.Handler) { p.notFound = h }

// Join registers extension pages. Nothing is joined if any URI is taken,
// built in or malformed.
func (p *Portal) Join(pages ...*auxpage.Page) bool { return p.pages.Join(pages...) }

// On sets the handler of a joined extension page, replacing any previous one.
func (p *Portal) On(uri string, h auxpage.Handler, order auxpage.Order) bool {
	return p.pages.On(uri, h, order)
}

// Detach removes an extension page.
func (p *Portal) Detach(uri string) bool { return p.pages.Detach(uri) }

// Aux returns the extension page registered at uri.
func (p *Portal) Aux(uri string) (*auxpage.Page, bool) { return p.pages.Lookup(uri) }

// Load reads page definitions from r and joins them.
func (p *Portal) Load(r io.Reader) error {
	pages, err := auxpage.Load(r)
	if err != nil {
		return err
	}
	return p.pages.Add(pages...)
}

// Begin starts the connection manager. Unless ImmediateStart is set it tries
// cred, or the saved credentials when cred is nil, waiting at most timeout
// per attempt. When every attempt fails and AutoRise is set the captive
// portal is raised and Begin returns nil. After an error Begin may be called
// again.
func (p *Portal) Begin(ctx context.Context, cred *credential.Credential, timeout time.Duration) (err error) {
	if p.begun {
		return ErrRunning
	}
	if timeout <= 0 {
		timeout = p.cfg.ConnectTimeout
	}

	p.mu.Lock()
	select {
	case <-p.quit:
		p.quit = make(chan struct{})
	default:
	}
	p.mu.Unlock()
	p.begun = true
	defer func() {
		if err != nil {
			p.begun = false
		}
	}()

	radio := p.ctl.Radio()
	if p.cfg.HostName != "" {
		if err := radio.SetHostname(ctx, p.cfg.HostName); err != nil {
			log.Warn().Err(err).Str("hostname", p.cfg.HostName).Msg("Failed to set hostname")
		}
	}
	if p.cfg.StaticStation() {
		p.ctl.SetStaticAddress(&wifi.StaticAddress{
			IP:      p.cfg.StaticIP,
			Gateway: p.cfg.StaGW,
			Netmask: p.cfg.StaNetmask,
			DNS1:    p.cfg.DNS1,
			DNS2:    p.cfg.DNS2,
		})
	} else {
		p.ctl.SetStaticAddress(nil)
	}

	log.Info().
		Str("apid", p.cfg.APID).
		Bool("immediate", p.cfg.ImmediateStart).
		Dur("timeout", timeout).
		Msg("Connection manager starting")

	if p.cfg.ImmediateStart {
		return p.ctl.RaisePortal(ctx, true)
	}

	if err = p.connectAny(ctx, cred, timeout); err == nil || !p.cfg.AutoRise {
		return err
	}
	return p.ctl.RaisePortal(ctx, false)
}

// End tears down the access point, DNS and DHCP servers. The controller
// returns to IDLE unless a station is connected; that link is kept and the
// state stays CONNECTED. Queued requests are answered with 503.
func (p *Portal) End(ctx context.Context) error {
	var errs []error
	if err := p.ctl.StopPortal(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.dns.Stop(); err != nil {
		errs = append(errs, err)
	}
	if p.dhcp != nil {
		if err := p.dhcp.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	p.mu.Lock()
	select {
	case <-p.quit:
	default:
		close(p.quit)
	}
	p.mu.Unlock()

	p.begun = false
	log.Info().Msg("Connection manager stopped")
	return errors.Join(errs...)
}

// Handle performs one cooperative iteration: pending deferred actions, one
// DNS poll, one queued HTTP request and the timers. It blocks no longer than
// the DNS poll timeout unless a deferred connection attempt runs.
func (p *Portal) Handle(ctx context.Context) {
	p.runDeferred(ctx)

	if p.dns.Active() {
		if _, err := p.dns.ProcessNextRequest(); err != nil {
			log.Debug().Err(err).Msg("DNS poll failed")
		}
	}

	select {
	case j := <-p.jobs:
		p.serve(j)
	default:
	}

	p.supervise(ctx)
}

// Run calls Handle every interval until ctx is done, then ends the portal.
func (p *Portal) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.Handle(ctx)
		select {
		case <-ctx.Done():
			return p.End(context.WithoutCancel(ctx))
		case <-ticker.C:
		}
	}
}

// supervise runs the portal idle timeout and the station link check.
func (p *Portal) supervise(ctx context.Context) {
	now := p.now()

	switch p.ctl.State() {
	case wifi.StatePortalActive:
		if p.cfg.PortalTimeout <= 0 {
			return
		}
		since := p.portalSince
		if p.lastActivity.After(since) {
			since = p.lastActivity
		}
		if now.Sub(since) < p.cfg.PortalTimeout {
			return
		}
		log.Info().Dur("timeout", p.cfg.PortalTimeout).Msg("Captive portal idle, shutting down")
		p.stopPortal(ctx)
		if p.cfg.AutoReset {
			p.restart(ctx)
		}

	case wifi.StateConnected:
		if p.cfg.LinkCheck <= 0 || now.Sub(p.lastCheck) < p.cfg.LinkCheck {
			return
		}
		p.lastCheck = now
		err := p.ctl.CheckLink(ctx)
		if !errors.Is(err, wifi.ErrLinkLost) {
			if err != nil {
				log.Debug().Err(err).Msg("Link check failed")
			}
			return
		}
		if p.cfg.AutoReconnect && p.connectAny(ctx, nil, p.cfg.ConnectTimeout) == nil {
			return
		}
		if p.cfg.AutoRise {
			if err := p.ctl.RaisePortal(ctx, false); err != nil {
				log.Error().Err(err).Msg("Failed to raise captive portal")
			}
		}
	}
}

// onTransition keeps the DNS redirector running exactly while the portal is
// active and the DHCP server running exactly while the access point is up.
func (p *Portal) onTransition(from, to wifi.State) {
	p.state.Store(uint32(to))
	p.metrics.setState(to)

	if to == wifi.StatePortalActive {
		p.portalSince = p.now()
		if err := p.dns.Start(p.cfg.APIP); err != nil {
			log.Error().Err(err).Msg("Failed to start DNS redirector")
		}
	}
	if from == wifi.StatePortalActive {
		if err := p.dns.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop DNS redirector")
		}
	}
	p.syncDHCP()
}

func (p *Portal) syncDHCP() {
	if p.dhcp == nil {
		return
	}
	var err error
	if p.ctl.APActive() {
		err = p.dhcp.Start()
	} else {
		err = p.dhcp.Stop()
	}
	if err != nil {
		log.Warn().Err(err).Msg("Failed to sync DHCP server with access point")
	}
}

func (p *Portal) stopPortal(ctx context.Context) {
	if err := p.ctl.StopPortal(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to stop captive portal")
	}
	p.syncDHCP()
}

func (p *Portal) restart(ctx context.Context) {
	if p.restarter == nil {
		log.Warn().Err(ErrNoRestarter).Msg("Reset requested")
		return
	}
	log.Info().Msg("Restarting device")
	if err := p.restarter.Restart(ctx); err != nil {
		log.Error().Err(err).Msg("Restart failed")
	}
}

// candidates lists the credentials to try, in order. An empty credential
// asks the radio to rejoin whatever it last associated with.
func (p *Portal) candidates(ctx context.Context, explicit *credential.Credential) []credential.Credential {
	if explicit != nil {
		return []credential.Credential{*explicit}
	}
	entries := p.store.Entries()
	if len(entries) == 0 {
		return []credential.Credential{{}}
	}
	if !p.cfg.AutoReconnect {
		return []credential.Credential{entries[0].Credential}
	}

	seen, err := p.ctl.Radio().Scan(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Scan before reconnect failed")
		return []credential.Credential{entries[0].Credential}
	}
	rssi := make(map[string]int, len(seen))
	for _, n := range seen {
		if cur, ok := rssi[n.SSID]; !ok || n.RSSI > cur {
			rssi[n.SSID] = n.RSSI
		}
	}
	var visible []credential.Entry
	for _, e := range entries {
		if _, ok := rssi[e.SSID]; ok {
			visible = append(visible, e)
		}
	}
	if len(visible) == 0 {
		return []credential.Credential{entries[0].Credential}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return rssi[visible[i].SSID] > rssi[visible[j].SSID]
	})
	creds := make([]credential.Credential, len(visible))
	for i, e := range visible {
		creds[i] = e.Credential
	}
	return creds
}

// connectAny tries the candidates until one connects. An explicit credential
// that connects is saved according to the auto-save policy.
func (p *Portal) connectAny(ctx context.Context, explicit *credential.Credential, timeout time.Duration) error {
	var err error
	for _, c := range p.candidates(ctx, explicit) {
		if err = p.connect(ctx, c, timeout); err == nil {
			if explicit != nil {
				p.save(c)
			}
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return err
}

func (p *Portal) connect(ctx context.Context, c credential.Credential, timeout time.Duration) error {
	_, err := p.ctl.Connect(ctx, wifi.JoinRequest{
		SSID:       c.SSID,
		Passphrase: c.Passphrase,
		BSSID:      c.HardwareAddr(),
		Channel:    c.Channel,
	}, timeout)
	p.metrics.attempt(err)
	if err == nil {
		p.lastCheck = p.now()
	}
	return err
}

func (p *Portal) save(c credential.Credential) error {
	if p.cfg.AutoSave != config.SaveAuto {
		return nil
	}
	e, err := p.store.Put(c)
	if err != nil {
		log.Error().Err(err).Str("ssid", c.SSID).Msg("Failed to save credential")
		return err
	}
	log.Info().Str("ssid", c.SSID).Int("slot", e.Slot).Msg("Credential saved")
	return nil
}

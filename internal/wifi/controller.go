package wifi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the connection state owned by the Controller.
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateConnectionFailed
	StatePortalActive
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateConnectionFailed:
		return "CONNECTION_FAILED"
	case StatePortalActive:
		return "PORTAL_ACTIVE"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

var (
	// ErrConnectionTimeout means the association did not finish in time.
	ErrConnectionTimeout = errors.New("connection attempt timed out")
	// ErrConnectFailed means the radio reported a failed association.
	ErrConnectFailed = errors.New("connection failed")
	// ErrVetoed means the detect predicate rejected the established link.
	ErrVetoed = errors.New("connection rejected by detect handler")
	// ErrLinkLost means an established station link went away.
	ErrLinkLost = errors.New("station link lost")
	// ErrInvalidTransition means the operation is not valid in the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// DefaultPollInterval is how often link status is sampled while connecting.
const DefaultPollInterval = 100 * time.Millisecond

var transitions = map[State][]State{
	StateIdle:             {StateConnecting, StatePortalActive},
	StateConnecting:       {StateConnected, StateConnectionFailed},
	StateConnected:        {StateDisconnecting, StateConnectionFailed},
	StateConnectionFailed: {StateConnecting, StatePortalActive, StateIdle},
	StatePortalActive:     {StateConnecting, StateIdle},
	StateDisconnecting:    {StateIdle},
}

// TransitionFunc observes a state change. Observers run synchronously on the
// goroutine that caused the change.
type TransitionFunc func(from, to State)

// Controller drives the radio through connection attempts and portal mode.
// It is not safe for concurrent use; the portal loop is its only caller.
type Controller struct {
	radio     Radio
	ap        APSettings
	static    *StaticAddress
	state     State
	apUp      bool
	lastErr   error
	detect    func(net.IP) bool
	observers []TransitionFunc
	poll      time.Duration
}

// NewController returns an idle controller that raises ap when asked.
func NewController(radio Radio, ap APSettings) *Controller {
	return &Controller{
		radio: radio,
		ap:    ap,
		state: StateIdle,
		poll:  DefaultPollInterval,
	}
}

// State returns the current connection state.
func (c *Controller) State() State { return c.state }

// APActive reports whether the soft access point is up.
func (c *Controller) APActive() bool { return c.apUp }

// LastError returns the reason of the most recent failure.
func (c *Controller) LastError() error { return c.lastErr }

// Radio returns the underlying driver.
func (c *Controller) Radio() Radio { return c.radio }

// AP returns the soft access point settings.
func (c *Controller) AP() APSettings { return c.ap }

// OnTransition registers an observer for every state change.
func (c *Controller) OnTransition(fn TransitionFunc) {
	c.observers = append(c.observers, fn)
}

// SetDetect installs the predicate consulted with the acquired address
// whenever a station link comes up. Returning false rejects the link.
func (c *Controller) SetDetect(fn func(net.IP) bool) { c.detect = fn }

// SetAP replaces the access point settings used by the next RaisePortal.
func (c *Controller) SetAP(ap APSettings) { c.ap = ap }

// SetStaticAddress makes station attempts use fixed addressing; nil restores DHCP.
func (c *Controller) SetStaticAddress(addr *StaticAddress) { c.static = addr }

// SetPollInterval changes how often link status is sampled while connecting.
func (c *Controller) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.poll = d
	}
}

func (c *Controller) transition(to State) error {
	from := c.state
	for _, s := range transitions[from] {
		if s == to {
			c.state = to
			log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Connection state changed")
			for _, fn := range c.observers {
				fn(from, to)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Connect associates with the network in req and blocks until the link is
// up, the radio reports failure, timeout elapses or ctx is done. It returns
// the station addressing on success. Any failure leaves the controller in
// CONNECTION_FAILED.
func (c *Controller) Connect(ctx context.Context, req JoinRequest, timeout time.Duration) (Interface, error) {
	switch c.state {
	case StateConnecting, StateDisconnecting:
		return Interface{}, fmt.Errorf("%w: connect while %s", ErrInvalidTransition, c.state)
	case StateConnected:
		if err := c.Disconnect(ctx); err != nil {
			return Interface{}, err
		}
	}

	mode := ModeStation
	if c.apUp {
		if c.radio.Capabilities().DualMode {
			mode = ModeAPStation
		} else {
			// Single-mode radio: the portal must drop while we try.
			if err := c.radio.StopAP(ctx); err != nil {
				log.Warn().Err(err).Msg("Failed to stop access point before connecting")
			}
			c.apUp = false
		}
	}
	if err := c.transition(StateConnecting); err != nil {
		return Interface{}, err
	}

	log.Info().Str("ssid", req.SSID).Dur("timeout", timeout).Msg("Connecting to network")

	iface, err := c.associate(ctx, mode, req, timeout)
	if err != nil {
		c.fail(ctx, err)
		return Interface{}, err
	}

	c.lastErr = nil
	if err := c.transition(StateConnected); err != nil {
		return Interface{}, err
	}
	log.Info().Str("ssid", req.SSID).Str("ip", iface.IP.String()).Msg("Connected to network")
	return iface, nil
}

func (c *Controller) associate(ctx context.Context, mode Mode, req JoinRequest, timeout time.Duration) (Interface, error) {
	if err := c.radio.SetMode(ctx, mode); err != nil {
		return Interface{}, fmt.Errorf("set mode %s: %w", mode, err)
	}
	if err := c.radio.ConfigureStation(ctx, c.static); err != nil {
		return Interface{}, fmt.Errorf("configure station: %w", err)
	}
	if err := c.radio.Join(ctx, req); err != nil {
		return Interface{}, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	status, err := c.waitForConnect(ctx, timeout)
	if err != nil {
		return Interface{}, err
	}
	if status != LinkConnected {
		return Interface{}, fmt.Errorf("%w: %s", ErrConnectFailed, status)
	}

	iface, err := c.radio.Station(ctx)
	if err != nil {
		return Interface{}, fmt.Errorf("read station address: %w", err)
	}
	if c.detect != nil && !c.detect(iface.IP) {
		return Interface{}, ErrVetoed
	}
	return iface, nil
}

// waitForConnect polls the link until it reaches a terminal status.
func (c *Controller) waitForConnect(ctx context.Context, timeout time.Duration) (LinkStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		status, err := c.radio.LinkStatus(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("Link status poll failed")
		} else if status.terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return status, fmt.Errorf("%w after %s (last status %s)", ErrConnectionTimeout, timeout, status)
			}
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Controller) fail(ctx context.Context, err error) {
	c.lastErr = err
	log.Warn().Err(err).Msg("Connection attempt failed")
	// Abort a pending association so the radio does not keep retrying.
	if lerr := c.radio.Leave(context.WithoutCancel(ctx), false); lerr != nil {
		log.Debug().Err(lerr).Msg("Leave after failed attempt")
	}
	if terr := c.transition(StateConnectionFailed); terr != nil {
		log.Error().Err(terr).Msg("Unexpected state")
	}
}

// RaisePortal brings up the soft access point and enters PORTAL_ACTIVE. It
// is only valid after a failed connection, unless immediate is set and the
// controller is idle.
func (c *Controller) RaisePortal(ctx context.Context, immediate bool) error {
	switch {
	case c.state == StateConnectionFailed:
	case immediate && c.state == StateIdle:
	default:
		return fmt.Errorf("%w: raise portal while %s", ErrInvalidTransition, c.state)
	}

	mode := ModeAP
	if c.radio.Capabilities().DualMode {
		mode = ModeAPStation
	} else if err := c.radio.Leave(ctx, false); err != nil {
		log.Debug().Err(err).Msg("Leave before starting access point")
	}

	if err := c.radio.SetMode(ctx, mode); err != nil {
		return fmt.Errorf("set mode %s: %w", mode, err)
	}
	if !c.apUp {
		if err := c.radio.StartAP(ctx, c.ap); err != nil {
			return fmt.Errorf("start access point: %w", err)
		}
		c.apUp = true
	}

	log.Info().Str("ssid", c.ap.SSID).Str("ip", c.ap.IP.String()).Bool("immediate", immediate).Msg("Captive portal raised")
	return c.transition(StatePortalActive)
}

// StopPortal takes the access point down. A controller in PORTAL_ACTIVE or
// CONNECTION_FAILED returns to IDLE; a connected station is kept.
func (c *Controller) StopPortal(ctx context.Context) error {
	if c.apUp {
		if err := c.radio.StopAP(ctx); err != nil {
			return fmt.Errorf("stop access point: %w", err)
		}
		c.apUp = false
		mode := ModeOff
		if c.state == StateConnected {
			mode = ModeStation
		}
		if err := c.radio.SetMode(ctx, mode); err != nil {
			log.Warn().Err(err).Msg("Failed to switch radio mode after stopping access point")
		}
		log.Info().Msg("Access point stopped")
	}

	switch c.state {
	case StatePortalActive, StateConnectionFailed:
		return c.transition(StateIdle)
	}
	return nil
}

// Disconnect leaves the current network and returns to IDLE.
func (c *Controller) Disconnect(ctx context.Context) error {
	if c.state != StateConnected {
		return fmt.Errorf("%w: disconnect while %s", ErrInvalidTransition, c.state)
	}
	if err := c.transition(StateDisconnecting); err != nil {
		return err
	}
	if err := c.radio.Leave(ctx, false); err != nil {
		log.Warn().Err(err).Msg("Radio leave failed")
	}
	log.Info().Msg("Disconnected from network")
	return c.transition(StateIdle)
}

// CheckLink verifies that a connected station still has its link. A lost
// link moves the controller to CONNECTION_FAILED and returns ErrLinkLost.
func (c *Controller) CheckLink(ctx context.Context) error {
	if c.state != StateConnected {
		return nil
	}
	status, err := c.radio.LinkStatus(ctx)
	if err != nil {
		return fmt.Errorf("link status: %w", err)
	}
	if status == LinkConnected {
		return nil
	}
	c.lastErr = fmt.Errorf("%w: %s", ErrLinkLost, status)
	log.Warn().Str("status", status.String()).Msg("Station link lost")
	if err := c.transition(StateConnectionFailed); err != nil {
		return err
	}
	return c.lastErr
}

// Snapshot is a point-in-time view of the radio for status pages.
type Snapshot struct {
	State   State
	Mode    Mode
	Link    LinkStatus
	Station Interface
	AP      Interface
}

// Snapshot samples the radio. Read errors leave the affected fields zero.
func (c *Controller) Snapshot(ctx context.Context) Snapshot {
	s := Snapshot{State: c.state}
	var err error
	if s.Mode, err = c.radio.Mode(ctx); err != nil {
		log.Debug().Err(err).Msg("Read radio mode")
	}
	if s.Link, err = c.radio.LinkStatus(ctx); err != nil {
		log.Debug().Err(err).Msg("Read link status")
	}
	if s.Mode.HasStation() {
		if s.Station, err = c.radio.Station(ctx); err != nil {
			log.Debug().Err(err).Msg("Read station interface")
		}
	}
	if s.Mode.HasAP() {
		if s.AP, err = c.radio.AccessPoint(ctx); err != nil {
			log.Debug().Err(err).Msg("Read access point interface")
		}
	}
	return s
}

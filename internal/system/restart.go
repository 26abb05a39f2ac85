package system

import (
	"context"
	"errors"
)

// ErrRestartUnsupported is returned where the platform cannot reboot.
var ErrRestartUnsupported = errors.New("restart not supported on this platform")

// Restarter reboots the device.
type Restarter interface {
	Restart(ctx context.Context) error
}

// RestarterFunc adapts a function, such as a HAL reboot call, to Restarter.
type RestarterFunc func(ctx context.Context) error

func (f RestarterFunc) Restart(ctx context.Context) error { return f(ctx) }

// LocalRestarter reboots the host this process runs on. It needs
// CAP_SYS_BOOT.
type LocalRestarter struct{}

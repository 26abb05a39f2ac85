//go:build linux

package system

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// Restart flushes filesystem buffers and reboots.
func (LocalRestarter) Restart(context.Context) error {
	log.Warn().Msg("Rebooting host")
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}

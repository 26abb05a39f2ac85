//go:build !linux

package system

import "context"

func (LocalRestarter) Restart(context.Context) error { return ErrRestartUnsupported }

//go:build !windows

package launch

import "syscall"

// detachedAttr gives the editor its own session so terminal signals
// aimed at this process never reach it.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

//go:build windows

package remote

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// reuseAddr lets the client share the rendezvous port with the editor
// process and other clients on the same host.
func reuseAddr(network, address string, conn syscall.RawConn) error {
	var opErr error
	err := conn.Control(func(fd uintptr) {
		opErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}

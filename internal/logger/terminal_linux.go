//go:build linux

package logger

import (
	"syscall"
	"unsafe"
)

// TCGETS is the ioctl number for reading terminal attributes on Linux.
const TCGETS = 0x5401

// isTerminal reports whether fd is attached to a terminal. It decides
// whether the text handler colors its output.
func isTerminal(fd uintptr) bool {
	var termios syscall.Termios
	_, _, err := syscall.Syscall6(
		syscall.SYS_IOCTL,
		fd,
		TCGETS,
		uintptr(unsafe.Pointer(&termios)),
		0, 0, 0,
	)
	return err == 0
}

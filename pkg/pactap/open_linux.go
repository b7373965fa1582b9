//go:build linux

package pactap

import (
	"bytes"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const devTap = "/dev/net/tun"

// ifReq mirrors the kernel's struct ifreq as used by TUNSETIFF: a
// null-padded interface name followed by a flags field, with trailing
// padding matching the union in <net/if.h>.
type ifReq struct {
	Name  [ifnameSiz]byte
	Flags uint16
	_     [22]byte
}

// Open creates or attaches to the tap interface named name (the kernel
// picks a free tapN name if empty) and returns it set non-blocking, ready
// to be registered with the event loop.
func Open(name string) (*Device, error) {
	f, err := os.OpenFile(devTap, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devTap, err)
	}

	var req ifReq
	req.Flags = unix.IFF_TAP | unix.IFF_NO_PI
	copy(req.Name[:], name)

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.TUNSETIFF, uintptr(unsafe.Pointer(&req))); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("TUNSETIFF: %w", errno)
	}

	if err := unix.SetNonblock(int(f.Fd()), true); err != nil {
		f.Close()
		return nil, fmt.Errorf("set nonblocking: %w", err)
	}

	name = string(bytes.TrimRight(req.Name[:], "\x00"))
	return &Device{f: f, Name: name}, nil
}

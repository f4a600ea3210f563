// Package netutil wires up the listener socket options this server
// needs (SO_REUSEADDR, optional SO_LINGER, nonblocking accepted
// sockets) directly against golang.org/x/sys/unix, the way the teacher
// package's socket tuning does for its own (TCP_QUICKACK/TCP_DEFER_ACCEPT)
// options — see shockwave/pkg/shockwave/socket/tuning_linux.go.
package netutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ListenBacklog is the fixed backlog this server listens with.
const ListenBacklog = 6

// MinPort and MaxPort bound the configurable listen port, exclusive of
// MinPort (the well-known range) and inclusive of MaxPort.
const (
	MinPort = 1024
	MaxPort = 65535
)

// ValidatePort reports whether port is in the server's accepted range
// (1024, 65535].
func ValidatePort(port int) error {
	if port <= MinPort || port > MaxPort {
		return fmt.Errorf("netutil: port %d out of range (%d,%d]", port, MinPort, MaxPort)
	}
	return nil
}

// Listen creates, tunes, and binds a nonblocking IPv4 TCP listening
// socket on port, returning the raw file descriptor. Callers own the
// fd and must close it themselves.
func Listen(port int, lingerOn bool) (int, error) {
	if err := ValidatePort(port); err != nil {
		return -1, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("netutil: socket: %w", err)
	}

	if err := SetLinger(fd, lingerOn); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := SetReuseAddr(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}

	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: bind port %d: %w", port, err)
	}

	if err := unix.Listen(fd, ListenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: listen: %w", err)
	}

	return fd, nil
}

// SetReuseAddr sets SO_REUSEADDR on fd.
func SetReuseAddr(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("netutil: SO_REUSEADDR: %w", err)
	}
	return nil
}

// SetLinger sets SO_LINGER to {l_onoff=1, l_linger=1} when on is true,
// matching the source's "graceful-ish" close (wait up to one second for
// unsent data, then RST). When on is false SO_LINGER is left at its
// default (close returns at once; the kernel sends unsent data in the
// background).
func SetLinger(fd int, on bool) error {
	if !on {
		return nil
	}
	linger := &unix.Linger{Onoff: 1, Linger: 1}
	if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, linger); err != nil {
		return fmt.Errorf("netutil: SO_LINGER: %w", err)
	}
	return nil
}

// SetNonblocking marks fd nonblocking.
func SetNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

// Accept4 accepts a connection on listenFd, returning a nonblocking
// client fd and its peer address.
func Accept4(listenFd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(listenFd, unix.SOCK_NONBLOCK)
}

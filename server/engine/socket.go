//go:build linux

package engine

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	backlog = 1024 // backlog for listening
)

var ErrBadListener = errors.New("listener has no file descriptor")

// create new non-blocking socket, bind and start listening.
// port 0 picks an ephemeral one, see LocalPort
func ListenTCP(addr [4]byte, port int) (int, error) {
	if port < 0 || port > 65535 {
		return -1, fmt.Errorf("listen: port %d out of range", port)
	}

	// SOCK_STREAM = TCP
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("listen: socket: %w", err)
	}

	// so restart doesn't fail with "address already in use"
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: reuseaddr: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

// take over the socket of an already bound listener (goji bind, systemd fd).
// returned fd is a non-blocking dup, the listener itself may be closed after
func ListenerFd(l net.Listener) (int, error) {
	sc, ok := l.(syscall.Conn)
	if !ok {
		return -1, ErrBadListener
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("listener fd: %w", err)
	}

	fd := -1
	var derr error
	cerr := raw.Control(func(sysfd uintptr) {
		fd, derr = unix.Dup(int(sysfd))
	})
	if cerr != nil {
		return -1, fmt.Errorf("listener fd: %w", cerr)
	}
	if derr != nil {
		return -1, fmt.Errorf("listener fd: dup: %w", derr)
	}

	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listener fd: nonblock: %w", err)
	}
	return fd, nil
}

// port the listening socket is bound to
func LocalPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	}
	return 0, fmt.Errorf("unexpected socket family %T", sa)
}

// peer address as ip:port string for logs
func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrUnix:
		return a.Name
	}
	return "unknown"
}

// RaiseFileLimit lifts soft RLIMIT_NOFILE to the hard limit,
// every session holds one descriptor. returns the limit in effect
func RaiseFileLimit() (uint64, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, fmt.Errorf("getrlimit: %w", err)
	}
	if lim.Cur >= lim.Max {
		return lim.Cur, nil
	}
	lim.Cur = lim.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, fmt.Errorf("setrlimit: %w", err)
	}
	return lim.Cur, nil
}

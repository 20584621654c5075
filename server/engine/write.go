package engine

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	chunkSize = 4096 // one read syscall at most
)

// pool for read chunks so we don't alloc new bufs for every read
var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, chunkSize)
		return &b
	},
}

// read everything available on non-blocking fd into s.In.
// returns bytes read in this call; eof is set when peer has closed.
// EINTR is retried, EAGAIN ends the loop without error
func ReadAll(s *Session) (n int, eof bool, err error) {
	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)
	buf := *bp

	for {
		r, rerr := unix.Read(s.Fd, buf)
		if rerr != nil {
			if errors.Is(rerr, unix.EINTR) {
				continue
			}
			if errors.Is(rerr, unix.EAGAIN) {
				return n, false, nil
			}
			return n, false, rerr
		}
		if r == 0 {
			return n, true, nil
		}
		s.In = append(s.In, buf[:r]...)
		n += r
	}
}

// flush s.Out to fd. partial writes are retried, EINTR is retried,
// EAGAIN leaves the rest in s.Out so caller can wait for write interest
func WriteAll(s *Session) (n int, err error) {
	for len(s.Out) > 0 {
		w, werr := unix.Write(s.Fd, s.Out)
		if werr != nil {
			if errors.Is(werr, unix.EINTR) {
				continue
			}
			if errors.Is(werr, unix.EAGAIN) {
				break
			}
			return n, werr
		}
		n += w
		s.Out = s.Out[w:]
	}
	if len(s.Out) == 0 {
		s.Out = nil
	}
	return n, nil
}

// write whole buf, spinning on EAGAIN at most tries times.
// used for error pages which don't wait for write interest
func WriteFull(fd int, buf []byte, tries int) (n int, err error) {
	for n < len(buf) {
		w, werr := unix.Write(fd, buf[n:])
		if werr != nil {
			if errors.Is(werr, unix.EINTR) {
				continue
			}
			if errors.Is(werr, unix.EAGAIN) && tries > 0 {
				tries--
				pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
				unix.Poll(pfd, 10)
				continue
			}
			return n, werr
		}
		n += w
	}
	return n, nil
}

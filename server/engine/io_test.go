//go:build linux

package engine

import (
	"bytes"
	"testing"

	"golang.org/x/sys/unix"
)

// connected non-blocking pair, [0] plays the server side
func socketPair(t testing.TB) [2]int {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds
}

func TestReadAll(t *testing.T) {
	fds := socketPair(t)
	s := NewSession(fds[0], "pair")

	n, eof, err := ReadAll(s)
	if err != nil || n != 0 || eof {
		t.Fatalf("empty socket: n=%d eof=%v err=%v", n, eof, err)
	}

	payload := bytes.Repeat([]byte("x"), chunkSize*2+17)
	if _, err := unix.Write(fds[1], payload); err != nil {
		t.Fatal(err)
	}
	n, eof, err = ReadAll(s)
	if err != nil || eof {
		t.Fatalf("eof=%v err=%v", eof, err)
	}
	if n != len(payload) || !bytes.Equal(s.In, payload) {
		t.Errorf("read %d bytes, want %d", n, len(payload))
	}

	unix.Shutdown(fds[1], unix.SHUT_WR)
	if _, eof, _ := ReadAll(s); !eof {
		t.Error("peer shutdown not reported")
	}
}

func TestWriteAll(t *testing.T) {
	fds := socketPair(t)
	s := NewSession(fds[0], "pair")

	s.Out = []byte("HTTP/1.1 200 OK\r\n\r\n")
	n, err := WriteAll(s)
	if err != nil || n != 19 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if s.Out != nil {
		t.Error("out not cleared after flush")
	}

	buf := make([]byte, 64)
	r, _ := unix.Read(fds[1], buf)
	if string(buf[:r]) != "HTTP/1.1 200 OK\r\n\r\n" {
		t.Errorf("peer got %q", buf[:r])
	}
}

func TestWriteAllPartial(t *testing.T) {
	fds := socketPair(t)
	s := NewSession(fds[0], "pair")

	// larger than socket buffer, nobody reads the other end
	s.Out = make([]byte, 8<<20)
	n, err := WriteAll(s)
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 || len(s.Out) == 0 {
		t.Fatalf("expected partial write, wrote %d, left %d", n, len(s.Out))
	}
	if n+len(s.Out) != 8<<20 {
		t.Errorf("bytes lost: %d + %d", n, len(s.Out))
	}
}

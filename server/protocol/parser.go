// incremental HTTP request parser working on session buffers.
// every step may be called again with more bytes appended to s.In
// and continues where it stopped
package protocol

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/s00inx/webserver/server/engine"
)

const (
	maxHeaderValue = 255
	indexPage      = "/index.html"
)

// outcome of one parsing step
type Result uint8

const (
	Again  Result = iota // need more bytes, state kept
	Done                 // step complete
	Failed               // protocol error, see returned error
)

func (r Result) String() string {
	switch r {
	case Again:
		return "again"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

var crlfb = []byte(crlf)

// parse request line once it is complete in s.In and consume it
func ParseRequestLine(s *engine.Session) (Result, error) {
	// \r could be last byte of previous read
	from := max(0, s.ReadPos-1)
	idx := bytes.Index(s.In[from:], crlfb)
	if idx == -1 {
		s.ReadPos = len(s.In)
		return Again, nil
	}

	end := from + idx
	if err := parseLine(&s.Req, s.In[:end]); err != nil {
		return Failed, err
	}
	s.Consume(end + len(crlf))
	s.ReadPos = 0
	return Done, nil
}

// <METHOD> <path>[?query] HTTP/<1.0|1.1>
func parseLine(req *engine.Request, line []byte) error {
	method, rest, ok := bytes.Cut(line, []byte{' '})
	if !ok {
		return fmt.Errorf("%w: %q", errInvalid, line)
	}

	switch string(method) {
	case "GET":
		req.Method = engine.MethodGet
	case "POST":
		req.Method = engine.MethodPost
	default:
		return fmt.Errorf("%w: %q", errMethod, method)
	}

	target, version, ok := bytes.Cut(rest, []byte{' '})
	if !ok || len(target) == 0 || target[0] != '/' {
		return fmt.Errorf("%w: %q", errInvalid, line)
	}
	if i := bytes.IndexByte(target, '?'); i >= 0 {
		target = target[:i]
	}
	if len(target) <= 1 {
		req.Path = indexPage
	} else {
		req.Path = string(target)
	}

	switch string(version) {
	case "HTTP/1.0":
		req.Version = engine.HTTP10
	case "HTTP/1.1":
		req.Version = engine.HTTP11
	default:
		return fmt.Errorf("%w: %q", errVersion, version)
	}
	return nil
}

// byte by byte scanner over header grammar: (key ":" " " value CRLF)* CRLF.
// sub-state and marks live in session, so a partial block is resumed
// from s.ReadPos and headers already stored are not parsed again
func ParseHeaders(s *engine.Session) (Result, error) {
	in := s.In
	for i := s.ReadPos; i < len(in); i++ {
		c := in[i]

		switch s.HState {
		case engine.HStart, engine.HLF:
			switch c {
			case '\r':
				s.HState = engine.HEndCR
			case '\n', ':':
				return Failed, fmt.Errorf("%w: empty key", errHeader)
			default:
				s.KeyStart = i
				s.HState = engine.HKey
			}

		case engine.HKey:
			switch c {
			case ':':
				s.KeyEnd = i
				s.HState = engine.HColon
			case '\r', '\n':
				return Failed, fmt.Errorf("%w: no colon", errHeader)
			}

		case engine.HColon:
			if c != ' ' {
				return Failed, fmt.Errorf("%w: no space after colon", errHeader)
			}
			s.HState = engine.HSpaceAfterColon

		case engine.HSpaceAfterColon:
			if c == ' ' || c == '\r' || c == '\n' {
				return Failed, fmt.Errorf("%w: empty value", errHeader)
			}
			s.ValStart = i
			s.HState = engine.HValue

		case engine.HValue:
			switch c {
			case '\r':
				s.HState = engine.HCR
			case '\n':
				return Failed, fmt.Errorf("%w: bare LF", errHeader)
			default:
				if i-s.ValStart+1 > maxHeaderValue {
					return Failed, errHeaderTooLong
				}
			}

		case engine.HCR:
			if c != '\n' {
				return Failed, fmt.Errorf("%w: CR without LF", errHeader)
			}
			// last write wins
			key := string(in[s.KeyStart:s.KeyEnd])
			s.Req.Headers[key] = string(in[s.ValStart : i-1])
			s.HState = engine.HLF

		case engine.HEndCR:
			if c != '\n' {
				return Failed, fmt.Errorf("%w: CR without LF", errHeader)
			}
			s.HState = engine.HEndLF
			s.Consume(i + 1)
			s.ReadPos = 0
			return Done, nil
		}
	}

	s.ReadPos = len(in)
	return Again, nil
}

// body size from Content-length, required for POST
func ContentLength(req *engine.Request) (int, error) {
	v, ok := req.Header("Content-length")
	if !ok {
		return 0, errNoContentLength
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", errContentLength, v)
	}
	return n, nil
}

// request path -> name inside served fs.FS, false if it can't be served
func fileName(p string) (string, bool) {
	name := path.Clean("/" + p)[1:]
	if name == "" {
		name = indexPage[1:]
	}
	return name, fs.ValidPath(name)
}

package engine

import (
	"strings"
	"sync"
	"sync/atomic"
)

// parse state of a session, see protocol package for transitions
type ParseState uint8

const (
	StateRequestLine ParseState = iota
	StateHeaders
	StateBody
	StateAnalysis
	StateFinish
)

// header grammar position: (key ":" " " value CRLF)* CRLF
type HeaderState uint8

const (
	HStart HeaderState = iota
	HKey
	HColon
	HSpaceAfterColon
	HValue
	HCR
	HLF
	HEndCR
	HEndLF
)

type Method uint8

const (
	MethodNone Method = iota
	MethodGet
	MethodPost
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	}
	return ""
}

type Version uint8

const (
	VersionNone Version = iota
	HTTP10
	HTTP11
)

func (v Version) String() string {
	switch v {
	case HTTP10:
		return "HTTP/1.0"
	case HTTP11:
		return "HTTP/1.1"
	}
	return ""
}

// request is what parser has extracted so far,
// fields stay valid between partial reads
type Request struct {
	Method  Method
	Version Version
	Path    string
	Headers map[string]string
}

// header lookup: exact key first, then case-insensitive
func (r *Request) Header(key string) (string, bool) {
	if v, ok := r.Headers[key]; ok {
		return v, true
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// weak handle to a session: fd plus generation,
// it never keeps a session alive and goes stale once the fd is reused
type Handle struct {
	Fd  int32
	Gen uint32
}

var generation atomic.Uint32

// session is one client tcp stream plus everything parser has accumulated.
// only one goroutine owns it at a time: reactor while it sits in epoll,
// a worker while it is processed (one-shot re-arm guarantees that)
type Session struct {
	Fd   int
	Addr string
	gen  uint32

	In      []byte // ingress bytes not consumed yet
	Out     []byte // egress bytes not flushed yet
	ReadPos int    // scan offset into In, never goes back until Reset

	State  ParseState
	HState HeaderState
	Req    Request

	// header scanner marks, relative to In
	KeyStart, KeyEnd, ValStart int

	KeepAlive  bool
	Again      int // "readable but nothing to read" counter
	Err        bool
	PeerClosed bool
	Served     int // finished exchanges on this stream

	revents uint32 // events reported by last Wait
	timer   *timerEntry
	busy    atomic.Bool
	close   sync.Once
}

// new session for accepted descriptor
func NewSession(fd int, addr string) *Session {
	s := &Session{
		Fd:   fd,
		Addr: addr,
		gen:  generation.Add(1),
	}
	s.Req.Headers = make(map[string]string)
	s.KeepAlive = true
	return s
}

// weak handle for timers
func (s *Session) Handle() Handle {
	return Handle{Fd: int32(s.Fd), Gen: s.gen}
}

// events reported for this session by the last Wait
func (s *Session) Events() uint32 {
	return s.revents
}

// reset session for reuse on keep-alive,
// linked timer must be cancelled by caller via Timers.Separate
func (s *Session) Reset() {
	s.In = s.In[:0]
	s.ReadPos = 0
	s.State = StateRequestLine
	s.HState = HStart
	s.KeyStart, s.KeyEnd, s.ValStart = 0, 0, 0

	s.Req.Method = MethodNone
	s.Req.Version = VersionNone
	s.Req.Path = ""
	clear(s.Req.Headers)

	s.KeepAlive = true
	s.Again = 0
	s.Err = false
}

// drop first n bytes of In and rebase scan offsets
func (s *Session) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= len(s.In) {
		s.In = s.In[:0]
		s.ReadPos = 0
		return
	}
	rem := copy(s.In, s.In[n:])
	s.In = s.In[:rem]
	s.ReadPos = max(0, s.ReadPos-n)
}

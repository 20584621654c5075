package protocol

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/s00inx/webserver/server/engine"
)

const (
	AgainMax = 200 // empty reads tolerated before a session is dropped

	defaultMaxRequestSize   = 1<<16 - 1
	defaultKeepAliveTimeout = 5 * time.Minute
	errorWriteTries         = 50
)

var ackBody = []byte("I have receiced this.")

// Handler is the per-connection state machine: it reads what is available,
// advances parsing and writes the response. Serve runs on a worker and
// owns the session until it returns
type Handler struct {
	Files            fs.FS      // static content, rooted at document root
	Mime             *MimeTypes // suffix -> content type
	KeepAliveTimeout time.Duration
	MaxRequestSize   int
	Log              *slog.Logger
}

func NewHandler(files fs.FS, mime *MimeTypes, log *slog.Logger) *Handler {
	if mime == nil {
		mime = NewMimeTypes()
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		Files:            files,
		Mime:             mime,
		KeepAliveTimeout: defaultKeepAliveTimeout,
		MaxRequestSize:   defaultMaxRequestSize,
		Log:              log,
	}
}

// Serve is the feed pass for one readiness event
func (h *Handler) Serve(s *engine.Session) engine.Action {
	// pending output from previous pass goes first
	if len(s.Out) > 0 {
		if _, err := engine.WriteAll(s); err != nil {
			h.Log.Debug("write failed", "addr", s.Addr, "err", err)
			return engine.ActionClose
		}
		if len(s.Out) > 0 {
			return engine.ActionWrite
		}
		if s.State == engine.StateFinish {
			return h.finish(s)
		}
	}

	n, eof, err := engine.ReadAll(s)
	if err != nil {
		h.Log.Debug("read failed", "addr", s.Addr, "err", err)
		return engine.ActionClose
	}
	if eof {
		s.PeerClosed = true
	}
	if n == 0 {
		if eof {
			return engine.ActionClose
		}
		// readable but nothing came, maybe aborted request
		s.Again++
		if s.Again > AgainMax {
			s.Err = true
			h.Log.Info("dropping connection", "addr", s.Addr, "err", errRetries)
			return engine.ActionClose
		}
		return engine.ActionRead
	}

	if h.MaxRequestSize > 0 && len(s.In) > h.MaxRequestSize {
		return h.fail(s, errTooLarge)
	}

	res, err := h.Advance(s)
	switch res {
	case Failed:
		return h.fail(s, err)
	case Again:
		if s.PeerClosed {
			return engine.ActionClose
		}
		return engine.ActionRead
	}

	if _, err := engine.WriteAll(s); err != nil {
		h.Log.Debug("write failed", "addr", s.Addr, "err", err)
		return engine.ActionClose
	}
	if len(s.Out) > 0 {
		return engine.ActionWrite
	}
	return h.finish(s)
}

// Advance runs parse states on buffered input until more bytes are needed,
// response is ready in s.Out, or request turned out to be bad
func (h *Handler) Advance(s *engine.Session) (Result, error) {
	for {
		switch s.State {
		case engine.StateRequestLine:
			res, err := ParseRequestLine(s)
			if res != Done {
				return res, err
			}
			s.State = engine.StateHeaders

		case engine.StateHeaders:
			res, err := ParseHeaders(s)
			if res != Done {
				return res, err
			}
			// GET carries no body, POST has one after blank line
			if s.Req.Method == engine.MethodPost {
				s.State = engine.StateBody
			} else {
				s.State = engine.StateAnalysis
			}

		case engine.StateBody:
			n, err := ContentLength(&s.Req)
			if err != nil {
				return Failed, err
			}
			if len(s.In) < n {
				return Again, nil
			}
			s.State = engine.StateAnalysis

		case engine.StateAnalysis:
			if err := h.analyze(s); err != nil {
				return Failed, err
			}
			s.State = engine.StateFinish

		case engine.StateFinish:
			return Done, nil
		}
	}
}

// build response for a fully parsed request into s.Out
func (h *Handler) analyze(s *engine.Session) error {
	headers := h.connection(s, make([]Header, 0, 3))

	switch s.Req.Method {
	case engine.MethodPost:
		n, err := ContentLength(&s.Req)
		if err != nil {
			return err
		}
		// body is acknowledged, not stored
		s.Consume(n)

		headers = append(headers, Header{"Content-type", "text/plain"})
		s.Out = AppendResp(s.Out, http.StatusOK, headers, ackBody)
		return nil

	case engine.MethodGet:
		name, ok := fileName(s.Req.Path)
		if !ok {
			return fmt.Errorf("%w: %s", errNotFound, s.Req.Path)
		}
		body, err := h.readFile(name)
		if err != nil {
			return err
		}

		headers = append(headers, Header{"Content-type", h.Mime.Lookup(path.Ext(name))})
		s.Out = AppendResp(s.Out, http.StatusOK, headers, body)
		return nil
	}
	return fmt.Errorf("%w: method %v", errInvalid, s.Req.Method)
}

// stat + read, any failure of file collaborator is reported as 404
func (h *Handler) readFile(name string) ([]byte, error) {
	if h.Files == nil {
		return nil, errNotFound
	}
	fi, err := fs.Stat(h.Files, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNotFound, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", errNotFound, name)
	}

	body, err := fs.ReadFile(h.Files, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNotFound, err)
	}
	return body, nil
}

// Connection header of request is mirrored, absence means keep-alive
func (h *Handler) connection(s *engine.Session, headers []Header) []Header {
	if v, ok := s.Req.Header("Connection"); ok {
		s.KeepAlive = httpguts.HeaderValuesContainsToken([]string{v}, "keep-alive")
	}
	if !s.KeepAlive {
		return append(headers, Header{"Connection", "close"})
	}
	return append(headers,
		Header{"Connection", "keep-alive"},
		Header{"Keep-Alive", "timeout=" + strconv.FormatInt(h.KeepAliveTimeout.Milliseconds(), 10)},
	)
}

// exchange is over, keep session for next request or let it go
func (h *Handler) finish(s *engine.Session) engine.Action {
	s.Served++
	h.Log.Info("request served",
		"addr", s.Addr, "method", s.Req.Method, "path", s.Req.Path, "keep_alive", s.KeepAlive)

	if !s.KeepAlive || s.PeerClosed {
		return engine.ActionClose
	}
	s.Reset()
	return engine.ActionKeepAlive
}

// protocol error: error page is written right away and session is closed
func (h *Handler) fail(s *engine.Session, err error) engine.Action {
	s.Err = true
	code := statusOf(err)

	msg := http.StatusText(code)
	if errors.Is(err, errNoContentLength) {
		msg += ": Lack of argument (Content-length)"
	}

	if _, werr := engine.WriteFull(s.Fd, ErrorPage(code, msg), errorWriteTries); werr != nil {
		h.Log.Debug("error page not sent", "addr", s.Addr, "err", werr)
	}
	h.Log.Info("http parse error", "addr", s.Addr, "status", code, "err", err)
	return engine.ActionClose
}

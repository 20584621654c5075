//go:build linux

// readiness reactor: epoll wrapper, accept loop, dispatch to worker pool
// and re-arm after the handling pass. engine works only w bytes, no HTTP logic
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

const (
	defaultMaxEvents        = 4096
	defaultTick             = 500 * time.Millisecond
	defaultConnTimeout      = 2 * time.Second
	defaultKeepAliveTimeout = 5 * time.Minute

	// interest sets
	readEvents  = unix.EPOLLIN | unix.EPOLLET | unix.EPOLLONESHOT
	writeEvents = unix.EPOLLOUT | unix.EPOLLET | unix.EPOLLONESHOT
)

var ErrReactorClosed = errors.New("reactor closed")

// what the handling pass wants done with the session afterwards
type Action uint8

const (
	ActionClose     Action = iota
	ActionRead             // request not complete, wait for more bytes
	ActionKeepAlive        // exchange finished, session was reset for next request
	ActionWrite            // output pending, wait for write interest
)

func (a Action) String() string {
	switch a {
	case ActionClose:
		return "close"
	case ActionRead:
		return "read"
	case ActionKeepAlive:
		return "keep-alive"
	case ActionWrite:
		return "write"
	}
	return "unknown"
}

// callback that runs on a worker for a ready session,
// s belongs to the callback until it returns
type HandleFunc func(s *Session) Action

type Options struct {
	MaxEvents        int
	Tick             time.Duration // upper bound of one wait, timers are swept once per tick
	ConnTimeout      time.Duration // new or mid-request sessions
	KeepAliveTimeout time.Duration // idle sessions between requests
	SubmitTimeout    time.Duration // how long dispatch may block on a full queue, 0 = until room
	Logger           *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxEvents <= 0 {
		o.MaxEvents = defaultMaxEvents
	}
	if o.Tick <= 0 {
		o.Tick = defaultTick
	}
	if o.ConnTimeout <= 0 {
		o.ConnTimeout = defaultConnTimeout
	}
	if o.KeepAliveTimeout <= 0 {
		o.KeepAliveTimeout = defaultKeepAliveTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

type Reactor struct {
	epfd   int
	lfd    int
	events []unix.EpollEvent

	conns  *Registry
	timers *Timers
	pool   *Pool
	handle HandleFunc

	log    *slog.Logger
	opts   Options
	ctx    context.Context
	closed atomic.Bool
}

// NewReactor creates epoll instance and event buffer and registers listening
// socket lfd edge-triggered. lfd must be non-blocking
func NewReactor(lfd int, pool *Pool, h HandleFunc, opts Options) (*Reactor, error) {
	opts.defaults()

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}

	r := &Reactor{
		epfd:   epfd,
		lfd:    lfd,
		events: make([]unix.EpollEvent, opts.MaxEvents),
		conns:  NewRegistry(),
		pool:   pool,
		handle: h,
		log:    opts.Logger,
		opts:   opts,
		ctx:    context.Background(),
	}
	r.timers = NewTimers(r.evict)

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, lfd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET,
		Fd:     int32(lfd),
	}); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll add listener: %w", err)
	}
	return r, nil
}

func (r *Reactor) Timers() *Timers     { return r.timers }
func (r *Reactor) Sessions() *Registry { return r.conns }

// Register adds s to epoll with interest events and to the fd table
func (r *Reactor) Register(s *Session, events uint32) error {
	r.conns.Store(s)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, s.Fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(s.Fd),
	}); err != nil {
		r.conns.Remove(s)
		return fmt.Errorf("epoll add %d: %w", s.Fd, err)
	}
	return nil
}

// Modify re-arms one-shot interest of s
func (r *Reactor) Modify(s *Session, events uint32) error {
	r.conns.Store(s)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, s.Fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(s.Fd),
	}); err != nil {
		return fmt.Errorf("epoll mod %d: %w", s.Fd, err)
	}
	return nil
}

// Deregister removes s from epoll and from the fd table
func (r *Reactor) Deregister(s *Session) error {
	r.conns.Remove(s)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, s.Fd, nil); err != nil {
		return fmt.Errorf("epoll del %d: %w", s.Fd, err)
	}
	return nil
}

// Wait blocks up to timeout and returns sessions that became ready.
// readiness of the listener is turned into accepts right here
func (r *Reactor) Wait(timeout time.Duration) ([]*Session, error) {
	if r.closed.Load() {
		return nil, ErrReactorClosed
	}

	n, err := unix.EpollWait(r.epfd, r.events, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll wait: %w", err)
	}

	ready := make([]*Session, 0, n)
	for i := range n {
		ev := r.events[i]
		efd := int(ev.Fd) // current event descriptor

		if efd == r.lfd {
			r.accept()
			continue
		}

		s, ok := r.conns.Load(efd)
		if !ok {
			// closed by a worker while event was queued
			continue
		}
		s.revents = ev.Events
		ready = append(ready, s)
	}
	return ready, nil
}

// edge-triggered listener fires once per edge, so accept until EAGAIN
func (r *Reactor) accept() {
	for {
		nfd, sa, err := unix.Accept4(r.lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN):
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			default:
				r.log.Error("accept failed", "err", err)
			}
			return
		}

		s := NewSession(nfd, sockaddrString(sa))

		// timer goes first, so that fd is never in epoll without a deadline
		r.timers.Schedule(s, r.opts.ConnTimeout)
		if err := r.Register(s, readEvents); err != nil {
			r.log.Error("register failed", "addr", s.Addr, "err", err)
			r.Close(s)
			continue
		}
		r.log.Info("client connected", "addr", s.Addr, "fd", nfd)
	}
}

// hand ready sessions to the pool
func (r *Reactor) dispatch(ready []*Session) {
	for _, s := range ready {
		ev := s.revents
		if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 || ev&(unix.EPOLLIN|unix.EPOLLOUT) == 0 {
			r.log.Debug("error event", "addr", s.Addr, "events", ev)
			r.Close(s)
			continue
		}

		// take it off timers before a worker sees it, so it can't expire mid-flight
		r.timers.Separate(s)

		if err := r.submit(s); err != nil {
			r.log.Warn("dropping connection", "addr", s.Addr, "err", err)
			r.Close(s)
		}
	}
}

func (r *Reactor) submit(s *Session) error {
	t := Task{Session: s, Run: r.process}
	if r.opts.SubmitTimeout <= 0 {
		return r.pool.Submit(r.ctx, t)
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.opts.SubmitTimeout)
	defer cancel()
	return r.pool.Submit(ctx, t)
}

// handling pass on a worker
func (r *Reactor) process(s *Session) {
	if !s.busy.CompareAndSwap(false, true) {
		r.log.Error("session already in flight", "addr", s.Addr, "fd", s.Fd)
		return
	}
	act := r.handle(s)
	s.busy.Store(false)

	r.rearm(s, act)
}

// decides what happens to s after the handling pass.
// timer is scheduled before MOD: otherwise next event could separate
// a timer that doesn't exist yet
func (r *Reactor) rearm(s *Session, act Action) {
	var events uint32
	switch act {
	case ActionRead:
		r.timers.Schedule(s, r.opts.ConnTimeout)
		events = readEvents
	case ActionKeepAlive:
		r.timers.Separate(s)
		r.timers.Schedule(s, r.opts.KeepAliveTimeout)
		events = readEvents
	case ActionWrite:
		r.timers.Schedule(s, r.opts.ConnTimeout)
		events = writeEvents
	default:
		r.Close(s)
		return
	}

	if err := r.Modify(s, events); err != nil {
		r.log.Error("re-arm failed", "addr", s.Addr, "action", act, "err", err)
		r.Close(s)
	}
}

// timer expiry releases the weak handle: if session is still there, it goes
func (r *Reactor) evict(h Handle) {
	s, ok := r.conns.Resolve(h)
	if !ok {
		return
	}
	r.log.Debug("idle timeout", "addr", s.Addr, "fd", s.Fd)
	r.Close(s)
}

// Close drops s: timer link, epoll, fd table, descriptor. safe to call twice
func (r *Reactor) Close(s *Session) {
	s.close.Do(func() {
		r.timers.Separate(s)
		r.Deregister(s)
		unix.Close(s.Fd)
		r.log.Debug("client closed", "addr", s.Addr, "fd", s.Fd)
	})
}

// Run drives wait -> dispatch -> sweep until ctx is done
func (r *Reactor) Run(ctx context.Context) error {
	r.ctx = ctx
	for {
		if ctx.Err() != nil {
			return nil
		}

		ready, err := r.Wait(r.opts.Tick)
		if err != nil {
			return err
		}
		r.dispatch(ready)
		r.timers.Sweep()
	}
}

// Shutdown closes every session, epoll instance and listening socket.
// pool must be closed before, so no worker holds a session
func (r *Reactor) Shutdown() error {
	if r.closed.Swap(true) {
		return ErrReactorClosed
	}

	var all []*Session
	r.conns.Range(func(s *Session) bool {
		all = append(all, s)
		return true
	})
	for _, s := range all {
		r.Close(s)
	}

	err := unix.Close(r.epfd)
	if lerr := unix.Close(r.lfd); err == nil {
		err = lerr
	}
	return err
}

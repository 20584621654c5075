package engine

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// fd -> session table, the strong owner of every live session.
// reactor inserts, workers may erase on error, so it has to be concurrent
type Registry struct {
	m *xsync.MapOf[int32, *Session]
}

func NewRegistry() *Registry {
	return &Registry{m: xsync.NewMapOf[int32, *Session](xsync.WithPresize(1024))}
}

func (r *Registry) Store(s *Session) {
	r.m.Store(int32(s.Fd), s)
}

func (r *Registry) Load(fd int) (*Session, bool) {
	return r.m.Load(int32(fd))
}

// resolve weak handle, stale generation means session is gone
func (r *Registry) Resolve(h Handle) (*Session, bool) {
	s, ok := r.m.Load(h.Fd)
	if !ok || s.gen != h.Gen {
		return nil, false
	}
	return s, true
}

// remove s only if fd still maps to it
func (r *Registry) Remove(s *Session) bool {
	removed := false
	r.m.Compute(int32(s.Fd), func(old *Session, loaded bool) (*Session, bool) {
		removed = loaded && old == s
		return old, !loaded || removed
	})
	return removed
}

func (r *Registry) Len() int {
	return r.m.Size()
}

func (r *Registry) Range(f func(s *Session) bool) {
	r.m.Range(func(_ int32, s *Session) bool {
		return f(s)
	})
}

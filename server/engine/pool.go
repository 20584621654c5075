// worker pool: bounded task queue + dynamically sized set of workers
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultAdjustInterval = 10 * time.Second
	defaultMinWaitTasks   = 10 // backlog that makes controller grow the pool
	defaultStep           = 10 // workers added or removed per adjust
)

var (
	ErrPoolShutdown = errors.New("pool is shutting down")
	ErrQueueFull    = errors.New("task queue is full")
	ErrPoolConfig   = errors.New("invalid pool config")
)

// unit of work: session handle plus the pass to run on it
type Task struct {
	Session *Session
	Run     func(s *Session)
}

type PoolOptions struct {
	AdjustInterval time.Duration
	MinWaitTasks   int
	Step           int
	Logger         *slog.Logger
}

// snapshot of pool counters
type PoolStats struct {
	Live      int
	Busy      int
	Queued    int
	Discarded int
}

type Pool struct {
	tasks chan Task
	exit  chan struct{} // wakes idle workers asked to leave
	done  chan struct{}

	mu       sync.Mutex // live, waitExit, workers
	min, max int
	live     int
	waitExit int
	nextID   uint64
	workers  map[uint64]struct{}

	busyMu sync.Mutex
	busy   int

	shutdown  atomic.Bool
	discarded int
	opts      PoolOptions
	wg        sync.WaitGroup
	ctrl      sync.WaitGroup
}

// NewPool starts min workers and the controller goroutine
func NewPool(min, max, capacity int, opts PoolOptions) (*Pool, error) {
	if min <= 0 || max < min || capacity <= 0 {
		return nil, ErrPoolConfig
	}
	if opts.AdjustInterval <= 0 {
		opts.AdjustInterval = defaultAdjustInterval
	}
	if opts.MinWaitTasks <= 0 {
		opts.MinWaitTasks = defaultMinWaitTasks
	}
	if opts.Step <= 0 {
		opts.Step = defaultStep
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	p := &Pool{
		tasks:   make(chan Task, capacity),
		exit:    make(chan struct{}, max),
		done:    make(chan struct{}),
		min:     min,
		max:     max,
		workers: make(map[uint64]struct{}, max),
		opts:    opts,
	}

	p.mu.Lock()
	for range min {
		p.spawn()
	}
	p.mu.Unlock()

	p.ctrl.Add(1)
	go p.adjust()
	return p, nil
}

// Submit enqueues t, blocking while the queue is full.
// gives up with ErrQueueFull when ctx deadline passes, ErrPoolShutdown
// once Close has started; t is never dropped without an error.
// accepted tasks still queued at Close are discarded, not run
func (p *Pool) Submit(ctx context.Context, t Task) error {
	if p.shutdown.Load() {
		return ErrPoolShutdown
	}

	// fast path, queue has room
	select {
	case p.tasks <- t:
		return nil
	default:
	}

	select {
	case p.tasks <- t:
		return nil
	case <-p.done:
		return ErrPoolShutdown
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrQueueFull
		}
		return ctx.Err()
	}
}

// Close stops controller and workers, waits for them and discards
// whatever is still queued. tasks being run are finished first
func (p *Pool) Close() PoolStats {
	p.mu.Lock()
	if p.shutdown.Swap(true) {
		p.mu.Unlock()
		return p.Stats()
	}
	close(p.done)
	p.mu.Unlock()

	p.ctrl.Wait()
	p.wg.Wait()

	n := 0
drain:
	for {
		select {
		case <-p.tasks:
			n++
		default:
			break drain
		}
	}

	p.mu.Lock()
	p.discarded += n
	p.mu.Unlock()
	return p.Stats()
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	st := PoolStats{Live: p.live, Queued: len(p.tasks), Discarded: p.discarded}
	p.mu.Unlock()

	p.busyMu.Lock()
	st.Busy = p.busy
	p.busyMu.Unlock()
	return st
}

// should be called with p.mu held
func (p *Pool) spawn() {
	id := p.nextID
	p.nextID++
	p.workers[id] = struct{}{}
	p.live++

	p.wg.Add(1)
	go p.worker(id)
}

func (p *Pool) worker(id uint64) {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		default:
		}

		select {
		case <-p.done:
			return
		case <-p.exit:
			if p.leave(id) {
				return
			}
		case t := <-p.tasks:
			if p.shutdown.Load() {
				// dequeued after shutdown, count it as discarded
				p.mu.Lock()
				p.discarded++
				p.mu.Unlock()
				return
			}
			p.run(t)
		}
	}
}

// idle worker asked to leave, only if we stay above min
func (p *Pool) leave(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.waitExit <= 0 {
		return false
	}
	p.waitExit--
	if p.live <= p.min {
		return false
	}
	p.live--
	delete(p.workers, id)
	return true
}

func (p *Pool) run(t Task) {
	p.busyMu.Lock()
	p.busy++
	p.busyMu.Unlock()

	defer func() {
		p.busyMu.Lock()
		p.busy--
		p.busyMu.Unlock()
	}()

	t.Run(t.Session)
}

// controller: grows pool on backlog, shrinks it when most workers idle
func (p *Pool) adjust() {
	defer p.ctrl.Done()

	tick := time.NewTicker(p.opts.AdjustInterval)
	defer tick.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-tick.C:
		}
		p.rebalance()
	}
}

func (p *Pool) rebalance() {
	p.mu.Lock()
	queued, live := len(p.tasks), p.live
	p.mu.Unlock()

	p.busyMu.Lock()
	busy := p.busy
	p.busyMu.Unlock()

	if queued >= p.opts.MinWaitTasks && live < p.max {
		p.mu.Lock()
		if !p.shutdown.Load() {
			for add := 0; add < p.opts.Step && p.live < p.max; add++ {
				p.spawn()
			}
		}
		grown := p.live
		p.mu.Unlock()
		p.opts.Logger.Debug("pool grown", "queued", queued, "live", grown)
	}

	if busy*2 < live && live > p.min {
		p.mu.Lock()
		p.waitExit = p.opts.Step
		p.mu.Unlock()
		p.opts.Logger.Debug("pool shrinking", "busy", busy, "live", live)

		for range p.opts.Step {
			select {
			case p.exit <- struct{}{}:
			default:
			}
		}
	}
}

package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/meoying/mysqlcore/conn"
)

// ErrPoolClosed is returned by Acquire once Close has been called.
var ErrPoolClosed = errors.New("mysqlcore: pool is closed")

// Dialer opens and authenticates one new physical connection. Pool calls it
// under its own admission control, never more than max_pool_size times
// concurrently.
type Dialer func(ctx context.Context) (*conn.Conn, error)

// Pool manages a bounded, reusable set of *conn.Conn to a single server.
// It follows the buffered-channel-as-idle-queue pattern: idle is sized to
// max_pool_size and doubles as both the inventory of ready connections and
// the FIFO wait queue once capacity is exhausted, since Go guarantees
// blocked channel receivers are woken in send order.
type Pool struct {
	cfg   Config
	dial  Dialer
	idle  chan *conn.Conn
	mu    sync.Mutex
	active int // physical connections currently open, idle or checked out
	closed bool

	opened atomic.Int64
}

// New builds a Pool. Call Warmup afterward to establish min_idle
// connections eagerly; Pool itself lazily dials on first demand.
func New(cfg Config, dial Dialer) *Pool {
	cfg = cfg.applyDefaults()
	return &Pool{
		cfg:  cfg,
		dial: dial,
		idle: make(chan *conn.Conn, cfg.MaxPoolSize),
	}
}

// Warmup opens enough connections to bring the pool up to cfg.MinIdle,
// dialing concurrently via errgroup and reserving their capacity slots
// before releasing the pool lock so a concurrent Acquire cannot also dial
// into the same reserved slots.
func (p *Pool) Warmup(ctx context.Context) error {
	p.mu.Lock()
	need := p.cfg.MinIdle - p.active
	if need > 0 {
		p.active += need
	}
	p.mu.Unlock()
	if need <= 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < need; i++ {
		g.Go(func() error {
			c, err := p.dial(gctx)
			if err != nil {
				p.mu.Lock()
				p.active--
				p.mu.Unlock()
				return err
			}
			p.opened.Add(1)
			p.idle <- c
			return nil
		})
	}
	return g.Wait()
}

// Acquire returns a ready connection, reusing an idle one if available,
// opening a new one if the pool has spare capacity, or blocking in FIFO
// order behind earlier callers once max_pool_size is reached. It returns
// ctx's error if ctx is done before a connection becomes available.
func (p *Pool) Acquire(ctx context.Context) (*conn.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case c := <-p.idle:
		return c, nil
	default:
	}

	p.mu.Lock()
	if p.active < p.cfg.MaxPoolSize {
		p.active++
		p.mu.Unlock()
		c, err := p.dial(ctx)
		if err != nil {
			p.mu.Lock()
			p.active--
			p.mu.Unlock()
			return nil, err
		}
		p.opened.Add(1)
		return c, nil
	}
	p.mu.Unlock()

	select {
	case c := <-p.idle:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns c to the pool for reuse. A connection whose State is no
// longer Idle (it hit a fatal wire error, or the caller explicitly
// reports it broken) is closed and its capacity slot freed instead of
// being re-admitted to the idle set — a broken connection must never
// reach a future Acquire caller.
func (p *Pool) Release(ctx context.Context, c *conn.Conn, broken bool) {
	if broken || c.State() != conn.StateIdle {
		p.destroy(ctx, c)
		return
	}
	select {
	case p.idle <- c:
	default:
		// idle is sized to MaxPoolSize and active never exceeds it, so
		// this only happens if a caller double-released a connection.
		p.destroy(ctx, c)
	}
}

func (p *Pool) destroy(ctx context.Context, c *conn.Conn) {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	_ = c.Close(ctx)
}

// Close closes every currently idle connection and marks the pool closed;
// subsequent Acquire calls fail with ErrPoolClosed. Connections already
// checked out are unaffected; their eventual Release still re-admits them
// to idle, since Close only stops new Acquires, not Release itself. Any
// per-connection close failures are collected rather than stopping at the
// first one, the way the teacher's own Server.Close aggregates errors
// across every connection it tears down.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var result *multierror.Error
	for {
		select {
		case c := <-p.idle:
			result = multierror.Append(result, c.Close(ctx))
		default:
			return result.ErrorOrNil()
		}
	}
}

// Opened reports how many physical connections this pool has ever
// dialed, for tests and diagnostics.
func (p *Pool) Opened() int64 {
	return p.opened.Load()
}

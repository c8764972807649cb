package settlez

import (
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/zoobzio/clockz"
)

// IDPool manages a pool of pre-generated trace IDs so starting a trace does
// not pay for entropy reads.
type IDPool struct {
	factory func() string
	ids     chan string
	stopCh  chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewIDPool creates a new ID pool with the specified capacity.
func NewIDPool(capacity int, factory func() string) *IDPool {
	pool := &IDPool{
		ids:     make(chan string, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// NewULIDPool creates an ID pool of ULIDs timestamped by clock.
func NewULIDPool(capacity int, clock clockz.Clock) *IDPool {
	entropy := ulid.DefaultEntropy()
	return NewIDPool(capacity, func() string {
		return ulid.MustNew(ulid.Timestamp(clock.Now()), entropy).String()
	})
}

// Get retrieves an ID from the pool, generating one directly when the pool
// is drained or closed.
func (p *IDPool) Get() string {
	select {
	case id := <-p.ids:
		return id
	default:
		return p.factory()
	}
}

func (p *IDPool) refill() {
	for {
		id := p.factory()
		select {
		case p.ids <- id:
		case <-p.stopCh:
			return
		}
	}
}

// Close stops the refill goroutine. Safe to call more than once.
func (p *IDPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}

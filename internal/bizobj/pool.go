package bizobj

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xfxf/dabo/internal/apperr"
	"github.com/xfxf/dabo/internal/keylock"
	"github.com/xfxf/dabo/internal/logging"
	"github.com/xfxf/dabo/internal/metrics"
)

type handle struct {
	biz        Bizobj
	dataSource string
	lastUsed   time.Time
	inUse      int
}

// Pool keeps live bizobjs by handle id. Calls on one handle are serialized;
// handles idle for longer than the TTL are evicted by Sweep.
type Pool struct {
	mu      sync.Mutex
	handles map[string]*handle
	locks   *keylock.Map
	idleTTL time.Duration
	now     func() time.Time
}

// NewPool creates an empty pool.
func NewPool(idleTTL time.Duration) *Pool {
	return &Pool{
		handles: make(map[string]*handle),
		locks:   keylock.New(),
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// Do runs fn on the bizobj stored under id while holding the handle's lock.
// A missing handle is created with create, or is a NotFoundError when create
// is nil. A handle bound to another data source is also NotFound. A handle
// created by this call is dropped again when fn fails.
func (p *Pool) Do(ctx context.Context, id, dataSource string, create Factory, fn func(Bizobj) error) error {
	unlock, err := p.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	h, created, err := p.checkout(ctx, id, dataSource, create)
	if err != nil {
		return err
	}

	err = fn(h.biz)
	if err != nil && created {
		p.remove(id)
		return err
	}
	p.checkin(h)
	return err
}

func (p *Pool) checkout(ctx context.Context, id, dataSource string, create Factory) (*handle, bool, error) {
	p.mu.Lock()
	h, ok := p.handles[id]
	if ok {
		if h.dataSource != dataSource {
			p.mu.Unlock()
			return nil, false, apperr.NotFound("session", "")
		}
		h.inUse++
		h.lastUsed = p.now()
		p.mu.Unlock()
		return h, false, nil
	}
	p.mu.Unlock()

	if create == nil {
		return nil, false, apperr.NotFound("session", "")
	}
	biz, err := create(ctx, dataSource)
	if err != nil {
		return nil, false, err
	}

	h = &handle{biz: biz, dataSource: dataSource, lastUsed: p.now(), inUse: 1}
	p.mu.Lock()
	p.handles[id] = h
	n := len(p.handles)
	p.mu.Unlock()
	metrics.SetBizHandlesActive(n)
	return h, true, nil
}

func (p *Pool) remove(id string) {
	p.mu.Lock()
	delete(p.handles, id)
	n := len(p.handles)
	p.mu.Unlock()
	metrics.SetBizHandlesActive(n)
}

func (p *Pool) checkin(h *handle) {
	p.mu.Lock()
	h.inUse--
	h.lastUsed = p.now()
	p.mu.Unlock()
}

// Sweep evicts handles idle for longer than the TTL and returns how many.
func (p *Pool) Sweep() int {
	p.mu.Lock()
	cutoff := p.now().Add(-p.idleTTL)
	n := 0
	for id, h := range p.handles {
		if h.inUse == 0 && h.lastUsed.Before(cutoff) {
			delete(p.handles, id)
			n++
		}
	}
	active := len(p.handles)
	p.mu.Unlock()

	metrics.SetBizHandlesActive(active)
	return n
}

// Len returns the number of live handles.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Run sweeps every interval until ctx is done.
func (p *Pool) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := p.Sweep(); n > 0 {
				logging.Debug("evicted idle bizobj handles", zap.Int("count", n))
			}
		}
	}
}

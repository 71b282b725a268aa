package bizobj

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xfxf/dabo/internal/apperr"
	"github.com/xfxf/dabo/pkg/models"
)

type fakeBiz struct {
	requeries int
}

func (f *fakeBiz) SetKeyField(string) error      { return nil }
func (f *fakeBiz) SetSQL(string) error           { return nil }
func (f *fakeBiz) Requery(context.Context) error { f.requeries++; return nil }
func (f *fakeBiz) DataSet() models.DataSet       { return models.DataSet{{"n": f.requeries}} }
func (f *fakeBiz) DataTypes() models.DataTypes   { return models.DataTypes{"n": "int"} }
func (f *fakeBiz) MoveToPK(string) error         { return nil }
func (f *fakeBiz) Delete(context.Context) error  { return nil }
func (f *fakeBiz) ApplyDiffAndSave(context.Context, models.DataDiff) error {
	return nil
}

func fakeFactory(created *int32) Factory {
	return func(context.Context, string) (Bizobj, error) {
		atomic.AddInt32(created, 1)
		return &fakeBiz{}, nil
	}
}

func TestPoolCreatesOnce(t *testing.T) {
	ctx := context.Background()
	p := NewPool(time.Hour)
	var created int32

	for i := 0; i < 3; i++ {
		err := p.Do(ctx, "h1", "orders", fakeFactory(&created), func(b Bizobj) error {
			return b.Requery(ctx)
		})
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("factory called %d times, want 1", created)
	}

	p.Do(ctx, "h1", "orders", nil, func(b Bizobj) error {
		if n := b.(*fakeBiz).requeries; n != 3 {
			t.Errorf("handle state lost: %d requeries", n)
		}
		return nil
	})
}

func TestPoolNotFound(t *testing.T) {
	ctx := context.Background()
	p := NewPool(time.Hour)
	noop := func(Bizobj) error { return nil }

	if err := p.Do(ctx, "missing", "orders", nil, noop); !apperr.IsNotFound(err) {
		t.Errorf("missing handle: %v", err)
	}

	var created int32
	p.Do(ctx, "h1", "orders", fakeFactory(&created), noop)
	if err := p.Do(ctx, "h1", "customers", nil, noop); !apperr.IsNotFound(err) {
		t.Errorf("data source mismatch: %v", err)
	}
}

func TestPoolSweep(t *testing.T) {
	ctx := context.Background()
	p := NewPool(time.Minute)
	base := time.Now()
	p.now = func() time.Time { return base }

	var created int32
	noop := func(Bizobj) error { return nil }
	p.Do(ctx, "old", "orders", fakeFactory(&created), noop)

	p.now = func() time.Time { return base.Add(50 * time.Second) }
	p.Do(ctx, "fresh", "orders", fakeFactory(&created), noop)

	p.now = func() time.Time { return base.Add(90 * time.Second) }
	if n := p.Sweep(); n != 1 {
		t.Errorf("Sweep evicted %d, want 1", n)
	}
	if p.Len() != 1 {
		t.Errorf("Len = %d, want 1", p.Len())
	}
	if err := p.Do(ctx, "old", "orders", nil, noop); !apperr.IsNotFound(err) {
		t.Errorf("evicted handle still reachable: %v", err)
	}
}

func TestPoolSweepSkipsBusy(t *testing.T) {
	ctx := context.Background()
	p := NewPool(time.Nanosecond)
	var created int32

	err := p.Do(ctx, "busy", "orders", fakeFactory(&created), func(Bizobj) error {
		time.Sleep(time.Millisecond)
		if n := p.Sweep(); n != 0 {
			t.Errorf("swept a handle in use")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestPoolSerializesHandle(t *testing.T) {
	ctx := context.Background()
	p := NewPool(time.Hour)
	var created, active, maxActive int32

	p.Do(ctx, "h", "orders", fakeFactory(&created), func(Bizobj) error { return nil })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Do(ctx, "h", "orders", nil, func(b Bizobj) error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				b.Requery(ctx)
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("%d calls ran concurrently on one handle", maxActive)
	}
	p.Do(ctx, "h", "orders", nil, func(b Bizobj) error {
		if n := b.(*fakeBiz).requeries; n != 20 {
			t.Errorf("requeries = %d, want 20", n)
		}
		return nil
	})
}

func TestPoolContextCancelled(t *testing.T) {
	p := NewPool(time.Hour)
	var created int32
	release := make(chan struct{})
	started := make(chan struct{})

	go p.Do(context.Background(), "h", "orders", fakeFactory(&created), func(Bizobj) error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Do(ctx, "h", "orders", nil, func(Bizobj) error { return nil }); err == nil {
		t.Error("expected context error while handle is locked")
	}
	close(release)
}

func TestPoolDropsHandleWhenCreatingCallFails(t *testing.T) {
	ctx := context.Background()
	p := NewPool(time.Hour)
	var created int32
	fail := func(Bizobj) error { return apperr.BusinessRule("nope") }

	if err := p.Do(ctx, "h1", "orders", fakeFactory(&created), fail); err == nil {
		t.Fatal("Do hid the error")
	}
	if p.Len() != 0 {
		t.Errorf("pool has %d handles after a failed first call", p.Len())
	}

	p.Do(ctx, "h2", "orders", fakeFactory(&created), func(Bizobj) error { return nil })
	if err := p.Do(ctx, "h2", "orders", nil, fail); err == nil {
		t.Fatal("Do hid the error")
	}
	if p.Len() != 1 {
		t.Errorf("failed call on an existing handle dropped it")
	}
}

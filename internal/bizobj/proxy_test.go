package bizobj

import (
	"context"
	"testing"
	"time"

	"github.com/xfxf/dabo/internal/apperr"
	"github.com/xfxf/dabo/internal/auth"
)

func newTestProxy(t *testing.T) (*Proxy, *Pool) {
	t.Helper()
	reg := NewRegistry()
	f, err := NewSQLFactory(openOrdersDB(t), ordersDef())
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("orders", f); err != nil {
		t.Fatal(err)
	}
	var created int32
	reg.Register("fake", fakeFactory(&created))

	pool := NewPool(time.Hour)
	return NewProxy(reg, pool, auth.NewMinter("test-secret", time.Hour)), pool
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	var created int32
	if err := reg.Register("b", fakeFactory(&created)); err != nil {
		t.Fatal(err)
	}
	reg.Register("a", fakeFactory(&created))
	if err := reg.Register("a", fakeFactory(&created)); err == nil {
		t.Error("duplicate registration accepted")
	}
	if err := reg.Register("", fakeFactory(&created)); err == nil {
		t.Error("empty data source accepted")
	}
	if _, err := reg.Lookup("zzz"); !apperr.IsNotFound(err) {
		t.Errorf("Lookup unknown = %v", err)
	}
	if got := reg.DataSources(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("DataSources = %v", got)
	}
}

func TestProxySessionFlow(t *testing.T) {
	ctx := context.Background()
	proxy, pool := newTestProxy(t)

	res, err := proxy.Dispatch(ctx, "orders", "requery", Params{})
	if err != nil {
		t.Fatalf("requery: %v", err)
	}
	if res.Session == "" {
		t.Fatal("no session minted")
	}
	if len(res.Data) != 2 || res.Types["id"] != "int" {
		t.Errorf("requery result = %+v", res)
	}
	if pool.Len() != 1 {
		t.Errorf("pool has %d handles, want 1", pool.Len())
	}

	res, err = proxy.Dispatch(ctx, "orders", "save", Params{
		Session:  res.Session,
		DataDiff: `{"rows":[{"op":"update","pk":1,"fields":{"amount":12.5}},{"op":"insert","fields":{"id":3,"customer":"hooli"}}]}`,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(res.Data) != 3 || res.Data[0]["amount"] != 12.5 {
		t.Errorf("save result = %v", res.Data)
	}
	if pool.Len() != 1 {
		t.Errorf("save created a new handle")
	}

	res, err = proxy.Dispatch(ctx, "orders", "delete", Params{Session: res.Session, PK: "3"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(res.Data) != 2 {
		t.Errorf("delete result = %v", res.Data)
	}

	if _, err := proxy.Dispatch(ctx, "orders", "delete", Params{Session: res.Session, PK: "3"}); !apperr.IsNotFound(err) {
		t.Errorf("delete of removed pk = %v, want NotFound", err)
	}
}

func TestProxyNotFound(t *testing.T) {
	ctx := context.Background()
	proxy, _ := newTestProxy(t)

	fake, err := proxy.Dispatch(ctx, "fake", "requery", Params{})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		ds     string
		method string
		params Params
	}{
		{"unknown data source", "nope", "requery", Params{}},
		{"unknown method", "orders", "explode", Params{}},
		{"garbage session", "orders", "requery", Params{Session: "garbage"}},
		{"session of other data source", "orders", "requery", Params{Session: fake.Session}},
		{"foreign signature", "orders", "requery", Params{Session: foreignToken(t)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := proxy.Dispatch(ctx, tt.ds, tt.method, tt.params); !apperr.IsNotFound(err) {
				t.Errorf("err = %v, want NotFound", err)
			}
		})
	}
}

func foreignToken(t *testing.T) string {
	tok, _, err := auth.NewMinter("other-secret", time.Hour).Mint("orders")
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestProxyEvictedSession(t *testing.T) {
	ctx := context.Background()
	proxy, pool := newTestProxy(t)

	res, err := proxy.Requery(ctx, "", "orders", "", "")
	if err != nil {
		t.Fatal(err)
	}
	pool.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	pool.Sweep()

	if _, err := proxy.Requery(ctx, res.Session, "orders", "", ""); !apperr.IsNotFound(err) {
		t.Errorf("evicted session = %v, want NotFound", err)
	}
}

func TestDecodeDataDiff(t *testing.T) {
	diff, err := DecodeDataDiff(`{"rows":[{"op":"update","pk":7,"fields":{"a":1.5,"b":"x","c":null,"d":2}}]}`)
	if err != nil {
		t.Fatal(err)
	}
	rc := diff.Rows[0]
	if rc.PK != int64(7) || rc.Fields["a"] != 1.5 || rc.Fields["d"] != int64(2) || rc.Fields["c"] != nil {
		t.Errorf("decoded %+v", rc)
	}

	for _, in := range []string{"", "{", `{"rows": 3}`} {
		_, err := DecodeDataDiff(in)
		if code, _ := apperr.StatusCode(err); code != 400 {
			t.Errorf("DecodeDataDiff(%q) = %v, want 400", in, err)
		}
	}
}

func TestProxySaveAfterFailedRequery(t *testing.T) {
	ctx := context.Background()
	proxy, _ := newTestProxy(t)

	res, err := proxy.Requery(ctx, "", "orders", "", "")
	if err != nil {
		t.Fatal(err)
	}
	session := res.Session

	if _, err := proxy.Requery(ctx, session, "orders", "SELECT * FROM nosuch", ""); err == nil {
		t.Fatal("requery of a missing table succeeded")
	}

	res, err = proxy.Dispatch(ctx, "orders", "save", Params{
		Session:  session,
		DataDiff: `{"rows":[{"op":"update","pk":1,"fields":{"amount":99}}]}`,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(res.Data) != 2 || res.Data[0]["amount"] != 99.0 {
		t.Errorf("save result = %v", res.Data)
	}
}

func TestProxySaveRejectsForeignKeyField(t *testing.T) {
	ctx := context.Background()
	proxy, _ := newTestProxy(t)

	res, err := proxy.Requery(ctx, "", "orders", "", "customer")
	if err != nil {
		t.Fatal(err)
	}
	_, err = proxy.Dispatch(ctx, "orders", "save", Params{
		Session:  res.Session,
		DataDiff: `{"rows":[{"op":"update","pk":"acme","fields":{"amount":1}}]}`,
	})
	if code, _ := apperr.StatusCode(err); code != 400 {
		t.Errorf("save keyed by customer = %v, want 400", err)
	}
}

func TestProxyFailedFirstCallDropsHandle(t *testing.T) {
	ctx := context.Background()
	proxy, pool := newTestProxy(t)

	if _, err := proxy.Requery(ctx, "", "orders", "SELECT * FROM nosuch", ""); err == nil {
		t.Fatal("requery of a missing table succeeded")
	}
	if pool.Len() != 0 {
		t.Errorf("pool kept %d unreachable handles", pool.Len())
	}
}

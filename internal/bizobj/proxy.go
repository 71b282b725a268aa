package bizobj

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/xfxf/dabo/internal/apperr"
	"github.com/xfxf/dabo/internal/auth"
	"github.com/xfxf/dabo/internal/logging"
	"github.com/xfxf/dabo/internal/metrics"
	"github.com/xfxf/dabo/pkg/models"
)

// Result is the state of a bizobj after a remote call.
type Result struct {
	Session string
	Data    models.DataSet
	Types   models.DataTypes
}

// Params are the request parameters of a remote call. Which fields are
// used depends on the method.
type Params struct {
	Session  string
	SQL      string
	KeyField string
	DataDiff string
	PK       string
}

// Proxy runs remote bizobj calls against pooled handles.
type Proxy struct {
	registry *Registry
	pool     *Pool
	minter   *auth.Minter
}

// NewProxy creates a proxy.
func NewProxy(registry *Registry, pool *Pool, minter *auth.Minter) *Proxy {
	return &Proxy{registry: registry, pool: pool, minter: minter}
}

// Dispatch runs method on the data source's bizobj. Unknown data sources
// and methods are a NotFoundError.
func (p *Proxy) Dispatch(ctx context.Context, dataSource, method string, params Params) (*Result, error) {
	if _, err := p.registry.Lookup(dataSource); err != nil {
		return nil, err
	}
	switch method {
	case "requery":
		return p.Requery(ctx, params.Session, dataSource, params.SQL, params.KeyField)
	case "save":
		diff, err := DecodeDataDiff(params.DataDiff)
		if err != nil {
			return nil, err
		}
		return p.Save(ctx, params.Session, dataSource, diff)
	case "delete":
		return p.Delete(ctx, params.Session, dataSource, params.PK)
	}
	return nil, apperr.NotFound("method", method)
}

// Requery sets the key field and SQL, runs the query and returns the data.
func (p *Proxy) Requery(ctx context.Context, session, dataSource, sql, keyField string) (*Result, error) {
	return p.call(ctx, session, dataSource, "requery", func(b Bizobj) error {
		if err := b.SetKeyField(keyField); err != nil {
			return err
		}
		if err := b.SetSQL(sql); err != nil {
			return err
		}
		return b.Requery(ctx)
	})
}

// Save applies a client row diff and returns the refreshed data.
func (p *Proxy) Save(ctx context.Context, session, dataSource string, diff models.DataDiff) (*Result, error) {
	return p.call(ctx, session, dataSource, "save", func(b Bizobj) error {
		return b.ApplyDiffAndSave(ctx, diff)
	})
}

// Delete removes the row with the given key and returns the refreshed data.
func (p *Proxy) Delete(ctx context.Context, session, dataSource, pk string) (*Result, error) {
	return p.call(ctx, session, dataSource, "delete", func(b Bizobj) error {
		if err := b.MoveToPK(pk); err != nil {
			return err
		}
		return b.Delete(ctx)
	})
}

func (p *Proxy) call(ctx context.Context, session, dataSource, method string, fn func(Bizobj) error) (*Result, error) {
	start := time.Now()
	res, err := p.run(ctx, session, dataSource, fn)
	metrics.RecordBizCall(dataSource, method, err == nil, time.Since(start))
	if err != nil {
		logging.WithContext(ctx).Debug("bizobj call failed",
			zap.String("datasource", dataSource),
			zap.String("method", method),
			zap.Error(err))
	}
	return res, err
}

func (p *Proxy) run(ctx context.Context, session, dataSource string, fn func(Bizobj) error) (*Result, error) {
	factory, err := p.registry.Lookup(dataSource)
	if err != nil {
		return nil, err
	}

	var handleID string
	create := factory
	if session == "" {
		_, s, err := p.minter.Mint(dataSource)
		if err != nil {
			return nil, err
		}
		handleID = s.HandleID
	} else {
		s, err := p.minter.Parse(session)
		if err != nil || s.DataSource != dataSource {
			return nil, apperr.NotFound("session", "")
		}
		handleID = s.HandleID
		create = nil
	}

	res := &Result{}
	err = p.pool.Do(ctx, handleID, dataSource, create, func(b Bizobj) error {
		if err := fn(b); err != nil {
			return err
		}
		res.Data = b.DataSet()
		res.Types = b.DataTypes()
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reissue on every call so an active session outlives the token TTL.
	token, _, err := p.minter.MintFor(handleID, dataSource)
	if err != nil {
		return nil, err
	}
	res.Session = token
	return res, nil
}

// DecodeDataDiff parses the DataDiff parameter of a save call. Integral
// JSON numbers decode as int64.
func DecodeDataDiff(raw string) (models.DataDiff, error) {
	var diff models.DataDiff
	if raw == "" {
		return diff, badRequest("DataDiff is required")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&diff); err != nil {
		return diff, badRequest("invalid DataDiff: %v", err)
	}
	for i := range diff.Rows {
		rc := &diff.Rows[i]
		rc.PK = numberValue(rc.PK)
		for k, v := range rc.Fields {
			rc.Fields[k] = numberValue(v)
		}
	}
	return diff, nil
}

func numberValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

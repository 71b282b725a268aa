package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/xfxf/dabo/pkg/models"
	"github.com/xfxf/dabo/pkg/protocol"
)

// RemoteBizobj is the client side of a server bizobj. It keeps the session
// token the server issues so later calls reach the same handle.
type RemoteBizobj struct {
	c          *Client
	dataSource string

	mu      sync.Mutex
	session string
	data    models.DataSet
	types   models.DataTypes
}

// Bizobj returns a remote bizobj for dataSource. No request is made until
// the first call.
func (c *Client) Bizobj(dataSource string) *RemoteBizobj {
	return &RemoteBizobj{c: c, dataSource: dataSource}
}

// Session returns the current session token.
func (b *RemoteBizobj) Session() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// DataSet returns the rows of the last call.
func (b *RemoteBizobj) DataSet() models.DataSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// DataTypes returns the column types of the last call.
func (b *RemoteBizobj) DataTypes() models.DataTypes {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.types
}

// Requery runs sql on the server with keyField as primary key. Empty
// arguments use the server defaults.
func (b *RemoteBizobj) Requery(ctx context.Context, sql, keyField string) error {
	params := url.Values{}
	if sql != "" {
		params.Set("SQL", sql)
	}
	if keyField != "" {
		params.Set("KeyField", keyField)
	}
	return b.call(ctx, "requery", params, true)
}

// Save sends row edits to the server.
func (b *RemoteBizobj) Save(ctx context.Context, diff models.DataDiff) error {
	encoded, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("encode diff: %w", err)
	}
	return b.call(ctx, "save", url.Values{"DataDiff": {string(encoded)}}, false)
}

// Delete removes the row with primary key pk.
func (b *RemoteBizobj) Delete(ctx context.Context, pk string) error {
	return b.call(ctx, "delete", url.Values{"PK": {pk}}, false)
}

// call posts a bizobj method. Only requery is retried; save and delete are
// not idempotent.
func (b *RemoteBizobj) call(ctx context.Context, method string, params url.Values, retryable bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != "" {
		params.Set("session", b.session)
	}
	body := params.Encode()
	endpoint := b.c.url("/biz/"+url.PathEscape(b.dataSource)+"/"+method, nil)

	res, err := do(ctx, b.c, retryable, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, func(resp *http.Response) (*protocol.BizResponse, error) {
		var br protocol.BizResponse
		if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", method, err)
		}
		if br.Session == "" {
			br.Session = resp.Header.Get(protocol.SessionHeader)
		}
		return &br, nil
	})
	if err != nil {
		return err
	}

	b.session = res.Session
	b.data = res.Data
	b.types = res.Types
	return nil
}

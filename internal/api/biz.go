package api

import (
	"net/http"

	"github.com/xfxf/dabo/internal/bizobj"
	"github.com/xfxf/dabo/pkg/protocol"
)

// handleBiz dispatches /biz/{dataSource}/{method} to the bizobj proxy.
func (s *Server) handleBiz(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.sendErr(w, r, err)
		return
	}

	params := bizobj.Params{
		Session:  r.Form.Get("session"),
		SQL:      r.Form.Get("SQL"),
		KeyField: r.Form.Get("KeyField"),
		DataDiff: r.Form.Get("DataDiff"),
		PK:       r.Form.Get("PK"),
	}
	res, err := s.proxy.Dispatch(r.Context(), r.PathValue("dataSource"), r.PathValue("method"), params)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}

	w.Header().Set(protocol.SessionHeader, res.Session)
	s.sendJSON(w, http.StatusOK, protocol.BizResponse{
		Session: res.Session,
		Data:    res.Data,
		Types:   res.Types,
	})
}

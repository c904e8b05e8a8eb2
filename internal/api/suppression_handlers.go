package api

import (
	"net/http"

	"github.com/ignite/drip-engine/internal/pkg/httputil"
)

type emailsRequest struct {
	Emails []string `json:"emails"`
	Reason string   `json:"reason,omitempty"`
}

//	GET /api/suppression/check?email=
func (s *Server) handleCheckSuppression(w http.ResponseWriter, r *http.Request) {
	res, err := s.suppression.CheckSuppression(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

//	POST /api/suppression/check-batch
func (s *Server) handleCheckSuppressionBatch(w http.ResponseWriter, r *http.Request) {
	var req emailsRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := s.suppression.CheckSuppressionBatch(r.Context(), req.Emails)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"results": res})
}

//	POST /api/suppression/bulk-bounced
func (s *Server) handleBulkBounced(w http.ResponseWriter, r *http.Request) {
	var req emailsRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := s.suppression.BulkSuppressBounced(r.Context(), req.Emails, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

//	POST /api/suppression/unsubscribe
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email  string `json:"email"`
		Reason string `json:"reason"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	res, err := s.suppression.UnsubscribeByEmail(r.Context(), body.Email, body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

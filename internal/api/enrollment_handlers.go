package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/drip-engine/internal/pkg/httputil"
	"github.com/ignite/drip-engine/internal/service/drip"
)

// enrollResponse reports whether a new enrollment was created. An empty
// EnrollmentID with Enrolled=false is a normal outcome, not an error.
type enrollResponse struct {
	EnrollmentID string `json:"enrollment_id,omitempty"`
	Enrolled     bool   `json:"enrolled"`
}

//	POST /api/campaigns/{id}/enroll
func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var in drip.EnrollInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	in.CampaignID = chi.URLParam(r, "id")
	id, err := s.drip.EnrollContact(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	if id == "" {
		httputil.OK(w, enrollResponse{})
		return
	}
	httputil.Created(w, enrollResponse{EnrollmentID: id, Enrolled: true})
}

//	POST /api/campaigns/{id}/unenroll
func (s *Server) handleUnenroll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	ok, err := s.drip.UnenrollContact(r.Context(), chi.URLParam(r, "id"), body.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"unenrolled": ok})
}

//	GET /api/enrollments?email=
func (s *Server) handleEnrollmentsByEmail(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}
	list, err := s.drip.GetEnrollmentsByEmail(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"enrollments": list, "total": len(list)})
}

//	POST /api/events
func (s *Server) handleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	var ev drip.TriggerEvent
	if !httputil.Decode(w, r, &ev) {
		return
	}
	if ev.StoreID == "" || ev.Email == "" {
		httputil.BadRequest(w, "store_id and email are required")
		return
	}
	res, err := s.drip.TriggerCampaignsForEvent(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

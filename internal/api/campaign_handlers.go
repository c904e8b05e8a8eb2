package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/drip-engine/internal/pkg/httputil"
	"github.com/ignite/drip-engine/internal/service/drip"
)

//	POST /api/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in drip.CreateCampaignInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := s.drip.CreateCampaign(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, c)
}

//	GET /api/stores/{storeID}/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	list, err := s.drip.ListCampaigns(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"campaigns": list, "total": len(list)})
}

//	GET /api/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	detail, err := s.drip.GetCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, detail)
}

//	POST /api/campaigns/{id}/toggle
func (s *Server) handleToggleCampaign(w http.ResponseWriter, r *http.Request) {
	active, err := s.drip.ToggleCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"is_active": active})
}

//	DELETE /api/campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.drip.DeleteCampaign(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

//	POST /api/campaigns/{id}/steps
func (s *Server) handleAddStep(w http.ResponseWriter, r *http.Request) {
	var in drip.AddStepInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	in.CampaignID = chi.URLParam(r, "id")
	st, err := s.drip.AddStep(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, st)
}

//	PATCH /api/steps/{id}
func (s *Server) handleUpdateStep(w http.ResponseWriter, r *http.Request) {
	var u drip.StepUpdate
	if !httputil.Decode(w, r, &u) {
		return
	}
	if err := s.drip.UpdateStep(r.Context(), chi.URLParam(r, "id"), u); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

//	DELETE /api/steps/{id}
func (s *Server) handleDeleteStep(w http.ResponseWriter, r *http.Request) {
	if err := s.drip.DeleteStep(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

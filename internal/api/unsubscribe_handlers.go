package api

import (
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/httputil"
)

var unsubscribePage = template.Must(template.New("unsubscribe").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family:sans-serif;max-width:480px;margin:60px auto;color:#333;">
<h1 style="font-size:20px;">{{.Title}}</h1>
<p>{{.Message}}</p>
</body></html>
`))

type pageData struct {
	Title   string
	Message string
}

func renderPage(w http.ResponseWriter, status int, d pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = unsubscribePage.Execute(w, d)
}

// handleUnsubscribePage serves the link in the email footer.
//
//	GET /unsubscribe/{token}
func (s *Server) handleUnsubscribePage(w http.ResponseWriter, r *http.Request) {
	email, err := s.signer.Verify(chi.URLParam(r, "token"))
	if err != nil {
		renderPage(w, http.StatusBadRequest, pageData{
			Title:   "Invalid link",
			Message: "This unsubscribe link is invalid or has been altered.",
		})
		return
	}
	if _, err := s.suppression.UnsubscribeByEmail(r.Context(), email, domain.UnsubscribeReasonUser); err != nil {
		s.log.Error("unsubscribe failed", "email", email, "error", err)
		renderPage(w, http.StatusInternalServerError, pageData{
			Title:   "Something went wrong",
			Message: "We could not process your request. Please try again later.",
		})
		return
	}
	renderPage(w, http.StatusOK, pageData{
		Title:   "You have been unsubscribed",
		Message: email + " will no longer receive these emails.",
	})
}

// handleUnsubscribeOneClick implements the List-Unsubscribe-Post target
// (RFC 8058). Mail providers POST here without user interaction.
//
//	POST /unsubscribe/{token}
func (s *Server) handleUnsubscribeOneClick(w http.ResponseWriter, r *http.Request) {
	email, err := s.signer.Verify(chi.URLParam(r, "token"))
	if err != nil {
		httputil.BadRequest(w, "invalid token")
		return
	}
	res, err := s.suppression.UnsubscribeByEmail(r.Context(), email, domain.UnsubscribeReasonUser)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"unsubscribed": true, "already_unsubscribed": res.AlreadyUnsubscribed})
}

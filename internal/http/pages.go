package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tradeshell/internal/gate"
	"tradeshell/internal/nav"
	"tradeshell/internal/session"
)

type sessionResponse struct {
	session.State
	SetupWarning string `json:"setupWarning,omitempty"`
}

type viewResponse struct {
	Page   nav.PageID `json:"page"`
	Path   string     `json:"path"`
	PostID string     `json:"postId,omitempty"`
}

type pageResponse struct {
	viewResponse
	Title   string          `json:"title"`
	Access  string          `json:"access"`
	Session sessionResponse `json:"session"`
}

func newViewResponse(v nav.View) viewResponse {
	resp := viewResponse{Page: v.PageID(), Path: nav.Path(v)}
	if post, ok := v.(nav.BlogPost); ok {
		resp.PostID = post.PostID
	}
	return resp
}

func (s *Server) registerPages(r chi.Router) {
	for _, info := range nav.Pages() {
		if info.ID == nav.PageBlogPost {
			continue
		}
		view := nav.Page{ID: info.ID}
		r.Get(nav.Path(view), func(w http.ResponseWriter, r *http.Request) {
			s.servePage(w, r, view)
		})
	}
	r.Get("/blog/{postID}", s.handleBlogPost)
}

func (s *Server) handleBlogPost(w http.ResponseWriter, r *http.Request) {
	view, err := nav.ToBlogPost(chi.URLParam(r, "postID"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.servePage(w, r, view)
}

// servePage applies the access gate for the page's access class. A loading
// session is given GateWaitTimeout to settle before the visitor is asked to
// retry.
func (s *Server) servePage(w http.ResponseWriter, r *http.Request, view nav.View) {
	entry := entryFromContext(r.Context())
	info, _ := nav.Lookup(view.PageID())
	rule := gate.ForAccess(info.Access)

	st := entry.Store.Snapshot()
	if rule.Decide(st).Kind == gate.Wait {
		st = s.settled(r.Context(), entry)
	}

	d, err := gate.Enforce(rule, st, entry.Nav)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	switch d.Kind {
	case gate.Wait:
		w.Header().Set("Retry-After", "1")
		s.writeJSON(w, http.StatusAccepted, map[string]any{"loading": true, "page": view.PageID()})
	case gate.Redirect:
		http.Redirect(w, r, nav.Path(d.Target), http.StatusSeeOther)
	default:
		if err := gate.Navigate(entry.Nav, view); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, pageResponse{
			viewResponse: newViewResponse(view),
			Title:        info.Title,
			Access:       info.Access.String(),
			Session:      s.sessionView(st),
		})
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	entry := entryFromContext(r.Context())
	s.writeJSON(w, http.StatusOK, s.sessionView(entry.Store.Snapshot()))
}

func (s *Server) handleNav(w http.ResponseWriter, r *http.Request) {
	entry := entryFromContext(r.Context())
	s.writeJSON(w, http.StatusOK, newViewResponse(entry.Nav.Current()))
}

func (s *Server) sessionView(st session.State) sessionResponse {
	return sessionResponse{State: st, SetupWarning: s.cfg.SetupWarning()}
}

// settled waits up to GateWaitTimeout for the store to leave loading.
func (s *Server) settled(ctx context.Context, entry *session.Entry) session.State {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GateWaitTimeout)
	defer cancel()

	st := entry.Store.Wait(ctx)
	if st.Loading {
		s.log.Debug("session still loading", zap.String("sid", entry.Store.ID()))
	}
	return st
}

// landing runs the signed-in redirect rules for the visitor and returns the
// path to send them to, or "" when they are not signed in.
func (s *Server) landing(ctx context.Context, entry *session.Entry) string {
	st := s.settled(ctx, entry)
	d, err := gate.Enforce(gate.RedirectIfAuthenticated{}, st, entry.Nav)
	if err != nil {
		s.log.Warn("navigation failed", zap.Error(err))
	}
	if d.Kind != gate.Redirect {
		return ""
	}
	return nav.Path(d.Target)
}

package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/middleware"
	"github.com/MrEthical07/packguard/permission"
)

type shareRequest struct {
	UserID string                  `json:"userId,omitempty"`
	Role   permission.DocumentRole `json:"role"`
}

// documentAccess answers whether the caller may perform the listed actions.
// A denial is a successful answer, not an error.
func (s *Server) documentAccess(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.IdentityFromContext(r.Context())

	var actions []permission.Action
	if raw := r.URL.Query().Get("actions"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			a, err := permission.ParseAction(name)
			if err != nil {
				s.fail(w, r, badRequest(err.Error()))
				return
			}
			actions = append(actions, a)
		}
	}

	decision, err := s.engine.AuthorizeDocument(r.Context(), actor, mux.Vars(r)["id"], actions...)
	var forbidden *packguard.ForbiddenError
	if err != nil && !errors.As(err, &forbidden) {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "ok", decision)
}

func (s *Server) listShares(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.IdentityFromContext(r.Context())

	entries, err := s.engine.ListShares(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "ok", entries)
}

func (s *Server) shareDocument(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.IdentityFromContext(r.Context())

	var req shareRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.UserID == "" {
		s.fail(w, r, badRequest("userId is required"))
		return
	}

	entry, err := s.engine.ShareDocument(r.Context(), actor, mux.Vars(r)["id"], req.UserID, req.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "document shared", entry)
}

func (s *Server) updateShare(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.IdentityFromContext(r.Context())

	var req shareRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	vars := mux.Vars(r)
	entry, err := s.engine.UpdateShare(r.Context(), actor, vars["id"], vars["userId"], req.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "share updated", entry)
}

func (s *Server) revokeShare(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.IdentityFromContext(r.Context())

	vars := mux.Vars(r)
	if err := s.engine.RevokeShare(r.Context(), actor, vars["id"], vars["userId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "share revoked", nil)
}

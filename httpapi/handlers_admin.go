package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/middleware"
	"github.com/MrEthical07/packguard/permission"
)

type createUserRequest struct {
	Email            string                 `json:"email"`
	DisplayName      string                 `json:"displayName"`
	Password         string                 `json:"password"`
	Role             *permission.SystemRole `json:"role"`
	TwoFactorEnabled bool                   `json:"twoFactorEnabled"`
}

type roleRequest struct {
	Role *permission.SystemRole `json:"role"`
}

type activeRequest struct {
	Active *bool `json:"active"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.IdentityFromContext(r.Context())

	var req createUserRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	in := packguard.NewIdentity{
		Email:            req.Email,
		DisplayName:      req.DisplayName,
		Password:         req.Password,
		Role:             permission.RoleViewer,
		TwoFactorEnabled: req.TwoFactorEnabled,
	}
	if req.Role != nil {
		in.Role = *req.Role
	}

	view, err := s.engine.CreateIdentity(r.Context(), actor, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "user created", view)
}

func (s *Server) changeRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.IdentityFromContext(r.Context())

	var req roleRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Role == nil {
		s.fail(w, r, badRequest("role is required"))
		return
	}

	view, err := s.engine.ChangeRole(r.Context(), actor, mux.Vars(r)["id"], *req.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "role updated", view)
}

func (s *Server) setActive(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.IdentityFromContext(r.Context())

	var req activeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Active == nil {
		s.fail(w, r, badRequest("active is required"))
		return
	}

	view, err := s.engine.SetActive(r.Context(), actor, mux.Vars(r)["id"], *req.Active)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "status updated", view)
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.IdentityFromContext(r.Context())

	var req passwordRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.engine.ResetPassword(r.Context(), actor, mux.Vars(r)["id"], req.Password); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "password updated", nil)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.IdentityFromContext(r.Context())

	if err := s.engine.DeleteIdentity(r.Context(), actor, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "user deleted", nil)
}

func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.IdentityFromContext(r.Context())

	q, err := parseAuditQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.engine.QueryAudit(r.Context(), actor, q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "ok", page)
}

func parseAuditQuery(r *http.Request) (packguard.AuditQuery, error) {
	v := r.URL.Query()
	q := packguard.AuditQuery{
		ActorID:      v.Get("actorId"),
		Action:       v.Get("action"),
		ResourceKind: v.Get("resourceKind"),
	}
	for name, dst := range map[string]*time.Time{"from": &q.From, "to": &q.To} {
		if raw := v.Get(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return q, badRequest(name + " must be an RFC 3339 timestamp")
			}
			*dst = t
		}
	}
	for name, dst := range map[string]*int{"page": &q.Page, "pageSize": &q.PageSize} {
		if raw := v.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return q, badRequest(name + " must be an integer")
			}
			*dst = n
		}
	}
	return q, nil
}

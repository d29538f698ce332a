package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/packguard/middleware"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type twoFactorRequest struct {
	TwoFactorToken string `json:"twoFactorToken"`
	Code           string `json:"code,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		s.fail(w, r, badRequest("email and password are required"))
		return
	}

	res, err := s.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	message := "login successful"
	if res.TwoFactorRequired {
		message = "two-factor code sent"
	}
	writeOK(w, http.StatusOK, message, res)
}

func (s *Server) resendTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req twoFactorRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.TwoFactorToken == "" {
		s.fail(w, r, badRequest("twoFactorToken is required"))
		return
	}

	res, err := s.engine.ResendTwoFactor(r.Context(), req.TwoFactorToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "two-factor code sent", res)
}

func (s *Server) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req twoFactorRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.TwoFactorToken == "" || req.Code == "" {
		s.fail(w, r, badRequest("twoFactorToken and code are required"))
		return
	}

	res, err := s.engine.VerifyTwoFactor(r.Context(), req.TwoFactorToken, req.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "login successful", res)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.RefreshToken == "" {
		s.fail(w, r, badRequest("refreshToken is required"))
		return
	}

	access, err := s.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "token refreshed", map[string]string{"accessToken": access})
}

// logout revokes the given refresh token, or every token when the body is
// empty or names none.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	var req refreshRequest
	if err := decodeOptional(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.engine.Logout(r.Context(), identity, req.RefreshToken); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "logged out", nil)
}

func (s *Server) logoutByRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.RefreshToken == "" {
		s.fail(w, r, badRequest("refreshToken is required"))
		return
	}

	if err := s.engine.LogoutByRefresh(r.Context(), req.RefreshToken); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "logged out", nil)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())
	writeOK(w, http.StatusOK, "ok", identity.View())
}

type sessionView struct {
	Subject   string    `json:"sub"`
	Role      string    `json:"role"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// session reports what the access token itself asserts.
func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	view := sessionView{Subject: claims.Subject, Role: claims.Role}
	if claims.IssuedAt != nil {
		view.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		view.ExpiresAt = claims.ExpiresAt.Time
	}
	writeOK(w, http.StatusOK, "ok", view)
}

func (s *Server) setTwoFactor(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	var req toggleRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Enabled == nil {
		s.fail(w, r, badRequest("enabled is required"))
		return
	}

	view, err := s.engine.SetTwoFactor(r.Context(), identity, *req.Enabled)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "two-factor setting updated", view)
}

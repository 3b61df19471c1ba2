package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"tradeshell/internal/auth"
	"tradeshell/internal/db"
	"tradeshell/internal/gate"
	"tradeshell/internal/identity"
	"tradeshell/internal/nav"
	"tradeshell/internal/session"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	FullName string `json:"fullName" validate:"required"`
}

type verifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	Token string `json:"token" validate:"required"`
	Type  string `json:"type" validate:"omitempty,oneof=signup email recovery"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=6"`
}

type twoFactorRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (s *Server) sid(r *http.Request) string {
	sid, _ := auth.SessionIDFromContext(r.Context())
	return sid
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, authResult{Error: err.Error()})
		return
	}

	sid := newSessionID()
	if _, err := s.identity.SignIn(r.Context(), sid, normalizeEmail(req.Email), req.Password); err != nil {
		s.writeAuthFailure(w, err)
		return
	}
	entry, err := s.rotateSession(w, r, sid)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, authResult{
		Success:  true,
		Redirect: s.landing(r.Context(), entry),
	})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, authResult{Error: err.Error()})
		return
	}

	ctx := r.Context()
	entry := entryFromContext(ctx)
	fullName := strings.TrimSpace(req.FullName)
	email := normalizeEmail(req.Email)

	sid := newSessionID()
	sess, err := s.identity.SignUp(ctx, sid, email, req.Password, fullName)
	if err != nil {
		s.writeAuthFailure(w, err)
		return
	}
	if sess != nil && sess.User != nil {
		s.ensureProfile(ctx, sess.User.ID, fullName)
	}

	if !sess.Active() {
		// Email confirmation pending: the visitor continues on the code form.
		if err := entry.Nav.NavigateTo(nav.PageVerifyOTP); err != nil {
			s.log.Warn("navigation failed", zap.Error(err))
		}
		s.writeJSON(w, http.StatusOK, authResult{
			Success:  true,
			Message:  "Check your email for a verification code",
			Redirect: nav.Path(nav.Page{ID: nav.PageVerifyOTP}) + "?email=" + url.QueryEscape(email),
		})
		return
	}

	if entry, err = s.rotateSession(w, r, sid); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.reloadProfile(ctx, entry)
	s.writeJSON(w, http.StatusOK, authResult{Success: true, Redirect: s.landing(ctx, entry)})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, authResult{Error: err.Error()})
		return
	}

	ctx := r.Context()
	typ := identity.OTPType(req.Type)
	if typ == "" {
		typ = identity.OTPSignup
	}

	sid := newSessionID()
	sess, err := s.identity.VerifyOTP(ctx, sid, normalizeEmail(req.Email), strings.TrimSpace(req.Token), typ)
	if err != nil {
		s.writeAuthFailure(w, err)
		return
	}
	entry, err := s.rotateSession(w, r, sid)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if typ == identity.OTPRecovery {
		view := nav.Page{ID: nav.PageResetPassword}
		if err := gate.Navigate(entry.Nav, view); err != nil {
			s.log.Warn("navigation failed", zap.Error(err))
		}
		s.writeJSON(w, http.StatusOK, authResult{Success: true, Redirect: nav.Path(view)})
		return
	}

	if sess != nil && sess.User != nil {
		s.ensureProfile(ctx, sess.User.ID, sess.User.FullName())
		s.reloadProfile(ctx, entry)
	}
	s.writeJSON(w, http.StatusOK, authResult{Success: true, Redirect: s.landing(ctx, entry)})
}

func (s *Server) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, authResult{Error: err.Error()})
		return
	}

	if err := s.identity.ResendVerification(r.Context(), normalizeEmail(req.Email)); err != nil {
		s.writeAuthFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, authResult{Success: true, Message: "Verification email sent"})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, authResult{Error: err.Error()})
		return
	}

	redirectTo := s.cfg.FrontendURL + nav.Path(nav.Page{ID: nav.PageResetPassword})
	if err := s.identity.ResetPasswordForEmail(r.Context(), normalizeEmail(req.Email), redirectTo); err != nil {
		s.writeAuthFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, authResult{Success: true, Message: "If an account exists for this email, a reset code is on its way"})
}

// handleResetPassword redeems a recovery code and sets the new password in
// one step. The visitor ends up signed in.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, authResult{Error: err.Error()})
		return
	}

	ctx := r.Context()
	sid := newSessionID()
	if _, err := s.identity.VerifyOTP(ctx, sid, normalizeEmail(req.Email), strings.TrimSpace(req.Token), identity.OTPRecovery); err != nil {
		s.writeAuthFailure(w, err)
		return
	}
	if err := s.identity.UpdatePassword(ctx, sid, req.Password); err != nil {
		s.forget(ctx, sid)
		s.writeAuthFailure(w, err)
		return
	}
	entry, err := s.rotateSession(w, r, sid)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, authResult{
		Success:  true,
		Message:  "Your password has been updated",
		Redirect: s.landing(ctx, entry),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	entry := entryFromContext(r.Context())
	if err := s.identity.SignOut(r.Context(), s.sid(r)); err != nil && !errors.Is(err, identity.ErrNotConfigured) {
		s.writeAuthFailure(w, err)
		return
	}

	home := nav.Page{ID: nav.PageHome}
	if err := gate.Navigate(entry.Nav, home); err != nil {
		s.log.Warn("navigation failed", zap.Error(err))
	}
	s.writeJSON(w, http.StatusOK, authResult{Success: true, Redirect: nav.Path(home)})
}

func (s *Server) handleOnboardingComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entry := entryFromContext(ctx)
	st, ok := s.requireUser(w, r, entry)
	if !ok {
		return
	}

	err := s.profiles.MarkOnboardingSeen(ctx, st.User.ID)
	if errors.Is(err, db.ErrNotFound) {
		if _, err = s.profiles.EnsureProfile(ctx, st.User.ID, st.User.FullName()); err == nil {
			err = s.profiles.MarkOnboardingSeen(ctx, st.User.ID)
		}
	}
	if err != nil {
		s.writeProfileError(w, err)
		return
	}

	s.reloadProfile(ctx, entry)
	s.writeJSON(w, http.StatusOK, authResult{Success: true, Redirect: s.landing(ctx, entry)})
}

func (s *Server) handleTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req twoFactorRequest
	if err := decodeRequest(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	entry := entryFromContext(ctx)
	st, ok := s.requireUser(w, r, entry)
	if !ok {
		return
	}

	if err := s.profiles.SetTwoFactor(ctx, st.User.ID, *req.Enabled); err != nil {
		s.writeProfileError(w, err)
		return
	}

	st = s.reloadProfile(ctx, entry)
	s.writeJSON(w, http.StatusOK, map[string]any{"profile": st.Profile})
}

func (s *Server) handleGoogleStart(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		s.writeError(w, http.StatusServiceUnavailable, auth.ErrGoogleNotConfigured)
		return
	}

	state, err := s.newStateToken()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.setStateCookie(w, state)

	http.Redirect(w, r, s.oauth.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		s.writeError(w, http.StatusServiceUnavailable, auth.ErrGoogleNotConfigured)
		return
	}

	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("parse callback"))
		return
	}

	state := r.FormValue("state")
	code := r.FormValue("code")

	if !s.validateState(r, state) {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid oauth state"))
		return
	}
	s.clearStateCookie(w)

	idToken, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.log.Warn("google exchange failed", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, errors.New("google sign-in failed"))
		return
	}

	sid := newSessionID()
	sess, err := s.identity.SignInWithIDToken(ctx, sid, "google", idToken)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, errors.New(identity.DisplayMessage(err)))
		return
	}
	entry, err := s.rotateSession(w, r, sid)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if sess != nil && sess.User != nil {
		s.ensureProfile(ctx, sess.User.ID, sess.User.FullName())
		s.reloadProfile(ctx, entry)
	}

	target := s.landing(ctx, entry)
	if target == "" {
		target = nav.Path(nav.Page{ID: nav.PageHome})
	}
	http.Redirect(w, r, s.cfg.FrontendURL+target, http.StatusFound)
}

// requireUser resolves the visitor's session and answers 401 when no one is
// signed in.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request, entry *session.Entry) (session.State, bool) {
	st := s.settled(r.Context(), entry)
	if !st.IsAuthenticated {
		s.writeError(w, http.StatusUnauthorized, errors.New("unauthenticated"))
		return st, false
	}
	return st, true
}

// ensureProfile creates the profile row on first sign-in. Failures are logged
// only: the store treats a missing profile as onboarding not seen.
func (s *Server) ensureProfile(ctx context.Context, userID, fullName string) {
	if _, err := s.profiles.EnsureProfile(ctx, userID, fullName); err != nil && !errors.Is(err, db.ErrNotConfigured) {
		s.log.Warn("ensure profile failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// reloadProfile waits for the sign-in to settle, then re-reads the profile so
// redirects see the latest onboarding flag.
func (s *Server) reloadProfile(ctx context.Context, entry *session.Entry) session.State {
	s.settled(ctx, entry)
	return entry.Store.ReloadProfile(ctx)
}

func (s *Server) writeProfileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotConfigured):
		s.writeError(w, http.StatusServiceUnavailable, errors.New("profiles are not available"))
	case errors.Is(err, db.ErrNotFound):
		s.writeError(w, http.StatusNotFound, errors.New("profile not found"))
	default:
		s.log.Error("profile update failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, errors.New("profile update failed"))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/auth"
	"github.com/sakif/inkwell/internal/identity"
	"github.com/sakif/inkwell/internal/model"
	"github.com/sakif/inkwell/internal/session"
)

const stateCookieName = "oauth_state"

// AuthHandler runs sign-up, sign-in and the GitHub OAuth flow.
//
// Every successful sign-in ends the same way: the profile is ensured (the
// first sign-in creates it), the token is set as an HttpOnly cookie, and the
// identity plus profile are returned. API clients use the token from the
// body as a Bearer header instead of the cookie.
type AuthHandler struct {
	provider     *identity.Provider
	provisioner  *session.Provisioner
	github       *auth.GitHubProvider
	secureCookie bool
	logger       *slog.Logger
}

func NewAuthHandler(
	provider *identity.Provider,
	provisioner *session.Provisioner,
	github *auth.GitHubProvider,
	secureCookie bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		provider:     provider,
		provisioner:  provisioner,
		github:       github,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInResponse is the body of every successful sign-in.
type SignInResponse struct {
	Identity *identity.Identity `json:"identity"`
	Profile  *model.Profile     `json:"profile"`
}

// HandleSignUp registers an email/password account.
//
// HTTP: POST /auth/signup
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.provider.Register(r.Context(), req.Email, req.Password, identity.ProfileSeed{
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.complete(w, r, id, http.StatusCreated)
}

// HandleSignIn checks an email/password pair.
//
// HTTP: POST /auth/login
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.provider.Verify(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	h.complete(w, r, id, http.StatusOK)
}

// HandleRefresh swaps a still-valid token for a fresh one.
//
// HTTP: POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		writeError(w, apperror.Unauthenticated("no token"))
		return
	}
	id, err := h.provider.Reissue(r.Context(), &identity.Identity{Token: token})
	if err != nil {
		writeError(w, err)
		return
	}
	h.complete(w, r, id, http.StatusOK)
}

// HandleLogout clears the token cookie. Tokens are stateless, so one already
// copied elsewhere stays valid until it expires.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the caller's profile.
//
// HTTP: GET /api/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	state := session.FromContext(r.Context())
	if err := state.RequireUser(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state.Profile)
}

// HandleGitHubLogin redirects to GitHub's consent page. A random state is
// kept in a short-lived cookie and checked on the way back.
//
// HTTP: GET /auth/github/login
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if !h.github.Enabled() {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "GitHub sign-in is not configured"})
		return
	}
	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback finishes the OAuth flow and redirects home.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}
	// single use
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		writeError(w, apperror.Unauthenticated("GitHub sign-in failed"))
		return
	}
	id, err := h.provider.LinkExternal(r.Context(), identity.ExternalUser{
		Provider:    "github",
		Subject:     strconv.FormatInt(ghUser.ID, 10),
		Email:       ghUser.Email,
		DisplayName: ghUser.DisplayName(),
		AvatarURL:   ghUser.AvatarURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.provisioner.EnsureProfile(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.setTokenCookie(w, id)
	h.logger.Info("user authenticated", slog.String("user_id", id.UserID), slog.String("via", "github"))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *AuthHandler) complete(w http.ResponseWriter, r *http.Request, id *identity.Identity, status int) {
	profile, err := h.provisioner.EnsureProfile(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.setTokenCookie(w, id)
	writeJSON(w, status, SignInResponse{Identity: id, Profile: profile})
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, id *identity.Identity) {
	maxAge := int(time.Until(id.ExpiresAt).Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    id.Token,
		Path:     "/",
		MaxAge:   max(maxAge, 1),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

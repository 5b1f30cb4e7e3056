package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/liveqa/project/internal/app/events"
	"github.com/liveqa/project/internal/app/identity"
	"github.com/liveqa/project/internal/app/questions"
	platformauth "github.com/liveqa/project/internal/platform/auth"
)

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Identity.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrInvalidPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, identity.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.internalError(w, "register", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.internalError(w, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAnonymous(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Identity.SignInAnonymously(r.Context())
	if err != nil {
		h.internalError(w, "anonymous sign-in", err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Identity.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrRefreshTokenMissing):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, identity.ErrInvalidRefreshToken):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			h.internalError(w, "refresh", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Identity.Logout(r.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, identity.ErrRefreshTokenMissing) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.internalError(w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	p, err := h.Identity.Profile(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		h.internalError(w, "profile", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.Log.WithError(err).WithField("op", op).Error("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

type claimsContextKey struct{}

func contextWithClaims(ctx context.Context, claims platformauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func claimsFromContext(ctx context.Context) (platformauth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(platformauth.Claims)
	return claims, ok
}

// sessionKey identifies the device-local state of a caller: its streams,
// deep links and rate windows.
func sessionKey(claims platformauth.Claims) string {
	if id := claims.SessionID(); id != "" {
		return id
	}
	return claims.Subject
}

// requestToken accepts a bearer header or, for EventSource clients that
// cannot set headers, a token query parameter.
func requestToken(r *http.Request) string {
	if token := platformauth.BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Identity.AuthToken.Parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	})
}

// optionalAuth attaches claims when a valid token is present and lets the
// request through signed out otherwise.
func (h *Handler) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := requestToken(r); token != "" {
			if claims, err := h.Identity.AuthToken.Parse(token); err == nil {
				r = r.WithContext(contextWithClaims(r.Context(), claims))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// actorFor resolves the caller's roles on an event. A signed-out request
// yields the zero Actor.
func (h *Handler) actorFor(ctx context.Context, e events.Event) (questions.Actor, events.Roles) {
	claims, ok := claimsFromContext(ctx)
	if !ok {
		return questions.Actor{}, events.Roles{}
	}
	globalAdmin := false
	if p, err := h.Identity.Profile(ctx, claims.Subject); err == nil {
		globalAdmin = p.IsAdmin
	} else if !errors.Is(err, identity.ErrNotFound) {
		h.Log.WithError(err).WithField("user_id", claims.Subject).Warn("profile lookup failed")
	}
	roles := events.RolesFor(e, globalAdmin, claims.Subject)
	return questions.Actor{
		UserID:      claims.Subject,
		SessionID:   sessionKey(claims),
		DisplayName: claims.Name,
		Admin:       roles.Admin,
		Guest:       roles.Guest,
	}, roles
}

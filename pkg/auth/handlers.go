package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/padron/pkg/httputil"
	"github.com/platinummonkey/padron/pkg/observability"
)

// SessionCookie is the cookie carrying the session token for browser clients
const SessionCookie = "padron_session"

// TokenFromRequest returns the bearer token, falling back to the session
// cookie, or "" when neither is present
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// Handlers serves login and logout
type Handlers struct {
	authenticator Authenticator
	sessions      *SessionManager
	logger        *observability.Logger
	metrics       *observability.Metrics
	secureCookie  bool
}

// NewHandlers creates login handlers. metrics may be nil.
func NewHandlers(authenticator Authenticator, sessions *SessionManager, logger *observability.Logger, metrics *observability.Metrics, secureCookie bool) *Handlers {
	return &Handlers{
		authenticator: authenticator,
		sessions:      sessions,
		logger:        logger,
		metrics:       metrics,
		secureCookie:  secureCookie,
	}
}

// RegisterRoutes registers the auth routes. throttle, when not nil, wraps
// the login route only.
func (h *Handlers) RegisterRoutes(router *mux.Router, throttle func(http.Handler) http.Handler) {
	var login http.Handler = http.HandlerFunc(h.Login)
	if throttle != nil {
		login = throttle(login)
	}
	router.Handle("/auth/login", login).Methods("POST")
	router.HandleFunc("/auth/logout", h.Logout).Methods("POST")
}

// Login verifies credentials and issues a session
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "username and password are required")
		return
	}

	username, err := h.authenticator.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.metrics.RecordLoginAttempt("invalid_credentials")
			observability.FromContext(r.Context()).WithField("login", req.Username).Warn("Login rejected")
			httputil.WriteUnauthorized(w, ErrInvalidCredentials.Error())
			return
		}
		h.metrics.RecordLoginAttempt("error")
		h.logger.WithError(err).Error("Authenticator failed")
		httputil.WriteServiceUnavailable(w, "authentication backend unavailable")
		return
	}

	token, authCtx, err := h.sessions.Issue(username)
	if err != nil {
		h.metrics.RecordLoginAttempt("error")
		h.logger.WithError(err).Error("Failed to issue session")
		httputil.WriteInternalError(w, err)
		return
	}

	h.metrics.RecordLoginAttempt("success")
	h.setCookie(w, token, authCtx.ExpiresAt)
	httputil.WriteSuccess(w, LoginResponse{
		Token:     token,
		Username:  authCtx.Username,
		ExpiresAt: authCtx.ExpiresAt,
	})
}

// Logout revokes the presented session and clears the cookie. It succeeds
// even without a valid session.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if token := TokenFromRequest(r); token != "" {
		if authCtx, err := h.sessions.Validate(r.Context(), token); err == nil {
			if err := h.sessions.Revoke(r.Context(), authCtx); err != nil {
				h.logger.WithError(err).Error("Failed to revoke session")
				httputil.WriteServiceUnavailable(w, "could not revoke session")
				return
			}
		}
	}

	h.setCookie(w, "", time.Unix(0, 0))
	httputil.WriteNoContent(w)
}

func (h *Handlers) setCookie(w http.ResponseWriter, value string, expires time.Time) {
	cookie := &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		cookie.MaxAge = -1
	}
	http.SetCookie(w, cookie)
}

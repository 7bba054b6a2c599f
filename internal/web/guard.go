package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/schedadmin/schedadmin/internal/backend"
	"github.com/schedadmin/schedadmin/internal/router"
	"github.com/schedadmin/schedadmin/internal/session"
)

type stateKey struct{}

// guard attaches the browser session to the request and redirects when the
// session lacks what the requested screen needs.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := s.sessions.Resolve(w, r)

		d := s.nav.Resolve(r.URL.Path, st)
		if !d.Allow {
			slog.Debug("navigation redirected", "path", r.URL.Path, "to", d.Redirect)
			http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
			return
		}

		ctx := context.WithValue(r.Context(), stateKey{}, st)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func stateFrom(r *http.Request) *session.State {
	return r.Context().Value(stateKey{}).(*session.State)
}

// token returns the session token; the guard has already checked it exists.
func token(st *session.State) string {
	tok, _ := st.Token()
	return tok
}

// unauthorized handles an API rejection of the session token: the token is
// dropped and the browser sent back to the login screen. It reports whether
// err was such a rejection.
func unauthorized(w http.ResponseWriter, r *http.Request, st *session.State, err error) bool {
	if !isUnauthorized(err) {
		return false
	}
	slog.Warn("backend rejected session token", "session", shortID(st.ID), "path", r.URL.Path)
	st.ClearToken()
	st.AddFlash(session.FlashAlert, msgSessionExpired)
	http.Redirect(w, r, router.Login, http.StatusSeeOther)
	return true
}

func isUnauthorized(err error) bool {
	return errors.Is(err, backend.ErrUnauthorized)
}

// backToTable queues a notice and returns the browser to the grid.
func backToTable(w http.ResponseWriter, r *http.Request, st *session.State, msg string) {
	if msg != "" {
		st.AddFlash(session.FlashNotice, msg)
	}
	http.Redirect(w, r, router.Table, http.StatusSeeOther)
}

// detail returns the API's explanation of a failure, if any.
func detail(err error) string {
	var be *backend.Error
	if errors.As(err, &be) && be.Detail != "" {
		return be.Detail
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

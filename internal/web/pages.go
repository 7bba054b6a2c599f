package web

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/schedadmin/schedadmin/internal/backend"
	"github.com/schedadmin/schedadmin/internal/router"
	"github.com/schedadmin/schedadmin/internal/session"
	"github.com/schedadmin/schedadmin/internal/sheet"
)

// User-facing messages.
const (
	msgInvalidCredentials = "Invalid credentials"
	msgSessionExpired     = "Your session has expired. Please sign in again."
	msgOpenFailed         = "Could not open the selected table."
	msgWritesDisabled     = "Modifications temporarily disabled"
	msgBusy               = "Another change is still in progress. Try again in a moment."
	msgRowGone            = "That row no longer exists. Refresh the table."
	msgSaveFailed         = "Saving the row failed."
	msgDeleteFailed       = "Deleting the row failed."
	msgExportFailed       = "Export failed."
	msgImportFailed       = "Import failed. Check Excel headers."
	msgImportNoFile       = "Choose a single .xlsx file to import."
	msgImported           = "Import complete."
	msgRefreshFailed      = "Refreshing the rows failed."
)

type pageBase struct {
	Title   string
	Flashes []session.Flash
}

type loginView struct {
	pageBase
	Username string
}

type selectView struct {
	pageBase
	SheetTypes []string
	Months     []sheet.Option
	Years      []sheet.Option
	Selected   sheet.Criteria
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	render(w, http.StatusOK, s.pages.login, loginView{
		pageBase: pageBase{Title: "Login", Flashes: st.TakeFlashes()},
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	creds := backend.Credentials{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Password: r.PostFormValue("password"),
	}

	tok, err := s.backend.Login(r.Context(), creds)
	if s.metrics != nil {
		s.metrics.Login(err == nil)
	}
	if err != nil {
		slog.Warn("login failed", "username", creds.Username, "err", err)
		render(w, http.StatusUnauthorized, s.pages.login, loginView{
			pageBase: pageBase{
				Title:   "Login",
				Flashes: []session.Flash{{Kind: session.FlashAlert, Message: msgInvalidCredentials}},
			},
			Username: creds.Username,
		})
		return
	}

	// A fresh ID keeps a cookie planted before login from riding the token.
	st = s.sessions.Renew(w, st)
	st.SetToken(tok)
	slog.Info("user logged in", "username", creds.Username, "session", shortID(st.ID))
	http.Redirect(w, r, router.Select, http.StatusSeeOther)
}

func (s *Server) selectModel(st *session.State, selected sheet.Criteria, flashes []session.Flash) selectView {
	cat := s.cat()
	return selectView{
		pageBase:   pageBase{Title: "Select table", Flashes: append(st.TakeFlashes(), flashes...)},
		SheetTypes: cat.SheetTypes(),
		Months:     sheet.Months,
		Years:      cat.Years(),
		Selected:   selected,
	}
}

func (s *Server) selectPage(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	selected := s.cat().Defaults()
	render(w, http.StatusOK, s.pages.selector, s.selectModel(st, selected, nil))
}

func (s *Server) openTable(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	cr := sheet.Criteria{
		SheetType: r.PostFormValue("sheet_type"),
		Month:     r.PostFormValue("month"),
		Year:      r.PostFormValue("year"),
	}
	if err := s.cat().Validate(cr); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.backend.OpenTable(r.Context(), token(st), cr)
	if err != nil {
		if unauthorized(w, r, st, err) {
			return
		}
		slog.Error("opening table failed", "criteria", cr.String(), "err", err)
		msg := msgOpenFailed
		if d := detail(err); d != "" {
			msg += " " + d
		}
		render(w, http.StatusBadGateway, s.pages.selector, s.selectModel(st, cr,
			[]session.Flash{{Kind: session.FlashAlert, Message: msg}}))
		return
	}

	st.SetSnapshot(snap)
	slog.Info("table opened", "table", snap.TableName, "criteria", cr.String(), "rows", len(snap.Rows))
	http.Redirect(w, r, router.Table, http.StatusSeeOther)
}

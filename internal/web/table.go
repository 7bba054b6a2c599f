package web

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/schedadmin/schedadmin/internal/backend"
	"github.com/schedadmin/schedadmin/internal/router"
	"github.com/schedadmin/schedadmin/internal/session"
	"github.com/schedadmin/schedadmin/internal/sheet"
	"github.com/schedadmin/schedadmin/internal/workbook"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type tableView struct {
	pageBase
	TableName     string
	Headers       []string
	Rows          []gridRow
	WritesAllowed bool
	Dialog        *rowDialog
	Confirm       *confirmDialog
}

type gridRow struct {
	ID    string
	Cells []gridCell
}

type gridCell struct {
	Value string
	Class string
}

type rowDialog struct {
	Title  string
	Action string
	Fields []formField
}

type formField struct {
	ID     int
	Header string
	Value  string
	Type   string
	Locked bool
}

type confirmDialog struct {
	ID string
}

func (s *Server) tableModel(st *session.State, snap *sheet.Snapshot) tableView {
	dateCols := s.cat().DateColumnsFor(snap.TableName)

	rows := make([]gridRow, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		cells := make([]gridCell, len(snap.Headers))
		for i, h := range snap.Headers {
			v := row.Get(h)
			cells[i] = gridCell{Value: v, Class: sheet.CellClass(dateCols, h, v)}
		}
		rows = append(rows, gridRow{ID: row.ID, Cells: cells})
	}

	return tableView{
		pageBase:      pageBase{Title: snap.TableName, Flashes: st.TakeFlashes()},
		TableName:     snap.TableName,
		Headers:       snap.Headers,
		Rows:          rows,
		WritesAllowed: s.limits().WritesAllowed(),
	}
}

// rowDialog builds the row form. initial is the row being edited, nil when
// adding; entered holds values typed by the user that override it.
func (s *Server) rowDialog(snap *sheet.Snapshot, initial *sheet.Row, entered map[string]string) *rowDialog {
	dateCols := s.cat().DateColumnsFor(snap.TableName)

	d := &rowDialog{Title: "Add Row", Action: "/table/rows"}
	if initial != nil {
		d.Title = "Edit Row"
		d.Action = "/table/rows/" + url.PathEscape(initial.ID)
	}

	for i, h := range snap.Headers {
		f := formField{ID: i, Header: h, Type: "text"}
		if initial != nil {
			f.Value = initial.Get(h)
		}
		if v, ok := entered[h]; ok {
			f.Value = v
		}
		if dateCols.Contains(h) {
			f.Type = "date"
			f.Locked = sheet.FieldLocked(dateCols, h, initial)
			if !sheet.IsSet(f.Value) {
				f.Value = ""
			}
		}
		d.Fields = append(d.Fields, f)
	}
	return d
}

// submitted collects the form values for every header. Locked fields keep
// their initial value; fields missing from the post keep the initial value
// or stay absent when adding.
func submitted(r *http.Request, headers []string, dateCols sheet.DateColumns, initial *sheet.Row) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		if sheet.FieldLocked(dateCols, h, initial) {
			out[h] = initial.Get(h)
			continue
		}
		if vs, ok := r.PostForm[h]; ok && len(vs) > 0 {
			out[h] = vs[0]
			continue
		}
		if initial != nil {
			out[h] = initial.Get(h)
		}
	}
	return out
}

// openSnapshot returns the session's table or redirects to the selector.
func openSnapshot(w http.ResponseWriter, r *http.Request, st *session.State) (*sheet.Snapshot, bool) {
	snap := st.Snapshot()
	if snap == nil {
		http.Redirect(w, r, router.Select, http.StatusSeeOther)
		return nil, false
	}
	return snap, true
}

func (s *Server) tablePage(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	snap, ok := openSnapshot(w, r, st)
	if !ok {
		return
	}
	render(w, http.StatusOK, s.pages.table, s.tableModel(st, snap))
}

func (s *Server) newRowForm(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	snap, ok := openSnapshot(w, r, st)
	if !ok {
		return
	}
	view := s.tableModel(st, snap)
	view.Dialog = s.rowDialog(snap, nil, nil)
	render(w, http.StatusOK, s.pages.table, view)
}

func (s *Server) editRowForm(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	snap, ok := openSnapshot(w, r, st)
	if !ok {
		return
	}
	row, found := snap.FindRow(mux.Vars(r)["id"])
	if !found {
		backToTable(w, r, st, msgRowGone)
		return
	}
	view := s.tableModel(st, snap)
	view.Dialog = s.rowDialog(snap, &row, nil)
	render(w, http.StatusOK, s.pages.table, view)
}

func (s *Server) createRow(w http.ResponseWriter, r *http.Request) {
	s.saveRow(w, r, "")
}

func (s *Server) updateRow(w http.ResponseWriter, r *http.Request) {
	s.saveRow(w, r, mux.Vars(r)["id"])
}

// saveRow normalizes the submitted form and creates (id == "") or updates a
// row. On failure the dialog is shown again with what the user entered.
func (s *Server) saveRow(w http.ResponseWriter, r *http.Request, id string) {
	st := stateFrom(r)
	snap, ok := openSnapshot(w, r, st)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form: "+err.Error())
		return
	}
	if !s.limits().WritesAllowed() {
		backToTable(w, r, st, msgWritesDisabled)
		return
	}

	var initial *sheet.Row
	if id != "" {
		row, found := snap.FindRow(id)
		if !found {
			backToTable(w, r, st, msgRowGone)
			return
		}
		initial = &row
	}

	done, ok := st.BeginMutation()
	if !ok {
		backToTable(w, r, st, msgBusy)
		return
	}
	defer done()

	dateCols := s.cat().DateColumnsFor(snap.TableName)
	entered := submitted(r, snap.Headers, dateCols, initial)
	values := sheet.Normalize(snap.Headers, entered)

	var (
		res backend.RowResult
		err error
	)
	if initial == nil {
		res, err = s.backend.CreateRow(r.Context(), token(st), snap.TableName, values)
	} else {
		res, err = s.backend.UpdateRow(r.Context(), token(st), snap.TableName, id, values)
	}
	if err != nil {
		if unauthorized(w, r, st, err) {
			return
		}
		slog.Error("saving row failed", "table", snap.TableName, "row", id, "err", err)
		msg := msgSaveFailed
		if d := detail(err); d != "" {
			msg += " " + d
		}
		st.AddFlash(session.FlashNotice, msg)
		view := s.tableModel(st, snap)
		view.Dialog = s.rowDialog(snap, initial, entered)
		render(w, http.StatusOK, s.pages.table, view)
		return
	}

	for _, warning := range res.Warnings {
		st.AddFlash(session.FlashNotice, warning)
	}
	slog.Info("row saved", "table", snap.TableName, "row", string(res.ID), "created", initial == nil)

	s.showRefreshed(w, r, st, snap.TableName)
}

func (s *Server) confirmDelete(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	snap, ok := openSnapshot(w, r, st)
	if !ok {
		return
	}
	row, found := snap.FindRow(mux.Vars(r)["id"])
	if !found {
		backToTable(w, r, st, msgRowGone)
		return
	}
	view := s.tableModel(st, snap)
	view.Confirm = &confirmDialog{ID: row.ID}
	render(w, http.StatusOK, s.pages.table, view)
}

// deleteRow deletes only when the confirmation form answered yes; any other
// answer returns to the grid without calling the API.
func (s *Server) deleteRow(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	snap, ok := openSnapshot(w, r, st)
	if !ok {
		return
	}
	if r.PostFormValue("confirm") != "yes" {
		backToTable(w, r, st, "")
		return
	}
	if !s.limits().WritesAllowed() {
		backToTable(w, r, st, msgWritesDisabled)
		return
	}

	done, ok := st.BeginMutation()
	if !ok {
		backToTable(w, r, st, msgBusy)
		return
	}
	defer done()

	id := mux.Vars(r)["id"]
	if err := s.backend.DeleteRow(r.Context(), token(st), snap.TableName, id); err != nil {
		if unauthorized(w, r, st, err) {
			return
		}
		slog.Error("deleting row failed", "table", snap.TableName, "row", id, "err", err)
		msg := msgDeleteFailed
		if d := detail(err); d != "" {
			msg += " " + d
		}
		backToTable(w, r, st, msg)
		return
	}

	slog.Info("row deleted", "table", snap.TableName, "row", id)
	s.showRefreshed(w, r, st, snap.TableName)
}

func (s *Server) refreshRows(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	snap, ok := openSnapshot(w, r, st)
	if !ok {
		return
	}
	s.showRefreshed(w, r, st, snap.TableName)
}

// showRefreshed re-fetches the rows and returns the browser to the grid, or
// to the login screen when the API no longer accepts the token.
func (s *Server) showRefreshed(w http.ResponseWriter, r *http.Request, st *session.State, table string) {
	if err := s.reloadRows(r, st, table); err != nil && unauthorized(w, r, st, err) {
		return
	}
	http.Redirect(w, r, router.Table, http.StatusSeeOther)
}

// reloadRows re-fetches the rows of table into the session, keeping its
// headers. Failures other than a rejected token are reported as a notice.
func (s *Server) reloadRows(r *http.Request, st *session.State, table string) error {
	rows, err := s.backend.ListRows(r.Context(), token(st), table)
	if err != nil {
		slog.Error("refreshing rows failed", "table", table, "err", err)
		if !isUnauthorized(err) {
			st.AddFlash(session.FlashNotice, msgRefreshFailed)
		}
		return err
	}
	if !st.ReplaceRows(table, rows) {
		slog.Debug("discarding rows for a table that is no longer open", "table", table)
	}
	return nil
}

func (s *Server) exportTable(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	snap, ok := openSnapshot(w, r, st)
	if !ok {
		return
	}

	rc, err := s.backend.ExportTable(r.Context(), token(st), snap.TableName)
	if err != nil {
		if unauthorized(w, r, st, err) {
			return
		}
		slog.Error("export failed", "table", snap.TableName, "err", err)
		backToTable(w, r, st, msgExportFailed)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": snap.TableName + ".xlsx",
	}))
	w.Header().Set("Cache-Control", "no-store")

	n, err := io.Copy(w, rc)
	if err != nil {
		slog.Error("streaming export failed", "table", snap.TableName, "bytes", n, "err", err)
	}
	if s.metrics != nil {
		s.metrics.Exported(n)
	}
	slog.Info("table exported", "table", snap.TableName, "bytes", n)
}

func (s *Server) importTable(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	snap, ok := openSnapshot(w, r, st)
	if !ok {
		return
	}
	if !s.limits().WritesAllowed() {
		backToTable(w, r, st, msgWritesDisabled)
		return
	}

	limit := s.limits().MaxUploadSize
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		slog.Warn("reading upload failed", "table", snap.TableName, "err", err)
		s.importFailed(w, r, st)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) != 1 {
		st.AddFlash(session.FlashAlert, msgImportNoFile)
		http.Redirect(w, r, router.Table, http.StatusSeeOther)
		return
	}
	fh := files[0]

	done, ok := st.BeginMutation()
	if !ok {
		backToTable(w, r, st, msgBusy)
		return
	}
	defer done()

	f, err := fh.Open()
	if err != nil {
		slog.Error("opening upload failed", "file", fh.Filename, "err", err)
		s.importFailed(w, r, st)
		return
	}
	defer f.Close()

	if s.limits().PreflightEnabled() {
		expected := snap.Headers
		if len(expected) == 0 {
			cat := s.cat()
			expected = cat.HeadersFor(cat.SheetTypeOf(snap.TableName))
		}
		rep, err := workbook.Check(f, expected)
		if err != nil {
			slog.Warn("import rejected before upload", "table", snap.TableName, "file", fh.Filename, "err", err)
			s.importFailed(w, r, st)
			return
		}
		slog.Debug("import preflight passed", "table", snap.TableName, "header_row", rep.HeaderRow, "rows", rep.DataRows)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			slog.Error("rewinding upload failed", "file", fh.Filename, "err", err)
			s.importFailed(w, r, st)
			return
		}
	}

	if err := s.backend.ImportTable(r.Context(), token(st), snap.TableName, fh.Filename, f); err != nil {
		if unauthorized(w, r, st, err) {
			return
		}
		slog.Error("import failed", "table", snap.TableName, "file", fh.Filename, "err", err)
		s.importFailed(w, r, st)
		return
	}

	if s.metrics != nil {
		s.metrics.Import(true)
	}
	slog.Info("table imported", "table", snap.TableName, "file", fh.Filename, "bytes", fh.Size)
	st.AddFlash(session.FlashNotice, msgImported)
	s.showRefreshed(w, r, st, snap.TableName)
}

// importFailed shows the import alert and leaves the grid as it was.
func (s *Server) importFailed(w http.ResponseWriter, r *http.Request, st *session.State) {
	if s.metrics != nil {
		s.metrics.Import(false)
	}
	st.AddFlash(session.FlashAlert, msgImportFailed)
	http.Redirect(w, r, router.Table, http.StatusSeeOther)
}

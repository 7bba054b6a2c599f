package web

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
)

const layoutHTML = `{{define "layout"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}} - Schedule Admin</title>
<style>
*,*::before,*::after{box-sizing:border-box}
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Helvetica,Arial,sans-serif;margin:0;background:#f6f8fa;color:#1f2328;line-height:1.4}
a{color:#0969da;text-decoration:none}
header{background:#fff;border-bottom:1px solid #d0d7de;padding:10px 20px;display:flex;gap:12px;align-items:center;flex-wrap:wrap;position:sticky;top:0;z-index:10}
header h1{font-size:18px;margin:0 auto 0 0}
main{padding:20px}
.card{background:#fff;border:1px solid #d0d7de;border-radius:8px;padding:24px;max-width:420px;margin:40px auto}
.card label{display:block;margin:12px 0 4px;font-size:13px;color:#656d76}
.card input,.card select{width:100%;padding:6px 8px;border:1px solid #d0d7de;border-radius:4px}
.btn{display:inline-block;padding:5px 12px;border:1px solid #d0d7de;border-radius:6px;background:#f6f8fa;color:#1f2328;font-size:14px;cursor:pointer}
.btn-primary{background:#1f883d;border-color:#1f883d;color:#fff}
.btn-danger{background:#cf222e;border-color:#cf222e;color:#fff}
.card .btn{margin-top:16px}
.alert{border:1px solid #cf222e;background:#ffebe9;color:#82071e;padding:10px 14px;border-radius:6px;margin:0 0 12px}
.notice{border:1px solid #9a6700;background:#fff8c5;color:#4d2d00;padding:10px 14px;border-radius:6px;margin:0 0 12px}
.frozen{font-size:12px;color:#9a6700}
.grid-wrap{overflow:auto;background:#fff;border:1px solid #d0d7de;border-radius:8px}
table.grid{border-collapse:collapse;font-size:13px;white-space:nowrap}
table.grid th,table.grid td{border:1px solid #d0d7de;padding:4px 8px}
table.grid th{background:#f6f8fa;position:sticky;top:0}
.cell-date-filled{background:#dafbe1}
.cell-date{background:#ddf4ff}
.cell-remarks{background:#fff8c5}
.legend{display:flex;gap:6px;font-size:12px;list-style:none;margin:0;padding:0}
.legend li{border:1px solid #d0d7de;border-radius:4px;padding:2px 6px}
dialog{border:1px solid #d0d7de;border-radius:8px;padding:20px;max-width:720px;width:90%}
dialog form.fields{display:grid;grid-template-columns:1fr 1fr;gap:8px 16px}
dialog label{font-size:12px;color:#656d76;display:block}
dialog input{width:100%;padding:4px 6px;border:1px solid #d0d7de;border-radius:4px}
dialog input:disabled{background:#eaeef2}
dialog .actions{grid-column:1/-1;display:flex;gap:8px;justify-content:flex-end;margin-top:8px}
.backdrop{position:fixed;inset:0;background:rgba(31,35,40,.4)}
</style>
</head>
<body>
{{template "body" .}}
</body>
</html>{{end}}

{{define "flashes"}}{{range .Flashes}}{{if eq .Kind "alert"}}<div class="alert" role="alert">{{.Message}}</div>{{else}}<div class="notice" role="status">{{.Message}}</div>{{end}}{{end}}{{end}}
`

const loginHTML = `{{define "body"}}
<main>
<form class="card" method="post" action="/login">
<h2>Sign in</h2>
{{template "flashes" .}}
<label for="username">Username</label>
<input id="username" name="username" autocomplete="username" value="{{.Username}}" required autofocus>
<label for="password">Password</label>
<input id="password" name="password" type="password" autocomplete="current-password" required>
<button class="btn btn-primary" type="submit">Login</button>
</form>
</main>
{{end}}`

const selectHTML = `{{define "body"}}
<main>
<form class="card" method="post" action="/select">
<h2>Open a schedule</h2>
{{template "flashes" .}}
<label for="sheet_type">Sheet type</label>
<select id="sheet_type" name="sheet_type">
{{range .SheetTypes}}<option value="{{.}}"{{if eq . $.Selected.SheetType}} selected{{end}}>{{.}}</option>
{{end}}</select>
<label for="month">Month</label>
<select id="month" name="month">
{{range .Months}}<option value="{{.Value}}"{{if eq .Value $.Selected.Month}} selected{{end}}>{{.Label}}</option>
{{end}}</select>
<label for="year">Year</label>
<select id="year" name="year">
{{range .Years}}<option value="{{.Value}}"{{if eq .Value $.Selected.Year}} selected{{end}}>{{.Label}}</option>
{{end}}</select>
<button class="btn btn-primary" type="submit">Open Table</button>
</form>
</main>
{{end}}`

const tableHTML = `{{define "body"}}
<header>
<a class="btn" href="/select">&larr; Back</a>
<h1>{{.TableName}}</h1>
<ul class="legend" aria-label="Cell highlights">
<li class="cell-date-filled">Filled date</li>
<li class="cell-date">Date column</li>
<li class="cell-remarks">Remarks</li>
</ul>
{{if not .WritesAllowed}}<span class="frozen">Modifications temporarily disabled</span>{{end}}
<a class="btn btn-primary" href="/table/rows/new">Add Row</a>
<form method="post" action="/table/refresh"><button class="btn" type="submit">Refresh</button></form>
<a class="btn" href="/table/export">Export</a>
<form method="post" action="/table/import" enctype="multipart/form-data">
<input type="file" name="file" accept=".xlsx" required>
<button class="btn" type="submit">Import</button>
</form>
</header>
<main>
{{template "flashes" .}}
<div class="grid-wrap">
<table class="grid">
<thead><tr>{{range .Headers}}<th>{{.}}</th>{{end}}<th>Actions</th></tr></thead>
<tbody>
{{range .Rows}}<tr>{{range .Cells}}<td{{if .Class}} class="{{.Class}}"{{end}}>{{.Value}}</td>{{end}}<td><a href="/table/rows/{{.ID}}/edit" title="Edit">&#9998;</a> <a href="/table/rows/{{.ID}}/delete" title="Delete">&#128465;</a></td></tr>
{{else}}<tr><td colspan="{{len .Headers}}">No rows</td><td></td></tr>
{{end}}</tbody>
</table>
</div>
</main>
{{with .Dialog}}
<div class="backdrop"></div>
<dialog open aria-labelledby="dialog-title">
<h3 id="dialog-title">{{.Title}}</h3>
<form class="fields" method="post" action="{{.Action}}">
{{range .Fields}}<div><label for="f-{{.ID}}">{{.Header}}</label><input id="f-{{.ID}}" name="{{.Header}}" type="{{.Type}}" value="{{.Value}}"{{if .Locked}} disabled{{end}}></div>
{{end}}<div class="actions"><a class="btn" href="/table">Cancel</a><button class="btn btn-primary" type="submit">Save</button></div>
</form>
</dialog>
{{end}}
{{with .Confirm}}
<div class="backdrop"></div>
<dialog open role="alertdialog" aria-labelledby="confirm-title">
<h3 id="confirm-title">Delete row {{.ID}}?</h3>
<p>This cannot be undone.</p>
<form method="post" action="/table/rows/{{.ID}}/delete">
<div class="actions">
<button class="btn" type="submit" name="confirm" value="no">Cancel</button>
<button class="btn btn-danger" type="submit" name="confirm" value="yes">Delete</button>
</div>
</form>
</dialog>
{{end}}
{{end}}`

// pageSet holds one parsed template per screen, each sharing the layout.
type pageSet struct {
	login, selector, table *template.Template
}

func mustParsePages() *pageSet {
	base := template.Must(template.New("pages").Parse(layoutHTML))
	page := func(body string) *template.Template {
		return template.Must(template.Must(base.Clone()).Parse(body))
	}
	return &pageSet{
		login:    page(loginHTML),
		selector: page(selectHTML),
		table:    page(tableHTML),
	}
}

// render executes t into a buffer first so template errors never produce a
// half-written page.
func render(w http.ResponseWriter, status int, t *template.Template, data interface{}) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("rendering page failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

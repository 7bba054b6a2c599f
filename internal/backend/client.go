// Package backend is the HTTP client for the remote schedules API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/schedadmin/schedadmin/internal/metrics"
	"github.com/schedadmin/schedadmin/internal/sheet"
)

const maxErrorBody = 64 << 10

// Credentials are submitted to the login endpoint.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RowResult is the backend's answer to a create or update.
type RowResult struct {
	ID       json.Number `json:"id"`
	Created  bool        `json:"created,omitempty"`
	Updated  bool        `json:"updated,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
}

// Client talks to the schedules API. A zero token sends no Authorization header.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	metrics *metrics.Collector
}

// New creates a client for baseURL with the given request timeout.
func New(baseURL string, timeout time.Duration, m *metrics.Collector) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q is not absolute", baseURL)
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		metrics: m,
	}, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, creds Credentials) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, "login", http.MethodPost, "", []string{"auth", "login"}, creds, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &Error{Op: "login", Status: http.StatusOK, Detail: "response carried no token"}
	}
	return out.Token, nil
}

// OpenTable resolves criteria to a table snapshot.
func (c *Client) OpenTable(ctx context.Context, token string, cr sheet.Criteria) (*sheet.Snapshot, error) {
	var snap sheet.Snapshot
	if err := c.doJSON(ctx, "open_table", http.MethodPost, token, []string{"schedules", "open_table"}, cr, &snap); err != nil {
		return nil, err
	}
	if snap.TableName == "" {
		return nil, &Error{Op: "open_table", Status: http.StatusOK, Detail: "response carried no table name"}
	}
	return &snap, nil
}

// ListRows fetches the current rows of a table.
func (c *Client) ListRows(ctx context.Context, token, table string) ([]sheet.Row, error) {
	var out struct {
		Rows []sheet.Row `json:"rows"`
	}
	if err := c.doJSON(ctx, "list_rows", http.MethodGet, token, []string{"schedules", "rows", table}, nil, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// CreateRow inserts a row.
func (c *Client) CreateRow(ctx context.Context, token, table string, values map[string]string) (RowResult, error) {
	var out RowResult
	err := c.doJSON(ctx, "create_row", http.MethodPost, token, []string{"schedules", "rows", table}, values, &out)
	return out, err
}

// UpdateRow replaces the values of row id.
func (c *Client) UpdateRow(ctx context.Context, token, table, id string, values map[string]string) (RowResult, error) {
	var out RowResult
	err := c.doJSON(ctx, "update_row", http.MethodPut, token, []string{"schedules", "rows", table, id}, values, &out)
	return out, err
}

// DeleteRow removes row id.
func (c *Client) DeleteRow(ctx context.Context, token, table, id string) error {
	return c.doJSON(ctx, "delete_row", http.MethodDelete, token, []string{"schedules", "rows", table, id}, nil, nil)
}

// ExportTable returns the table as an xlsx stream. The caller must close it.
func (c *Client) ExportTable(ctx context.Context, token, table string) (io.ReadCloser, error) {
	start := time.Now()
	req, err := c.newRequest(ctx, http.MethodGet, token, []string{"schedules", "export", table}, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.send("export", req)
	c.observe("export", start, err)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ImportTable uploads an xlsx file as multipart field "file".
func (c *Client) ImportTable(ctx context.Context, token, table, filename string, file io.Reader) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("building upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("building upload: %w", err)
	}

	start := time.Now()
	req, err := c.newRequest(ctx, http.MethodPost, token, []string{"schedules", "import", table}, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.send("import", req)
	c.observe("import", start, err)
	if err != nil {
		return err
	}
	drain(resp.Body)
	return nil
}

// Probe issues an unauthenticated GET to path and reports whether the API answered.
func (c *Client) Probe(ctx context.Context, path string) error {
	u := *c.baseURL
	u.RawPath = ""
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	drain(resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("backend returned %s", resp.Status)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, op, method, token string, segments []string, in, out any) error {
	start := time.Now()
	err := c.roundTripJSON(ctx, op, method, token, segments, in, out)
	c.observe(op, start, err)
	return err
}

func (c *Client) roundTripJSON(ctx context.Context, op, method, token string, segments []string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, token, segments, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.send(op, req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, token string, segments []string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.RawPath = strings.TrimRight(c.baseURL.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.Join(segments, "/")

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// send performs req and converts non-2xx answers into *Error.
func (c *Client) send(op string, req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer drain(resp.Body)
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &Error{Op: op, Status: resp.StatusCode, Detail: detailFrom(data)}
	}
	return resp, nil
}

func (c *Client) observe(op string, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.BackendRequest(op, time.Since(start), err)
	}
}

func drain(rc io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(rc, maxErrorBody))
	rc.Close()
}

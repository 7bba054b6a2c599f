package session

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/schedadmin/schedadmin/internal/config"
	"github.com/schedadmin/schedadmin/internal/metrics"
	"github.com/schedadmin/schedadmin/internal/sheet"
)

var testSessionCfg = config.SessionConfig{
	CookieName:  "sid",
	IdleTimeout: time.Hour,
}

func newTestStore(t *testing.T, cfg config.SessionConfig) *Store {
	t.Helper()
	s, err := NewStore(cfg, metrics.New())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestResolveCreatesAndReusesSession(t *testing.T) {
	s := newTestStore(t, testSessionCfg)

	rr := httptest.NewRecorder()
	st := s.Resolve(rr, httptest.NewRequest("GET", "/login", nil))

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "sid" || cookies[0].Value != st.ID {
		t.Fatalf("expected session cookie, got %v", cookies)
	}
	if !cookies[0].HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}

	req := httptest.NewRequest("GET", "/select", nil)
	req.AddCookie(cookies[0])
	again := s.Resolve(httptest.NewRecorder(), req)
	if again != st {
		t.Error("expected the same session for the same cookie")
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 session, got %d", s.Len())
	}
}

func TestRenew(t *testing.T) {
	s := newTestStore(t, testSessionCfg)

	rr := httptest.NewRecorder()
	old := s.Resolve(rr, httptest.NewRequest("GET", "/login", nil))
	oldCookie := rr.Result().Cookies()[0]
	old.AddFlash(FlashNotice, "carried")

	rr = httptest.NewRecorder()
	fresh := s.Renew(rr, old)
	if fresh.ID == old.ID {
		t.Fatal("expected a new session ID")
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != fresh.ID {
		t.Fatalf("expected cookie for the new session, got %v", cookies)
	}
	if flashes := fresh.TakeFlashes(); len(flashes) != 1 || flashes[0].Message != "carried" {
		t.Errorf("expected pending flash to carry over, got %v", flashes)
	}

	req := httptest.NewRequest("GET", "/select", nil)
	req.AddCookie(oldCookie)
	if _, ok := s.Lookup(req); ok {
		t.Error("old session ID must no longer resolve")
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 session, got %d", s.Len())
	}
}

func TestLookupUnknownCookie(t *testing.T) {
	s := newTestStore(t, testSessionCfg)

	req := httptest.NewRequest("GET", "/table", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "forged"})
	if _, ok := s.Lookup(req); ok {
		t.Error("unknown cookie must not resolve")
	}
	if s.Len() != 0 {
		t.Error("Lookup must not create sessions")
	}
}

func TestTokenLifecycle(t *testing.T) {
	s := newTestStore(t, testSessionCfg)
	st := s.Resolve(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if st.HasToken() {
		t.Fatal("new session should have no token")
	}
	st.SetToken("dummy-token")
	if tok, ok := st.Token(); !ok || tok != "dummy-token" {
		t.Errorf("expected dummy-token, got %q", tok)
	}

	st.SetSnapshot(&sheet.Snapshot{TableName: "urgent_01_25"})
	st.ClearToken()
	if st.HasToken() || st.HasTable() {
		t.Error("ClearToken should drop token and table")
	}
}

func TestExpiredJWT(t *testing.T) {
	sign := func(exp time.Time) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user": "admin", "exp": exp.Unix()})
		s, err := tok.SignedString([]byte("k"))
		if err != nil {
			t.Fatalf("signing: %v", err)
		}
		return s
	}

	st := newState("x", time.Now())
	st.SetToken(sign(time.Now().Add(-time.Minute)))
	if st.HasToken() {
		t.Error("expired JWT should be treated as absent")
	}

	st.SetToken(sign(time.Now().Add(time.Hour)))
	if !st.HasToken() {
		t.Error("valid JWT should be present")
	}

	if tokenExpired("dummy-token", time.Now()) {
		t.Error("opaque tokens never expire")
	}
}

func TestReplaceRows(t *testing.T) {
	st := newState("x", time.Now())
	if st.ReplaceRows("urgent_01_25", nil) {
		t.Error("no table open, expected no-op")
	}

	st.SetSnapshot(&sheet.Snapshot{TableName: "urgent_01_25", Headers: []string{"OA"}})
	rows := []sheet.Row{{ID: "1", Values: map[string]string{"OA": "A"}}}
	if !st.ReplaceRows("urgent_01_25", rows) {
		t.Fatal("expected rows to be replaced")
	}
	snap := st.Snapshot()
	if len(snap.Rows) != 1 || snap.Headers[0] != "OA" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if st.ReplaceRows("shutdown_01_25", nil) {
		t.Error("rows for another table must not be applied")
	}
}

func TestFlashes(t *testing.T) {
	st := newState("x", time.Now())
	st.AddFlash(FlashAlert, "Invalid credentials")
	st.AddFlash(FlashNotice, "saved")

	f := st.TakeFlashes()
	if len(f) != 2 || f[0].Kind != FlashAlert {
		t.Errorf("unexpected flashes %v", f)
	}
	if len(st.TakeFlashes()) != 0 {
		t.Error("flashes should be one-shot")
	}
}

func TestBeginMutation(t *testing.T) {
	st := newState("x", time.Now())

	done, ok := st.BeginMutation()
	if !ok {
		t.Fatal("first mutation should start")
	}
	if _, ok := st.BeginMutation(); ok {
		t.Error("second concurrent mutation should be rejected")
	}
	done()
	if done2, ok := st.BeginMutation(); !ok {
		t.Error("mutation should start after the first finished")
	} else {
		done2()
	}
}

func TestReap(t *testing.T) {
	s := newTestStore(t, testSessionCfg)
	now := time.Now()
	s.now = func() time.Time { return now }

	old := s.create()
	fresh := s.create()

	now = now.Add(30 * time.Minute)
	fresh.touch(now)

	now = now.Add(45 * time.Minute)
	if n := s.Reap(); n != 1 {
		t.Fatalf("expected 1 reaped session, got %d", n)
	}
	s.mu.RLock()
	_, oldAlive := s.states[old.ID]
	_, freshAlive := s.states[fresh.ID]
	s.mu.RUnlock()
	if oldAlive || !freshAlive {
		t.Errorf("wrong session reaped: old=%v fresh=%v", oldAlive, freshAlive)
	}
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.bin")
	cfg := testSessionCfg
	cfg.StorePath = path
	cfg.Secret = "correct horse"

	s1, err := NewStore(cfg, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	st := s1.Resolve(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	st.SetToken("dummy-token")
	s1.create() // no token, not persisted
	s1.Stop()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading session file: %v", err)
	}
	if bytes.Contains(raw, []byte("dummy-token")) {
		t.Error("token stored in plaintext")
	}

	s2, err := NewStore(cfg, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s2.Stop()
	if s2.Len() != 1 {
		t.Fatalf("expected 1 restored session, got %d", s2.Len())
	}
	req := httptest.NewRequest("GET", "/select", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: st.ID})
	restored, ok := s2.Lookup(req)
	if !ok {
		t.Fatal("restored session not found by cookie")
	}
	if tok, _ := restored.Token(); tok != "dummy-token" {
		t.Errorf("expected restored token, got %q", tok)
	}
}

func TestPersistenceWrongSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.bin")
	cfg := testSessionCfg
	cfg.StorePath = path
	cfg.Secret = "one"

	s1, err := NewStore(cfg, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s1.Resolve(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil)).SetToken("t")
	s1.Stop()

	cfg.Secret = "two"
	s2, err := NewStore(cfg, nil)
	if err != nil {
		t.Fatalf("a wrong secret should not be fatal: %v", err)
	}
	defer s2.Stop()
	if s2.Len() != 0 {
		t.Errorf("expected no restored sessions, got %d", s2.Len())
	}
}

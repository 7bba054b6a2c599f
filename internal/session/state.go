package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/schedadmin/schedadmin/internal/sheet"
)

// FlashKind distinguishes blocking alerts from informational notices.
type FlashKind string

const (
	FlashAlert  FlashKind = "alert"
	FlashNotice FlashKind = "notice"
)

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Kind    FlashKind
	Message string
}

// State is everything the UI remembers for one browser: the API token, the
// opened table and pending flash messages.
type State struct {
	ID string

	mu       sync.Mutex
	token    string
	snapshot *sheet.Snapshot
	flashes  []Flash
	created  time.Time
	lastSeen time.Time

	// busy serializes mutations (save, delete, import) per browser.
	busy sync.Mutex

	onTokenChange func()
}

func newState(id string, now time.Time) *State {
	return &State{ID: id, created: now, lastSeen: now}
}

// Token returns the API token. A JWT whose exp claim has passed is reported
// as absent; opaque tokens never expire here.
func (s *State) Token() (string, bool) {
	s.mu.Lock()
	tok := s.token
	s.mu.Unlock()

	if tok == "" || tokenExpired(tok, time.Now()) {
		return "", false
	}
	return tok, true
}

// HasToken implements router.StateProvider.
func (s *State) HasToken() bool {
	_, ok := s.Token()
	return ok
}

// HasTable implements router.StateProvider.
func (s *State) HasTable() bool {
	return s.Snapshot() != nil
}

// SetToken stores the token after a successful login.
func (s *State) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	cb := s.onTokenChange
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// ClearToken forgets the token and the opened table, e.g. after the API
// rejected the token.
func (s *State) ClearToken() {
	s.mu.Lock()
	s.token = ""
	s.snapshot = nil
	cb := s.onTokenChange
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Snapshot returns the opened table or nil.
func (s *State) Snapshot() *sheet.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// SetSnapshot replaces the opened table wholesale.
func (s *State) SetSnapshot(snap *sheet.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
}

// ReplaceRows swaps in fresh rows for the opened table, keeping its name and
// headers. It is a no-op if no table is open or a different table has been
// opened in the meantime.
func (s *State) ReplaceRows(table string, rows []sheet.Row) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil || s.snapshot.TableName != table {
		return false
	}
	s.snapshot = s.snapshot.WithRows(rows)
	return true
}

// AddFlash queues a message for the next page.
func (s *State) AddFlash(kind FlashKind, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flashes = append(s.flashes, Flash{Kind: kind, Message: msg})
}

// TakeFlashes returns and clears queued messages.
func (s *State) TakeFlashes() []Flash {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.flashes
	s.flashes = nil
	return f
}

// BeginMutation claims the per-session mutation slot. It returns false if
// another save, delete or import for this browser is still in flight.
func (s *State) BeginMutation() (done func(), ok bool) {
	if !s.busy.TryLock() {
		return nil, false
	}
	return s.busy.Unlock, true
}

func (s *State) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *State) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *State) record() record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return record{ID: s.ID, Token: s.token, Created: s.created, LastSeen: s.lastSeen}
}

// tokenExpired inspects, without verifying, the exp claim of a JWT. Only the
// API can validate a token; this just avoids showing pages that are bound to
// fail.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}

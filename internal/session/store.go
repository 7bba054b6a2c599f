// Package session keeps per-browser UI state on the server, keyed by an
// opaque cookie.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/schedadmin/schedadmin/internal/config"
	"github.com/schedadmin/schedadmin/internal/metrics"
)

// Store holds every live browser session.
type Store struct {
	mu      sync.RWMutex
	states  map[string]*State
	cfg     config.SessionConfig
	metrics *metrics.Collector
	persist *fileStore
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewStore creates a session store. When persistence is configured, sessions
// holding a token are restored from disk.
func NewStore(cfg config.SessionConfig, m *metrics.Collector) (*Store, error) {
	s := &Store{
		states:  make(map[string]*State),
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	if cfg.PersistenceEnabled() {
		fs, err := openFileStore(cfg.StorePath, cfg.Secret)
		if err != nil {
			return nil, fmt.Errorf("opening session store: %w", err)
		}
		s.persist = fs

		records, err := fs.load()
		if err != nil {
			slog.Warn("discarding unreadable session file", "path", cfg.StorePath, "err", err)
		}
		cutoff := s.now().Add(-cfg.IdleTimeout)
		for _, rec := range records {
			if rec.Token == "" || rec.LastSeen.Before(cutoff) {
				continue
			}
			st := newState(rec.ID, rec.Created)
			st.token = rec.Token
			st.lastSeen = rec.LastSeen
			st.onTokenChange = s.save
			s.states[rec.ID] = st
		}
		slog.Info("sessions restored", "count", len(s.states), "path", cfg.StorePath)
	}

	s.reportCount()
	return s, nil
}

// Lookup returns the session named by the request cookie, without creating one.
func (s *Store) Lookup(r *http.Request) (*State, bool) {
	c, err := r.Cookie(s.cfg.CookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}
	s.mu.RLock()
	st, ok := s.states[c.Value]
	s.mu.RUnlock()
	if ok {
		st.touch(s.now())
	}
	return st, ok
}

// Resolve returns the request's session, creating it and setting the cookie
// if needed. The cookie's lifetime slides with activity.
func (s *Store) Resolve(w http.ResponseWriter, r *http.Request) *State {
	st, ok := s.Lookup(r)
	if !ok {
		st = s.create()
	}
	s.setCookie(w, st)
	return st
}

// Renew replaces st with a fresh session under a new ID and points the
// browser's cookie at it. The old ID stops resolving. Pending flashes carry
// over; token and opened table do not.
func (s *Store) Renew(w http.ResponseWriter, st *State) *State {
	fresh := newState(newID(), s.now())
	fresh.onTokenChange = s.save
	fresh.flashes = st.TakeFlashes()

	s.mu.Lock()
	delete(s.states, st.ID)
	s.states[fresh.ID] = fresh
	s.mu.Unlock()

	if st.HasToken() {
		s.save()
	}
	s.setCookie(w, fresh)
	return fresh
}

func (s *Store) setCookie(w http.ResponseWriter, st *State) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    st.ID,
		Path:     "/",
		MaxAge:   int(s.cfg.IdleTimeout.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Store) create() *State {
	st := newState(newID(), s.now())
	st.onTokenChange = s.save

	s.mu.Lock()
	s.states[st.ID] = st
	s.mu.Unlock()

	s.reportCount()
	return st
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// Reap drops sessions idle for longer than the configured timeout and
// returns how many were removed.
func (s *Store) Reap() int {
	cutoff := s.now().Add(-s.cfg.IdleTimeout)

	s.mu.Lock()
	removed, withToken := 0, false
	for id, st := range s.states {
		if st.idleSince().Before(cutoff) {
			if st.HasToken() {
				withToken = true
			}
			delete(s.states, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		slog.Info("reaped idle sessions", "count", removed)
		s.reportCount()
		if withToken {
			s.save()
		}
	}
	return removed
}

// StartReaper periodically reaps idle sessions until Stop is called.
func (s *Store) StartReaper(interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Reap()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the reaper and flushes sessions to disk. Safe to call multiple times.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.save()
}

// save writes token-holding sessions to disk when persistence is enabled.
func (s *Store) save() {
	if s.persist == nil {
		return
	}

	s.mu.RLock()
	records := make([]record, 0, len(s.states))
	for _, st := range s.states {
		rec := st.record()
		if rec.Token != "" {
			records = append(records, rec)
		}
	}
	s.mu.RUnlock()

	if err := s.persist.save(records); err != nil {
		slog.Error("failed to persist sessions", "path", s.cfg.StorePath, "err", err)
	}
}

func (s *Store) reportCount() {
	if s.metrics != nil {
		s.metrics.SetSessions(s.Len())
	}
}

func newID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("session: reading random bytes: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

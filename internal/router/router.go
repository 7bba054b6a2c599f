// Package router decides which screen a browser may reach given its session.
package router

import (
	"fmt"
	"strings"
	"sync"
)

// Screen paths.
const (
	Login  = "/login"
	Select = "/select"
	Table  = "/table"

	// Status is the operational summary; it reveals session counts, so it
	// needs a signed-in browser.
	Status = "/status"
)

// Requirement is a capability a screen needs from the session.
type Requirement int

const (
	Public Requirement = iota
	NeedsToken
	NeedsTable
)

func (r Requirement) String() string {
	switch r {
	case Public:
		return "public"
	case NeedsToken:
		return "token"
	case NeedsTable:
		return "table"
	default:
		return "unknown"
	}
}

// StateProvider is the session view the router consults.
type StateProvider interface {
	HasToken() bool
	HasTable() bool
}

// Decision is the outcome of resolving a path.
type Decision struct {
	Allow    bool
	Redirect string
}

// Router maps path prefixes to the capability they require.
type Router struct {
	mu     sync.RWMutex
	routes map[string]Requirement
}

// New creates a Router with the application's screens registered.
func New() *Router {
	r := &Router{routes: make(map[string]Requirement)}
	r.Register(Login, Public)
	r.Register(Select, NeedsToken)
	r.Register(Table, NeedsTable)
	r.Register(Status, NeedsToken)
	return r
}

// Register adds or replaces the requirement for a path prefix.
func (r *Router) Register(prefix string, req Requirement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[prefix] = req
}

// Requirement returns the requirement for the longest registered prefix of path.
func (r *Router) Requirement(path string) (Requirement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best, found := "", false
	for prefix := range r.routes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			if len(prefix) > len(best) {
				best, found = prefix, true
			}
		}
	}
	if !found {
		return Public, fmt.Errorf("unknown screen: %q", path)
	}
	return r.routes[best], nil
}

// Resolve decides whether the session may see path. Unknown paths and
// missing capabilities redirect: no token sends the browser to the login
// screen, a token without an opened table to the selector.
func (r *Router) Resolve(path string, st StateProvider) Decision {
	req, err := r.Requirement(path)
	if err != nil {
		return Decision{Redirect: Login}
	}

	hasToken := st != nil && st.HasToken()
	switch req {
	case NeedsToken:
		if !hasToken {
			return Decision{Redirect: Login}
		}
	case NeedsTable:
		if !hasToken {
			return Decision{Redirect: Login}
		}
		if !st.HasTable() {
			return Decision{Redirect: Select}
		}
	}
	return Decision{Allow: true}
}

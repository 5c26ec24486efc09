// Package explorer drives navigation through a Bunsho location tree.
//
// The Controller owns the currently displayed navigation state and issues
// one authoritative listing fetch per navigation event. Responses from
// superseded fetches are discarded: every fetch is tagged with a sequence
// number and only the latest-issued fetch may touch the displayed state, so
// two overlapping navigations cannot leave the view showing the older
// folder, even transiently.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Galax028/Bunsho/pkg/api"
	"github.com/Galax028/Bunsho/pkg/listing"
	"github.com/Galax028/Bunsho/pkg/protocol"
	"github.com/Galax028/Bunsho/pkg/session"
)

// Route identifies the page the rendering layer should show.
type Route int

const (
	RouteLogin Route = iota
	RouteExplorer
)

func (r Route) String() string {
	if r == RouteExplorer {
		return "explorer"
	}
	return "login"
}

// ErrNotAuthenticated is returned by Enter when no session token is held.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrTraversal is returned when a navigation would escape the location root.
var ErrTraversal = errors.New("path escapes the location root")

// State is the currently displayed navigation state. Listing is nil until
// the first successful fetch (and again after an Unauthorized discard); a
// successfully listed empty folder is an empty, non-nil slice.
type State struct {
	Location int
	Path     string
	Listing  []protocol.DirectoryEntry
	Pending  bool
	Err      error
}

// Gateway is the part of the API client the controller needs.
type Gateway interface {
	Login(ctx context.Context, uname, passwd string) (string, error)
	Listing(ctx context.Context, location int, folder string) ([]protocol.DirectoryEntry, error)
}

// Controller composes the gateway, the session store, and the listing order
// into the explorer's navigation logic.
type Controller struct {
	gw       Gateway
	session  *session.Store
	redirect func(Route)

	seq uint64 // latest issued fetch tag, atomic

	mu    sync.Mutex
	state State
}

// New creates a controller. redirect may be nil; when set it is invoked,
// outside the controller's lock, whenever the rendering layer should switch
// pages (login after an Unauthorized or logout, explorer after login).
func New(gw Gateway, sess *session.Store, redirect func(Route)) *Controller {
	return &Controller{
		gw:       gw,
		session:  sess,
		redirect: redirect,
		state:    State{Path: "/"},
	}
}

// State returns a copy of the displayed navigation state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) signal(r Route) {
	if c.redirect != nil {
		c.redirect(r)
	}
}

// Enter navigates to (location, folder): it fetches the listing, orders it,
// and exposes it as the displayed state. Unauthenticated sessions are
// redirected to login without a fetch. An Unauthorized classification clears
// the session (once, even with several fetches in flight) and redirects.
// Any other classified failure is exposed on the state without touching the
// session. If a newer Enter was issued while this one was in flight, this
// response is discarded.
func (c *Controller) Enter(ctx context.Context, location int, folder string) error {
	if !c.session.Authenticated() {
		c.signal(RouteLogin)
		return ErrNotAuthenticated
	}

	seq := atomic.AddUint64(&c.seq, 1)
	c.mu.Lock()
	if seq == atomic.LoadUint64(&c.seq) {
		c.state.Location = location
		c.state.Path = folder
		c.state.Pending = true
	}
	c.mu.Unlock()

	entries, err := c.gw.Listing(ctx, location, folder)

	var out Route = -1
	c.mu.Lock()
	stale := seq != atomic.LoadUint64(&c.seq)
	switch {
	case err == nil:
		if !stale {
			c.state.Location = location
			c.state.Path = folder
			c.state.Listing = listing.Order(entries)
			c.state.Pending = false
			c.state.Err = nil
		}
	case api.IsUnauthorized(err):
		// The session is global, not per-fetch: expire it even for a stale
		// response, but only once.
		if c.session.Authenticated() {
			if cerr := c.session.Clear(); cerr != nil {
				err = fmt.Errorf("clear expired session: %w", cerr)
			}
			out = RouteLogin
		}
		if !stale {
			c.state.Listing = nil
			c.state.Pending = false
			c.state.Err = err
		}
	default:
		if !stale {
			c.state.Pending = false
			c.state.Err = err
		}
	}
	c.mu.Unlock()

	if out != -1 {
		c.signal(out)
	}
	return err
}

// Login exchanges credentials for a token, stores and persists it, and
// redirects to the explorer. On failure the session store is untouched.
func (c *Controller) Login(ctx context.Context, uname, passwd string) error {
	token, err := c.gw.Login(ctx, uname, passwd)
	if err != nil {
		return err
	}
	c.session.Set(token)
	if err := c.session.Persist(); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	c.signal(RouteExplorer)
	return nil
}

// Logout clears the session and redirects to login.
func (c *Controller) Logout() error {
	err := c.session.Clear()
	c.signal(RouteLogin)
	return err
}

// Down returns the path of a child of the current folder.
func (c *Controller) Down(name string) (string, error) {
	return Join(c.State().Path, name)
}

// Up returns the parent of the current folder. At the root it returns
// ErrTraversal.
func (c *Controller) Up() (string, error) {
	return Join(c.State().Path, "..")
}

// Join resolves name relative to folder and refuses to build a path that
// would escape the location root. Enforcement is ultimately server-side; the
// client just never constructs such a path.
func Join(folder, name string) (string, error) {
	rel := path.Join(strings.TrimPrefix(folder, "/"), name)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ErrTraversal
	}
	return path.Clean("/" + rel), nil
}

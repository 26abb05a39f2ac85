package auxpage

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrDuplicateRegistration means a page with the same URI is already
	// joined, or the URI belongs to a built-in page.
	ErrDuplicateRegistration = errors.New("duplicate page registration")
	// ErrInvalidPage means the page cannot be served.
	ErrInvalidPage = errors.New("invalid page")
)

// Registry is the ordered set of joined extension pages. It is safe for
// concurrent use; the pages themselves belong to the caller.
type Registry struct {
	mu       sync.RWMutex
	pages    []*Page
	byURI    map[string]*Page
	reserved func(uri string) bool
}

// NewRegistry returns an empty registry. URIs for which reserved returns
// true can never be joined.
func NewRegistry(reserved func(uri string) bool) *Registry {
	if reserved == nil {
		reserved = func(string) bool { return false }
	}
	return &Registry{byURI: make(map[string]*Page), reserved: reserved}
}

func validate(p *Page) error {
	if p == nil {
		return fmt.Errorf("%w: nil page", ErrInvalidPage)
	}
	if !strings.HasPrefix(p.URI, "/") {
		return fmt.Errorf("%w: uri %q must start with /", ErrInvalidPage, p.URI)
	}
	for i, e := range p.Elements {
		if e == nil || !e.Type.Valid() {
			return fmt.Errorf("%w: %s element %d has unknown type", ErrInvalidPage, p.URI, i)
		}
	}
	return nil
}

// Add joins the pages in order, all or nothing.
func (r *Registry) Add(pages ...*Page) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(pages))
	for _, p := range pages {
		if err := validate(p); err != nil {
			return err
		}
		if r.reserved(p.URI) || r.byURI[p.URI] != nil || seen[p.URI] {
			return fmt.Errorf("%w: %s", ErrDuplicateRegistration, p.URI)
		}
		seen[p.URI] = true
	}
	for _, p := range pages {
		r.pages = append(r.pages, p)
		r.byURI[p.URI] = p
		log.Debug().Str("uri", p.URI).Str("title", p.Title).Msg("Extension page joined")
	}
	return nil
}

// Join is Add reporting only success. A rejected call joins nothing.
func (r *Registry) Join(pages ...*Page) bool {
	if err := r.Add(pages...); err != nil {
		log.Warn().Err(err).Msg("Extension page rejected")
		return false
	}
	return true
}

// On attaches h to the joined page at uri, replacing any previous handler.
// It returns false when no such page is joined.
func (r *Registry) On(uri string, h Handler, order Order) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.byURI[uri]
	if p == nil {
		return false
	}
	p.handler, p.order = h, order
	return true
}

// Detach removes the page at uri.
func (r *Registry) Detach(uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byURI[uri] == nil {
		return false
	}
	delete(r.byURI, uri)
	for i, p := range r.pages {
		if p.URI == uri {
			r.pages = append(r.pages[:i], r.pages[i+1:]...)
			break
		}
	}
	return true
}

// Lookup returns the page joined at uri.
func (r *Registry) Lookup(uri string) (*Page, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byURI[uri]
	return p, ok
}

// Pages returns the joined pages in join order.
func (r *Registry) Pages() []*Page {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Page(nil), r.pages...)
}

// Menu returns the pages that appear in the navigation menu.
func (r *Registry) Menu() []*Page {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var menu []*Page
	for _, p := range r.pages {
		if p.Menu {
			menu = append(menu, p)
		}
	}
	return menu
}

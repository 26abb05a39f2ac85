// Package auxpage holds the caller-defined extension pages served next to the
// built-in portal pages.
package auxpage

import (
	"net/http"
	"net/url"
)

// Kind is the type of a page element.
type Kind string

const (
	ACText     Kind = "ACText"
	ACInput    Kind = "ACInput"
	ACButton   Kind = "ACButton"
	ACSubmit   Kind = "ACSubmit"
	ACCheckbox Kind = "ACCheckbox"
	ACRadio    Kind = "ACRadio"
	ACSelect   Kind = "ACSelect"
	// ACElement is raw HTML emitted as is.
	ACElement Kind = "ACElement"
)

// Valid reports whether k is a known element type.
func (k Kind) Valid() bool {
	switch k {
	case ACText, ACInput, ACButton, ACSubmit, ACCheckbox, ACRadio, ACSelect, ACElement:
		return true
	}
	return false
}

// Element is one control on an extension page.
type Element struct {
	Type        Kind     `json:"type" yaml:"type"`
	Name        string   `json:"name" yaml:"name"`
	Value       string   `json:"value,omitempty" yaml:"value,omitempty"`
	Label       string   `json:"label,omitempty" yaml:"label,omitempty"`
	Placeholder string   `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Checked     bool     `json:"checked,omitempty" yaml:"checked,omitempty"`
	Options     []string `json:"option,omitempty" yaml:"option,omitempty"`
	// URI is the form target of an ACSubmit.
	URI string `json:"uri,omitempty" yaml:"uri,omitempty"`
	// Action is the script run by an ACButton.
	Action string `json:"action,omitempty" yaml:"action,omitempty"`
}

// Order selects when a page handler runs relative to element rendering.
type Order uint8

const (
	// ExitAhead runs the handler before the page is rendered. Only these
	// handlers may redirect or replace the response.
	ExitAhead Order = iota
	// ExitLater runs the handler after the elements are rendered; it can
	// only append content.
	ExitLater
)

// Page is an extension page. The registry keeps the caller's pointer, so
// changes the caller makes after Join show up on the next request.
type Page struct {
	URI      string     `json:"uri" yaml:"uri"`
	Title    string     `json:"title" yaml:"title"`
	Menu     bool       `json:"menu" yaml:"menu"`
	Elements []*Element `json:"element" yaml:"element"`

	handler Handler
	order   Order
}

// Element returns the element called name, or nil.
func (p *Page) Element(name string) *Element {
	for _, e := range p.Elements {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// Handler returns the attached handler and its order.
func (p *Page) Handler() (Handler, Order) { return p.handler, p.order }

// Apply copies posted form values into the page's named elements.
func (p *Page) Apply(form url.Values) {
	for _, e := range p.Elements {
		if e.Name == "" {
			continue
		}
		switch e.Type {
		case ACInput, ACSelect, ACRadio:
			if v, ok := form[e.Name]; ok && len(v) > 0 {
				e.Value = v[0]
			}
		case ACCheckbox:
			e.Checked = form.Has(e.Name)
		}
	}
}

// Handler customizes an extension page per request. The returned string is
// HTML inserted before the elements for ExitAhead handlers and after them
// for ExitLater handlers.
type Handler interface {
	Serve(c *Context) string
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(c *Context) string

func (f HandlerFunc) Serve(c *Context) string { return f(c) }

// Response replaces the rendered page.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Context is what a handler sees of the current request.
type Context struct {
	Request *http.Request
	Args    url.Values
	Page    *Page

	order    Order
	redirect string
	response *Response
}

// NewContext prepares a handler invocation for page.
func NewContext(r *http.Request, args url.Values, page *Page, order Order) *Context {
	return &Context{Request: r, Args: args, Page: page, order: order}
}

// Arg returns the first value of the named request argument.
func (c *Context) Arg(name string) string { return c.Args.Get(name) }

// Redirect ends the request with a redirect to uri. It returns false, and
// does nothing, for ExitLater handlers.
func (c *Context) Redirect(uri string) bool {
	if c.order != ExitAhead {
		return false
	}
	c.redirect = uri
	return true
}

// Respond ends the request with the given body instead of the page. It
// returns false, and does nothing, for ExitLater handlers.
func (c *Context) Respond(status int, contentType string, body []byte) bool {
	if c.order != ExitAhead {
		return false
	}
	c.response = &Response{Status: status, ContentType: contentType, Body: body}
	return true
}

// Redirected returns the redirect target requested by the handler.
func (c *Context) Redirected() (string, bool) { return c.redirect, c.redirect != "" }

// Responded returns the response set by the handler, if any.
func (c *Context) Responded() (*Response, bool) { return c.response, c.response != nil }

// Package render turns page data into HTML for the built-in portal pages and
// extension pages.
package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/nuclearlighters/portald/internal/auxpage"
	"github.com/nuclearlighters/portald/internal/wifi"
)

//go:embed templates/*.html
var files embed.FS

// Page names.
const (
	Status     = "status"
	Config     = "config"
	Open       = "open"
	Connecting = "connecting"
	Result     = "result"
	Disconnect = "disc"
	Reset      = "reset"
	Fail       = "fail"
	Aux        = "extension"
	NotFound   = "notfound"
)

var pageNames = []string{Status, Config, Open, Connecting, Result, Disconnect, Reset, Fail, Aux, NotFound}

var funcs = template.FuncMap{
	"raw":    func(s string) template.HTML { return template.HTML(s) },
	"script": func(s string) template.JS { return template.JS(s) },
}

// MenuItem links an extension page from the navigation bar.
type MenuItem struct {
	URI   string
	Title string
}

// Saved is one stored credential on the open-SSIDs page.
type Saved struct {
	Slot    int
	SSID    string
	Visible bool
	RSSI    int
}

// Data is everything a page can show.
type Data struct {
	Title   string
	Home    string
	Menu    []MenuItem
	Tokens  map[string]string
	Message string

	// Refresh reloads RefreshURI after that many seconds.
	Refresh    int
	RefreshURI string

	Networks []wifi.Network
	Hidden   int // networks in range without a broadcast SSID
	Saved    []Saved

	Aux    *auxpage.Page
	Before template.HTML
	After  template.HTML
}

// Renderer holds the parsed templates.
type Renderer struct {
	pages map[string]*template.Template
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	base, err := template.New("layout.html").Funcs(funcs).ParseFS(files, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	r := &Renderer{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := t.ParseFS(files, "templates/"+name+".html"); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// MenuFrom lists the menu pages of an extension registry.
func MenuFrom(pages []*auxpage.Page) []MenuItem {
	items := make([]MenuItem, 0, len(pages))
	for _, p := range pages {
		items = append(items, MenuItem{URI: p.URI, Title: p.Title})
	}
	return items
}

// Render writes page name with data to w.
func (r *Renderer) Render(w io.Writer, name string, data Data) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	if data.Home == "" {
		data.Home = "/"
	}
	return t.ExecuteTemplate(w, "layout.html", data)
}

package auxpage

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func builtin(uri string) bool { return strings.HasPrefix(uri, "/_ac") }

func TestJoinRejectsDuplicates(t *testing.T) {
	r := NewRegistry(builtin)
	a := &Page{URI: "/mqtt", Title: "MQTT", Menu: true}

	if !r.Join(a) {
		t.Fatal("Join() = false for a fresh page")
	}

	tests := []struct {
		name  string
		pages []*Page
	}{
		{"same uri", []*Page{{URI: "/mqtt"}}},
		{"builtin uri", []*Page{{URI: "/_ac/config"}}},
		{"duplicate within call", []*Page{{URI: "/x"}, {URI: "/x"}}},
		{"relative uri", []*Page{{URI: "settings"}}},
		{"unknown element", []*Page{{URI: "/y", Elements: []*Element{{Type: "ACBogus"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if r.Join(tt.pages...) {
				t.Error("Join() = true, want rejection")
			}
		})
	}

	if n := len(r.Pages()); n != 1 {
		t.Errorf("Pages() = %d, rejected calls must join nothing", n)
	}
	if err := r.Add(&Page{URI: "/mqtt"}); !errors.Is(err, ErrDuplicateRegistration) {
		t.Errorf("Add() error = %v, want ErrDuplicateRegistration", err)
	}
	if got, _ := r.Lookup("/mqtt"); got != a {
		t.Error("Lookup() does not return the caller's page")
	}
}

func TestOnAndDetach(t *testing.T) {
	r := NewRegistry(builtin)
	p := &Page{URI: "/hello"}

	h := HandlerFunc(func(*Context) string { return "hi" })
	if r.On("/hello", h, ExitLater) {
		t.Error("On() = true before the page was joined")
	}

	r.Join(p)
	if !r.On("/hello", h, ExitLater) {
		t.Fatal("On() = false for a joined page")
	}
	got, order := p.Handler()
	if got == nil || order != ExitLater {
		t.Fatalf("Handler() = %v, %v", got, order)
	}

	replacement := HandlerFunc(func(*Context) string { return "bye" })
	r.On("/hello", replacement, ExitAhead)
	got, order = p.Handler()
	if got.Serve(nil) != "bye" || order != ExitAhead {
		t.Error("On() did not replace the handler")
	}

	if !r.Detach("/hello") || r.Detach("/hello") {
		t.Error("Detach() should succeed exactly once")
	}
	if _, ok := r.Lookup("/hello"); ok {
		t.Error("Lookup() finds a detached page")
	}
}

func TestMenuOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.Join(&Page{URI: "/b", Menu: true}, &Page{URI: "/hidden"}, &Page{URI: "/a", Menu: true})

	menu := r.Menu()
	if len(menu) != 2 || menu[0].URI != "/b" || menu[1].URI != "/a" {
		t.Errorf("Menu() = %v, want join order [/b /a]", menu)
	}
}

func TestContextShortCircuitOnlyAhead(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/p?x=1", nil)

	ahead := NewContext(req, req.URL.Query(), &Page{}, ExitAhead)
	if !ahead.Redirect("/elsewhere") {
		t.Error("Redirect() = false for ExitAhead")
	}
	if to, ok := ahead.Redirected(); !ok || to != "/elsewhere" {
		t.Errorf("Redirected() = %q, %v", to, ok)
	}
	if ahead.Arg("x") != "1" {
		t.Errorf("Arg(x) = %q", ahead.Arg("x"))
	}

	later := NewContext(req, req.URL.Query(), &Page{}, ExitLater)
	if later.Redirect("/elsewhere") || later.Respond(200, "text/plain", nil) {
		t.Error("ExitLater handler was allowed to short-circuit")
	}
	if _, ok := later.Responded(); ok {
		t.Error("Responded() = true for ExitLater")
	}
}

func TestApply(t *testing.T) {
	p := &Page{URI: "/f", Elements: []*Element{
		{Type: ACInput, Name: "host", Value: "old"},
		{Type: ACCheckbox, Name: "tls", Checked: true},
		{Type: ACSelect, Name: "qos", Options: []string{"0", "1"}},
		{Type: ACText, Name: "caption", Value: "fixed"},
	}}

	p.Apply(url.Values{"host": {"broker.lan"}, "qos": {"1"}, "caption": {"nope"}})

	if p.Element("host").Value != "broker.lan" {
		t.Errorf("host = %q", p.Element("host").Value)
	}
	if p.Element("tls").Checked {
		t.Error("unchecked checkbox still checked")
	}
	if p.Element("qos").Value != "1" {
		t.Errorf("qos = %q", p.Element("qos").Value)
	}
	if p.Element("caption").Value != "fixed" {
		t.Error("Apply() overwrote a text element")
	}
	if p.Element("missing") != nil {
		t.Error("Element() of an unknown name should be nil")
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    []string
		wantErr bool
	}{
		{
			name: "json single",
			doc: `{"uri":"/mqtt","title":"MQTT","menu":true,"element":[
				{"name":"server","type":"ACInput","label":"Server"},
				{"name":"save","type":"ACSubmit","value":"Save","uri":"/mqtt_save"}]}`,
			want: []string{"/mqtt"},
		},
		{
			name: "json list",
			doc:  `[{"uri":"/a","title":"A"},{"uri":"/b","title":"B"}]`,
			want: []string{"/a", "/b"},
		},
		{
			name: "yaml",
			doc: `
- uri: /gpio
  title: GPIO
  menu: true
  element:
    - name: pin
      type: ACSelect
      option: ["4", "17"]
`,
			want: []string{"/gpio"},
		},
		{name: "scalar", doc: `"hello"`, wantErr: true},
		{name: "empty", doc: ``, wantErr: true},
		{name: "bad element", doc: `{"uri":"/z","element":[{"type":"Nope"}]}`, wantErr: true},
		{name: "syntax", doc: `{"uri": [`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages, err := Load(strings.NewReader(tt.doc))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPage) {
					t.Errorf("Load() error = %v, want ErrInvalidPage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if len(pages) != len(tt.want) {
				t.Fatalf("Load() = %d pages, want %d", len(pages), len(tt.want))
			}
			for i, uri := range tt.want {
				if pages[i].URI != uri {
					t.Errorf("page %d uri = %q, want %q", i, pages[i].URI, uri)
				}
			}
		})
	}
}

func TestLoadElements(t *testing.T) {
	pages, err := Load(strings.NewReader(`{"uri":"/mqtt","element":[
		{"name":"server","type":"ACInput","placeholder":"host"},
		{"name":"tls","type":"ACCheckbox","checked":true}]}`))
	if err != nil {
		t.Fatal(err)
	}
	p := pages[0]
	if e := p.Element("server"); e == nil || e.Type != ACInput || e.Placeholder != "host" {
		t.Errorf("server element = %+v", e)
	}
	if e := p.Element("tls"); e == nil || !e.Checked {
		t.Errorf("tls element = %+v", e)
	}
}

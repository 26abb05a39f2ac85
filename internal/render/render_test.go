package render

import (
	"bytes"
	"io/fs"
	"strings"
	"testing"

	"github.com/nuclearlighters/portald/internal/auxpage"
)

func TestRenderEveryPage(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, name := range pageNames {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			err := r.Render(&buf, name, Data{
				Title:  "portald",
				Tokens: map[string]string{"CONNECTION_STATE": "IDLE"},
			})
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if !strings.Contains(buf.String(), "<title>portald</title>") {
				t.Error("layout not applied")
			}
		})
	}
}

func TestTemplateNamesArePortable(t *testing.T) {
	reserved := map[string]bool{"con": true, "prn": true, "aux": true, "nul": true}
	for i := '1'; i <= '9'; i++ {
		reserved["com"+string(i)] = true
		reserved["lpt"+string(i)] = true
	}

	entries, err := fs.ReadDir(files, "templates")
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		base, _, _ := strings.Cut(strings.ToLower(e.Name()), ".")
		if reserved[base] {
			t.Errorf("template %s uses a reserved device name", e.Name())
		}
	}
	for _, name := range pageNames {
		if _, err := fs.Stat(files, "templates/"+name+".html"); err != nil {
			t.Errorf("page %s has no template: %v", name, err)
		}
	}
}

func TestRenderUnknownPage(t *testing.T) {
	r, _ := New()
	if err := r.Render(&bytes.Buffer{}, "nope", Data{}); err == nil {
		t.Error("Render() of an unknown page succeeded")
	}
}

func TestRenderAuxPage(t *testing.T) {
	r, _ := New()
	page := &auxpage.Page{URI: "/mqtt", Title: "MQTT", Elements: []*auxpage.Element{
		{Type: auxpage.ACInput, Name: "server", Label: "Server", Value: "<broker>"},
		{Type: auxpage.ACSelect, Name: "qos", Options: []string{"0", "1"}, Value: "1"},
		{Type: auxpage.ACElement, Value: "<hr id=raw>"},
		{Type: auxpage.ACSubmit, Name: "save", Value: "Save", URI: "/mqtt_save"},
	}}

	var buf bytes.Buffer
	err := r.Render(&buf, Aux, Data{
		Title:  page.Title,
		Menu:   MenuFrom([]*auxpage.Page{page}),
		Aux:    page,
		Before: "<p id=before></p>",
	})
	if err != nil {
		t.Fatal(err)
	}
	html := buf.String()

	for _, want := range []string{
		`value="&lt;broker&gt;"`,
		`<option selected>1</option>`,
		`<hr id=raw>`,
		`formaction="/mqtt_save"`,
		`<p id=before></p>`,
		`<a href="/mqtt">MQTT</a>`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered page missing %s", want)
		}
	}
}

func TestRenderRefresh(t *testing.T) {
	r, _ := New()
	var buf bytes.Buffer
	r.Render(&buf, Connecting, Data{Refresh: 15, RefreshURI: "/_ac/result"})
	if !strings.Contains(buf.String(), `content="15;URL=/_ac/result"`) {
		t.Errorf("refresh header missing: %s", buf.String())
	}
}

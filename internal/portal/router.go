package portal

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/nuclearlighters/portald/internal/auxpage"
	"github.com/nuclearlighters/portald/internal/credential"
	"github.com/nuclearlighters/portald/internal/render"
	"github.com/nuclearlighters/portald/internal/tokens"
	"github.com/nuclearlighters/portald/internal/wifi"
)

// Built-in page URIs.
const (
	URIStatus  = Prefix
	URIConfig  = Prefix + "/config"
	URIOpen    = Prefix + "/open"
	URIConnect = Prefix + "/connect"
	URIResult  = Prefix + "/result"
	URIDisc    = Prefix + "/disc"
	URIReset   = Prefix + "/reset"
	URIFail    = Prefix + "/fail"
)

// probes are the paths operating systems fetch to detect a captive portal.
var probes = map[string]bool{
	"/generate_204":              true,
	"/gen_204":                   true,
	"/hotspot-detect.html":       true,
	"/library/test/success.html": true,
	"/connecttest.txt":           true,
	"/ncsi.txt":                  true,
	"/redirect":                  true,
	"/canonical.html":            true,
	"/success.txt":               true,
}

func (p *Portal) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get(URIStatus, p.builtin(p.handleStatus))
	r.Get(URIConfig, p.builtin(p.handleConfig))
	r.Get(URIOpen, p.builtin(p.handleOpen))
	r.Post(URIConnect, p.builtin(p.handleConnect))
	r.Get(URIResult, p.builtin(p.handleResult))
	r.Get(URIDisc, p.builtin(p.handleDisconnect))
	r.Get(URIReset, p.builtin(p.handleReset))
	r.Get(URIFail, p.builtin(p.handleFail))

	r.NotFound(p.classify)
	r.MethodNotAllowed(p.classify)
	return r
}

func (p *Portal) builtin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.metrics.requests.WithLabelValues(classBuiltin).Inc()
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		h(w, r)
	}
}

// classify handles every request no built-in route took: extension pages
// first, then the captive redirect or a 404.
func (p *Portal) classify(w http.ResponseWriter, r *http.Request) {
	if page, ok := p.pages.Lookup(r.URL.Path); ok && (r.Method == http.MethodGet || r.Method == http.MethodPost) {
		p.metrics.requests.WithLabelValues(classAux).Inc()
		p.serveAux(w, r, page)
		return
	}

	if p.ctl.State() == wifi.StatePortalActive {
		class := classRedirect
		if probes[r.URL.Path] || !p.ownHost(r.Host) {
			class = classProbe
		}
		p.metrics.requests.WithLabelValues(class).Inc()
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		http.Redirect(w, r, p.portalURL(), http.StatusFound)
		return
	}

	p.metrics.requests.WithLabelValues(classNotFound).Inc()
	if p.notFound != nil {
		p.notFound.ServeHTTP(w, r)
		return
	}
	p.page(w, r, http.StatusNotFound, render.NotFound, render.Data{Title: "404 Not found"})
}

// ownHost reports whether host addresses this device rather than a name a
// client tried to resolve.
func (p *Portal) ownHost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.Equal(p.cfg.APIP)
}

func (p *Portal) portalURL() string {
	return "http://" + p.cfg.APIP.String() + URIStatus
}

// data assembles what every page shows, sampled now.
func (p *Portal) data(ctx context.Context, title string) render.Data {
	return render.Data{
		Title: title,
		Home:  p.cfg.HomeURI,
		Menu:  render.MenuFrom(p.pages.Menu()),
		Tokens: tokens.Values(tokens.Input{
			Radio:    p.ctl.Snapshot(ctx),
			System:   p.sampler.Sample(ctx),
			HostName: p.cfg.HostName,
			BootURI:  p.cfg.BootPage(),
		}),
	}
}

// page renders name into a buffer first so a template error never leaves a
// half written page.
func (p *Portal) page(w http.ResponseWriter, r *http.Request, status int, name string, d render.Data) {
	var buf bytes.Buffer
	if err := p.renderer.Render(&buf, name, d); err != nil {
		log.Error().Err(err).Str("page", name).Str("path", r.URL.Path).Msg("Failed to render page")
		http.Error(w, "page rendering failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func (p *Portal) handleStatus(w http.ResponseWriter, r *http.Request) {
	p.page(w, r, http.StatusOK, render.Status, p.data(r.Context(), "Status"))
}

func (p *Portal) handleConfig(w http.ResponseWriter, r *http.Request) {
	d := p.data(r.Context(), "Configure new AP")
	networks, err := p.ctl.Radio().Scan(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("WiFi scan failed")
		d.Message = "Scan failed: " + err.Error()
	}
	named, hidden := wifi.SplitHidden(networks)
	sort.SliceStable(named, func(i, j int) bool { return named[i].RSSI > named[j].RSSI })
	d.Networks = named
	d.Hidden = hidden
	p.page(w, r, http.StatusOK, render.Config, d)
}

func (p *Portal) handleOpen(w http.ResponseWriter, r *http.Request) {
	d := p.data(r.Context(), "Open SSIDs")

	rssi := make(map[string]int)
	if networks, err := p.ctl.Radio().Scan(r.Context()); err == nil {
		for _, n := range networks {
			if cur, ok := rssi[n.SSID]; !ok || n.RSSI > cur {
				rssi[n.SSID] = n.RSSI
			}
		}
	}
	for _, e := range p.store.Entries() {
		level, visible := rssi[e.SSID]
		d.Saved = append(d.Saved, render.Saved{Slot: e.Slot, SSID: e.SSID, Visible: visible, RSSI: level})
	}
	p.page(w, r, http.StatusOK, render.Open, d)
}

// handleConnect accepts either a new ssid/passphrase or the slot of a saved
// credential. The attempt itself runs after the reply has been sent.
func (p *Portal) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		p.fail(w, r, http.StatusBadRequest, "Malformed request: "+err.Error())
		return
	}

	var cred credential.Credential
	if slot := r.PostForm.Get("slot"); slot != "" {
		i, err := strconv.Atoi(slot)
		if err != nil || i < 0 || i >= p.store.Slots() {
			p.fail(w, r, http.StatusBadRequest, "Unknown credential slot")
			return
		}
		if cred, err = p.store.Load(p.store.SlotOffset(i)); err != nil {
			p.fail(w, r, http.StatusNotFound, "Saved credential unavailable: "+err.Error())
			return
		}
	} else {
		cred = credential.Credential{
			SSID:       r.PostForm.Get("ssid"),
			Passphrase: r.PostForm.Get("passphrase"),
		}
		if err := cred.Validate(); err != nil {
			p.fail(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	switch p.ctl.State() {
	case wifi.StateConnecting, wifi.StateDisconnecting:
		p.fail(w, r, http.StatusConflict, "Another connection change is in progress")
		return
	}

	d := p.data(r.Context(), "Connecting")
	d.Message = "Connecting to " + cred.SSID
	d.Refresh = int(p.cfg.ConnectTimeout/time.Second) + 1
	d.RefreshURI = URIResult
	p.page(w, r, http.StatusOK, render.Connecting, d)

	p.later("connect", func(ctx context.Context) {
		p.connectFromPortal(ctx, cred)
	})
}

func (p *Portal) connectFromPortal(ctx context.Context, cred credential.Credential) {
	p.outcome = outcome{ssid: cred.SSID, reported: true}
	if err := p.connect(ctx, cred, p.cfg.ConnectTimeout); err != nil {
		p.outcome.err = err
		if p.ctl.State() == wifi.StateConnectionFailed {
			if rerr := p.ctl.RaisePortal(ctx, false); rerr != nil {
				log.Error().Err(rerr).Msg("Failed to restore captive portal")
			}
		}
		return
	}
	p.outcome.saveErr = p.save(cred)
	p.outcome.reported = false
}

// handleResult reports the last portal-initiated attempt. A success is
// reported once: the access point is then taken down, and the device reset
// when AutoReset is set, after this page has been sent. Later visits go to
// the status page.
func (p *Portal) handleResult(w http.ResponseWriter, r *http.Request) {
	if p.ctl.State() != wifi.StateConnected {
		http.Redirect(w, r, URIFail, http.StatusFound)
		return
	}
	if p.outcome.reported || p.outcome.err != nil || p.outcome.ssid == "" {
		http.Redirect(w, r, URIStatus, http.StatusFound)
		return
	}
	p.outcome.reported = true

	if err := p.outcome.saveErr; err != nil {
		p.fail(w, r, http.StatusInternalServerError, "Connected, but the credential was not saved: "+err.Error())
		return
	}

	p.page(w, r, http.StatusOK, render.Result, p.data(r.Context(), "Connected"))

	if p.ctl.APActive() {
		p.later("stop-ap", p.stopPortal)
	}
	if p.cfg.AutoReset {
		p.later("reset", p.restart)
	}
}

func (p *Portal) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	p.page(w, r, http.StatusOK, render.Disconnect, p.data(r.Context(), "Disconnect"))

	p.later("disconnect", func(ctx context.Context) {
		p.stopPortal(ctx)
		if p.ctl.State() == wifi.StateConnected {
			if err := p.ctl.Disconnect(ctx); err != nil {
				log.Warn().Err(err).Msg("Disconnect failed")
			}
		}
		if p.cfg.AutoReset {
			p.restart(ctx)
		}
	})
}

func (p *Portal) handleReset(w http.ResponseWriter, r *http.Request) {
	d := p.data(r.Context(), "Reset")
	d.Refresh = 15
	d.RefreshURI = URIStatus
	p.page(w, r, http.StatusOK, render.Reset, d)
	p.later("reset", p.restart)
}

func (p *Portal) handleFail(w http.ResponseWriter, r *http.Request) {
	d := p.data(r.Context(), "Connection failed")
	if err := p.outcome.err; err != nil {
		d.Message = failureMessage(p.outcome.ssid, err)
	} else if err := p.ctl.LastError(); err != nil {
		d.Message = err.Error()
	}
	p.page(w, r, http.StatusOK, render.Fail, d)
}

func failureMessage(ssid string, err error) string {
	switch {
	case errors.Is(err, wifi.ErrConnectionTimeout):
		return "Timed out connecting to " + ssid
	case errors.Is(err, wifi.ErrVetoed):
		return "The address acquired on " + ssid + " was rejected"
	default:
		return "Could not connect to " + ssid + ": " + err.Error()
	}
}

func (p *Portal) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	d := p.data(r.Context(), "Connection failed")
	d.Message = msg
	p.page(w, r, status, render.Fail, d)
}

// serveAux renders an extension page around its handler. ExitAhead handlers
// run first and may replace the response; ExitLater handlers run after the
// page data is assembled and can only add to it.
func (p *Portal) serveAux(w http.ResponseWriter, r *http.Request, page *auxpage.Page) {
	if err := r.ParseForm(); err != nil {
		p.page(w, r, http.StatusNotFound, render.NotFound, render.Data{Title: "404 Not found"})
		return
	}
	if r.Method == http.MethodPost {
		page.Apply(r.PostForm)
	}

	h, order := page.Handler()
	hc := auxpage.NewContext(r, r.Form, page, order)

	d := p.data(r.Context(), page.Title)
	d.Aux = page

	if h != nil && order == auxpage.ExitAhead {
		d.Before = template.HTML(h.Serve(hc))
		if to, ok := hc.Redirected(); ok {
			http.Redirect(w, r, to, http.StatusFound)
			return
		}
		if resp, ok := hc.Responded(); ok {
			if resp.ContentType != "" {
				w.Header().Set("Content-Type", resp.ContentType)
			}
			w.WriteHeader(resp.Status)
			w.Write(resp.Body)
			return
		}
	}
	if h != nil && order == auxpage.ExitLater {
		d.After = template.HTML(h.Serve(hc))
	}
	p.page(w, r, http.StatusOK, render.Aux, d)
}

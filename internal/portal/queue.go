package portal

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// job is one HTTP request handed from a server goroutine to the loop.
type job struct {
	r    *http.Request
	resp *response
	// done is closed by the loop once resp is complete.
	done chan struct{}
	// sent is closed by the server goroutine once resp reached the client.
	sent chan struct{}
}

// response buffers what the loop writes so the server goroutine can send
// it in one piece.
type response struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponse() *response { return &response{header: make(http.Header)} }

func (b *response) Header() http.Header { return b.header }

func (b *response) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *response) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}

func (b *response) copyTo(w http.ResponseWriter) {
	for k, v := range b.header {
		w.Header()[k] = v
	}
	if b.status == 0 {
		b.status = http.StatusOK
	}
	w.WriteHeader(b.status)
	w.Write(b.body.Bytes())
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// action is work that must wait until a response has been sent.
type action struct {
	name  string
	after <-chan struct{}
	run   func(ctx context.Context)
}

// Handler returns the portal's HTTP entry point. Requests are queued for the
// loop goroutine and served one per Handle call; the server goroutine only
// waits and copies the result out.
func (p *Portal) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		j := &job{
			r:    r,
			resp: newResponse(),
			done: make(chan struct{}),
			sent: make(chan struct{}),
		}
		defer close(j.sent)

		select {
		case p.jobs <- j:
		case <-r.Context().Done():
			return
		case <-p.quitChan():
			http.Error(w, "portal stopped", http.StatusServiceUnavailable)
			return
		}

		select {
		case <-j.done:
			j.resp.copyTo(w)
		case <-r.Context().Done():
		}
	})
}

// serve runs one queued request on the loop goroutine.
func (p *Portal) serve(j *job) {
	start := time.Now()
	p.current = j
	defer func() {
		p.current = nil
		close(j.done)
	}()

	p.lastActivity = p.now()
	p.router.ServeHTTP(j.resp, j.r)

	log.Debug().
		Str("method", j.r.Method).
		Str("path", j.r.URL.Path).
		Str("host", j.r.Host).
		Int("status", j.resp.status).
		Dur("duration", time.Since(start)).
		Str("remote", j.r.RemoteAddr).
		Msg("request")
}

// later schedules fn to run on the loop once the current response has been
// sent. Outside a request it runs on the next Handle call.
func (p *Portal) later(name string, fn func(ctx context.Context)) {
	a := action{name: name, run: fn}
	if p.current != nil {
		a.after = p.current.sent
	}
	p.pending = append(p.pending, a)
}

// runDeferred runs every pending action whose response has gone out.
func (p *Portal) runDeferred(ctx context.Context) {
	if len(p.pending) == 0 {
		return
	}
	ready := p.pending[:0:0]
	waiting := p.pending[:0]
	for _, a := range p.pending {
		if a.after == nil {
			ready = append(ready, a)
			continue
		}
		select {
		case <-a.after:
			ready = append(ready, a)
		default:
			waiting = append(waiting, a)
		}
	}
	p.pending = waiting

	for _, a := range ready {
		log.Debug().Str("action", a.name).Msg("Running deferred action")
		p.metrics.deferred.WithLabelValues(a.name).Inc()
		a.run(ctx)
	}
}

package api

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"net/http"
	"strings"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/inventory.report/internal/httputil"
	"github.com/banshee-data/inventory.report/internal/pipeline"
	"github.com/banshee-data/inventory.report/internal/version"
)

// AttachAdminRoutes registers the /debug/ pages: a raw versus smoothed
// history plot per class and a server-sent event tail of everything the hub
// publishes.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("version", func() any { return version.String() })
	debug.KVFunc("pipeline", func() any { return s.pipeline.State().String() })
	debug.KVFunc("subscribers", func() any { return s.hub.Count() })
	debug.KVFunc("classes", func() any { return strings.Join(s.pipeline.View().Classes(), ", ") })

	debug.HandleFunc("history.png", "raw vs smoothed count per class (?class=NAME)", s.handleHistoryPlot)
	debug.HandleFunc("tail", "live stream of published messages (SSE)", s.handleTail)
}

func (s *Server) handleHistoryPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	class := strings.TrimSpace(r.URL.Query().Get("class"))
	v := s.pipeline.View()
	if class == "" {
		httputil.BadRequest(w, fmt.Sprintf("missing class parameter; known classes: %s", strings.Join(v.Classes(), ", ")))
		return
	}
	trace, ok := v.History[class]
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("no history for class %q", class))
		return
	}

	p, err := historyPlot(class, trace)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("plot error: %v", err))
		return
	}
	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = wt.WriteTo(w)
}

func historyPlot(class string, trace pipeline.Trace) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: raw vs smoothed count", class)
	p.X.Label.Text = "frame (oldest to newest)"
	p.Y.Label.Text = "count"
	p.Y.Min = 0

	series := []struct {
		name string
		data []int
		col  color.RGBA
		step bool
	}{
		{"raw", trace.Raw, color.RGBA{R: 160, G: 160, B: 160, A: 255}, true},
		{"smoothed", trace.Smoothed, color.RGBA{R: 30, G: 120, B: 220, A: 255}, false},
	}
	for _, sr := range series {
		if len(sr.data) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(sr.data))
		for i, n := range sr.data {
			pts[i] = plotter.XY{X: float64(i), Y: float64(n)}
			if float64(n)+1 > p.Y.Max {
				p.Y.Max = float64(n) + 1
			}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("%s line: %w", sr.name, err)
		}
		line.Color = sr.col
		line.Width = vg.Points(1.5)
		if sr.step {
			line.StepStyle = plotter.PostStep
			line.Width = vg.Points(1)
		}
		p.Add(line)
		p.Legend.Add(sr.name, line)
	}
	p.Add(plotter.NewGrid())
	return p, nil
}

// sseTransport hands published payloads to an open event-stream response.
type sseTransport struct {
	ch     chan []byte
	closed chan struct{}
	once   sync.Once
}

var errTailClosed = errors.New("tail closed")

func newSSETransport() *sseTransport {
	return &sseTransport{ch: make(chan []byte), closed: make(chan struct{})}
}

func (t *sseTransport) Send(ctx context.Context, payload []byte) error {
	select {
	case t.ch <- payload:
		return nil
	case <-t.closed:
		return errTailClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *sseTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (s *Server) handleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	t := newSSETransport()
	id := s.hub.AddSubscriber(t)
	if id == "" {
		httputil.ServiceUnavailable(w, "broadcast hub closed")
		return
	}
	defer s.hub.RemoveSubscriber(id)

	_, _ = w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case payload := <-t.ch:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-t.closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"image/png"
	"net"
	"net/http"
	"strconv"
	"sync"

	"goji.io"
	"goji.io/pat"
	"gonum.org/v1/plot"

	"go.viam.com/depthcam/camera"
	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/rimage"
	"go.viam.com/depthcam/utils"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<title>{{.Title}}</title>
{{if .Refresh}}<meta http-equiv="refresh" content="{{.Refresh}}">{{end}}
</head>
<body style="background:#222;color:#ddd;font-family:sans-serif">
<h3>{{.Title}}</h3>
<img src="{{.Image}}" alt="{{.Title}}">
</body>
</html>
`))

type page struct {
	Title   string
	Image   string
	Refresh int
}

func pageHandler(pg page, logger logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := pageTemplate.Execute(w, pg); err != nil {
			logger.Debugw("cannot write page", "error", err)
		}
	}
}

func writeBytes(w http.ResponseWriter, mimeType string, data []byte, logger logging.Logger) {
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		logger.Debugw("cannot write response", "error", err)
	}
}

// HTTPViewer serves each plot it is shown on a local web page. Show blocks until its context is
// done, like closing a plot window.
type HTTPViewer struct {
	addr   string
	logger logging.Logger

	mu        sync.Mutex
	url       string
	ready     chan struct{}
	readyOnce sync.Once
}

// NewHTTPViewer returns a viewer listening on addr, e.g. "localhost:8080". Port 0 picks a free port.
func NewHTTPViewer(addr string, logger logging.Logger) *HTTPViewer {
	return &HTTPViewer{addr: addr, logger: logger, ready: make(chan struct{})}
}

// Ready is closed once the first Show is listening.
func (v *HTTPViewer) Ready() <-chan struct{} {
	return v.ready
}

// URL returns the address of the page being served, or "" before the first Show.
func (v *HTTPViewer) URL() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.url
}

// Show serves p at the viewer's address until ctx is done.
func (v *HTTPViewer) Show(ctx context.Context, p *plot.Plot) error {
	img, err := render(p, DefaultWidth, DefaultHeight, "png")
	if err != nil {
		return err
	}

	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/"), pageHandler(page{Title: p.Title.Text, Image: "/plot.png"}, v.logger))
	mux.HandleFunc(pat.Get("/plot.png"), func(w http.ResponseWriter, r *http.Request) {
		writeBytes(w, utils.MimeTypePNG, img, v.logger)
	})

	lis, err := net.Listen("tcp", v.addr)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s", lis.Addr())
	v.mu.Lock()
	v.url = url
	v.mu.Unlock()
	v.readyOnce.Do(func() { close(v.ready) })

	v.logger.CInfow(ctx, "serving depth plot", "url", url, "title", p.Title.Text)
	return Serve(ctx, lis, mux, v.logger)
}

// A FrameSource produces depth frames on demand. *camera.Camera is one.
type FrameSource interface {
	GetDepthFrame(ctx context.Context) (*rimage.DepthMap, error)
}

// thumbnail bounds.
const (
	defaultThumbnailWidth  = 160
	defaultThumbnailHeight = 120
)

// NewFrameHandler returns a handler reading a fresh frame from src on every request:
//
//	GET /               page showing the live plot, refreshed every refresh seconds (0 disables)
//	GET /frame          the frame; ?mime= picks image/png (default), image/jpeg, image/qoi,
//	                    image/x-portable-pixmap or image/raw-depth
//	GET /plot.png       heat map plot of the frame
//	GET /thumbnail.png  colorized thumbnail; ?width= and ?height= bound its size
//	GET /stats          JSON summary of the frame
func NewFrameHandler(src FrameSource, refresh int, logger logging.Logger) http.Handler {
	fh := &frameHandler{src: src, logger: logger}
	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/"), pageHandler(page{Title: "Live depth frame", Image: "/plot.png", Refresh: refresh}, logger))
	mux.HandleFunc(pat.Get("/frame"), fh.frame)
	mux.HandleFunc(pat.Get("/plot.png"), fh.plot)
	mux.HandleFunc(pat.Get("/thumbnail.png"), fh.thumbnail)
	mux.HandleFunc(pat.Get("/stats"), fh.stats)
	return mux
}

type frameHandler struct {
	src    FrameSource
	logger logging.Logger
}

func (fh *frameHandler) read(w http.ResponseWriter, r *http.Request) (*rimage.DepthMap, bool) {
	dm, err := fh.src.GetDepthFrame(r.Context())
	if err != nil {
		fh.logger.CWarnw(r.Context(), "cannot read depth frame", "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return nil, false
	}
	return dm, true
}

func (fh *frameHandler) frame(w http.ResponseWriter, r *http.Request) {
	mimeType := r.URL.Query().Get("mime")
	if mimeType == "" {
		mimeType = utils.MimeTypePNG
	}
	dm, ok := fh.read(w, r)
	if !ok {
		return
	}
	data, err := rimage.EncodeImage(r.Context(), dm, mimeType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeBytes(w, mimeType, data, fh.logger)
}

func (fh *frameHandler) plot(w http.ResponseWriter, r *http.Request) {
	dm, ok := fh.read(w, r)
	if !ok {
		return
	}
	p, err := rimage.PlotDepthMap(dm, camera.PlotTitle(dm.Width(), dm.Height()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := render(p, DefaultWidth, DefaultHeight, "png")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeBytes(w, utils.MimeTypePNG, data, fh.logger)
}

func (fh *frameHandler) thumbnail(w http.ResponseWriter, r *http.Request) {
	width, height := defaultThumbnailWidth, defaultThumbnailHeight
	for _, dim := range []struct {
		name string
		dst  *int
	}{{"width", &width}, {"height", &height}} {
		s := r.URL.Query().Get(dim.name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, fmt.Sprintf("bad %s %q", dim.name, s), http.StatusBadRequest)
			return
		}
		*dim.dst = n
	}
	dm, ok := fh.read(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", utils.MimeTypePNG)
	if err := png.Encode(w, dm.Thumbnail(width, height)); err != nil {
		fh.logger.Debugw("cannot write thumbnail", "error", err)
	}
}

func (fh *frameHandler) stats(w http.ResponseWriter, r *http.Request) {
	dm, ok := fh.read(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rimage.Stats(dm)); err != nil {
		fh.logger.Debugw("cannot write stats", "error", err)
	}
}

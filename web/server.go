// Package web serves the capture UI: a page with the live preview, the
// device selector, capture controls and the gallery, and a websocket pushing
// preview frames and state changes.
package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"image"
	"net/http"
	"sync"
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"
	"github.com/edgeimpulse/linux-camera-go/gallery"
	"github.com/edgeimpulse/linux-camera-go/shell"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Defaults for Opts.
const (
	DefaultInterval      = 100 * time.Millisecond
	DefaultThumbnailSize = 160
	PreviewQuality       = 75
)

const writeWait = 5 * time.Second

// Opts has options for a new Server.
type Opts struct {
	// Interval between preview frames pushed to the browser.
	Interval time.Duration

	// ThumbnailSize is the edge length of gallery thumbnails in pixels.
	ThumbnailSize int
}

// Server is the HTTP front end of a shell.Controller.
type Server struct {
	ctrl     *shell.Controller
	opts     Opts
	upgrader websocket.Upgrader
	rate     *camera.FrameRate

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// New returns a server for ctrl. Call Run to push previews and state.
func New(ctrl *shell.Controller, opts Opts) *Server {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ThumbnailSize <= 0 {
		opts.ThumbnailSize = DefaultThumbnailSize
	}
	rate, _ := camera.NewFrameRate(10)
	return &Server{
		ctrl: ctrl,
		opts: opts,
		rate: rate,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
	}
}

// Handler returns the HTTP handler of the UI and its API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/device", s.handleDevice)
	mux.HandleFunc("POST /api/photo", s.handlePhoto)
	mux.HandleFunc("POST /api/record", s.handleRecord)
	mux.HandleFunc("GET /media/{locator}", s.handleMedia)
	mux.HandleFunc("GET /thumb/{locator}", s.handleThumbnail)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

func (s *Server) view() viewJSON {
	return newViewJSON(s.ctrl.View(), s.rate.Rate())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Writing response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeActionError answers a failed action. Failures shown in the error
// slot are part of the state, so the state is returned.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	if errors.Is(err, shell.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if s.ctrl.View().Error != nil {
		writeJSON(w, http.StatusOK, s.view())
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, s.view()); err != nil {
		log.Error().Err(err).Msg("Rendering index")
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.view())
}

// Device changes outlive the request, a client that goes away mid-switch
// still gets the result pushed over its websocket.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Refresh(context.WithoutCancel(r.Context())); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing device id"))
		return
	}
	if err := s.ctrl.Select(context.WithoutCancel(r.Context()), req.ID); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	a, err := s.ctrl.CapturePhoto()
	if err != nil {
		log.Error().Err(err).Msg("Capturing photo")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if a == nil {
		writeError(w, http.StatusConflict, camera.ErrNoFrame)
		return
	}
	writeJSON(w, http.StatusCreated, newArtifactJSON(a.Kind, a.Locator, a.MIMEType, a.Ordinal, a.Created))
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	a, err := s.ctrl.ToggleRecording()
	if err != nil {
		log.Error().Err(err).Msg("Toggling recording")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := struct {
		Recording bool          `json:"recording"`
		Artifact  *artifactJSON `json:"artifact,omitempty"`
	}{Recording: s.ctrl.State().Recording}
	if a != nil {
		aj := newArtifactJSON(a.Kind, a.Locator, a.MIMEType, a.Ordinal, a.Created)
		resp.Artifact = &aj
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	a, ok := s.ctrl.Gallery().Get(r.PathValue("locator"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", a.MIMEType)
	http.ServeContent(w, r, "", a.Created, bytes.NewReader(a.Data))
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	g := s.ctrl.Gallery()
	locator := r.PathValue("locator")
	if _, ok := g.Get(locator); !ok {
		http.NotFound(w, r)
		return
	}
	buf, err := g.Thumbnail(locator, s.opts.ThumbnailSize)
	if errors.Is(err, gallery.ErrNoThumbnail) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("locator", locator).Msg("Rendering thumbnail")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "max-age=3600")
	_, _ = w.Write(buf)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Upgrading websocket")
		return
	}
	log.Debug().Str("remote", r.RemoteAddr).Msg("Websocket connected")

	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		conn.Close()
		log.Debug().Str("remote", r.RemoteAddr).Msg("Websocket disconnected")
	}()

	if buf, err := json.Marshal(s.view()); err == nil {
		if err := c.write(websocket.TextMessage, buf); err != nil {
			return
		}
	}

	// Clients only send control frames; reading processes them and
	// notices the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcast(messageType int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if err := c.write(messageType, data); err != nil {
			log.Debug().Err(err).Msg("Dropping websocket client")
			c.conn.Close()
			delete(s.clients, c)
		}
	}
}

func (s *Server) hasClients() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients) > 0
}

func (s *Server) broadcastState() {
	buf, err := json.Marshal(s.view())
	if err != nil {
		log.Error().Err(err).Msg("Encoding state")
		return
	}
	s.broadcast(websocket.TextMessage, buf)
}

func (s *Server) pushFrame(t time.Time) {
	if !s.hasClients() {
		return
	}
	img, err := s.ctrl.Frame()
	if err != nil {
		return
	}
	buf, err := encodePreview(img)
	if err != nil {
		log.Warn().Err(err).Msg("Encoding preview frame")
		return
	}
	if _, err := s.rate.Tick(t); err != nil {
		log.Debug().Err(err).Msg("Frame rate")
	}
	s.broadcast(websocket.BinaryMessage, buf)
}

func encodePreview(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(PreviewQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Run pushes preview frames every Interval and the state after each change
// to the websocket clients, until ctx is done or the controller is closed.
// Open websockets are closed when Run returns.
func (s *Server) Run(ctx context.Context) error {
	changes, cancel := s.ctrl.Subscribe()
	defer cancel()
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	defer s.closeClients()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			s.broadcastState()
		case t := <-ticker.C:
			s.pushFrame(t)
		}
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(writeWait))
		c.mu.Unlock()
		c.conn.Close()
		delete(s.clients, c)
	}
}

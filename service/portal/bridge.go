package portal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/lazorpass/service/metrics"
	"github.com/pkg/browser"
)

// Bridge relays messages from the portal back to waiting connect requests.
// The portal posts to {publicURL}/portal/callback/{request_id}; each open
// window holds one listener in the bridge until it is closed.
type Bridge struct {
	origin           string
	publicURL        string
	heartbeatTimeout time.Duration
	openBrowser      bool
	launch           func(string) error
	metrics          *metrics.Metrics
	logger           *slog.Logger
	now              func() time.Time

	mu      sync.Mutex
	windows map[string]*bridgeWindow

	mux *http.ServeMux
}

// NewBridge creates a bridge accepting messages only from portalURL's origin.
// When openBrowser is set, Open launches the system browser at the portal.
func NewBridge(portalURL, publicURL string, heartbeatTimeout time.Duration, openBrowser bool, m *metrics.Metrics, logger *slog.Logger) (*Bridge, error) {
	origin, err := originOf(portalURL)
	if err != nil {
		return nil, fmt.Errorf("invalid portal URL: %w", err)
	}
	if _, err := originOf(publicURL); err != nil {
		return nil, fmt.Errorf("invalid public URL: %w", err)
	}

	b := &Bridge{
		origin:           origin,
		publicURL:        strings.TrimRight(publicURL, "/"),
		heartbeatTimeout: heartbeatTimeout,
		openBrowser:      openBrowser,
		launch:           browser.OpenURL,
		metrics:          m,
		logger:           logger,
		now:              time.Now,
		windows:          make(map[string]*bridgeWindow),
		mux:              http.NewServeMux(),
	}
	b.mux.HandleFunc("POST /portal/callback/{request_id}", b.handleCallback)
	b.mux.HandleFunc("OPTIONS /portal/callback/{request_id}", b.handlePreflight)
	b.mux.HandleFunc("GET /portal/qr/{request_id}", b.handleQRCode)
	return b, nil
}

// Open registers a listener for req and, if configured, opens the browser.
// A failed browser launch is logged; the user can still follow the URL.
func (b *Bridge) Open(ctx context.Context, req Request) (Window, error) {
	target, err := url.Parse(req.PortalURL)
	if err != nil {
		return nil, fmt.Errorf("parse portal URL: %w", err)
	}
	q := target.Query()
	q.Set("callback", b.CallbackURL(req.ID))
	target.RawQuery = q.Encode()

	win := &bridgeWindow{
		id:       req.ID,
		url:      target.String(),
		messages: make(chan Message, 4),
		bridge:   b,
	}

	b.mu.Lock()
	if _, exists := b.windows[req.ID]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("request %s already has an open window", req.ID)
	}
	b.windows[req.ID] = win
	b.mu.Unlock()

	if b.openBrowser {
		if err := b.launch(win.url); err != nil {
			b.logger.WarnContext(ctx, "failed to open browser, visit the portal URL manually",
				"request_id", req.ID,
				"url", win.url,
				"error", err,
			)
		}
	}
	return win, nil
}

// CallbackURL is where the portal posts messages for requestID.
func (b *Bridge) CallbackURL(requestID string) string {
	return b.publicURL + "/portal/callback/" + requestID
}

// ListenerCount returns the number of registered window listeners.
func (b *Bridge) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.windows)
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mux.ServeHTTP(w, r)
}

func (b *Bridge) lookup(id string) *bridgeWindow {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.windows[id]
}

func (b *Bridge) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.windows, id)
}

func (b *Bridge) handlePreflight(w http.ResponseWriter, r *http.Request) {
	if requestOrigin(r) == b.origin {
		b.setCORSHeaders(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Bridge) handleCallback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("request_id")
	origin := requestOrigin(r)

	if origin != b.origin {
		b.metrics.RecordPortalMessage("unknown", false)
		b.logger.WarnContext(r.Context(), "rejected portal message from foreign origin",
			"request_id", id,
			"origin", origin,
		)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	b.setCORSHeaders(w)

	win := b.lookup(id)
	if win == nil {
		http.Error(w, "no pending request", http.StatusNotFound)
		return
	}

	msg, err := DecodeMessage(r.Body)
	if err != nil {
		b.logger.WarnContext(r.Context(), "invalid portal message", "request_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg.Origin = origin

	switch msg.Type {
	case MessageHeartbeat:
		win.touch(b.now())
		b.metrics.RecordPortalMessage(string(msg.Type), true)
	case MessageClosed:
		win.markClosed()
		b.metrics.RecordPortalMessage(string(msg.Type), true)
	default:
		if !win.deliver(*msg) {
			b.logger.WarnContext(r.Context(), "dropping portal message, listener busy",
				"request_id", id,
				"type", msg.Type,
			)
			http.Error(w, "listener busy", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (b *Bridge) handleQRCode(w http.ResponseWriter, r *http.Request) {
	win := b.lookup(r.PathValue("request_id"))
	if win == nil {
		http.Error(w, "no pending request", http.StatusNotFound)
		return
	}
	png, err := QRCodePNG(win.url, 256)
	if err != nil {
		http.Error(w, "failed to render QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (b *Bridge) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", b.origin)
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Vary", "Origin")
}

// bridgeWindow is the listener side of one portal window.
type bridgeWindow struct {
	id       string
	url      string
	messages chan Message
	bridge   *Bridge

	mu            sync.Mutex
	closed        bool
	removed       bool
	lastHeartbeat time.Time
}

func (w *bridgeWindow) Messages() <-chan Message { return w.messages }

func (w *bridgeWindow) URL() string { return w.url }

// Closed reports an explicit close, or heartbeats that stopped arriving.
// Before the first heartbeat the window is assumed open.
func (w *bridgeWindow) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return true
	}
	if w.lastHeartbeat.IsZero() || w.bridge.heartbeatTimeout <= 0 {
		return false
	}
	return w.bridge.now().Sub(w.lastHeartbeat) > w.bridge.heartbeatTimeout
}

func (w *bridgeWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.removed {
		return nil
	}
	w.removed = true
	w.bridge.remove(w.id)
	return nil
}

func (w *bridgeWindow) touch(at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastHeartbeat = at
}

func (w *bridgeWindow) markClosed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

func (w *bridgeWindow) deliver(msg Message) bool {
	select {
	case w.messages <- msg:
		return true
	default:
		return false
	}
}

// requestOrigin returns the caller's origin from the Origin header, falling
// back to the Referer.
func requestOrigin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		return o
	}
	if ref := r.Header.Get("Referer"); ref != "" {
		if o, err := originOf(ref); err == nil {
			return o
		}
	}
	return ""
}

func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q is not an absolute URL", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Package stream broadcasts run log entries to websocket clients.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mj1618/smartscript/internal/engine"
)

// Frame types.
const (
	FrameEntry  = "entry"
	FrameResult = "result"
)

// Frame is one JSON message sent to clients.
type Frame struct {
	Type   string           `json:"type"`
	RunID  string           `json:"run_id"`
	Entry  *engine.LogEntry `json:"entry,omitempty"`
	Result *engine.Result   `json:"result,omitempty"`
}

const (
	clientBuffer = 256
	writeTimeout = 5 * time.Second
)

type client struct {
	runID string
	ch    chan Frame
}

func (c *client) wants(f Frame) bool {
	return c.runID == "" || c.runID == f.RunID
}

// Hub keeps a bounded history of frames and fans new ones out to
// connected clients. Clients that fall behind are disconnected.
type Hub struct {
	logger  *slog.Logger
	limit   int
	mu      sync.Mutex
	history []Frame
	clients map[*client]struct{}
}

// NewHub creates a hub that replays up to limit frames to new clients.
func NewHub(limit int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = 1000
	}
	return &Hub{
		logger:  logger,
		limit:   limit,
		clients: map[*client]struct{}{},
	}
}

// Observe publishes a log entry. It matches engine.WithObserver.
func (h *Hub) Observe(e engine.LogEntry) {
	h.publish(Frame{Type: FrameEntry, RunID: e.RunID, Entry: &e})
}

// Finish publishes the final result of a run.
func (h *Hub) Finish(res *engine.Result) {
	if res == nil {
		return
	}
	h.publish(Frame{Type: FrameResult, RunID: res.RunID, Result: res})
}

func (h *Hub) publish(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, f)
	if over := len(h.history) - h.limit; over > 0 {
		h.history = append(h.history[:0:0], h.history[over:]...)
	}
	for c := range h.clients {
		if !c.wants(f) {
			continue
		}
		select {
		case c.ch <- f:
		default:
			delete(h.clients, c)
			close(c.ch)
		}
	}
}

// subscribe registers a client and returns the history it should replay.
func (h *Hub) subscribe(runID string) (*client, []Frame) {
	c := &client{runID: runID, ch: make(chan Frame, clientBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	var backlog []Frame
	for _, f := range h.history {
		if c.wants(f) {
			backlog = append(backlog, f)
		}
	}
	h.clients[c] = struct{}{}
	return c, backlog
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.ch)
	}
}

// History returns the frames a new unfiltered client would replay.
func (h *Hub) History() []Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Frame, len(h.history))
	copy(out, h.history)
	return out
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams frames. The optional run_id
// query parameter limits the stream to one run.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	c, backlog := h.subscribe(r.URL.Query().Get("run_id"))
	defer h.unsubscribe(c)

	ctx := conn.CloseRead(r.Context())
	for _, f := range backlog {
		if err := write(ctx, conn, f); err != nil {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-c.ch:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "client too slow")
				return
			}
			if err := write(ctx, conn, f); err != nil {
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, f Frame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, f)
}

// Handler returns the HTTP routes of the stream server.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/runs/stream", h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	h.logger.Info("log stream listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package hostrpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"routekit/internal/metrics"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHandler returns the HTTP surface: JSON-RPC over a websocket at /rpc,
// Prometheus metrics at /metrics and a liveness probe at /healthz. Each
// websocket connection gets its own session.
func NewHandler(opts SessionOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/rpc", func(w http.ResponseWriter, req *http.Request) {
		serveWebsocket(w, req, opts)
	})
	return r
}

func serveWebsocket(w http.ResponseWriter, r *http.Request, opts SessionOptions) {
	log := opts.Logger.With("request_id", middleware.GetReqID(r.Context()))
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("failed to upgrade the websocket", "err", err)
		return
	}
	defer conn.Close()
	log.Info("host connected", "remote", r.RemoteAddr)

	var writeMu sync.Mutex
	send := func(msg any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}
	opts.Logger = log
	session := NewSession(send, opts)
	defer session.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Info("host disconnected", "err", err)
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("failed to parse message", "err", err)
			if err := session.sendError(json.RawMessage("null"), &Error{Code: CodeParseError, Message: "parse error"}); err != nil {
				return
			}
			continue
		}
		if err := session.Handle(&msg); err != nil {
			if !errors.Is(err, ErrExit) && !errors.Is(err, ErrExitWithoutShutdown) {
				log.Warn("closing connection", "err", err)
			}
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "exit")
			writeMu.Lock()
			_ = conn.WriteMessage(websocket.CloseMessage, closeMsg)
			writeMu.Unlock()
			return
		}
	}
}

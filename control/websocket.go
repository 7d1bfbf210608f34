package control

import (
	"context"
	"net/http"
	"time"

	"fortio.org/log"
	"github.com/gorilla/websocket"
)

// maxWebSocketMessageBytes bounds one controller request/response frame.
const maxWebSocketMessageBytes = 16 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxWebSocketMessageBytes,
	WriteBufferSize: maxWebSocketMessageBytes,
	CheckOrigin:     func(r *http.Request) bool { return true }, // a local control channel, not browser-facing
}

// wsRequest/wsResponse are the controller's WebSocket JSON envelope: one
// command per request, one reply per response, matching the telnet
// protocol's command table one-for-one so scripts can use either transport.
type wsRequest struct {
	Request string `json:"request"`
}

type wsResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Handler returns an http.HandlerFunc suitable for mounting the WebSocket
// controller on an existing *http.ServeMux (e.g. alongside the metrics
// exporter), grounded on gorilla/websocket's standard upgrade-then-loop
// pattern (adopted from the wider example pack: grafana/k6 and
// linkxzhou/http_bench both use gorilla/websocket for long-lived control
// channels; fortio itself has no WebSocket transport to ground this on).
func (c *Controller) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("controller: websocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxWebSocketMessageBytes)
		for {
			var req wsRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			cmd := ParseLine(req.Request)
			reply, keepOpen := c.Dispatch(cmd)
			resp := wsResponse{Response: reply}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
			if !keepOpen {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return
			}
		}
	}
}

// ServeWebSocket binds port and serves the WebSocket controller at "/" until
// ctx is canceled.
func (c *Controller) ServeWebSocket(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", c.Handler())
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Infof("controller: websocket listening on :%s", port)
	err := srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

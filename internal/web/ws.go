package web

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"gnssmon/internal/events"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The UI is served from the same box; any origin may watch.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// parseKinds reads ?kinds=telemetry,satellites. An empty result means all.
func parseKinds(r *http.Request) map[events.Kind]bool {
	raw := strings.TrimSpace(r.URL.Query().Get("kinds"))
	if raw == "" {
		return nil
	}
	out := make(map[events.Kind]bool)
	for _, k := range strings.Split(raw, ",") {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out[events.Kind(k)] = true
		}
	}
	return out
}

// eventsHandler streams hub events to a websocket client as JSON text
// frames. Events the client cannot keep up with are dropped by the hub.
func eventsHandler(sub Subscriber) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		kinds := parseKinds(r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade failed remote=%s err=%v", r.RemoteAddr, err)
			return
		}
		defer conn.Close()

		id, ch := sub.Subscribe(128)
		defer sub.Unsubscribe(id)

		// The client never sends anything we use, but reading is how close
		// frames and dead peers are noticed.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
						log.Printf("ws closed remote=%s err=%v", r.RemoteAddr, err)
					}
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case <-done:
				return
			case <-r.Context().Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if kinds != nil && !kinds[ev.Kind] {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(ev); err != nil {
					log.Printf("ws write failed remote=%s err=%v", r.RemoteAddr, err)
					return
				}
			}
		}
	})
}

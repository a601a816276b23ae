package web

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fingerviz/internal/ingest"
	"fingerviz/internal/sensor"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WSUpdate is one message on /api/ws. Sensor is the 0-based index.
type WSUpdate struct {
	Sensor  int     `json:"sensor"`
	Name    string  `json:"name"`
	AtUTC   string  `json:"at_utc"`
	XMM     float64 `json:"x_mm"`
	YMM     float64 `json:"y_mm"`
	ZMM     float64 `json:"z_mm"`
	ForceG  float64 `json:"force_g"`
	HasLoad bool    `json:"has_load"`
}

func wsUpdates(b ingest.Batch) []WSUpdate {
	at := b.At.UTC().Format(time.RFC3339Nano)
	out := make([]WSUpdate, 0, len(b.Updates))
	for _, u := range b.Updates {
		out = append(out, WSUpdate{
			Sensor:  u.Index,
			Name:    sensor.Name(u.Index),
			AtUTC:   at,
			XMM:     u.Sample.XMM,
			YMM:     u.Sample.YMM,
			ZMM:     u.Sample.ZMM,
			ForceG:  u.Sample.ForceG,
			HasLoad: u.Sample.HasLoad,
		})
	}
	return out
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// wsHandler streams every published update. A client that cannot keep up
// misses batches; the hub never waits for it.
func wsHandler(hub *ingest.Hub, status *Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if hub == nil {
			http.Error(w, "live feed unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			return
		}
		defer conn.Close()

		status.wsOpened()
		defer status.wsClosed()

		id, ch := hub.Subscribe(16)
		defer hub.Unsubscribe(id)

		// Read pump: handles pongs and notices the client going away.
		gone := make(chan struct{})
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case <-gone:
				return
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case b, ok := <-ch:
				if !ok {
					return
				}
				for _, u := range wsUpdates(b) {
					_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
					if err := conn.WriteJSON(u); err != nil {
						if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
							log.Printf("web ws write failed: %v", err)
						}
						return
					}
				}
			}
		}
	})
}

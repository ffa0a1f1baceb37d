// Livefeed exposes the collector's readings over HTTP: current value,
// recent history and a websocket stream for dashboards.
package livefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/NotCoffee418/gmc_radiation_logger/pkg/geigerdb"
	"github.com/NotCoffee418/gmc_radiation_logger/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins, the feed is LAN-only
	},
}

// Feed fans completed readings out to websocket subscribers and remembers
// the most recent one for polling clients.
type Feed struct {
	readingMutex  sync.RWMutex
	latestReading *types.Reading

	wsClientsMutex sync.RWMutex
	wsClients      map[*wsClient]bool

	// Optional; /history responds 404 without it
	history *geigerdb.Store
}

// wsClient serializes writes to one connection. Gorilla allows a single
// concurrent writer per Conn, and the broadcast and the on-connect push
// run on different goroutines.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func New(history *geigerdb.Store) *Feed {
	return &Feed{
		wsClients: make(map[*wsClient]bool),
		history:   history,
	}
}

// Publish stores the reading as latest and pushes it to every subscriber.
// Connections that fail the write are dropped.
func (f *Feed) Publish(reading *types.Reading) error {
	f.readingMutex.Lock()
	f.latestReading = reading
	f.readingMutex.Unlock()

	data, err := json.Marshal(reading)
	if err != nil {
		return err
	}
	f.broadcastToWebSockets(data)
	return nil
}

// LatestReading returns the most recent published reading, or nil before
// the first poll cycle completes.
func (f *Feed) LatestReading() *types.Reading {
	f.readingMutex.RLock()
	defer f.readingMutex.RUnlock()
	return f.latestReading
}

func (f *Feed) broadcastToWebSockets(data []byte) {
	f.wsClientsMutex.RLock()
	clients := make([]*wsClient, 0, len(f.wsClients))
	for client := range f.wsClients {
		clients = append(clients, client)
	}
	f.wsClientsMutex.RUnlock()

	for _, client := range clients {
		if err := client.send(data); err != nil {
			f.removeWebSocketClient(client)
		}
	}
}

func (f *Feed) addWebSocketClient(client *wsClient) {
	f.wsClientsMutex.Lock()
	f.wsClients[client] = true
	f.wsClientsMutex.Unlock()
}

func (f *Feed) removeWebSocketClient(client *wsClient) {
	f.wsClientsMutex.Lock()
	delete(f.wsClients, client)
	f.wsClientsMutex.Unlock()
	client.conn.Close()
}

// Handler builds the HTTP surface of the feed.
func (f *Feed) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{
			"message": "GMC Radiation Logger",
			"status":  "running",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	})

	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		reading := f.LatestReading()
		w.Header().Set("Content-Type", "application/json")
		if reading == nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "No readings available yet",
			})
			return
		}

		json.NewEncoder(w).Encode(reading)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := &wsClient{conn: conn}
		f.addWebSocketClient(client)

		// Send current reading immediately if available
		if reading := f.LatestReading(); reading != nil {
			if data, err := json.Marshal(reading); err == nil {
				client.send(data)
			}
		}

		// Keep connection alive
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				f.removeWebSocketClient(client)
				break
			}
		}
	})

	// May serve large responses depending on the requested window.
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if f.history == nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "History database not enabled",
			})
			return
		}

		hours := 24
		if v := r.URL.Query().Get("hours"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed <= 0 {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "hours must be a positive integer",
				})
				return
			}
			hours = parsed
		}

		to := time.Now().UTC()
		from := to.Add(-time.Duration(hours) * time.Hour)
		readings, err := f.history.ReadingsBetween(from.Unix(), to.Unix())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{
				"error": err.Error(),
			})
			return
		}
		if readings == nil {
			readings = []geigerdb.GeigerDbReading{}
		}
		json.NewEncoder(w).Encode(readings)
	})

	return mux
}

// ListenAndServe serves the feed until the context is cancelled.
func (f *Feed) ListenAndServe(ctx context.Context, address string, port int) error {
	listener := fmt.Sprintf("%s:%d", address, port)
	server := &http.Server{Addr: listener, Handler: f.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("listener", listener).Msg("live feed listening")
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

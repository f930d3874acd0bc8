package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/config"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/coord"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/gps"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 5 * time.Second

// fixState holds the latest fix received over MQTT and fans it out to
// WebSocket clients.
type fixState struct {
	geohashPrecision int

	mu      sync.RWMutex
	fix     gps.Fix
	have    bool
	clients map[chan gps.Fix]struct{}
}

func newFixState(geohashPrecision int) *fixState {
	return &fixState{
		geohashPrecision: geohashPrecision,
		clients:          make(map[chan gps.Fix]struct{}),
	}
}

func (s *fixState) update(f gps.Fix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fix = f
	s.have = true
	for ch := range s.clients {
		// A slow client misses intermediate fixes rather than stalling MQTT.
		select {
		case ch <- f:
		default:
		}
	}
}

func (s *fixState) latest() (gps.Fix, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fix, s.have
}

func (s *fixState) subscribe() chan gps.Fix {
	ch := make(chan gps.Fix, 1)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	if s.have {
		ch <- s.fix
	}
	s.mu.Unlock()
	return ch
}

func (s *fixState) unsubscribe(ch chan gps.Fix) {
	s.mu.Lock()
	delete(s.clients, ch)
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

// handleFix serves the latest fix as published by the producer.
func (s *fixState) handleFix(w http.ResponseWriter, r *http.Request) {
	f, ok := s.latest()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, f)
}

type coordsResponse struct {
	System    string  `json:"system"`
	Lon       float64 `json:"lon"`
	Lat       float64 `json:"lat"`
	Timestamp string  `json:"timestamp"`
}

// handleCoords serves the position in ?system= (wgs84 by default), or in all
// datums when system=all.
func (s *fixState) handleCoords(w http.ResponseWriter, r *http.Request) {
	f, ok := s.latest()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	if !f.Valid {
		http.Error(w, "no fix", http.StatusServiceUnavailable)
		return
	}

	name := r.URL.Query().Get("system")
	if name == "all" {
		writeJSON(w, buildCoords(f, s.geohashPrecision))
		return
	}
	if name == "" {
		name = coord.WGS84.String()
	}
	sys, err := coord.ParseSystem(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := coord.Convert(coord.Point{Lon: f.Longitude, Lat: f.Latitude}, coord.WGS84, sys)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, coordsResponse{System: sys.String(), Lon: p.Lon, Lat: p.Lat, Timestamp: f.Timestamp()})
}

// handleWS pushes every fix to the client until it disconnects.
func (s *fixState) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	// The reader only notices the close; clients do not send anything.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("web: websocket error: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case f := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(f); err != nil {
				log.Printf("web: websocket write error: %v", err)
				return
			}
		}
	}
}

func newWebMux(s *fixState, staticDir string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/gps", s.handleFix)
	mux.HandleFunc("/api/gps/coords", s.handleCoords)
	mux.HandleFunc("/ws/gps", s.handleWS)
	mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	return mux
}

func RunWeb() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialized")
	}
	state := newFixState(cfg.GeohashPrecision)

	// 1) Connect to MQTT broker
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	// 2) Subscribe to the fix topic and keep the latest one
	token := client.Subscribe(cfg.TopicGPS, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var f gps.Fix
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			log.Printf("web: MQTT payload unmarshal error: %v", err)
			return
		}
		state.update(f)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to MQTT topic %s", cfg.TopicGPS)

	// 3) API, WebSocket and static files from ./web
	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, newWebMux(state, "web"))
}

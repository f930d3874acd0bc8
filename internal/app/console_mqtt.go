package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/config"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/gps"
)

func formatFixLine(f gps.Fix) string {
	if !f.Valid {
		return fmt.Sprintf(
			"[GPS ]  %s  no fix  sats=%d in_view=%d signal=%d%%",
			f.Timestamp(), f.Satellites, f.InView, f.SignalPercent,
		)
	}
	return fmt.Sprintf(
		"[GPS ]  %s  lat=%.6f lon=%.6f alt=%.1fm speed=%.1fkm/h course=%.1f° sats=%d hdop=%.2f signal=%d%%",
		f.Timestamp(), f.Latitude, f.Longitude, f.AltitudeM, f.SpeedKmh, f.CourseDeg,
		f.Satellites, f.HDOP, f.SignalPercent,
	)
}

func formatCoordsLine(c CoordsPayload) string {
	if !c.Valid {
		return fmt.Sprintf("[COORD] %s  no fix", c.Timestamp)
	}
	return fmt.Sprintf(
		"[COORD] gcj02=%.6f,%.6f bd09=%.6f,%.6f geohash=%s",
		c.GCJ02.Lon, c.GCJ02.Lat, c.BD09.Lon, c.BD09.Lat, c.Geohash,
	)
}

// throttle lets one call through per interval.
type throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func (t *throttle) allow(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}

func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialized")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	interval := time.Duration(cfg.ConsoleLogInterval) * time.Millisecond
	fixGate := &throttle{interval: interval}
	coordsGate := &throttle{interval: interval}

	// Subscribe to GPS fixes
	gpsToken := client.Subscribe(cfg.TopicGPS, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var f gps.Fix
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			log.Printf("console: gps unmarshal error: %v", err)
			return
		}
		if fixGate.allow(time.Now()) {
			fmt.Println(formatFixLine(f))
		}
	})
	gpsToken.Wait()
	if gpsToken.Error() != nil {
		return gpsToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicGPS)

	// Subscribe to converted coordinates
	coordsToken := client.Subscribe(cfg.TopicGPSCoords, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var c CoordsPayload
		if err := json.Unmarshal(msg.Payload(), &c); err != nil {
			log.Printf("console: coords unmarshal error: %v", err)
			return
		}
		if coordsGate.allow(time.Now()) {
			fmt.Println(formatCoordsLine(c))
		}
	})
	coordsToken.Wait()
	if coordsToken.Error() != nil {
		return coordsToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicGPSCoords)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

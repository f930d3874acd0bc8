package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/tevino/abool/v2"
	"go.uber.org/ratelimit"
	"periph.io/x/conn/v3/physic"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/config"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/gps"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/observability"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/receiver"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/tracklog"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/transport"
)

// fixSource is the part of receiver.Receiver the producer loop drives.
type fixSource interface {
	Acquire() (gps.Result, error)
	CurrentFix() gps.Fix
	ConsecutiveFailures() int
	Reset() error
}

type fixSink interface {
	Log(f gps.Fix) error
	Tick() error
}

type publisher interface {
	Publish(topic string, payload []byte) error
}

// mqttPublisher publishes retained QoS 0 messages and waits for each token.
type mqttPublisher struct {
	client mqtt.Client
}

func (p mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, true, payload)
	token.Wait()
	return token.Error()
}

type gpsProducer struct {
	src   fixSource
	track fixSink // nil when track logging is disabled
	pub   publisher

	topicFix         string
	topicCoords      string
	geohashPrecision int
	maxFailures      int // 0 never resets
}

// step runs one acquisition and publishes the fix when it changed. It only
// returns errors from publishing; transport and storage problems are logged
// and the loop carries on.
func (p *gpsProducer) step() error {
	res, err := p.src.Acquire()
	if err != nil {
		failures := p.src.ConsecutiveFailures()
		log.Printf("gps producer: acquire failed (%d in a row): %v", failures, err)
		if p.maxFailures > 0 && failures >= p.maxFailures {
			log.Printf("gps producer: resetting receiver after %d failures", failures)
			if err := p.src.Reset(); err != nil {
				log.Printf("gps producer: reset error: %v", err)
			}
		}
		p.tickTrack()
		return nil
	}
	if !res.Changed {
		p.tickTrack()
		return nil
	}

	fix := p.src.CurrentFix()
	if p.track != nil {
		if err := p.track.Log(fix); err != nil {
			log.Printf("gps producer: track log: %v", err)
		}
	}

	payload, err := json.Marshal(fix)
	if err != nil {
		return fmt.Errorf("marshal fix: %w", err)
	}
	if err := p.pub.Publish(p.topicFix, payload); err != nil {
		return fmt.Errorf("publish %s: %w", p.topicFix, err)
	}

	coords, err := json.Marshal(buildCoords(fix, p.geohashPrecision))
	if err != nil {
		return fmt.Errorf("marshal coords: %w", err)
	}
	if err := p.pub.Publish(p.topicCoords, coords); err != nil {
		return fmt.Errorf("publish %s: %w", p.topicCoords, err)
	}
	return nil
}

// tickTrack lets the track log flush on its interval during polls that
// produce no new fix.
func (p *gpsProducer) tickTrack() {
	if p.track == nil {
		return
	}
	if err := p.track.Tick(); err != nil {
		log.Printf("gps producer: track log: %v", err)
	}
}

func openTransport(cfg *config.Config, debug *abool.AtomicBool) (transport.Transport, error) {
	if cfg.GPSTransport == "serial" {
		s, err := transport.OpenSerial(transport.SerialOptions{
			PortName:   cfg.GPSSerialPort,
			BaudRate:   uint(cfg.GPSBaudRate),
			MinBytes:   cfg.GPSSerialMinRead,
			Inactivity: time.Duration(cfg.GPSSerialInactivity) * time.Millisecond,
			Timeout:    time.Duration(cfg.GPSSerialTimeout) * time.Millisecond,
			Debug:      debug,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	r, err := transport.OpenRegister(cfg.GPSI2CBus, transport.RegisterOptions{
		Retries:    cfg.GPSRetries,
		RetryDelay: time.Duration(cfg.GPSRetryDelay) * time.Millisecond,
		BusSpeed:   physic.Frequency(cfg.GPSI2CSpeedKHz) * physic.KiloHertz,
		Debug:      debug,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// OpenReceiver builds the configured transport, reset line and receiver.
func OpenReceiver(cfg *config.Config, debug *abool.AtomicBool) (*receiver.Receiver, error) {
	t, err := openTransport(cfg, debug)
	if err != nil {
		return nil, err
	}
	opts := receiver.Options{
		UTCOffset: time.Duration(cfg.GPSUTCOffsetMinutes) * time.Minute,
		Debug:     debug,
	}
	if cfg.GPSResetPin != "" {
		pin, err := receiver.OpenResetLine(cfg.GPSResetPin)
		if err != nil {
			_ = t.Close()
			return nil, err
		}
		opts.ResetLine = pin
	}
	return receiver.New(t, gps.NewFixStore(), opts), nil
}

// RunGPSProducer polls the receiver, keeps the track log and publishes every
// changed fix to MQTT until SIGINT or SIGTERM.
func RunGPSProducer() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialized")
	}
	debug := abool.NewBool(cfg.GPSDebug)

	// ---- 1) Receiver ----
	rcv, err := OpenReceiver(cfg, debug)
	if err != nil {
		return err
	}
	defer rcv.Close()

	if cfg.GPSFixInterval > 0 {
		if err := rcv.SetFixInterval(cfg.GPSFixInterval); err != nil {
			log.Printf("gps producer: %v", err)
		}
	}

	// ---- 2) Track log ----
	var track *tracklog.Logger
	if cfg.LogEnabled {
		track, err = tracklog.Open(tracklog.Options{
			Dir:            cfg.LogDir,
			BufferSize:     cfg.LogBufferSize,
			BatchCount:     cfg.LogBatchCount,
			FlushInterval:  time.Duration(cfg.LogFlushInterval) * time.Millisecond,
			MaxFileSize:    int64(cfg.LogMaxFileSize),
			MaxFilesPerDay: cfg.LogMaxFilesPerDay,
			MinDistanceM:   cfg.LogMinDistanceM,
			MinFreeBytes:   cfg.LogMinFree,
			Extended:       cfg.LogExtended,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := track.Close(); err != nil {
				log.Printf("gps producer: closing track log: %v", err)
			}
		}()
	}

	// ---- 3) Metrics ----
	if cfg.MetricsAddr != "" {
		go func() {
			if err := observability.StartMetricsServer(cfg.MetricsAddr); err != nil {
				log.Printf("gps producer: metrics server: %v", err)
			}
		}()
	}

	// ---- 4) MQTT ----
	mqttOpts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDGPS)

	client := mqtt.NewClient(mqttOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("gps producer: connected to MQTT broker at %s", cfg.MQTTBroker)

	p := &gpsProducer{
		src:              rcv,
		pub:              mqttPublisher{client: client},
		topicFix:         cfg.TopicGPS,
		topicCoords:      cfg.TopicGPSCoords,
		geohashPrecision: cfg.GeohashPrecision,
		maxFailures:      cfg.GPSMaxFailures,
	}
	if track != nil {
		p.track = track
	}

	// ---- 5) Poll until signalled ----
	stopping := abool.New()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("gps producer: shutting down")
		stopping.Set()
	}()

	rl := ratelimit.New(1, ratelimit.Per(time.Duration(cfg.GPSPollInterval)*time.Millisecond))
	log.Printf("gps producer: polling %s transport every %d ms", cfg.GPSTransport, cfg.GPSPollInterval)
	for !stopping.IsSet() {
		rl.Take()
		if err := p.step(); err != nil {
			log.Printf("gps producer: %v", err)
		}
	}
	return nil
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/ratelimit"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/config"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/gps"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/tracklog"
)

// readTrack loads every record of a track log file. Header lines are skipped;
// so are malformed records, which are counted in skipped.
func readTrack(r io.Reader) (fixes []gps.Fix, skipped int, err error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		f, ok := tracklog.ParseFix(line)
		if !ok {
			skipped++
			continue
		}
		fixes = append(fixes, f)
	}
	return fixes, skipped, sc.Err()
}

func loadTrack(path string) ([]gps.Fix, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	fixes, skipped, err := readTrack(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if skipped > 0 {
		log.Printf("replay: %s: skipped %d malformed records", path, skipped)
	}
	if len(fixes) == 0 {
		return nil, fmt.Errorf("%s: no records", path)
	}
	return fixes, nil
}

// RunTrackConsole prints a recorded track to stdout, one fix per interval.
func RunTrackConsole(path string, interval time.Duration) error {
	fixes, err := loadTrack(path)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for _, f := range fixes {
		fmt.Println(formatFixLine(f))
		<-ticker.C
	}
	return nil
}

// RunTrackReplay publishes a recorded track to the fix and coords topics as
// if a receiver were producing it. It stands in for the GPS producer when no
// hardware is attached.
func RunTrackReplay(path string, interval time.Duration, loop bool) error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialized")
	}
	fixes, err := loadTrack(path)
	if err != nil {
		return err
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDGPS + "-replay")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	pub := mqttPublisher{client: client}

	rl := ratelimit.New(1, ratelimit.Per(interval))
	for {
		for _, f := range fixes {
			rl.Take()
			payload, err := json.Marshal(f)
			if err != nil {
				return err
			}
			if err := pub.Publish(cfg.TopicGPS, payload); err != nil {
				log.Printf("replay: publish error: %v", err)
				continue
			}
			coords, err := json.Marshal(buildCoords(f, cfg.GeohashPrecision))
			if err != nil {
				return err
			}
			if err := pub.Publish(cfg.TopicGPSCoords, coords); err != nil {
				log.Printf("replay: publish error: %v", err)
			}
		}
		if !loop {
			return nil
		}
		log.Printf("replay: %s finished, starting over", path)
	}
}

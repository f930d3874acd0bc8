package main

import (
	"flag"
	"log"
	"time"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/app"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/config"
)

func main() {
	configPath := flag.String("config", "./gps_config.txt", "path to configuration file")
	file := flag.String("file", "", "track log file to replay")
	interval := flag.Duration("interval", time.Second, "delay between published fixes")
	loop := flag.Bool("loop", false, "start over at the end of the file")
	flag.Parse()

	if *file == "" {
		log.Fatalf("usage: track_replay -file gps_logs/20250123_001.log [-interval 1s] [-loop]")
	}
	log.Println("starting LC76G track replay (track log → MQTT)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunTrackReplay(*file, *interval, *loop); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"
	"time"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/app"
)

func main() {
	file := flag.String("file", "", "track log file to print")
	interval := flag.Duration("interval", 100*time.Millisecond, "delay between records")
	flag.Parse()

	if *file == "" {
		log.Fatalf("usage: track_console -file gps_logs/20250123_001.log")
	}
	log.Printf("starting LC76G track console (%s)", *file)

	if err := app.RunTrackConsole(*file, *interval); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

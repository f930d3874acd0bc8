// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/tevino/abool/v2"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/app"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/config"
)

func main() {
	log.Println("starting LC76G receiver debug tool (standalone)")

	if err := config.InitGlobal("gps_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	log.Printf("Opening receiver on %s transport...", cfg.GPSTransport)
	rcv, err := app.OpenReceiver(cfg, abool.NewBool(cfg.GPSDebug))
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	defer rcv.Close()

	http.HandleFunc("/ws", app.HandleCommandWS(rcv))

	// API endpoint for the last decoded fix
	http.HandleFunc("/api/gps", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rcv.CurrentFix()); err != nil {
			log.Printf("json encode error: %v", err)
		}
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "web/gnss_debug.html")
	})

	addr := ":8081"
	log.Printf("Receiver debug tool listening on %s", addr)
	log.Printf("Open http://localhost:8081 in your browser")
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

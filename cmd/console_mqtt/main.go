package main

import (
	"log"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/app"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/config"
)

func main() {
	log.Println("starting LC76G console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal("gps_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

package main

import (
	"flag"
	"log"

	"github.com/musicaJack/LC76G-Pico-sub000/internal/app"
	"github.com/musicaJack/LC76G-Pico-sub000/internal/config"
)

func main() {
	configPath := flag.String("config", "./gps_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting LC76G GPS producer (receiver → MQTT)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunGPSProducer(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

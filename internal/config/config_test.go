package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gps_config.txt")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
# broker
MQTT_BROKER=tcp://localhost:1883
GPS_TRANSPORT=serial
GPS_SERIAL_PORT=/dev/ttyUSB0
GPS_BAUD_RATE=9600
GPS_DEBUG=true
LOG_MAX_FILE_SIZE=4 MiB
LOG_MIN_FREE=50MB
LOG_MIN_DISTANCE_M=2.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GPSTransport != "serial" || cfg.GPSSerialPort != "/dev/ttyUSB0" || cfg.GPSBaudRate != 9600 {
		t.Fatalf("transport fields: %+v", cfg)
	}
	if !cfg.GPSDebug {
		t.Fatalf("GPS_DEBUG not applied")
	}
	if cfg.LogMaxFileSize != 4<<20 {
		t.Fatalf("max file size=%d want %d", cfg.LogMaxFileSize, 4<<20)
	}
	if cfg.LogMinFree != 50_000_000 {
		t.Fatalf("min free=%d want 50000000", cfg.LogMinFree)
	}
	if cfg.LogMinDistanceM != 2.5 {
		t.Fatalf("min distance=%v", cfg.LogMinDistanceM)
	}
	// Untouched keys keep their defaults.
	if cfg.GPSUTCOffsetMinutes != 480 || cfg.LogBatchCount != 10 || cfg.TopicGPS != "gnss/fix" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantSub string
	}{
		{name: "missing broker", body: "GPS_TRANSPORT=i2c\n", wantSub: "MQTT_BROKER is required"},
		{name: "unknown key", body: "MQTT_BROKER=x\nFOO=bar\n", wantSub: "unknown config key"},
		{name: "no equals", body: "MQTT_BROKER\n", wantSub: "invalid config line 1"},
		{name: "bad transport", body: "MQTT_BROKER=x\nGPS_TRANSPORT=spi\n", wantSub: "GPS_TRANSPORT"},
		{name: "fix interval range", body: "MQTT_BROKER=x\nGPS_FIX_INTERVAL=50\n", wantSub: "GPS_FIX_INTERVAL"},
		{name: "bad size", body: "MQTT_BROKER=x\nLOG_MAX_FILE_SIZE=huge\n", wantSub: "LOG_MAX_FILE_SIZE"},
		{name: "tiny buffer", body: "MQTT_BROKER=x\nLOG_BUFFER_SIZE=16\n", wantSub: "LOG_BUFFER_SIZE"},
		{name: "bad bool", body: "MQTT_BROKER=x\nLOG_ENABLED=maybe\n", wantSub: "LOG_ENABLED"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("err=%q want substring %q", err, tc.wantSub)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatalf("expected error")
	}
}

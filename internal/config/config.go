package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDGPS     string
	MQTTClientIDConsole string
	MQTTClientIDWeb     string

	// Topics
	TopicGPS       string // full fix JSON
	TopicGPSCoords string // position in all three datums plus geohash

	// GPS transport: "i2c" or "serial"
	GPSTransport     string
	GPSI2CBus        string
	GPSI2CSpeedKHz   int
	GPSSerialPort    string
	GPSBaudRate      int
	GPSResetPin      string // empty disables hardware reset
	GPSRetries       int
	GPSRetryDelay    int // milliseconds
	GPSSerialMinRead int // bytes before a line end may finish a read

	GPSSerialInactivity int // milliseconds
	GPSSerialTimeout    int // milliseconds

	// GPS behaviour
	GPSUTCOffsetMinutes int
	GPSFixInterval      int // milliseconds, 0 leaves the receiver default
	GPSPollInterval     int // milliseconds between acquisitions
	GPSMaxFailures      int // consecutive transport errors before a reset
	GPSDebug            bool
	GeohashPrecision    int

	// Track log
	LogEnabled        bool
	LogDir            string
	LogBufferSize     int
	LogBatchCount     int
	LogFlushInterval  int // milliseconds
	LogMaxFileSize    uint64
	LogMaxFilesPerDay int
	LogMinDistanceM   float64
	LogMinFree        uint64
	LogExtended       bool

	// Timing
	ConsoleLogInterval int // milliseconds

	// Web Server
	WebServerPort int

	// Metrics; empty disables the endpoint
	MetricsAddr string
}

// Default returns a Config with every optional key filled in.
func Default() *Config {
	return &Config{
		MQTTClientIDGPS:     "lc76g-gps-producer",
		MQTTClientIDConsole: "lc76g-console",
		MQTTClientIDWeb:     "lc76g-web",

		TopicGPS:       "gnss/fix",
		TopicGPSCoords: "gnss/coords",

		GPSTransport:        "i2c",
		GPSI2CSpeedKHz:      400,
		GPSSerialPort:       "/dev/serial0",
		GPSBaudRate:         115200,
		GPSRetries:          3,
		GPSRetryDelay:       10,
		GPSSerialMinRead:    256,
		GPSSerialInactivity: 50,
		GPSSerialTimeout:    1000,

		GPSUTCOffsetMinutes: 8 * 60,
		GPSPollInterval:     1000,
		GPSMaxFailures:      10,
		GeohashPrecision:    9,

		LogEnabled:        true,
		LogDir:            "gps_logs",
		LogBufferSize:     2048,
		LogBatchCount:     10,
		LogFlushInterval:  30000,
		LogMaxFileSize:    10 << 20,
		LogMaxFilesPerDay: 999,

		ConsoleLogInterval: 1000,
		WebServerPort:      8080,
	}
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: set once by InitGlobal, read through Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file over Default and returns the result.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseInt(key, value string, min, max int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, min, max, v)
	}
	return v, nil
}

func parseBool(key, value string) (bool, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// parseSize accepts plain byte counts or sizes like "10MB" / "512 KiB".
func parseSize(key, value string) (uint64, error) {
	v, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_GPS":
		c.MQTTClientIDGPS = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value

	// Topics
	case "TOPIC_GPS":
		c.TopicGPS = value
	case "TOPIC_GPS_COORDS":
		c.TopicGPSCoords = value

	// GPS transport
	case "GPS_TRANSPORT":
		v := strings.ToLower(value)
		if v != "i2c" && v != "serial" {
			return fmt.Errorf("GPS_TRANSPORT must be i2c or serial, got %q", value)
		}
		c.GPSTransport = v
	case "GPS_I2C_BUS":
		c.GPSI2CBus = value
	case "GPS_I2C_SPEED_KHZ":
		c.GPSI2CSpeedKHz, err = parseInt(key, value, 0, 1000)
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		rate, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid GPS_BAUD_RATE %q: %w", value, perr)
		}
		c.GPSBaudRate = rate
	case "GPS_RESET_PIN":
		c.GPSResetPin = value
	case "GPS_RETRIES":
		c.GPSRetries, err = parseInt(key, value, 1, 20)
	case "GPS_RETRY_DELAY":
		c.GPSRetryDelay, err = parseInt(key, value, 0, 1000)
	case "GPS_SERIAL_MIN_READ":
		c.GPSSerialMinRead, err = parseInt(key, value, 1, 1<<16)
	case "GPS_SERIAL_INACTIVITY":
		c.GPSSerialInactivity, err = parseInt(key, value, 1, 10000)
	case "GPS_SERIAL_TIMEOUT":
		c.GPSSerialTimeout, err = parseInt(key, value, 1, 60000)

	// GPS behaviour
	case "GPS_UTC_OFFSET_MINUTES":
		c.GPSUTCOffsetMinutes, err = parseInt(key, value, -12*60, 14*60)
	case "GPS_FIX_INTERVAL":
		c.GPSFixInterval, err = parseInt(key, value, 0, 1000)
		if err == nil && c.GPSFixInterval != 0 && c.GPSFixInterval < 100 {
			err = fmt.Errorf("GPS_FIX_INTERVAL must be 0 or 100-1000, got %d", c.GPSFixInterval)
		}
	case "GPS_POLL_INTERVAL":
		c.GPSPollInterval, err = parseInt(key, value, 10, 60000)
	case "GPS_MAX_FAILURES":
		c.GPSMaxFailures, err = parseInt(key, value, 0, 1000)
	case "GPS_DEBUG":
		c.GPSDebug, err = parseBool(key, value)
	case "GEOHASH_PRECISION":
		c.GeohashPrecision, err = parseInt(key, value, 1, 12)

	// Track log
	case "LOG_ENABLED":
		c.LogEnabled, err = parseBool(key, value)
	case "LOG_DIR":
		c.LogDir = value
	case "LOG_BUFFER_SIZE":
		var v uint64
		v, err = parseSize(key, value)
		c.LogBufferSize = int(v)
	case "LOG_BATCH_COUNT":
		c.LogBatchCount, err = parseInt(key, value, 1, 1000)
	case "LOG_FLUSH_INTERVAL":
		c.LogFlushInterval, err = parseInt(key, value, 1, 3600000)
	case "LOG_MAX_FILE_SIZE":
		c.LogMaxFileSize, err = parseSize(key, value)
	case "LOG_MAX_FILES_PER_DAY":
		c.LogMaxFilesPerDay, err = parseInt(key, value, 1, 999)
	case "LOG_MIN_DISTANCE_M":
		c.LogMinDistanceM, err = strconv.ParseFloat(value, 64)
		if err != nil {
			err = fmt.Errorf("invalid LOG_MIN_DISTANCE_M %q: %w", value, err)
		}
	case "LOG_MIN_FREE":
		c.LogMinFree, err = parseSize(key, value)
	case "LOG_EXTENDED":
		c.LogExtended, err = parseBool(key, value)

	// Timing
	case "CONSOLE_LOG_INTERVAL":
		c.ConsoleLogInterval, err = parseInt(key, value, 1, 3600000)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 1, 65535)

	// Metrics
	case "METRICS_ADDR":
		c.MetricsAddr = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return err
}

func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	switch c.GPSTransport {
	case "serial":
		if c.GPSSerialPort == "" {
			return fmt.Errorf("GPS_SERIAL_PORT is required for GPS_TRANSPORT=serial")
		}
		if c.GPSBaudRate == 0 {
			return fmt.Errorf("GPS_BAUD_RATE is required for GPS_TRANSPORT=serial")
		}
	case "i2c":
	default:
		return fmt.Errorf("GPS_TRANSPORT must be i2c or serial")
	}
	if c.LogEnabled && c.LogDir == "" {
		return fmt.Errorf("LOG_DIR is required when LOG_ENABLED=true")
	}
	if c.LogBufferSize < 256 {
		return fmt.Errorf("LOG_BUFFER_SIZE must be at least 256 bytes, got %d", c.LogBufferSize)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string
	// ServerURL is where status and monitor reach a running controller
	ServerURL string
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string
	// BaudRate is the baud rate for serial communication with the modem
	BaudRate int
	// WSURL selects a WebSocket modem bridge instead of the serial port
	WSURL string
	// WSUsername enables HTTP Basic auth on the bridge
	WSUsername string
	// NoSSLVerify skips certificate checks on wss:// bridges
	NoSSLVerify bool
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// SimPIN is the SIM card PIN code
	SimPIN string

	// StorePath is the persistent store image file
	StorePath string
	// Board selects the I/O backend: "gpio" or "sim"
	Board string
	// Clock selects the time source: "modem" (network time) or "system"
	Clock string
	// TickInterval is the period of one scheduling tick
	TickInterval time.Duration
	// FactorySecret authorizes admin registration and factory reset
	FactorySecret string

	// MQTTBroker enables the event mirror (e.g. "tcp://broker:1883")
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Board {
	case "gpio", "sim":
	default:
		return fmt.Errorf("unknown board %q (want gpio or sim)", c.Board)
	}
	switch c.Clock {
	case "modem", "system":
	default:
		return fmt.Errorf("unknown clock %q (want modem or system)", c.Clock)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", c.TickInterval)
	}
	return nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.ServerURL = "http://localhost:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 9600
		c.LogLevel = "info"
		c.StorePath = "/var/lib/fieldctl/store.cbor"
		c.Board = "gpio"
		c.Clock = "modem"
		c.TickInterval = time.Minute
		c.MQTTTopic = "fieldctl"
		c.MQTTClientID = "fieldctl"
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		vars := map[string]*string{
			"BIND_ADDRESS":   &c.BindAddress,
			"SERVER_URL":     &c.ServerURL,
			"SERIAL_PORT":    &c.SerialPort,
			"WS_URL":         &c.WSURL,
			"WS_USERNAME":    &c.WSUsername,
			"LOG_LEVEL":      &c.LogLevel,
			"SIM_PIN":        &c.SimPIN,
			"STORE_PATH":     &c.StorePath,
			"BOARD":          &c.Board,
			"CLOCK":          &c.Clock,
			"FACTORY_SECRET": &c.FactorySecret,
			"MQTT_BROKER":    &c.MQTTBroker,
			"MQTT_TOPIC":     &c.MQTTTopic,
			"MQTT_CLIENT_ID": &c.MQTTClientID,
			"MQTT_USERNAME":  &c.MQTTUsername,
			"MQTT_PASSWORD":  &c.MQTTPassword,
		}
		for name, dst := range vars {
			if v := os.Getenv(name); v != "" {
				*dst = v
			}
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			b, err := strconv.Atoi(baud)
			if err != nil {
				return fmt.Errorf("BAUD_RATE: %w", err)
			}
			c.BaudRate = b
		}

		if skip := os.Getenv("NO_SSL_VERIFY"); skip != "" {
			v, err := strconv.ParseBool(skip)
			if err != nil {
				return fmt.Errorf("NO_SSL_VERIFY: %w", err)
			}
			c.NoSSLVerify = v
		}

		if interval := os.Getenv("TICK_INTERVAL"); interval != "" {
			d, err := time.ParseDuration(interval)
			if err != nil {
				return fmt.Errorf("TICK_INTERVAL: %w", err)
			}
			c.TickInterval = d
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags. Only flags set
// on the command line override earlier options.
func WithFlags(fSet *pflag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var err error
		fSet.Visit(func(f *pflag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "server":
				c.ServerURL = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				c.BaudRate, err = fSet.GetInt(f.Name)
			case "url":
				c.WSURL = f.Value.String()
			case "username":
				c.WSUsername = f.Value.String()
			case "no-ssl-verify":
				c.NoSSLVerify, err = fSet.GetBool(f.Name)
			case "log-level":
				c.LogLevel = f.Value.String()
			case "sim-pin":
				c.SimPIN = f.Value.String()
			case "store-path":
				c.StorePath = f.Value.String()
			case "board":
				c.Board = f.Value.String()
			case "clock":
				c.Clock = f.Value.String()
			case "tick-interval":
				c.TickInterval, err = fSet.GetDuration(f.Name)
			case "factory-secret":
				c.FactorySecret = f.Value.String()
			case "mqtt-broker":
				c.MQTTBroker = f.Value.String()
			case "mqtt-topic":
				c.MQTTTopic = f.Value.String()
			}
		})
		return err
	}
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func loadConfig(fSet *pflag.FlagSet) (*Config, error) {
	return LoadConfig(WithDefaults(), WithEnv(), WithFlags(fSet))
}

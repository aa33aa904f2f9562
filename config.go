package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	errNoSerialPort    = errors.New("serial port is required")
	errInvalidBaudRate = errors.New("baud rate must be positive")
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 9600)
	BaudRate int `yaml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`
	// PhoneNumbers receive alerts and reports
	PhoneNumbers []string `yaml:"phone_numbers"`
	// ATTimeout is the deadline of a single AT command
	ATTimeout time.Duration `yaml:"at_timeout"`
	// ATRetries is how many times a failed AT command is retried
	ATRetries int `yaml:"at_retries"`
	// StartupNotification sends an SMS to every phone number once the modem
	// is up
	StartupNotification bool `yaml:"startup_notification"`
	// ProbeBeforeSend refreshes diagnostics before every alert
	ProbeBeforeSend bool `yaml:"probe_before_send"`
	// StatusInterval is how often websocket clients receive a status update
	StatusInterval time.Duration `yaml:"status_interval"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
// and validates the result
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
	if c.SerialPort == "" {
		return errNoSerialPort
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: %d", errInvalidBaudRate, c.BaudRate)
	}
	return nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 9600
		c.LogLevel = "info"
		c.ATTimeout = 5 * time.Second
		c.ATRetries = 3
		c.StartupNotification = true
		c.StatusInterval = 5 * time.Second
		return nil
	}
}

// WithFile loads configuration from a YAML file. An empty path is ignored;
// keys missing from the file keep their current value.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("SERIAL_BAUDRATE"); baud != "" {
			b, err := strconv.Atoi(baud)
			if err != nil {
				return fmt.Errorf("SERIAL_BAUDRATE: %w", err)
			}
			c.BaudRate = b
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if numbers, ok := os.LookupEnv("PHONE_NUMBERS"); ok {
			c.PhoneNumbers = parsePhoneNumbers(numbers)
		}

		if timeout := os.Getenv("AT_COMMAND_TIMEOUT"); timeout != "" {
			ms, err := strconv.Atoi(timeout)
			if err != nil {
				return fmt.Errorf("AT_COMMAND_TIMEOUT: %w", err)
			}
			c.ATTimeout = time.Duration(ms) * time.Millisecond
		}

		if retry := os.Getenv("AT_COMMAND_RETRY"); retry != "" {
			n, err := strconv.Atoi(retry)
			if err != nil {
				return fmt.Errorf("AT_COMMAND_RETRY: %w", err)
			}
			c.ATRetries = n
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags. Only flags that
// were set explicitly override the current value.
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var err error
		fSet.Visit(func(f *flag.Flag) {
			value := f.Value.String()
			switch f.Name {
			case "bind-address":
				c.BindAddress = value
			case "serial-port":
				c.SerialPort = value
			case "baud-rate":
				b, perr := strconv.Atoi(value)
				if perr != nil {
					err = errors.Join(err, fmt.Errorf("-baud-rate: %w", perr))
					return
				}
				c.BaudRate = b
			case "log-level":
				c.LogLevel = value
			case "phone-numbers":
				c.PhoneNumbers = parsePhoneNumbers(value)
			case "startup-notification":
				c.StartupNotification = value == "true"
			}
		})
		return err
	}
}

// parsePhoneNumbers splits a comma separated list, dropping blanks.
func parsePhoneNumbers(s string) []string {
	numbers := []string{}
	for n := range strings.SplitSeq(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			numbers = append(numbers, n)
		}
	}
	return numbers
}

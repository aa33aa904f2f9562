package modem

import (
	"log/slog"
	"time"
)

// Config holds the immutable settings of an Engine. Zero values select the
// defaults applied by setDefaults; for MaxRetries and StartupDelay a
// negative value selects "none".
type Config struct {
	// Dialer opens the link to the modem. Required.
	Dialer Dialer
	// Logger receives structured engine logs. Defaults to slog.Default().
	Logger *slog.Logger
	// Recipients are the phone numbers SendToAll delivers to.
	Recipients []string

	// ATTimeout is the deadline applied to every command.
	ATTimeout time.Duration
	// MaxRetries is how many times a failed command is retried.
	MaxRetries int
	// MaxReconnectAttempts bounds consecutive reconnect attempts.
	MaxReconnectAttempts int
	// ReconnectBackoff is the fixed delay between reconnect attempts.
	ReconnectBackoff time.Duration
	// SettleDelay is the pause between the recipient step and the body of
	// an SMS.
	SettleDelay time.Duration
	// LinkWaitTimeout bounds how long a command waits for the link to come
	// back before failing with ErrLinkUnavailable.
	LinkWaitTimeout time.Duration
	// StartupDelay is observed after the port is opened and before the
	// first command, while the modem settles.
	StartupDelay time.Duration
	// InitTimeout bounds a complete Initialize call.
	InitTimeout time.Duration

	// ProbeBeforeSend runs the diagnostics probe before SendToAll.
	ProbeBeforeSend bool
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ATTimeout == 0 {
		c.ATTimeout = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 3
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = 2 * time.Second
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 600 * time.Millisecond
	}
	if c.LinkWaitTimeout == 0 {
		c.LinkWaitTimeout = 30 * time.Second
	}
	if c.StartupDelay == 0 {
		c.StartupDelay = 2 * time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = time.Minute
	}
}

// retryLimit is MaxRetries with "none" resolved. setDefaults keeps
// negative values as they are so that it can be applied more than once.
func (c *Config) retryLimit() int {
	return max(c.MaxRetries, 0)
}

func (c *Config) startupDelay() time.Duration {
	return max(c.StartupDelay, 0)
}

// ConfigBuilder assembles a Config fluently.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithRecipients(numbers ...string) *ConfigBuilder {
	b.config.Recipients = append([]string(nil), numbers...)
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

func (b *ConfigBuilder) WithMaxRetries(n int) *ConfigBuilder {
	b.config.MaxRetries = n
	return b
}

func (b *ConfigBuilder) WithMaxReconnectAttempts(n int) *ConfigBuilder {
	b.config.MaxReconnectAttempts = n
	return b
}

func (b *ConfigBuilder) WithReconnectBackoff(d time.Duration) *ConfigBuilder {
	b.config.ReconnectBackoff = d
	return b
}

func (b *ConfigBuilder) WithSettleDelay(d time.Duration) *ConfigBuilder {
	b.config.SettleDelay = d
	return b
}

func (b *ConfigBuilder) WithLinkWaitTimeout(d time.Duration) *ConfigBuilder {
	b.config.LinkWaitTimeout = d
	return b
}

func (b *ConfigBuilder) WithStartupDelay(d time.Duration) *ConfigBuilder {
	b.config.StartupDelay = d
	return b
}

func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.InitTimeout = d
	return b
}

func (b *ConfigBuilder) WithProbeBeforeSend(enabled bool) *ConfigBuilder {
	b.config.ProbeBeforeSend = enabled
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	c.Recipients = append([]string(nil), c.Recipients...)
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}

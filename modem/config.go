package modem

import (
	"log/slog"
	"time"

	"i4.energy/across/fieldctl/tick"
)

// Config holds the settings a Modem is constructed with. Build one with
// NewConfigBuilder.
type Config struct {
	dialer Dialer
	simPIN string
	logger *slog.Logger

	// watchdogTick is the period of one watchdog tick.
	watchdogTick time.Duration
	// watchdogSource overrides the ticker built from watchdogTick.
	watchdogSource tick.Source
	// retryInterval separates re-transmissions of a retried command.
	retryInterval time.Duration
	// pace is the delay between bytes written by Transmit.
	pace time.Duration
	// radioOffWait and rebootWait bound the radio restart performed by
	// SyncLocalTime.
	radioOffWait time.Duration
	rebootWait   time.Duration
	// promptDelay separates the AT+CMGS header from the message body.
	promptDelay time.Duration
	// notifyBuffer is the capacity of the notification channel.
	notifyBuffer int
	indicator    Indicator
}

// Indicator is toggled once per received byte, typically a status LED.
type Indicator interface {
	Toggle()
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.watchdogTick == 0 {
		c.watchdogTick = time.Second
	}
	if c.retryInterval == 0 {
		c.retryInterval = 500 * time.Millisecond
	}
	if c.pace == 0 {
		c.pace = 5 * time.Millisecond
	}
	if c.radioOffWait == 0 {
		c.radioOffWait = time.Minute
	}
	if c.rebootWait == 0 {
		c.rebootWait = 2 * time.Minute
	}
	if c.promptDelay == 0 {
		c.promptDelay = 100 * time.Millisecond
	}
	if c.notifyBuffer == 0 {
		c.notifyBuffer = 16
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns a builder with no dialer set.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithDialer sets how the transport is opened. Required.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

// WithSimPIN sets the PIN entered when the SIM asks for one.
func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.simPIN = pin
	return b
}

// WithLogger sets the logger. Defaults to discarding.
func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

// WithWatchdogTick sets the watchdog period. Command windows are counted
// in these ticks. Defaults to one second.
func (b *ConfigBuilder) WithWatchdogTick(d time.Duration) *ConfigBuilder {
	b.config.watchdogTick = d
	return b
}

// WithWatchdogSource replaces the watchdog ticker, mainly for tests.
func (b *ConfigBuilder) WithWatchdogSource(src tick.Source) *ConfigBuilder {
	b.config.watchdogSource = src
	return b
}

// WithRetryInterval sets the re-transmission period of retried commands.
// Defaults to 500ms.
func (b *ConfigBuilder) WithRetryInterval(d time.Duration) *ConfigBuilder {
	b.config.retryInterval = d
	return b
}

// WithPace sets the delay between bytes of a raw transmission. Defaults
// to 5ms.
func (b *ConfigBuilder) WithPace(d time.Duration) *ConfigBuilder {
	b.config.pace = d
	return b
}

// WithRadioRestart sets how long the radio stays off and how long the modem
// is given to reboot when network time has to be enabled.
func (b *ConfigBuilder) WithRadioRestart(off, reboot time.Duration) *ConfigBuilder {
	b.config.radioOffWait = off
	b.config.rebootWait = reboot
	return b
}

// WithPromptDelay sets the pause between the AT+CMGS header and the
// message body. Defaults to 100ms.
func (b *ConfigBuilder) WithPromptDelay(d time.Duration) *ConfigBuilder {
	b.config.promptDelay = d
	return b
}

// WithNotificationBuffer sets how many new-message notifications are kept
// before further ones are dropped.
func (b *ConfigBuilder) WithNotificationBuffer(n int) *ConfigBuilder {
	b.config.notifyBuffer = n
	return b
}

// WithIndicator sets the receive activity indicator.
func (b *ConfigBuilder) WithIndicator(i Indicator) *ConfigBuilder {
	b.config.indicator = i
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}

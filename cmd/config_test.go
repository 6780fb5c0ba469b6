package cmd

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addGlobalFlags(fs)
	addRunFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig(WithDefaults())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", config.BindAddress)
	assert.Equal(t, "/dev/ttyUSB0", config.SerialPort)
	assert.Equal(t, 9600, config.BaudRate)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, "gpio", config.Board)
	assert.Equal(t, "modem", config.Clock)
	assert.Equal(t, time.Minute, config.TickInterval)
	assert.Empty(t, config.MQTTBroker)
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("SERIAL_PORT", "/dev/ttyAMA0")
	t.Setenv("BAUD_RATE", "115200")
	t.Setenv("BOARD", "sim")
	t.Setenv("TICK_INTERVAL", "1s")
	t.Setenv("NO_SSL_VERIFY", "true")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_PASSWORD", "hunter2")

	config, err := LoadConfig(WithDefaults(), WithEnv())
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyAMA0", config.SerialPort)
	assert.Equal(t, 115200, config.BaudRate)
	assert.Equal(t, "sim", config.Board)
	assert.Equal(t, time.Second, config.TickInterval)
	assert.True(t, config.NoSSLVerify)
	assert.Equal(t, "tcp://broker:1883", config.MQTTBroker)
	assert.Equal(t, "hunter2", config.MQTTPassword)
}

func TestLoadConfigEnvErrors(t *testing.T) {
	for name, value := range map[string]string{
		"BAUD_RATE":     "fast",
		"TICK_INTERVAL": "soon",
		"NO_SSL_VERIFY": "maybe",
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, value)
			_, err := LoadConfig(WithDefaults(), WithEnv())
			assert.ErrorContains(t, err, name)
		})
	}
}

func TestLoadConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("SERIAL_PORT", "/dev/ttyAMA0")
	t.Setenv("BOARD", "sim")

	fs := testFlags(t, "--serial-port", "/dev/ttyS1", "--baud-rate", "19200", "--tick-interval", "30s", "--no-ssl-verify")
	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(fs))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyS1", config.SerialPort)
	assert.Equal(t, 19200, config.BaudRate)
	assert.Equal(t, 30*time.Second, config.TickInterval)
	assert.True(t, config.NoSSLVerify)
	// --board was not given, so its flag default does not mask the env.
	assert.Equal(t, "sim", config.Board)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "board", args: []string{"--board", "relay"}, want: "unknown board"},
		{name: "clock", args: []string{"--clock", "ntp"}, want: "unknown clock"},
		{name: "tick interval", args: []string{"--tick-interval", "0s"}, want: "tick interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(WithDefaults(), WithFlags(testFlags(t, tt.args...)))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

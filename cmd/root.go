package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rootCmd = &cobra.Command{
	Use:   "fieldctl",
	Short: "Irrigation field controller",
	Long: `fieldctl - Irrigation field controller driven by SMS.

Schedules up to twelve field valves and the pump, accepts configuration
commands by SMS through a GSM modem, and reports faults back to the
registered user.

Modem connection modes:
  Serial:    --serial-port /dev/ttyUSB0 [--baud-rate 9600]
  WebSocket: --url ws://host/path [--username user]

Every flag can also be set through the environment, e.g. SERIAL_PORT or
LOG_LEVEL. For WebSocket authentication, the password is read from the
WS_PASSWORD environment variable, or prompted interactively if not set.`,
	SilenceUsage: true,
}

func init() {
	addGlobalFlags(rootCmd.PersistentFlags())
}

func addGlobalFlags(flags *pflag.FlagSet) {
	// Modem connection flags
	flags.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flags.Int("baud-rate", 9600, "Baud rate for serial communication")
	flags.String("url", "", "WebSocket URL of a modem bridge (ws:// or wss://)")
	flags.String("username", "", "Username for HTTP Basic auth on the bridge")
	flags.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	flags.String("sim-pin", "", "SIM card PIN code (if required)")

	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flags.String("server", "http://localhost:8080", "Controller HTTP address used by status and monitor")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

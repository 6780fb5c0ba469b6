package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"i4.energy/across/fieldctl/modem"
)

var syncTime bool

var modemCmd = &cobra.Command{
	Use:   "modem",
	Short: "Talk to the GSM modem directly",
	Long: `Commissioning commands for the GSM modem. The controller must not be
running on the same port.`,
}

var modemConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Configure the modem for text-mode SMS",
	Args:  cobra.NoArgs,
	RunE: withModem(func(ctx context.Context, m *modem.Modem, args []string) error {
		fmt.Println("Modem configured")
		return nil
	}),
}

var modemSignalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Show the received signal strength",
	Args:  cobra.NoArgs,
	RunE: withModem(func(ctx context.Context, m *modem.Modem, args []string) error {
		rssi, quality, err := m.SignalQuality(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("RSSI %d (%s)\n", rssi, quality)
		return nil
	}),
}

var modemSendCmd = &cobra.Command{
	Use:   "send <number> <message...>",
	Short: "Send an SMS",
	Args:  cobra.MinimumNArgs(2),
	RunE: withModem(func(ctx context.Context, m *modem.Modem, args []string) error {
		if err := m.SendSMS(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
			return err
		}
		fmt.Println("Message sent")
		return nil
	}),
}

var modemTimeCmd = &cobra.Command{
	Use:   "time",
	Short: "Show the modem clock",
	Args:  cobra.NoArgs,
	RunE: withModem(func(ctx context.Context, m *modem.Modem, args []string) error {
		if syncTime {
			synced, err := m.SyncLocalTime(ctx)
			if err != nil {
				return err
			}
			if synced {
				fmt.Println("Network time enabled, modem restarted")
			}
		}
		now, err := m.Now(ctx)
		if err != nil {
			return err
		}
		fmt.Println(now.Format(time.DateTime))
		return nil
	}),
}

func init() {
	modemTimeCmd.Flags().BoolVar(&syncTime, "sync", false, "Enable network time first (restarts the radio)")

	modemCmd.AddCommand(modemConfigureCmd, modemSignalCmd, modemSendCmd, modemTimeCmd)
	rootCmd.AddCommand(modemCmd)
}

// withModem opens and configures the modem, runs fn and closes the modem.
func withModem(fn func(ctx context.Context, m *modem.Modem, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}
		logger := newLogger(config.LogLevel)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m, err := startModem(ctx, config, logger, nil)
		if err != nil {
			return err
		}
		defer m.Close()

		return fn(ctx, m, args)
	}
}

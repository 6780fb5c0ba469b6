package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"i4.energy/across/fieldctl/command"
	"i4.energy/across/fieldctl/hw"
	"i4.energy/across/fieldctl/irrigation"
	"i4.energy/across/fieldctl/modem"
	"i4.energy/across/fieldctl/notify"
	"i4.energy/across/fieldctl/report"
	"i4.energy/across/fieldctl/store"
	"i4.energy/across/fieldctl/tick"
)

// phasePollInterval is how often the GPIO board samples the phase inputs.
const phasePollInterval = 100 * time.Millisecond

// simMotorCurrent is the running current of the simulated pump.
const simMotorCurrent = 480

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller",
	Long: `Run the irrigation controller.

Opens the modem, loads the schedule from the store and sequences the field
valves until interrupted. An HTTP server on --bind-address exposes the
status snapshot and accepts console commands.

With --mqtt-broker set, engine events are mirrored to <topic>/events and
commands published on <topic>/commands are executed.`,
	RunE: runController,
}

func init() {
	addRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(flags *pflag.FlagSet) {
	flags.String("store-path", "/var/lib/fieldctl/store.cbor", "Persistent store image file")
	flags.String("board", "gpio", "I/O backend (gpio, sim)")
	flags.String("clock", "modem", "Time source (modem, system)")
	flags.Duration("tick-interval", time.Minute, "Period of one scheduling tick")
	flags.String("factory-secret", "", "Secret for admin registration and factory reset")
	flags.String("mqtt-broker", "", "MQTT broker URL for the event mirror (e.g. tcp://host:1883)")
	flags.String("mqtt-topic", "fieldctl", "MQTT topic prefix")
}

// board is the hardware the engine drives.
type board interface {
	irrigation.Outputs
	irrigation.Sensors
}

func runController(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(config.LogLevel)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	m, err := startModem(ctx, config, logger, cancel)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("Closing modem connection")
		if err := m.Close(); err != nil {
			logger.Error("Failed to close modem", "error", err)
		}
	}()

	var clock irrigation.Clock = irrigation.SystemClock{}
	if config.Clock == "modem" {
		synced, err := m.SyncLocalTime(ctx)
		if err != nil {
			return fmt.Errorf("sync modem clock: %w", err)
		}
		logger.Info("Modem clock", "network_time", synced)
		clock = irrigation.SourceClock{Source: m}
	}

	st, err := store.Open(config.StorePath)
	if err != nil {
		return err
	}

	b, sim, err := openBoard(ctx, config, logger)
	if err != nil {
		return err
	}

	engineConfig := irrigation.Config{
		Clock:         clock,
		Store:         st,
		Outputs:       b,
		Sensors:       b,
		Notifier:      notify.New(m, logger.With("component", "notify")),
		Inbox:         m,
		Decoder:       command.Parse,
		Ticks:         tick.Every(config.TickInterval),
		Logger:        logger,
		FactorySecret: config.FactorySecret,
	}

	var reporter *report.Reporter
	if config.MQTTBroker != "" {
		client := report.NewClient(report.Config{
			Broker:   config.MQTTBroker,
			ClientID: config.MQTTClientID,
			Topic:    config.MQTTTopic,
			Username: config.MQTTUsername,
			Password: config.MQTTPassword,
		}, logger)
		reporter = report.New(client, config.MQTTTopic, logger)
		engineConfig.Reporter = reporter
	}

	engine, err := irrigation.New(engineConfig)
	if err != nil {
		return err
	}

	if reporter != nil {
		reporter.HandleCommands(command.Parse, engine)
		go func() {
			if err := reporter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Event mirror stopped", "error", err)
			}
		}()
	}

	logger.Info("Starting field controller", "board", config.Board, "store", st.Path())

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(ctx)
	}()

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:  logger.With("component", "server"),
			Modem:   m,
			Engine:  engine,
			Decoder: command.Parse,
			Sim:     sim,
		},
	}

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			cancel(fmt.Errorf("http server: %w", err))
		}
	}()

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
		cancel(nil)
		runErr = <-engineDone
	case runErr = <-engineDone:
		logger.Error("Engine stopped", "error", runErr)
	case <-ctx.Done():
		runErr = <-engineDone
	}
	cancel(nil)
	if errors.Is(runErr, context.Canceled) {
		runErr = context.Cause(ctx)
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to gracefully shutdown server: %w", err)
	}
	return runErr
}

// startModem opens the modem, starts its loop and configures it for SMS.
// stop, when set, is called with the reason if the loop dies on its own.
func startModem(ctx context.Context, config *Config, logger *slog.Logger, stop context.CancelCauseFunc) (*modem.Modem, error) {
	var dialer modem.Dialer = modem.SerialDialer{
		PortName: config.SerialPort,
		BaudRate: config.BaudRate,
	}
	if config.WSURL != "" {
		password := ""
		if config.WSUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, err
			}
		}
		dialer = modem.WebSocketDialer{
			URL:        config.WSURL,
			Username:   config.WSUsername,
			Password:   password,
			SkipVerify: config.NoSSLVerify,
		}
	}

	modemConfig, err := modem.NewConfigBuilder().
		WithDialer(dialer).
		WithSimPIN(config.SimPIN).
		WithLogger(logger.With("component", "modem")).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create modem config: %w", err)
	}

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open modem: %w", err)
	}

	go func() {
		err := m.Loop(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		logger.Error("Modem loop stopped", "error", err)
		if stop != nil {
			stop(fmt.Errorf("modem: %w", err))
		}
	}()

	if err := m.Configure(ctx); err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to configure modem: %w", err)
	}
	return m, nil
}

// openBoard returns the configured I/O backend. The Sim is also returned
// for the bench endpoints when the sim board is selected.
func openBoard(ctx context.Context, config *Config, logger *slog.Logger) (board, *hw.Sim, error) {
	if config.Board == "sim" {
		sim := hw.NewSim(simMotorCurrent)
		return sim, sim, nil
	}

	if err := hw.Init(); err != nil {
		return nil, nil, err
	}
	pins, err := hw.Lookup(hw.DefaultPinNames())
	if err != nil {
		return nil, nil, err
	}
	b, err := hw.NewBoard(hw.BoardConfig{Pins: pins, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	go func() {
		if err := b.Run(ctx, tick.Every(phasePollInterval)); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Phase monitor stopped", "error", err)
		}
	}()
	return b, nil, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"i4.energy/across/piguard/modem"
)

func main() {
	configFile := flag.String("config", "", "Optional YAML configuration file")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", modem.DefaultBaudRate, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("phone-numbers", "", "Comma separated alert recipients")
	flag.Bool("startup-notification", true, "Send an SMS to every recipient once the modem is up")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(config.LogLevel)}))

	if err := run(config, logger); err != nil {
		logger.Error("PiGuard stopped", "error", err)
		os.Exit(1)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(config *Config, logger *slog.Logger) error {
	if len(config.PhoneNumbers) == 0 {
		logger.Warn("No phone numbers configured, alerts will not be sent")
	}

	modemConfig, err := modem.NewConfigBuilder().
		WithLogger(logger).
		WithATTimeout(config.ATTimeout).
		WithMaxRetries(config.ATRetries).
		WithRecipients(config.PhoneNumbers...).
		WithProbeBeforeSend(config.ProbeBeforeSend).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		Build()
	if err != nil {
		return fmt.Errorf("create modem config: %w", err)
	}

	engine, err := modem.New(modemConfig)
	if err != nil {
		return fmt.Errorf("create modem: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:         logger.With("component", "server"),
			Modem:          engine,
			StatusInterval: config.StatusInterval,
		},
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	logger.Info("Starting PiGuard", "serial_port", config.SerialPort, "recipients", len(config.PhoneNumbers))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := engine.Loop(gctx)
		if errors.Is(err, modem.ErrAlreadyClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		if err := engine.Initialize(gctx); err != nil {
			return err
		}
		logger.Info("Modem initialized")
		if config.StartupNotification {
			sendStartupNotification(gctx, engine, logger)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Info("Closing HTTP server")
		serr := httpServer.Shutdown(shutdownCtx)
		if serr != nil {
			serr = fmt.Errorf("shutdown http server: %w", serr)
		}

		logger.Info("Closing modem connection")
		merr := engine.Close()
		if merr != nil {
			merr = fmt.Errorf("close modem: %w", merr)
		}
		return errors.Join(serr, merr)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// sendStartupNotification tells every recipient that monitoring is active.
// Failures are logged per recipient and never stop the daemon.
func sendStartupNotification(ctx context.Context, engine *modem.Engine, logger *slog.Logger) {
	message := "PiGuard surveillance system is now active at " + time.Now().Format(time.DateTime)
	for _, r := range engine.SendToAll(ctx, message) {
		if r.Success {
			logger.Info("Startup notification sent", "to", r.Recipient)
		}
	}
}

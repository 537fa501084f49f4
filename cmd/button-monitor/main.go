// Command button-monitor debounces GPIO push buttons and publishes press and
// release events to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/button-sensor/internal/clock"
	"github.com/sweeney/button-sensor/internal/config"
	"github.com/sweeney/button-sensor/internal/gpio"
	"github.com/sweeney/button-sensor/internal/mqtt"
	"github.com/sweeney/button-sensor/internal/status"
	"github.com/sweeney/button-sensor/internal/web"
)

const refreshInterval = 5 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the YAML config file")
	printState := flag.Bool("print-state", false, "Print current button states and exit")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")

	flag.Parse()

	if err := run(*configPath, *printState, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds a production zap logger at the given level.
func newLogger(level string) (*zap.SugaredLogger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}

func run(configPath string, printOnly bool, logLevel string) error {
	loader := config.NewLoader(configPath, nil)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	loader = config.NewLoader(configPath, logger)
	if cfg, err = loader.Load(); err != nil {
		return err
	}

	chip, err := gpio.NewRealChip(cfg.Chip, gpio.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer chip.Close()

	if printOnly {
		return printState(os.Stdout, chip, cfg.Buttons)
	}

	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:      cfg.Broker,
		ClientID:    cfg.ClientID,
		TopicPrefix: cfg.TopicPrefix,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	tracker := status.NewTracker(time.Now(), trackerConfig(cfg))
	tracker.SetMQTTConnected(publisher.IsConnected())

	m := newMonitor(chip, clock.NewSystem(), publisher, tracker, logger)
	if err := m.start(cfg.Buttons); err != nil {
		return err
	}

	publishSystem(publisher, tracker, logger, "STARTUP", "", true)

	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorw("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Infow("http status server listening", "addr", cfg.HTTP)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan *config.Config, 1)
	go loader.Watch(ctx, func(c *config.Config) {
		select {
		case reloads <- c:
		case <-ctx.Done():
		}
	})

	logger.Infow("started",
		"chip", cfg.Chip,
		"broker", cfg.Broker,
		"buttons", len(cfg.Buttons))

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(m, publisher, cfg, reloads, ticker.C, sigCh)
}

func trackerConfig(cfg *config.Config) status.Config {
	return status.Config{
		Chip:     cfg.Chip,
		Broker:   cfg.Broker,
		HTTPAddr: cfg.HTTP,
	}
}

// runLoop serves reloads and status refreshes until a signal arrives, then
// publishes SHUTDOWN and deinits every button.
func runLoop(m *monitor, conn mqtt.ConnectionStatus, current *config.Config, reloads <-chan *config.Config, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			m.logger.Infow("shutting down", "signal", s)
			m.refresh(conn)
			publishSystem(m.pub, m.tracker, m.logger, "SHUTDOWN", signalName(s), true)
			return m.stop()

		case next := <-reloads:
			if next.Chip != current.Chip || next.Broker != current.Broker || next.HTTP != current.HTTP {
				m.logger.Warnw("chip, broker and http changes need a restart; reloading buttons only")
			}
			if err := m.reload(next); err != nil {
				m.logger.Errorw("reload failed, no buttons running", "error", err)
				publishSystem(m.pub, m.tracker, m.logger, "RELOAD", err.Error(), false)
				continue
			}
			current = next
			m.refresh(conn)
			publishSystem(m.pub, m.tracker, m.logger, "RELOAD", "", false)

		case <-tick:
			m.refresh(conn)
		}
	}
}

// publishSystem publishes a lifecycle event carrying a full status snapshot.
func publishSystem(pub mqtt.Publisher, tracker *status.Tracker, logger *zap.SugaredLogger, event, reason string, retained bool) {
	snap := tracker.Snapshot()
	sys := mqtt.SystemEvent{
		Timestamp: snap.Now,
		Event:     event,
		Reason:    reason,
		Retained:  retained,
	}
	// Without a snapshot the plain event payload is still published.
	if payload, err := status.FormatStatusEvent(snap, event, reason); err != nil {
		logger.Warnw("failed to format status snapshot", "event", event, "error", err)
	} else {
		sys.RawPayload = payload
	}
	if err := pub.PublishSystem(sys); err != nil {
		logger.Warnw("failed to publish system event", "event", event, "error", err)
		return
	}
	logger.Infow("published system event", "event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

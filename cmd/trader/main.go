// Command trader launches the live venue connectivity runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jsyzc2019/hftbacktest/config"
	"github.com/jsyzc2019/hftbacktest/internal/adapters/bybit"
	"github.com/jsyzc2019/hftbacktest/internal/live"
	"github.com/jsyzc2019/hftbacktest/internal/observability"
	"github.com/jsyzc2019/hftbacktest/internal/schema"
	"github.com/jsyzc2019/hftbacktest/lib/telemetry"
)

const (
	defaultConfigPath        = "config/trader.yaml"
	traderLoggerPrefix       = "trader "
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newTraderLogger()
	observability.SetLogger(observability.NewStdLogger(logger))

	settings, loadedFromFile, err := config.Load(resolveConfigPath(cfgPath))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	settings = config.FromEnv(settings)
	if err := settings.Validate(); err != nil {
		logger.Fatalf("validate config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s, symbols=%d",
		settings.Environment, len(settings.Bybit.Symbols))

	provider, shutdownTelemetry, err := telemetry.Init(ctx,
		settings.Telemetry.OTLPEndpoint, settings.Telemetry.ServiceName)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer shutdownCancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()
	observability.SetMetrics(telemetry.NewMeter(provider, ""))

	connector := live.NewConnector(settings.Bybit)
	defer connector.Close()

	go drainEvents(ctx, logger, connector.Events())

	logger.Printf("connecting to %s", bybit.Venue)
	if err := connector.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatalf("connector: %v", err)
	}
	logger.Printf("shutdown complete")
}

// drainEvents logs the unified stream. A trading engine embedding this
// runtime consumes connector.Events directly instead.
func drainEvents(ctx context.Context, logger *log.Logger, events <-chan schema.LiveEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch payload := ev.Payload.(type) {
			case schema.OrderUpdatePayload:
				logger.Printf("order update: asset=%d id=%s status=%s filled=%s",
					payload.AssetNo, payload.Order.ClientOrderID,
					payload.Order.Status, payload.Order.FilledQty)
			case error:
				logger.Printf("venue error: %v", payload)
			}
		}
	}
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newTraderLogger() *log.Logger {
	return log.New(os.Stdout, traderLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

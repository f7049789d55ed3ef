// Command telemetry-example streams one vehicle's telemetry fields and
// prints the normalized attribute set periodically.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shadowsync-protocol/shadowsync-go/pkg/shadow"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/telemetry"
)

// telemetryQuery streams the vehicle state document. The field list is
// trimmed here; the production query carries ~90 fields.
const telemetryQuery = `subscription vehicleState($vin: String!) {
  vehicleState(vin: $vin) {
    batteryLevel
    isPowered
    doorLockFront
    doorLockRear
    trunkLock
    odometer
  }
}`

type config struct {
	URL          string        `env:"TELEMETRY_URL,required"`
	VIN          string        `env:"TELEMETRY_VIN,required"`
	BearerToken  string        `env:"TELEMETRY_BEARER_TOKEN,required"`
	SessionToken string        `env:"TELEMETRY_SESSION_TOKEN,required"`
	CSRFToken    string        `env:"TELEMETRY_CSRF_TOKEN"`
	PrintEvery   time.Duration `env:"TELEMETRY_PRINT_EVERY" envDefault:"10s"`
	LogLevel     string        `env:"TELEMETRY_LOG_LEVEL" envDefault:"info"`
}

func main() {
	logger := logrus.New()

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	log := logger.WithField("vin", cfg.VIN)

	client, err := telemetry.NewClient(telemetry.ClientConfig{
		Driver: telemetry.DriverConfig{
			URL:   cfg.URL,
			Query: telemetryQuery,
			Variables: map[string]any{
				"vin": cfg.VIN,
			},
			Tokens: telemetry.TokenProviderFunc(func(ctx context.Context) (telemetry.Tokens, error) {
				return telemetry.Tokens{
					Bearer:  cfg.BearerToken,
					Session: cfg.SessionToken,
					CSRF:    cfg.CSRFToken,
				}, nil
			}),
		},
		Aggregates: []shadow.Aggregate{
			{
				Name:      "allClosuresLocked",
				Inputs:    []string{"doorLockFront", "doorLockRear", "trunkLock"},
				Predicate: shadow.AllEqual("locked"),
			},
		},
		OnAuthError: func(err error) {
			log.WithError(err).Error("tokens rejected, log in again and restart")
		},
		Log: log,
	})
	if err != nil {
		log.WithError(err).Fatal("building client")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	client.Connect()

	g.Go(func() error {
		ticker := time.NewTicker(cfg.PrintEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				printAttributes(client)
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("shutting down")
	}
	client.Disconnect()
	log.Info("disconnected")
}

func printAttributes(client *telemetry.Client) {
	status := client.Status()
	fmt.Printf("-- %s (state %s)\n", status.Status, status.State)

	attrs := client.Attributes()
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("   %-20s %v\n", name, attrs[name].Data)
	}
}

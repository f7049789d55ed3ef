// Command shadow-example mirrors one appliance's device shadow and prints
// the normalized attribute set whenever it changes.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shadowsync-protocol/shadowsync-go/pkg/connection"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/deviceshadow"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/metrics"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/trace"
)

type config struct {
	Endpoint     string        `env:"SHADOW_ENDPOINT,required"`
	ThingID      string        `env:"SHADOW_THING_ID,required"`
	Region       string        `env:"SHADOW_REGION,required"`
	Namespace    string        `env:"SHADOW_NAMESPACE"`
	AccessKey    string        `env:"SHADOW_ACCESS_KEY,required"`
	SecretKey    string        `env:"SHADOW_SECRET_KEY,required"`
	SessionToken string        `env:"SHADOW_SESSION_TOKEN"`
	TraceFile    string        `env:"SHADOW_TRACE_FILE"`
	MetricsAddr  string        `env:"SHADOW_METRICS_ADDR" envDefault:":9102"`
	PrintEvery   time.Duration `env:"SHADOW_PRINT_EVERY" envDefault:"10s"`
	LogLevel     string        `env:"SHADOW_LOG_LEVEL" envDefault:"info"`
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
	log := logger.WithField("thing", cfg.ThingID)

	var tr trace.Logger = trace.NoopLogger{}
	if cfg.TraceFile != "" {
		fl, err := trace.NewFileLogger(cfg.TraceFile)
		if err != nil {
			log.WithError(err).Fatal("opening trace file")
		}
		defer fl.Close()
		tr = fl
	}

	m := metrics.New("shadowsync", nil)

	client, err := deviceshadow.NewClient(deviceshadow.ClientConfig{
		Driver: deviceshadow.DriverConfig{
			Endpoint:  cfg.Endpoint,
			ThingID:   cfg.ThingID,
			Namespace: cfg.Namespace,
			Region:    cfg.Region,
			Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     cfg.AccessKey,
					SecretAccessKey: cfg.SecretKey,
					SessionToken:    cfg.SessionToken,
				}, nil
			}),
		},
		OnStateChange: m.StateHook(cfg.ThingID),
		OnAuthError: func(err error) {
			log.WithError(err).Error("credentials rejected, refresh and restart")
		},
		Log:   log,
		Trace: tr,
	})
	if err != nil {
		log.WithError(err).Fatal("building client")
	}
	if err := m.RegisterLiveness("shadowsync", cfg.ThingID, func() time.Time {
		return client.Status().LastData
	}); err != nil {
		log.WithError(err).Fatal("registering liveness gauge")
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

	g.Go(func() error {
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("shutting down")
	}
	client.Disconnect()
	log.Info("disconnected")
}

func printAttributes(client *deviceshadow.Client) {
	status := client.Status()
	fmt.Printf("-- %s (state %s, last data %s)\n",
		status.Status, status.State, formatLastData(status))

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

func formatLastData(s connection.StatusSnapshot) string {
	if s.LastData.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%dm ago", s.MinutesSinceLastData())
}

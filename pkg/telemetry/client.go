package telemetry

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shadowsync-protocol/shadowsync-go/pkg/connection"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/shadow"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/trace"
)

// ClientConfig configures a telemetry mirror client.
type ClientConfig struct {
	// Driver configures the protocol driver; see DriverConfig.
	Driver DriverConfig

	// Backoff customizes reconnection delays.
	Backoff connection.BackoffConfig

	// ResubscribeInterval between subscription refreshes; zero selects
	// the default. The server closes idle subscriptions, so refreshing is
	// a liveness requirement, not an optimization.
	ResubscribeInterval time.Duration

	// Aggregates are derived attributes recomputed after every merge.
	Aggregates []shadow.Aggregate

	// Inapplicable names attributes this vehicle variant does not have.
	Inapplicable []string

	// OnStateChange is forwarded to the supervisor.
	OnStateChange func(old, new connection.State)

	// OnAuthError is invoked when the server rejects the tokens.
	OnAuthError func(err error)

	// Log is the structured logger; nil uses the standard logger.
	Log *logrus.Entry

	// Trace receives wire-level diagnostic events; nil disables capture.
	Trace trace.Logger
}

// Client mirrors one vehicle's telemetry stream. Clients for different
// vehicles are independent.
type Client struct {
	set *shadow.Set
	sup *connection.Supervisor
}

// NewClient assembles a telemetry mirror client. Connect must be called
// to start streaming.
func NewClient(cfg ClientConfig) (*Client, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	set := shadow.NewSet(cfg.Inapplicable...)
	merger := shadow.NewMerger(set, shadow.MergerConfig{
		Aggregates: cfg.Aggregates,
		Log:        log,
	})

	driverCfg := cfg.Driver
	driverCfg.Merger = merger
	if driverCfg.Log == nil {
		driverCfg.Log = log
	}
	if driverCfg.Trace == nil {
		driverCfg.Trace = cfg.Trace
	}
	driver, err := NewDriver(driverCfg)
	if err != nil {
		return nil, err
	}

	interval := cfg.ResubscribeInterval
	if interval <= 0 {
		interval = connection.DefaultResubscribeInterval
	}

	sup, err := connection.NewSupervisor(connection.Config{
		Driver:              driver,
		Backoff:             cfg.Backoff,
		ResubscribeInterval: interval,
		Log:                 log,
		Trace:               cfg.Trace,
		OnStateChange:       cfg.OnStateChange,
		OnAuthError:         cfg.OnAuthError,
	})
	if err != nil {
		return nil, err
	}

	return &Client{set: set, sup: sup}, nil
}

// Connect starts streaming. Idempotent.
func (c *Client) Connect() { c.sup.Connect() }

// Disconnect stops streaming and cancels all pending work.
func (c *Client) Disconnect() { c.sup.Disconnect() }

// Status returns the connection status snapshot.
func (c *Client) Status() connection.StatusSnapshot { return c.sup.Status() }

// Attribute returns one normalized telemetry field.
func (c *Client) Attribute(name string) (shadow.Value, bool) {
	return c.set.Get(name)
}

// Attributes returns a copy of the normalized telemetry fields.
func (c *Client) Attributes() map[string]shadow.Value {
	return c.set.Snapshot()
}

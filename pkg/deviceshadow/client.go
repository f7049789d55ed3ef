package deviceshadow

import (
	"github.com/sirupsen/logrus"

	"github.com/shadowsync-protocol/shadowsync-go/pkg/connection"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/shadow"
	"github.com/shadowsync-protocol/shadowsync-go/pkg/trace"
)

// ClientConfig configures a shadow mirror client.
type ClientConfig struct {
	// Endpoint, ThingID, Namespace, Region and Credentials configure the
	// protocol driver; see DriverConfig.
	Driver DriverConfig

	// Backoff customizes reconnection delays.
	Backoff connection.BackoffConfig

	// Aggregates are derived attributes recomputed after every merge.
	Aggregates []shadow.Aggregate

	// Inapplicable names attributes this device variant does not have.
	Inapplicable []string

	// OnStateChange is forwarded to the supervisor.
	OnStateChange func(old, new connection.State)

	// OnAuthError is invoked when the server rejects the credentials.
	OnAuthError func(err error)

	// Log is the structured logger; nil uses the standard logger.
	Log *logrus.Entry

	// Trace receives wire-level diagnostic events; nil disables capture.
	Trace trace.Logger
}

// Client mirrors one device shadow. It bundles the attribute set, merge
// engine, protocol driver, command dispatcher and connection supervisor
// for a single thing. Clients for different things are independent.
type Client struct {
	set        *shadow.Set
	driver     *Driver
	dispatcher *Dispatcher
	sup        *connection.Supervisor
}

// NewClient assembles a shadow mirror client. Connect must be called to
// start syncing.
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

	sup, err := connection.NewSupervisor(connection.Config{
		Driver:        driver,
		Backoff:       cfg.Backoff,
		Log:           log.WithField("thing", driverCfg.ThingID),
		Trace:         cfg.Trace,
		OnStateChange: cfg.OnStateChange,
		OnAuthError:   cfg.OnAuthError,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		set:        set,
		driver:     driver,
		dispatcher: NewDispatcher(driver, log),
		sup:        sup,
	}, nil
}

// Connect starts syncing. Idempotent.
func (c *Client) Connect() { c.sup.Connect() }

// Disconnect stops syncing and cancels all pending work.
func (c *Client) Disconnect() { c.sup.Disconnect() }

// Status returns the connection status snapshot.
func (c *Client) Status() connection.StatusSnapshot { return c.sup.Status() }

// Attribute returns one normalized attribute.
func (c *Client) Attribute(name string) (shadow.Value, bool) {
	return c.set.Get(name)
}

// Attributes returns a copy of the normalized attribute set.
func (c *Client) Attributes() map[string]shadow.Value {
	return c.set.Snapshot()
}

// SetDesired publishes a sparse desired-state change. Best effort: success
// means sent. While disconnected the change is kept as the single pending
// update and replayed after the next successful connect.
func (c *Client) SetDesired(changes map[string]any) error {
	return c.dispatcher.Dispatch(changes)
}

// ApplyPreset publishes a preset's attribute bundle.
func (c *Client) ApplyPreset(p Preset) error {
	return c.dispatcher.ApplyPreset(p)
}

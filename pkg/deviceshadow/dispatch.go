package deviceshadow

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Dispatch errors.
var (
	// ErrEmptyChange indicates a dispatch with no attributes.
	ErrEmptyChange = errors.New("empty desired-state change")

	// ErrInvalidPreset indicates a preset without a name or attributes.
	ErrInvalidPreset = errors.New("invalid preset")
)

// Preset is an explicitly typed named bundle of desired-state attributes.
// Presets are built by the caller; this package never guesses cloud-side
// composite shapes (routines, favorites) from document structure.
type Preset struct {
	// Name identifies the preset, for logging only.
	Name string

	// Attributes is the flat desired-state change the preset applies.
	Attributes map[string]any
}

// Validate checks that the preset can be dispatched.
func (p Preset) Validate() error {
	if p.Name == "" || len(p.Attributes) == 0 {
		return ErrInvalidPreset
	}
	return nil
}

// Dispatcher turns desired-state changes into outbound publishes. Sends
// are best effort: success means sent, not applied. Confirmation arrives
// asynchronously on the inbound stream and is merged like any other
// update.
type Dispatcher struct {
	driver *Driver
	log    *logrus.Entry
}

// NewDispatcher creates a dispatcher publishing through driver.
func NewDispatcher(driver *Driver, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{driver: driver, log: log}
}

// Dispatch publishes a flat map of desired-attribute changes as one
// message. While disconnected the change becomes the pending update and
// ErrNotConnected is returned.
func (d *Dispatcher) Dispatch(changes map[string]any) error {
	if len(changes) == 0 {
		return ErrEmptyChange
	}
	err := d.driver.PublishDesired(changes)
	if err != nil {
		d.log.WithError(err).WithField("attributes", len(changes)).
			Warn("deviceshadow: desired-state publish failed")
		return err
	}
	d.log.WithField("attributes", len(changes)).Debug("deviceshadow: desired state sent")
	return nil
}

// ApplyPreset dispatches a preset's attribute bundle.
func (d *Dispatcher) ApplyPreset(p Preset) error {
	if err := p.Validate(); err != nil {
		return err
	}
	d.log.WithField("preset", p.Name).Info("deviceshadow: applying preset")
	return d.Dispatch(p.Attributes)
}

package shadow

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Aggregate is a derived attribute recomputed after every merge pass by
// folding Predicate over the named input attributes. An input the device
// variant does not have is vacuously true; an input that is applicable but
// not yet reported makes the aggregate false, since claiming "all locked"
// before every lock has reported would be wrong.
type Aggregate struct {
	// Name of the derived attribute.
	Name string

	// Inputs are the attribute names folded over.
	Inputs []string

	// Predicate decides whether one input value counts as satisfied.
	Predicate func(any) bool
}

// AllEqual returns an aggregate predicate satisfied when the value equals
// want.
func AllEqual(want any) func(any) bool {
	return func(v any) bool { return v == want }
}

// MergerConfig configures a merge engine.
type MergerConfig struct {
	// Aggregates recomputed after every merge pass.
	Aggregates []Aggregate

	// Log is the structured logger; nil uses the standard logger.
	Log *logrus.Entry
}

// Merger applies inbound sparse documents onto a Set, last-writer-wins per
// field. It is the only writer of inbound state.
type Merger struct {
	set        *Set
	aggregates []Aggregate
	log        *logrus.Entry
}

// NewMerger creates a merge engine writing to set.
func NewMerger(set *Set, cfg MergerConfig) *Merger {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Merger{set: set, aggregates: cfg.Aggregates, log: log}
}

// Merge applies a sparse inbound document, stamping updates with the
// current time.
func (m *Merger) Merge(doc map[string]any) {
	m.MergeAt(doc, time.Now().UTC())
}

// MergeAt applies a sparse inbound document with an explicit receive time.
// Fields absent from doc are left untouched. Known composite fields are
// expanded; everything else is written verbatim under its own name.
func (m *Merger) MergeAt(doc map[string]any, now time.Time) {
	for name, value := range doc {
		switch name {
		case "isPowered":
			m.mergePower(value, now)
		case "c":
			m.mergeColor(value, now)
		case "vol":
			m.mergeVolume(value, now)
		default:
			m.set.set(name, value, now)
		}
	}
	m.recomputeAggregates(now)
}

// mergePower writes the raw power flag and its presentation form.
func (m *Merger) mergePower(value any, now time.Time) {
	powered, ok := value.(bool)
	if !ok {
		m.log.WithField("value", value).Warn("shadow: isPowered is not a boolean, skipped")
		return
	}
	m.set.set("isPowered", powered, now)
	if powered {
		m.set.set("switch", "on", now)
	} else {
		m.set.set("switch", "off", now)
	}
}

// mergeColor expands the packed color object. The r/g/b/i fields are
// correlated and must be merged together before the presentation encoding
// is re-derived.
func (m *Merger) mergeColor(value any, now time.Time) {
	obj, ok := value.(map[string]any)
	if !ok {
		m.log.WithField("value", value).Warn("shadow: color field is not an object, skipped")
		return
	}

	read := func(key string, fallback string) (float64, bool) {
		raw, present := obj[key]
		if !present {
			// Correlated expansion falls back to the last known raw value.
			if prev, ok := m.set.Get(fallback); ok {
				raw = prev.Data
			} else {
				return 0, false
			}
		}
		f, ok := asFloat(raw)
		return f, ok
	}

	r, okR := read("r", "color.r")
	g, okG := read("g", "color.g")
	b, okB := read("b", "color.b")

	if okR && okG && okB {
		m.set.set("color.r", r, now)
		m.set.set("color.g", g, now)
		m.set.set("color.b", b, now)

		hue, sat := HueSaturation(r, g, b)
		m.set.set("hue", hue, now)
		m.set.set("saturation", sat, now)
	}

	if i, ok := read("i", "colorIntensity"); ok {
		m.set.set("colorIntensity", i, now)
		m.set.set("level", ScalePercent(i, PackedMax), now)
	}
}

// mergeVolume expands the packed volume value.
func (m *Merger) mergeVolume(value any, now time.Time) {
	raw, ok := asFloat(value)
	if !ok {
		m.log.WithField("value", value).Warn("shadow: vol is not numeric, skipped")
		return
	}
	m.set.set("vol", raw, now)
	m.set.set("volume", ScalePercent(raw, PackedMax), now)
}

// recomputeAggregates folds every configured aggregate over the set.
func (m *Merger) recomputeAggregates(now time.Time) {
	for _, agg := range m.aggregates {
		result := true
		for _, input := range agg.Inputs {
			if !m.set.Applicable(input) {
				continue
			}
			v, ok := m.set.Get(input)
			if !ok || !agg.Predicate(v.Data) {
				result = false
				break
			}
		}
		m.set.set(agg.Name, result, now)
	}
}

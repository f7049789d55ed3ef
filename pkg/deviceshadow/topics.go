package deviceshadow

import "strings"

// DefaultNamespace is the topic namespace used when none is configured.
const DefaultNamespace = "$aws"

// Topics builds and classifies the shadow topics for one thing.
// Topics follow $<namespace>/things/<thingID>/shadow/{get|update} with
// /accepted, /rejected and /delta suffixes on the inbound side.
type Topics struct {
	prefix string
}

// NewTopics creates the topic builder for thingID. An empty namespace
// selects DefaultNamespace; the namespace is given without the leading
// dollar sign unless it already carries one.
func NewTopics(namespace, thingID string) Topics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if !strings.HasPrefix(namespace, "$") {
		namespace = "$" + namespace
	}
	return Topics{prefix: namespace + "/things/" + thingID + "/shadow"}
}

// Get is the topic that requests the current shadow document.
func (t Topics) Get() string { return t.prefix + "/get" }

// Update is the topic that publishes desired-state changes.
func (t Topics) Update() string { return t.prefix + "/update" }

// Wildcard subscribes to every shadow response topic for the thing.
func (t Topics) Wildcard() string { return t.prefix + "/#" }

// Kind classifies an inbound shadow topic.
type Kind int

const (
	// KindUnknown is a topic outside the shadow response set.
	KindUnknown Kind = iota

	// KindAccepted carries a full shadow document (get or update accepted).
	KindAccepted

	// KindDelta carries the difference between desired and reported state.
	KindDelta

	// KindRejected carries a shadow error document.
	KindRejected
)

// Classify maps an inbound topic onto its document kind. Topics for other
// things classify as unknown.
func (t Topics) Classify(topic string) Kind {
	rest, ok := strings.CutPrefix(topic, t.prefix)
	if !ok {
		return KindUnknown
	}
	switch rest {
	case "/get/accepted", "/update/accepted":
		return KindAccepted
	case "/update/delta":
		return KindDelta
	case "/get/rejected", "/update/rejected":
		return KindRejected
	default:
		return KindUnknown
	}
}

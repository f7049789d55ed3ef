// Package shadow holds the normalized local mirror of a device or vehicle
// state and the merge engine that applies inbound reported-state and
// telemetry documents to it.
//
// The normalized attribute set maps attribute names to their last known
// value and the engine-side receive time of that value. Merging is
// field-by-field and last-writer-wins per field: attributes absent from an
// inbound document are never touched, so partial updates cannot erase
// unrelated state. Update timestamps always come from the engine's clock at
// receive time, never from timestamps embedded in the payload, because
// observed payloads are not reliably ordered by their embedded timestamps.
//
// Composite fields (a packed color object, a packed volume) are expanded
// through pure scaling functions and written in both raw and derived form.
// Aggregate attributes ("all closures locked") are recomputed after every
// merge pass by folding over the set; attributes a device variant does not
// have count as vacuously true.
package shadow

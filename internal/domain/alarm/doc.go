// Package alarm contains core domain types for the alarm stream.
//
// It defines Record (the versioned alarm reported by the core), Mode (the
// operational mode of the monitored component), ChangeEvent (one mutation of a
// record) and Payload (the transport-agnostic shape delivered to subscribers).
package alarm

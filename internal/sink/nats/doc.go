// Package nats mirrors every dispatched alarm payload to NATS so subscribers
// in other processes can follow the same stream.
//
// Mirroring is best effort: a failed publish is logged and counted and never
// affects local delivery.
package nats

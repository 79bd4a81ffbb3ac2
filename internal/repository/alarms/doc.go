// Package alarms implements the record store for alarm records.
//
// Upserts follow last-write-wins on core_timestamp: a report older than the
// stored one is ignored. Every applied mutation is passed to the registered
// Observer exactly once, in commit order, while the store still holds its
// write lock. Two implementations exist: an in-memory map and a Pebble
// database with msgpack-encoded values.
package alarms

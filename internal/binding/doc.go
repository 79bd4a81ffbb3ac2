// Package binding connects the record store and the subscriber transports to
// the demultiplexer.
//
// Store mutations become change events for Publish. Subscribe requests join
// the registry first and then send a catch-up snapshot, so a subscriber can
// receive an event twice but never miss the current state; clients
// de-duplicate by core_id, running_id and core_timestamp.
package binding

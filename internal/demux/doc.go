// Package demux fans alarm change events out to subscriber groups.
//
// Every event is resolved to its groups, the current members of those groups
// are snapshotted and de-duplicated, and the serialised payload is enqueued on
// each member's session. Events about the same alarm key pass through the same
// shard mutex, so every subscriber sees them in publish order; events about
// different keys do not contend unless their keys share a shard.
package demux

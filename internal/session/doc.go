// Package session holds the outbound side of every subscriber connection.
//
// A Session is a bounded queue of messages owned by one transport connection.
// Enqueueing never blocks: a full or closed session rejects the message and
// the caller moves on to the next subscriber.
package session

// Package client implements the watch command of alarm-stream.
//
// The command subscribes to groups over gRPC, prints every payload as one
// JSON line and reconnects until the context is canceled.
package client

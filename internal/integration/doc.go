// Package integration runs the alarm-stream server end to end.
package integration

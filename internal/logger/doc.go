// Package logger wraps zap for alarm-stream.
//
// A global sugared logger writes console or JSON lines to stderr under a
// shared atomic level. Components receive a context and log through it, so
// names and key-values attached by callers (handle, group, source) follow
// every message. WithLevelOverride gives one component its own level.
package logger

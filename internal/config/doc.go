// Package config defines the alarm-stream server settings and provides
// helpers to load, validate and save them in YAML format.
//
// Validate fills in defaults, so a zero Config describes an in-memory server
// listening on DefaultListenAddress with Kafka ingestion and the NATS mirror
// disabled.
package config

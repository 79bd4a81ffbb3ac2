// Package ingest applies record mutations received from alarm producers to
// the record store and counts their outcomes.
//
// The HTTP endpoints and the Kafka consumer share it, so a record sent
// through either path is decoded, validated and counted the same way.
package ingest

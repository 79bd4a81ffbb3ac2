// Package kafka consumes alarm records from a Kafka topic and applies them to
// the record store.
//
// Each message value is one record in JSON. Invalid messages are logged and
// committed so a single bad producer cannot stall the partition.
package kafka

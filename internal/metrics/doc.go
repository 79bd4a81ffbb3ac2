// Package metrics exposes Prometheus collectors for the alarm stream.
//
// Collectors live on a dedicated registry so tests can create isolated
// instances; Handler serves them in the Prometheus text format.
package metrics

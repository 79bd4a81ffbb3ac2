// Package httpapi exposes the alarm stream over HTTP.
//
// Routes:
//
//	GET    /stream?group=a&group=b          server-sent events, one "alarm" event per payload
//	POST   /core                            ingest one record (JSON)
//	GET    /alarms                          current records
//	DELETE /alarms/{core_id}/{running_id}   remove a record
//	GET    /metrics                         Prometheus metrics
//	GET    /healthz                         liveness
//
// A stream without group parameters follows the global group. The first
// events of a stream are the catch-up snapshot, sent with kind "created".
package httpapi

// Package routing maps alarm records to the subscriber groups interested in them.
//
// Resolution is a pure function of the record: every record belongs to the
// global group and to its per-identity group, plus any groups whose glob rule
// matches the record core_id.
package routing

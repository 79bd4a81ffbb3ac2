package alarm

import "errors"

// ErrMissingIdentity is returned for records without core_id or running_id.
var ErrMissingIdentity = errors.New("record identity is incomplete")

// Key is the natural identity of a record.
type Key struct {
	// CoreID is the stable identity of the monitored entity.
	CoreID string `json:"core_id" msgpack:"core_id"`
	// RunningID identifies the monitoring process that last reported it.
	RunningID string `json:"running_id" msgpack:"running_id"`
}

// String renders the key as core_id@running_id.
func (k Key) String() string {
	return k.CoreID + "@" + k.RunningID
}

// Validate checks that both parts of the key are set.
func (k Key) Validate() error {
	if k.CoreID == "" || k.RunningID == "" {
		return ErrMissingIdentity
	}

	return nil
}

// Record is one alarm as last reported by the core.
type Record struct {
	// CoreID is the stable identity of the monitored entity.
	CoreID string `json:"core_id" msgpack:"core_id"`
	// RunningID identifies the monitoring process that last reported it.
	RunningID string `json:"running_id" msgpack:"running_id"`
	// CoreTimestamp is the epoch timestamp (ms) of the last change at the source.
	CoreTimestamp int64 `json:"core_timestamp" msgpack:"core_timestamp"`
	// Value is the status or severity code.
	Value int `json:"value" msgpack:"value"`
	// Mode is the current operational mode.
	Mode Mode `json:"mode" msgpack:"mode"`
}

// Key returns the natural key of the record.
func (r *Record) Key() Key {
	return Key{
		CoreID:    r.CoreID,
		RunningID: r.RunningID,
	}
}

// Validate checks the record identity and mode.
func (r *Record) Validate() error {
	if r == nil {
		return ErrMissingIdentity
	}

	if err := r.Key().Validate(); err != nil {
		return err
	}

	if !r.Mode.IsValid() {
		return ErrUnknownMode
	}

	return nil
}

// IsNewerOrEqual reports whether r should replace other under last-write-wins.
func (r *Record) IsNewerOrEqual(other *Record) bool {
	if other == nil {
		return true
	}

	return r.CoreTimestamp >= other.CoreTimestamp
}

// Clone returns a copy of the record to avoid leaking internal references.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	cloned := *r

	return &cloned
}

package alarm

import "fmt"

// ChangeKind is the kind of mutation a ChangeEvent describes.
type ChangeKind string

const (
	// KindCreated is emitted when a record appears for the first time.
	KindCreated ChangeKind = "created"
	// KindUpdated is emitted when an existing record is replaced.
	KindUpdated ChangeKind = "updated"
	// KindDeleted is emitted when a record is removed.
	KindDeleted ChangeKind = "deleted"
)

// IsValid reports whether k is a known change kind.
func (k ChangeKind) IsValid() bool {
	switch k {
	case KindCreated, KindUpdated, KindDeleted:
		return true
	default:
		return false
	}
}

// ChangeEvent is one create, update or delete of a record.
// It is produced once per mutation and consumed once by the demultiplexer.
type ChangeEvent struct {
	// Kind is the mutation kind.
	Kind ChangeKind
	// Record is the new state, or the removed state for deletes.
	Record *Record
	// Previous is the replaced state for updates and nil otherwise.
	Previous *Record
}

// Key returns the key of the record the event is about.
func (e *ChangeEvent) Key() Key {
	if e.Record == nil {
		return Key{}
	}

	return e.Record.Key()
}

// String is used in logs.
func (e *ChangeEvent) String() string {
	return fmt.Sprintf("%s %s", e.Kind, e.Key())
}

// Payload is the transport-agnostic message delivered to subscribers.
// Value and Mode are omitted for deletes because the state is gone.
type Payload struct {
	Kind          ChangeKind `json:"kind"`
	CoreID        string     `json:"core_id"`
	RunningID     string     `json:"running_id"`
	CoreTimestamp int64      `json:"core_timestamp"`
	Value         *int       `json:"value,omitempty"`
	Mode          *Mode      `json:"mode,omitempty"`
}

// NewPayload builds the wire payload of an event.
func NewPayload(event *ChangeEvent) *Payload {
	record := event.Record
	if record == nil {
		record = new(Record)
	}

	payload := &Payload{
		Kind:          event.Kind,
		CoreID:        record.CoreID,
		RunningID:     record.RunningID,
		CoreTimestamp: record.CoreTimestamp,
	}

	if event.Kind == KindDeleted {
		return payload
	}

	value, mode := record.Value, record.Mode
	payload.Value = &value
	payload.Mode = &mode

	return payload
}

// Key returns the key of the record the payload is about.
func (p *Payload) Key() Key {
	return Key{
		CoreID:    p.CoreID,
		RunningID: p.RunningID,
	}
}

package alarm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseMode covers names, codes and unknown input.
func TestParseMode(t *testing.T) {
	t.Parallel()

	for _, mode := range Modes() {
		byName, err := ParseMode(mode.String())
		require.NoError(t, err)
		require.Equal(t, mode, byName)
	}

	m, err := ParseMode(" Operational ")
	require.NoError(t, err)
	require.Equal(t, ModeOperational, m)

	m, err = ParseMode("7")
	require.NoError(t, err)
	require.Equal(t, ModeUnknown, m)

	_, err = ParseMode("8")
	require.ErrorIs(t, err, ErrUnknownMode)

	require.Equal(t, "mode(9)", Mode(9).String())
}

// TestNewPayload checks the wire shape of every change kind.
func TestNewPayload(t *testing.T) {
	t.Parallel()

	record := &Record{
		CoreID:        "AL1",
		RunningID:     "R1",
		CoreTimestamp: 100,
		Value:         2,
		Mode:          ModeOperational,
	}

	created, err := json.Marshal(NewPayload(&ChangeEvent{Kind: KindCreated, Record: record}))
	require.NoError(t, err)
	require.JSONEq(t,
		`{"kind":"created","core_id":"AL1","running_id":"R1","core_timestamp":100,"value":2,"mode":"operational"}`,
		string(created),
	)

	deleted, err := json.Marshal(NewPayload(&ChangeEvent{Kind: KindDeleted, Record: record}))
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"deleted","core_id":"AL1","running_id":"R1","core_timestamp":100}`, string(deleted))

	// Zero values are still present for created and updated.
	zero := &Record{CoreID: "AL2", RunningID: "R2"}
	updated := NewPayload(&ChangeEvent{Kind: KindUpdated, Record: zero})
	require.NotNil(t, updated.Value)
	require.NotNil(t, updated.Mode)
	require.Equal(t, Key{CoreID: "AL2", RunningID: "R2"}, updated.Key())
}

// TestChangeKind_IsValid guards the set of kinds.
func TestChangeKind_IsValid(t *testing.T) {
	t.Parallel()

	require.True(t, KindCreated.IsValid())
	require.True(t, KindUpdated.IsValid())
	require.True(t, KindDeleted.IsValid())
	require.False(t, ChangeKind("moved").IsValid())
}

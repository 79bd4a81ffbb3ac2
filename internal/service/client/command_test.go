package client

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

// TestFormatPayload renders payloads as single-line JSON.
func TestFormatPayload(t *testing.T) {
	t.Parallel()

	payload, err := structpb.NewStruct(map[string]any{"kind": "created", "core_id": "AL1", "value": 3.0})
	require.NoError(t, err)

	line, err := formatPayload(payload)
	require.NoError(t, err)
	require.NotContains(t, line, "\n")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	require.Equal(t, "AL1", decoded["core_id"])
	require.InDelta(t, 3, decoded["value"], 0)
}

// TestRun_RequiresAddress fails before connecting.
func TestRun_RequiresAddress(t *testing.T) {
	t.Parallel()

	require.Error(t, Run(context.Background(), &Options{}))
}

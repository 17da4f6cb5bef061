package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to MessageStatus
		want     bool
	}{
		{MessageSending, MessageSent, true},
		{MessageSending, MessageFailed, true},
		{MessageSent, MessageDelivered, true},
		{MessageSent, MessageSent, true},
		{MessageDelivered, MessageSent, false},
		{MessageSent, MessageSending, false},
		{MessageSent, MessageFailed, false},
		{MessageFailed, MessageSent, false},
		{MessageFailed, MessageFailed, true},
		{MessageStatus("bogus"), MessageSent, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestEnums_Valid(t *testing.T) {
	require.True(t, TaskCancelled.Valid())
	require.False(t, TaskStatus("done").Valid())
	require.True(t, PriorityUrgent.Valid())
	require.False(t, Priority("").Valid())
}

func TestTaskRef_JSON(t *testing.T) {
	raw, err := json.Marshal(TeamRef("t1"))
	require.NoError(t, err)

	var ref TaskRef
	require.NoError(t, json.Unmarshal(raw, &ref))
	require.True(t, ref.IsTeam())
	require.Equal(t, "t1", ref.ID())

	require.Error(t, json.Unmarshal([]byte(`{"type":"shared","id":"x"}`), &ref))

	_, err = ParseTaskRef("personal", "")
	require.Error(t, err)
}

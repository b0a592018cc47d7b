package thingshadow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"reconnecting", ErrReconnecting, true},
		{"reconnected", ErrReconnected, true},
		{"wrapped reconnecting", fmt.Errorf("yield: %w", ErrReconnecting), true},
		{"connection lost", ErrConnectionLost, false},
		{"closed", ErrClientClosed, false},
		{"canceled", context.Canceled, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRecoverable(tt.err))
		})
	}
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "update", ActionUpdate.String())
	assert.Equal(t, "get", ActionGet.String())
	assert.Equal(t, "delete", ActionDelete.String())
	assert.Equal(t, "unknown", Action(99).String())
}

func TestAckStatusString(t *testing.T) {
	assert.Equal(t, "timeout", AckTimeout.String())
	assert.Equal(t, "rejected", AckRejected.String())
	assert.Equal(t, "accepted", AckAccepted.String())
	assert.Equal(t, "unknown", AckStatus(99).String())
}

func TestParseRejected(t *testing.T) {
	t.Run("error document", func(t *testing.T) {
		re, err := ParseRejected("sensor-1", ActionGet,
			[]byte(`{"code":404,"message":"No shadow exists with name: 'sensor-1'","clientToken":"abc"}`))
		require.NoError(t, err)

		assert.Equal(t, "sensor-1", re.ThingName)
		assert.Equal(t, ActionGet, re.Action)
		assert.Equal(t, "abc", re.ClientToken)
		assert.Equal(t, 404, re.Code)

		var target *RejectedError
		assert.True(t, errors.As(fmt.Errorf("ack: %w", re), &target))
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseRejected("sensor-1", ActionUpdate, []byte(`{`))
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})
}

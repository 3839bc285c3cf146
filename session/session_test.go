package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []State
		valid bool
	}{
		{name: "completed", path: []State{PartLoop, Completing, Completed}, valid: true},
		{name: "aborted in part loop", path: []State{PartLoop, Aborted}, valid: true},
		{name: "aborted while completing", path: []State{PartLoop, Completing, Aborted}, valid: true},
		{name: "skip part loop", path: []State{Completing}},
		{name: "abort before initiated", path: []State{Aborted}},
		{name: "complete twice", path: []State{PartLoop, Completing, Completed, Completed}},
		{name: "abort after completed", path: []State{PartLoop, Completing, Completed, Aborted}},
		{name: "abort twice", path: []State{PartLoop, Aborted, Aborted}},
		{name: "re-enter part loop", path: []State{PartLoop, Completing, PartLoop}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(Config{VaultID: "vault", Region: "us-east-1", PartSize: MinPartSize})
			require.Equal(t, Initiating, s.State())

			var err error
			for _, to := range tt.path {
				if err = s.transition(to); err != nil {
					break
				}
			}

			if tt.valid {
				require.NoError(t, err)
				assert.Equal(t, tt.path[len(tt.path)-1], s.State())
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestSession_RecordTransmitted(t *testing.T) {
	s := newSession(Config{PartSize: MinPartSize})
	s.recordTransmitted(MinPartSize)
	s.recordTransmitted(10)

	assert.Equal(t, int64(MinPartSize+10), s.BytesTransmitted())
	assert.Equal(t, 2, s.PartsTransmitted())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "part-loop", PartLoop.String())
	assert.Equal(t, "aborted", Aborted.String())
	assert.Equal(t, "state(42)", State(42).String())
}

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusProvisioning, StatusRunning, true},
		{StatusProvisioning, StatusError, true},
		{StatusProvisioning, StatusDestroyed, true},
		{StatusRunning, StatusStopped, true},
		{StatusRunning, StatusError, true},
		{StatusRunning, StatusDestroyed, true},
		{StatusStopped, StatusDestroyed, true},
		{StatusError, StatusDestroyed, true},

		{StatusRunning, StatusProvisioning, false},
		{StatusStopped, StatusRunning, false},
		{StatusError, StatusRunning, false},
		{StatusDestroyed, StatusProvisioning, false},
		{StatusDestroyed, StatusRunning, false},
		{StatusDestroyed, StatusDestroyed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestLive(t *testing.T) {
	assert.True(t, Live(StatusProvisioning))
	assert.True(t, Live(StatusRunning))
	assert.False(t, Live(StatusStopped))
	assert.False(t, Live(StatusError))
	assert.False(t, Live(StatusDestroyed))
}

package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := New("test", 3, time.Minute)
	assert.True(t, b.Allow())

	b.Failure()
	b.Failure()
	assert.Equal(t, StateClosed, b.CurrentState())
	assert.True(t, b.Allow())

	b.Failure()
	assert.Equal(t, StateOpen, b.CurrentState())
	assert.False(t, b.Allow())
}

func TestSuccessResetsFailureRun(t *testing.T) {
	b := New("test", 2, time.Minute)
	b.Failure()
	b.Success()
	b.Failure()
	assert.Equal(t, StateClosed, b.CurrentState())
	assert.True(t, b.Allow())
}

func TestHalfOpenProbeAfterCooldown(t *testing.T) {
	b := New("test", 1, 10*time.Millisecond)
	b.Failure()
	assert.False(t, b.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.CurrentState())

	b.Success()
	assert.Equal(t, StateClosed, b.CurrentState())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New("test", 1, 10*time.Millisecond)
	b.Failure()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())

	b.Failure()
	assert.Equal(t, StateOpen, b.CurrentState())
	assert.False(t, b.Allow())
}

package infrastructure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilDecisionGuardAllowsEverything(t *testing.T) {
	guard := NewDecisionGuard(0)
	require.Nil(t, guard)

	for i := 0; i < 3; i++ {
		release, ok := guard.Begin("C1", "1.0")
		assert.True(t, ok)
		release(true)
	}
}

func TestDecisionGuardDebouncesPerPrompt(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	guard := NewDecisionGuard(5 * time.Second)
	guard.now = func() time.Time { return now }

	release, ok := guard.Begin("C1", "1.0")
	require.True(t, ok)

	_, ok = guard.Begin("C1", "1.0")
	assert.False(t, ok, "in-flight decision must block a second click")

	other, ok := guard.Begin("C1", "2.0")
	assert.True(t, ok, "other prompts are independent")
	other(true)

	release(true)
	release(true)

	now = now.Add(2 * time.Second)
	_, ok = guard.Begin("C1", "1.0")
	assert.False(t, ok, "click inside the window is dropped")

	now = now.Add(5 * time.Second)
	release, ok = guard.Begin("C1", "1.0")
	assert.True(t, ok, "click after the window is allowed")
	release(true)
}

func TestDecisionGuardEvictsIdleSessions(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	guard := NewDecisionGuard(time.Second)
	guard.now = func() time.Time { return now }

	release, ok := guard.Begin("C1", "1.0")
	require.True(t, ok)
	release(true)

	now = now.Add(2 * time.Second)
	release, ok = guard.Begin("C2", "1.0")
	require.True(t, ok)
	release(true)

	assert.Len(t, guard.sessions, 1)
}

func TestDecisionGuardForgetsFailedDecisions(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	guard := NewDecisionGuard(time.Minute)
	guard.now = func() time.Time { return now }

	release, ok := guard.Begin("C1", "1.0")
	require.True(t, ok)
	release(false)

	now = now.Add(time.Second)
	release, ok = guard.Begin("C1", "1.0")
	require.True(t, ok, "a failed decision must not block the retry")
	release(true)

	now = now.Add(time.Second)
	_, ok = guard.Begin("C1", "1.0")
	assert.False(t, ok)
}
